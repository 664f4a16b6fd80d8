package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vladislavrupets/universe/internal/models"
	"github.com/vladislavrupets/universe/internal/snowflake"
)

type channelRepo struct {
	pool *pgxpool.Pool
}

func NewChannelRepository(pool *pgxpool.Pool) ChannelRepository {
	return &channelRepo{pool: pool}
}

func (r *channelRepo) Create(ctx context.Context, channel *models.Channel, memberIDs []snowflake.ID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := insertChannel(ctx, tx, channel); err != nil {
		return err
	}
	for _, userID := range memberIDs {
		if err := insertMember(ctx, tx, channel.ID, userID); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func insertChannel(ctx context.Context, q dbtx, c *models.Channel) error {
	var ownerID *int64
	if c.OwnerID != nil {
		v := c.OwnerID.Int64()
		ownerID = &v
	}
	return q.QueryRow(ctx,
		`INSERT INTO channels (id, name, kind, owner_id, readonly)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		c.ID.Int64(), c.Name, c.Kind, ownerID, c.Readonly,
	).Scan(&c.CreatedAt)
}

func insertMember(ctx context.Context, q dbtx, channelID, userID snowflake.ID) error {
	_, err := q.Exec(ctx,
		`INSERT INTO channel_members (channel_id, user_id)
		 VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`,
		channelID.Int64(), userID.Int64(),
	)
	return err
}

func (r *channelRepo) GetByID(ctx context.Context, id snowflake.ID) (*models.Channel, error) {
	return scanChannel(r.pool.QueryRow(ctx,
		`SELECT id, name, kind, owner_id, readonly, created_at
		 FROM channels WHERE id = $1`, id.Int64(),
	))
}

func scanChannel(row pgx.Row) (*models.Channel, error) {
	c := &models.Channel{}
	var ownerID *int64
	err := row.Scan(&c.ID, &c.Name, &c.Kind, &ownerID, &c.Readonly, &c.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if ownerID != nil {
		v := snowflake.ID(*ownerID)
		c.OwnerID = &v
	}
	return c, nil
}

func (r *channelRepo) GetWithUsers(ctx context.Context, id snowflake.ID) (*models.ChannelWithUsers, error) {
	channel, err := r.GetByID(ctx, id)
	if err != nil || channel == nil {
		return nil, err
	}
	users, err := r.GetMembers(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.ChannelWithUsers{Channel: *channel, Users: users}, nil
}

func (r *channelRepo) Rename(ctx context.Context, id snowflake.ID, name string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE channels SET name = $2 WHERE id = $1`, id.Int64(), name,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *channelRepo) IsMember(ctx context.Context, channelID, userID snowflake.ID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
		     SELECT 1 FROM channel_members WHERE channel_id = $1 AND user_id = $2
		 )`,
		channelID.Int64(), userID.Int64(),
	).Scan(&exists)
	return exists, err
}

func (r *channelRepo) AddMembers(ctx context.Context, channelID snowflake.ID, userIDs []snowflake.ID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, userID := range userIDs {
		if err := insertMember(ctx, tx, channelID, userID); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *channelRepo) RemoveMember(ctx context.Context, channelID, userID snowflake.ID) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM channel_members WHERE channel_id = $1 AND user_id = $2`,
		channelID.Int64(), userID.Int64(),
	)
	return err
}

func (r *channelRepo) GetMembers(ctx context.Context, channelID snowflake.ID) ([]models.UserSummary, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT u.id, u.display_name
		 FROM channel_members cm
		 INNER JOIN users u ON u.id = cm.user_id
		 WHERE cm.channel_id = $1
		 ORDER BY cm.joined_at`, channelID.Int64(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.UserSummary
	for rows.Next() {
		var u models.UserSummary
		if err := rows.Scan(&u.ID, &u.Name); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *channelRepo) GetMemberIDs(ctx context.Context, channelID snowflake.ID) ([]snowflake.ID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM channel_members WHERE channel_id = $1`, channelID.Int64(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []snowflake.ID
	for rows.Next() {
		var id snowflake.ID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *channelRepo) GetUserChannelIDs(ctx context.Context, userID snowflake.ID) ([]snowflake.ID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT channel_id FROM channel_members WHERE user_id = $1`, userID.Int64(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []snowflake.ID
	for rows.Next() {
		var id snowflake.ID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *channelRepo) GetOrCreateDM(ctx context.Context, userA, userB, newID snowflake.ID) (*models.Channel, bool, error) {
	if userB.Int64() < userA.Int64() {
		userA, userB = userB, userA
	}

	existing, err := r.findDM(ctx, userA, userB)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	channel := &models.Channel{ID: newID, Kind: models.ChannelKindDM}
	if err := insertChannel(ctx, tx, channel); err != nil {
		return nil, false, err
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO dm_channels (channel_id, user_a, user_b) VALUES ($1, $2, $3)`,
		newID.Int64(), userA.Int64(), userB.Int64(),
	)
	if err != nil {
		// Concurrent creation of the same pair: fall back to the winner's row.
		if isUniqueViolation(err) {
			_ = tx.Rollback(ctx)
			existing, ferr := r.findDM(ctx, userA, userB)
			if ferr != nil {
				return nil, false, ferr
			}
			return existing, false, nil
		}
		return nil, false, err
	}
	for _, userID := range []snowflake.ID{userA, userB} {
		if err := insertMember(ctx, tx, newID, userID); err != nil {
			return nil, false, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return channel, true, nil
}

func (r *channelRepo) findDM(ctx context.Context, userA, userB snowflake.ID) (*models.Channel, error) {
	return scanChannel(r.pool.QueryRow(ctx,
		`SELECT c.id, c.name, c.kind, c.owner_id, c.readonly, c.created_at
		 FROM dm_channels d
		 INNER JOIN channels c ON c.id = d.channel_id
		 WHERE d.user_a = $1 AND d.user_b = $2`,
		userA.Int64(), userB.Int64(),
	))
}

func (r *channelRepo) GetOrCreateNotes(ctx context.Context, ownerID snowflake.ID, newID func() snowflake.ID) (*models.Channel, error) {
	existing, err := r.findNotes(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	channel := &models.Channel{
		ID:      newID(),
		Name:    "Notes",
		Kind:    models.ChannelKindNotes,
		OwnerID: &ownerID,
	}
	if err := insertChannel(ctx, tx, channel); err != nil {
		// The partial unique index on (owner_id) WHERE kind = 2 catches a
		// concurrent first identify for the same user.
		if isUniqueViolation(err) {
			_ = tx.Rollback(ctx)
			return r.findNotes(ctx, ownerID)
		}
		return nil, err
	}
	if err := insertMember(ctx, tx, channel.ID, ownerID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return channel, nil
}

func (r *channelRepo) findNotes(ctx context.Context, ownerID snowflake.ID) (*models.Channel, error) {
	return scanChannel(r.pool.QueryRow(ctx,
		`SELECT id, name, kind, owner_id, readonly, created_at
		 FROM channels WHERE kind = $1 AND owner_id = $2`,
		models.ChannelKindNotes, ownerID.Int64(),
	))
}

func (r *channelRepo) GetDMsWithUsers(ctx context.Context, userID snowflake.ID) ([]models.DMWithUser, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT d.channel_id, u.id, u.display_name
		 FROM dm_channels d
		 INNER JOIN users u
		     ON u.id = CASE WHEN d.user_a = $1 THEN d.user_b ELSE d.user_a END
		 WHERE d.user_a = $1 OR d.user_b = $1
		 ORDER BY (
		     SELECT max(m.sent_at) FROM messages m WHERE m.channel_id = d.channel_id
		 ) DESC NULLS LAST`,
		userID.Int64(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dms []models.DMWithUser
	for rows.Next() {
		var dm models.DMWithUser
		if err := rows.Scan(&dm.ChannelID, &dm.User.ID, &dm.User.Name); err != nil {
			return nil, err
		}
		dms = append(dms, dm)
	}
	return dms, rows.Err()
}

func (r *channelRepo) DeleteWithMessages(ctx context.Context, id snowflake.ID, blobs BlobDeleter) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	attachmentIDs, err := channelAttachmentIDs(ctx, tx, id)
	if err != nil {
		return err
	}
	keys, err := lockAttachments(ctx, tx, attachmentIDs)
	if err != nil {
		return err
	}

	// Messages and membership rows cascade with the channel.
	tag, err := tx.Exec(ctx, `DELETE FROM channels WHERE id = $1`, id.Int64())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}

	orphans, err := unreferencedAttachments(ctx, tx, attachmentIDs)
	if err != nil {
		return err
	}
	if err := deleteAttachments(ctx, tx, orphans, keys, blobs); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func channelAttachmentIDs(ctx context.Context, q dbtx, channelID snowflake.ID) ([]int64, error) {
	rows, err := q.Query(ctx,
		`SELECT DISTINCT ma.attachment_id
		 FROM message_attachments ma
		 INNER JOIN messages m ON m.id = ma.message_id
		 WHERE m.channel_id = $1`,
		channelID.Int64(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
