package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vladislavrupets/universe/internal/models"
	"github.com/vladislavrupets/universe/internal/snowflake"
)

type messageRepo struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) MessageRepository {
	return &messageRepo{pool: pool}
}

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *messageRepo) Create(ctx context.Context, msg *models.Message) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO messages (id, channel_id, author_id, text_content, sent_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		msg.ID, msg.ChannelID.Int64(), msg.Author.ID.Int64(), msg.TextContent, msg.SentAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}

	for i, a := range msg.Attachments {
		_, err = tx.Exec(ctx,
			`INSERT INTO message_attachments (message_id, attachment_id, position)
			 VALUES ($1, $2, $3)`,
			msg.ID, a.ID.Int64(), i,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (r *messageRepo) GetByID(ctx context.Context, id string) (*models.Message, error) {
	m := &models.Message{}
	err := r.pool.QueryRow(ctx,
		`SELECT m.id, m.channel_id, m.author_id, u.display_name, m.text_content, m.sent_at
		 FROM messages m
		 INNER JOIN users u ON u.id = m.author_id
		 WHERE m.id = $1`, id,
	).Scan(&m.ID, &m.ChannelID, &m.Author.ID, &m.Author.Name, &m.TextContent, &m.SentAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	byMessage, err := attachmentsByMessage(ctx, r.pool, []string{m.ID})
	if err != nil {
		return nil, err
	}
	m.Attachments = byMessage[m.ID]
	return m, nil
}

func (r *messageRepo) GetPage(ctx context.Context, channelID snowflake.ID, limit, page int) ([]models.Message, bool, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT m.id, m.channel_id, m.author_id, u.display_name, m.text_content, m.sent_at
		 FROM messages m
		 INNER JOIN users u ON u.id = m.author_id
		 WHERE m.channel_id = $1
		 ORDER BY m.sent_at DESC, m.id DESC
		 OFFSET $2 LIMIT $3`,
		channelID.Int64(), page*limit, limit+1,
	)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.Author.ID, &m.Author.Name, &m.TextContent, &m.SentAt); err != nil {
			return nil, false, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit]
	}

	ids := make([]string, len(messages))
	for i := range messages {
		ids[i] = messages[i].ID
	}
	byMessage, err := attachmentsByMessage(ctx, r.pool, ids)
	if err != nil {
		return nil, false, err
	}
	for i := range messages {
		messages[i].Attachments = byMessage[messages[i].ID]
	}
	return messages, hasMore, nil
}

func (r *messageRepo) UpdateText(ctx context.Context, id string, text json.RawMessage) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE messages SET text_content = $2 WHERE id = $1`,
		id, text,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *messageRepo) DeleteWithAttachments(ctx context.Context, id string, blobs BlobDeleter) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	attachmentIDs, err := messageAttachmentIDs(ctx, tx, id)
	if err != nil {
		return err
	}

	// Lock the attachment rows in id order so two concurrent deletes that
	// share an attachment serialize instead of both seeing it as unused.
	keys, err := lockAttachments(ctx, tx, attachmentIDs)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
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

// --- shared helpers, also used by the channel repo's cascade delete ---

func attachmentsByMessage(ctx context.Context, q dbtx, messageIDs []string) (map[string][]models.Attachment, error) {
	if len(messageIDs) == 0 {
		return map[string][]models.Attachment{}, nil
	}
	rows, err := q.Query(ctx,
		`SELECT ma.message_id, a.id, a.name, a.content_type, a.url, a.storage_key
		 FROM message_attachments ma
		 INNER JOIN attachments a ON a.id = ma.attachment_id
		 WHERE ma.message_id = ANY($1)
		 ORDER BY ma.message_id, ma.position`,
		messageIDs,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string][]models.Attachment)
	for rows.Next() {
		var msgID string
		var a models.Attachment
		if err := rows.Scan(&msgID, &a.ID, &a.Name, &a.ContentType, &a.URL, &a.StorageKey); err != nil {
			return nil, err
		}
		result[msgID] = append(result[msgID], a)
	}
	return result, rows.Err()
}

func messageAttachmentIDs(ctx context.Context, q dbtx, messageID string) ([]int64, error) {
	rows, err := q.Query(ctx,
		`SELECT attachment_id FROM message_attachments WHERE message_id = $1`,
		messageID,
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

// lockAttachments takes row locks on the given attachments and returns their
// storage keys by id.
func lockAttachments(ctx context.Context, q dbtx, ids []int64) (map[int64]string, error) {
	keys := make(map[int64]string, len(ids))
	if len(ids) == 0 {
		return keys, nil
	}
	rows, err := q.Query(ctx,
		`SELECT id, storage_key FROM attachments WHERE id = ANY($1) ORDER BY id FOR UPDATE`,
		ids,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var key string
		if err := rows.Scan(&id, &key); err != nil {
			return nil, err
		}
		keys[id] = key
	}
	return keys, rows.Err()
}

// unreferencedAttachments returns the subset of ids with no remaining
// message references. Must run after the owning rows have been deleted.
func unreferencedAttachments(ctx context.Context, q dbtx, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := q.Query(ctx,
		`SELECT a.id FROM attachments a
		 WHERE a.id = ANY($1)
		   AND NOT EXISTS (
		       SELECT 1 FROM message_attachments ma WHERE ma.attachment_id = a.id
		   )`,
		ids,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orphans []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		orphans = append(orphans, id)
	}
	return orphans, rows.Err()
}

// deleteAttachments removes backing blobs and attachment rows. A blob
// deletion failure aborts the caller's transaction, so no partial GC is
// ever observable.
func deleteAttachments(ctx context.Context, q dbtx, ids []int64, keys map[int64]string, blobs BlobDeleter) error {
	if len(ids) == 0 {
		return nil
	}
	for _, id := range ids {
		key, ok := keys[id]
		if !ok {
			return fmt.Errorf("attachment %d has no storage key", id)
		}
		if err := blobs.Delete(ctx, key); err != nil {
			return fmt.Errorf("deleting blob %s: %w", key, err)
		}
	}
	_, err := q.Exec(ctx, `DELETE FROM attachments WHERE id = ANY($1)`, ids)
	return err
}
