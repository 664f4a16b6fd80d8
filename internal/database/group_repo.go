package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vladislavrupets/universe/internal/models"
	"github.com/vladislavrupets/universe/internal/snowflake"
)

type groupRepo struct {
	pool *pgxpool.Pool
}

func NewGroupRepository(pool *pgxpool.Pool) GroupRepository {
	return &groupRepo{pool: pool}
}

func (r *groupRepo) Create(ctx context.Context, group *models.ChannelGroup) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO channel_groups (id, name) VALUES ($1, $2)`,
		group.ID.Int64(), group.Name,
	)
	return err
}

func (r *groupRepo) GetAll(ctx context.Context) ([]models.ChannelGroup, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT g.id, g.name, c.id, c.name
		 FROM channel_groups g
		 LEFT JOIN channel_group_items gi ON gi.group_id = g.id
		 LEFT JOIN channels c ON c.id = gi.channel_id
		 ORDER BY g.id, gi.position`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []models.ChannelGroup
	for rows.Next() {
		var groupID snowflake.ID
		var groupName string
		var channelID *snowflake.ID
		var channelName *string
		if err := rows.Scan(&groupID, &groupName, &channelID, &channelName); err != nil {
			return nil, err
		}

		if len(groups) == 0 || groups[len(groups)-1].ID != groupID {
			groups = append(groups, models.ChannelGroup{ID: groupID, Name: groupName})
		}
		if channelID != nil {
			g := &groups[len(groups)-1]
			g.Items = append(g.Items, models.ChannelSummary{ID: *channelID, Name: *channelName})
		}
	}
	return groups, rows.Err()
}

func (r *groupRepo) GetByName(ctx context.Context, name string) (*models.ChannelGroup, error) {
	g := &models.ChannelGroup{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, name FROM channel_groups WHERE name = $1`, name,
	).Scan(&g.ID, &g.Name)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}

func (r *groupRepo) AppendChannel(ctx context.Context, groupName string, channelID snowflake.ID) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO channel_group_items (group_id, channel_id, position)
		 SELECT g.id, $2, COALESCE(
		     (SELECT max(position) + 1 FROM channel_group_items WHERE group_id = g.id), 0)
		 FROM channel_groups g WHERE g.name = $1`,
		groupName, channelID.Int64(),
	)
	return err
}

func (r *groupRepo) ReplaceOrder(ctx context.Context, groups []models.ChannelGroup) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Clear items for every submitted group first: the channel_id uniqueness
	// constraint would otherwise reject a channel moving between groups.
	for _, g := range groups {
		if _, err := tx.Exec(ctx,
			`DELETE FROM channel_group_items WHERE group_id = $1`, g.ID.Int64(),
		); err != nil {
			return err
		}
	}
	for _, g := range groups {
		if _, err := tx.Exec(ctx,
			`UPDATE channel_groups SET name = $2 WHERE id = $1`, g.ID.Int64(), g.Name,
		); err != nil {
			return err
		}
		for pos, item := range g.Items {
			if _, err := tx.Exec(ctx,
				`INSERT INTO channel_group_items (group_id, channel_id, position)
				 VALUES ($1, $2, $3)`,
				g.ID.Int64(), item.ID.Int64(), pos,
			); err != nil {
				return err
			}
		}
	}
	return tx.Commit(ctx)
}
