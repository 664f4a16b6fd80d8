package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vladislavrupets/universe/internal/models"
	"github.com/vladislavrupets/universe/internal/snowflake"
)

type userRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &userRepo{pool: pool}
}

func (r *userRepo) Create(ctx context.Context, user *models.User) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (id, username, display_name, avatar_url)
		 VALUES ($1, $2, $3, $4)`,
		user.ID.Int64(), user.Username, user.DisplayName, user.AvatarURL,
	)
	return err
}

func (r *userRepo) GetByID(ctx context.Context, id snowflake.ID) (*models.User, error) {
	u := &models.User{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, username, display_name, avatar_url FROM users WHERE id = $1`,
		id.Int64(),
	).Scan(&u.ID, &u.Username, &u.DisplayName, &u.AvatarURL)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return u, err
}

func (r *userRepo) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	u := &models.User{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, username, display_name, avatar_url FROM users WHERE username = $1`,
		username,
	).Scan(&u.ID, &u.Username, &u.DisplayName, &u.AvatarURL)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return u, err
}
