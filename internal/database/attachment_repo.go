package database

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vladislavrupets/universe/internal/models"
)

type attachmentRepo struct {
	pool *pgxpool.Pool
}

func NewAttachmentRepository(pool *pgxpool.Pool) AttachmentRepository {
	return &attachmentRepo{pool: pool}
}

func (r *attachmentRepo) FindByURLs(ctx context.Context, urls []string) ([]models.Attachment, error) {
	if len(urls) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, content_type, url, storage_key
		 FROM attachments
		 WHERE url = ANY($1)`, urls,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attachments []models.Attachment
	for rows.Next() {
		var a models.Attachment
		if err := rows.Scan(&a.ID, &a.Name, &a.ContentType, &a.URL, &a.StorageKey); err != nil {
			return nil, err
		}
		attachments = append(attachments, a)
	}
	return attachments, rows.Err()
}

func (r *attachmentRepo) CreateMany(ctx context.Context, attachments []models.Attachment) error {
	if len(attachments) == 0 {
		return nil
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, a := range attachments {
		_, err := tx.Exec(ctx,
			`INSERT INTO attachments (id, name, content_type, url, storage_key)
			 VALUES ($1, $2, $3, $4, $5)`,
			a.ID.Int64(), a.Name, a.ContentType, a.URL, a.StorageKey,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicate
			}
			return err
		}
	}
	return tx.Commit(ctx)
}
