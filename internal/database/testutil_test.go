package database

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vladislavrupets/universe/internal/models"
	"github.com/vladislavrupets/universe/internal/snowflake"
)

// testPool returns a pgxpool.Pool connected to the test database.
// It skips the test if DATABASE_URL is not set.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("connecting to test database: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

// testIDCounter provides unique IDs across all tests in the package.
// Starts well above zero to avoid conflicts with any existing data.
var testIDCounter int64 = 100000

func nextID() snowflake.ID {
	return snowflake.ID(atomic.AddInt64(&testIDCounter, 1))
}

// createTestUser inserts a user and registers cleanup. User rows are
// deleted directly through the pool; the schema cascades take care of
// memberships and messages.
func createTestUser(t *testing.T, pool *pgxpool.Pool) *models.User {
	t.Helper()
	ctx := context.Background()
	repo := NewUserRepository(pool)
	u := &models.User{
		ID:          nextID(),
		Username:    "test-user-" + time.Now().Format("150405.000000000"),
		DisplayName: "Test User",
	}
	if err := repo.Create(ctx, u); err != nil {
		t.Fatalf("createTestUser: %v", err)
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, u.ID.Int64())
	})
	return u
}

// createTestChannel inserts a text channel owned by ownerID and registers
// cleanup.
func createTestChannel(t *testing.T, pool *pgxpool.Pool, ownerID snowflake.ID) *models.Channel {
	t.Helper()
	ctx := context.Background()
	repo := NewChannelRepository(pool)
	ch := &models.Channel{
		ID:      nextID(),
		Name:    "test-channel-" + time.Now().Format("150405.000000000"),
		Kind:    models.ChannelKindText,
		OwnerID: &ownerID,
	}
	if err := repo.Create(ctx, ch, []snowflake.ID{ownerID}); err != nil {
		t.Fatalf("createTestChannel: %v", err)
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(ctx, `DELETE FROM channels WHERE id = $1`, ch.ID.Int64())
	})
	return ch
}

// createTestAttachment inserts an attachment record and registers cleanup.
// The delete is a no-op when the row was already garbage-collected.
func createTestAttachment(t *testing.T, pool *pgxpool.Pool) models.Attachment {
	t.Helper()
	ctx := context.Background()
	repo := NewAttachmentRepository(pool)
	id := nextID()
	a := models.Attachment{
		ID:          id,
		Name:        "report.pdf",
		ContentType: "application/pdf",
		URL:         fmt.Sprintf("https://files.test/%d", id.Int64()),
		StorageKey:  fmt.Sprintf("blob-%d", id.Int64()),
	}
	if err := repo.CreateMany(ctx, []models.Attachment{a}); err != nil {
		t.Fatalf("createTestAttachment: %v", err)
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(ctx, `DELETE FROM attachments WHERE id = $1`, id.Int64())
	})
	return a
}

// fakeBlobDeleter records the storage keys it was asked to remove and can
// be made to fail.
type fakeBlobDeleter struct {
	deleted []string
	failErr error
}

func (f *fakeBlobDeleter) Delete(ctx context.Context, key string) error {
	if f.failErr != nil {
		return f.failErr
	}
	f.deleted = append(f.deleted, key)
	return nil
}

// attachmentExists reports whether the attachment row is still present.
func attachmentExists(t *testing.T, pool *pgxpool.Pool, id snowflake.ID) bool {
	t.Helper()
	var exists bool
	err := pool.QueryRow(context.Background(),
		`SELECT EXISTS (SELECT 1 FROM attachments WHERE id = $1)`, id.Int64(),
	).Scan(&exists)
	if err != nil {
		t.Fatalf("attachmentExists: %v", err)
	}
	return exists
}
