package database

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/vladislavrupets/universe/internal/models"
	"github.com/vladislavrupets/universe/internal/snowflake"
)

// ErrDuplicate is returned when an insert collides with an existing primary
// key. For messages this is the idempotence signal: a retried send with the
// same client-minted id must fail fast instead of duplicating the row.
var ErrDuplicate = errors.New("duplicate key")

// BlobDeleter removes a stored object by key. The message and channel repos
// call it inside their delete transactions so that a failed blob deletion
// aborts the whole transaction.
type BlobDeleter interface {
	Delete(ctx context.Context, key string) error
}

type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id snowflake.ID) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
}

type ChannelRepository interface {
	// Create inserts a channel and its initial members in one transaction.
	Create(ctx context.Context, channel *models.Channel, memberIDs []snowflake.ID) error
	GetByID(ctx context.Context, id snowflake.ID) (*models.Channel, error)
	GetWithUsers(ctx context.Context, id snowflake.ID) (*models.ChannelWithUsers, error)
	Rename(ctx context.Context, id snowflake.ID, name string) error
	IsMember(ctx context.Context, channelID, userID snowflake.ID) (bool, error)
	AddMembers(ctx context.Context, channelID snowflake.ID, userIDs []snowflake.ID) error
	RemoveMember(ctx context.Context, channelID, userID snowflake.ID) error
	GetMembers(ctx context.Context, channelID snowflake.ID) ([]models.UserSummary, error)
	GetMemberIDs(ctx context.Context, channelID snowflake.ID) ([]snowflake.ID, error)
	GetUserChannelIDs(ctx context.Context, userID snowflake.ID) ([]snowflake.ID, error)
	// GetOrCreateDM returns the DM channel for the pair, creating it with
	// newID when absent. The second result reports whether it was created.
	GetOrCreateDM(ctx context.Context, userA, userB, newID snowflake.ID) (*models.Channel, bool, error)
	// GetOrCreateNotes returns the owner's Notes channel, creating it with an
	// id from newID when absent. newID is only consulted on the create path.
	GetOrCreateNotes(ctx context.Context, ownerID snowflake.ID, newID func() snowflake.ID) (*models.Channel, error)
	GetDMsWithUsers(ctx context.Context, userID snowflake.ID) ([]models.DMWithUser, error)
	// DeleteWithMessages removes a channel, its messages, and any attachments
	// left unreferenced, deleting backing blobs inside the transaction.
	DeleteWithMessages(ctx context.Context, id snowflake.ID, blobs BlobDeleter) error
}

type GroupRepository interface {
	Create(ctx context.Context, group *models.ChannelGroup) error
	GetAll(ctx context.Context) ([]models.ChannelGroup, error)
	GetByName(ctx context.Context, name string) (*models.ChannelGroup, error)
	// AppendChannel places a channel at the end of the named group's items.
	AppendChannel(ctx context.Context, groupName string, channelID snowflake.ID) error
	// ReplaceOrder persists a full new ordering in one transaction.
	ReplaceOrder(ctx context.Context, groups []models.ChannelGroup) error
}

type MessageRepository interface {
	// Create inserts the message keyed by its client-minted id together with
	// its attachment references. Returns ErrDuplicate on id collision.
	Create(ctx context.Context, msg *models.Message) error
	GetByID(ctx context.Context, id string) (*models.Message, error)
	// GetPage returns a page of messages newest-first and whether more remain.
	GetPage(ctx context.Context, channelID snowflake.ID, limit, page int) ([]models.Message, bool, error)
	UpdateText(ctx context.Context, id string, text json.RawMessage) error
	// DeleteWithAttachments removes the message and garbage-collects
	// attachments no other message references, all in one transaction.
	DeleteWithAttachments(ctx context.Context, id string, blobs BlobDeleter) error
}

type AttachmentRepository interface {
	FindByURLs(ctx context.Context, urls []string) ([]models.Attachment, error)
	CreateMany(ctx context.Context, attachments []models.Attachment) error
}
