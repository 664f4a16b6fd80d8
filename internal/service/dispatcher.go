package service

import (
	"context"
	"io"

	"github.com/vladislavrupets/universe/internal/snowflake"
)

// Dispatcher is the interface services use to push events to connected
// clients. The gateway Manager implements it.
type Dispatcher interface {
	DispatchToChannel(channelID snowflake.ID, event string, data any)
	DispatchToChannelExcept(channelID, exceptUserID snowflake.ID, event string, data any)
	DispatchToUser(userID snowflake.ID, event string, data any)
	SubscribeToChannel(userID, channelID snowflake.ID)
	UnsubscribeFromChannel(userID, channelID snowflake.ID)
}

// BlobStore is the storage collaborator contract: content-addressed upload
// plus URL derivation and deletion by key.
type BlobStore interface {
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	GetURL(key string) string
	Delete(ctx context.Context, key string) error
}
