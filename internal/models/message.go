package models

import (
	"encoding/json"
	"time"

	"github.com/vladislavrupets/universe/internal/snowflake"
)

// Message is a durable chat message. The id is minted by the sender's client
// and reused as the primary key, which makes retried sends idempotent.
// TextContent is an opaque rich-text document.
type Message struct {
	ID          string          `json:"id"`
	ChannelID   snowflake.ID    `json:"channel_id"`
	Author      UserSummary     `json:"author"`
	TextContent json.RawMessage `json:"text_content"`
	SentAt      time.Time       `json:"sent_at"`
	Attachments []Attachment    `json:"attachments"`
}
