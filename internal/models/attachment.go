package models

import "github.com/vladislavrupets/universe/internal/snowflake"

// Attachment is a deduplicated uploaded file. Records are content-addressed
// by URL: re-sending a file whose backing URL already exists reuses the
// existing record. Ownership is many-to-many via messages.
type Attachment struct {
	ID          snowflake.ID `json:"id"`
	Name        string       `json:"name"`
	ContentType string       `json:"type"`
	URL         string       `json:"url"`
	StorageKey  string       `json:"-"`
}
