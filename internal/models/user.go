package models

import "github.com/vladislavrupets/universe/internal/snowflake"

type User struct {
	ID          snowflake.ID `json:"id"`
	Username    string       `json:"username"`
	DisplayName string       `json:"display_name"`
	AvatarURL   *string      `json:"avatar_url,omitempty"`
}

// UserSummary is the author shape embedded in messages and broadcasts.
type UserSummary struct {
	ID   snowflake.ID `json:"id"`
	Name string       `json:"name"`
}
