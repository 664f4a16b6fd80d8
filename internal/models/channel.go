package models

import (
	"time"

	"github.com/vladislavrupets/universe/internal/snowflake"
)

type ChannelKind int

const (
	ChannelKindText  ChannelKind = 0
	ChannelKindDM    ChannelKind = 1
	ChannelKindNotes ChannelKind = 2
)

type Channel struct {
	ID        snowflake.ID  `json:"id"`
	Name      string        `json:"name"`
	Kind      ChannelKind   `json:"kind"`
	OwnerID   *snowflake.ID `json:"owner_id,omitempty"`
	Readonly  bool          `json:"readonly"`
	CreatedAt time.Time     `json:"created_at"`
}

// ChannelWithUsers is a channel joined with its current membership,
// used in acks and join broadcasts.
type ChannelWithUsers struct {
	Channel
	Users []UserSummary `json:"users"`
}

// ChannelSummary is the shape carried inside channel group item lists.
type ChannelSummary struct {
	ID   snowflake.ID `json:"id"`
	Name string       `json:"name"`
}

// DMWithUser pairs a DM channel id with the counterpart user.
type DMWithUser struct {
	ChannelID snowflake.ID `json:"channel"`
	User      UserSummary  `json:"user"`
}
