package models

import "github.com/vladislavrupets/universe/internal/snowflake"

// ChannelGroup is an ordered grouping of channels in the directory.
// Item order is significant and persisted independently of the channels.
type ChannelGroup struct {
	ID    snowflake.ID     `json:"id"`
	Name  string           `json:"name"`
	Items []ChannelSummary `json:"items"`
}

// DefaultGroupName is the group newly created channels are appended to.
const DefaultGroupName = "General"
