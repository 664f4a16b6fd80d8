// Package protocol defines the event vocabulary and frame format exchanged
// between the optimistic client store and the server over the persistent
// connection. Requests are correlated with acks by a client-generated
// request id; broadcasts are plain dispatch frames.
package protocol

import (
	"encoding/json"

	"github.com/vladislavrupets/universe/internal/models"
	"github.com/vladislavrupets/universe/internal/snowflake"
)

// Op codes for frames.
const (
	OpDispatch     = 0 // server→client broadcast event
	OpHeartbeat    = 1
	OpIdentify     = 2
	OpRequest      = 4 // client→server event expecting an ack
	OpAck          = 5 // server→client reply correlated by request id
	OpReconnect    = 7
	OpHello        = 10
	OpHeartbeatAck = 11
)

// Client→server request events.
const (
	EventSendMessage        = "send-message"
	EventDeleteMessage      = "delete-message"
	EventEditMessage        = "edit-message"
	EventGetChannelMessages = "get-channel-messages"
	EventCreateChannel      = "create-channel"
	EventCreateDMChannel    = "create-dm-channel"
	EventDeleteChannel      = "delete-channel"
	EventRenameChannel      = "rename-channel"
	EventLeaveChannel       = "leave-channel"
	EventAddUserToChannel   = "add-user-to-channel"
	EventUpdateGroupsOrder  = "update-channel-groups-order"
)

// Server→client dispatch events.
const (
	EventSendChannels        = "send-channels"
	EventReceiveMessage      = "receive-message"
	EventDeletedMessage      = "on-deleted-message"
	EventEditedMessage       = "on-edited-message"
	EventSendChannelMessages = "send-channel-messages"
	EventChannelDeleted      = "channel-deleted"
	EventChannelRenamed      = "channel-renamed"
	EventUserJoinedChannel   = "user-joined-channel"
	EventUserLeftChannel     = "user-left-channel"
)

// Ack statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Frame is the envelope for everything on the wire.
type Frame struct {
	Op        int             `json:"op"`
	Event     string          `json:"t,omitempty"`
	RequestID string          `json:"rid,omitempty"`
	Data      json.RawMessage `json:"d,omitempty"`
}

// Ack is the reply to a request. Error acks carry a human-readable message
// and no structured code.
type Ack struct {
	Status      string              `json:"status"`
	Message     string              `json:"message,omitempty"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
	Data        json.RawMessage     `json:"data,omitempty"`
}

// IdentifyData is the payload of an OpIdentify frame.
type IdentifyData struct {
	Token string `json:"token"`
}

// HelloData is sent by the server right after the socket upgrade.
type HelloData struct {
	HeartbeatInterval int `json:"heartbeat_interval"`
}

// AttachmentUpload is an attachment reference inside a send request: either
// a server-local file path still to be uploaded, or the URL of an already
// stored file being reused.
type AttachmentUpload struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Path string `json:"path,omitempty"`
	URL  string `json:"url,omitempty"`
}

// OutgoingMessage is the message shape inside send/edit requests.
type OutgoingMessage struct {
	ID          string             `json:"id"`
	TextContent json.RawMessage    `json:"text_content"`
	SentAt      int64              `json:"sent_at"` // unix millis
	Attachments []AttachmentUpload `json:"attachments,omitempty"`
	Author      models.UserSummary `json:"author"`
}

type SendMessageRequest struct {
	Message   OutgoingMessage `json:"message"`
	ChannelID snowflake.ID    `json:"channel_id"`
	// UserID overrides the author identity for sends into a shared Notes
	// context; when set, the broadcast is suppressed.
	UserID *snowflake.ID `json:"user_id,omitempty"`
}

type DeleteMessageRequest struct {
	MessageID string       `json:"message_id"`
	ChannelID snowflake.ID `json:"channel_id"`
}

type EditMessageRequest struct {
	EditedMessage OutgoingMessage `json:"edited_message"`
	ChannelID     snowflake.ID    `json:"channel_id"`
}

type GetChannelMessagesRequest struct {
	ChannelID snowflake.ID `json:"channel_id"`
	Limit     int          `json:"limit"`
	Page      int          `json:"page"`
}

type CreateChannelRequest struct {
	Name     string `json:"name"`
	Private  bool   `json:"private"`
	Readonly bool   `json:"readonly"`
}

type CreateDMChannelRequest struct {
	UserID snowflake.ID `json:"user_id"`
}

type RenameChannelRequest struct {
	ChannelID snowflake.ID `json:"channel_id"`
	Name      string       `json:"name"`
}

type ChannelIDRequest struct {
	ChannelID snowflake.ID `json:"channel_id"`
}

type AddUserToChannelRequest struct {
	ChannelID snowflake.ID   `json:"channel_id"`
	UserIDs   []snowflake.ID `json:"user_ids"`
}

type UpdateGroupsOrderRequest struct {
	Groups []models.ChannelGroup `json:"groups"`
}

// --- dispatch payloads ---

// SendChannelsData is the directory snapshot pushed after identify.
type SendChannelsData struct {
	ChannelGroups []models.ChannelGroup `json:"channel_groups"`
	DMsWithUsers  []models.DMWithUser   `json:"dms_with_users"`
	NotesChannel  models.ChannelSummary `json:"notes_channel"`
}

type ReceiveMessageData struct {
	Message   models.Message `json:"message"`
	ChannelID snowflake.ID   `json:"channel_id"`
}

type DeletedMessageData struct {
	MessageID string       `json:"message_id"`
	ChannelID snowflake.ID `json:"channel_id"`
}

type EditedMessageData struct {
	EditedMessage models.Message `json:"edited_message"`
	ChannelID     snowflake.ID   `json:"channel_id"`
}

type ChannelMessagesData struct {
	ChannelID       snowflake.ID         `json:"channel_id"`
	Messages        []models.Message     `json:"messages"`
	Users           []models.UserSummary `json:"users"`
	HasMoreMessages bool                 `json:"has_more_messages"`
}

type ChannelDeletedData struct {
	ChannelID snowflake.ID `json:"channel_id"`
}

type ChannelRenamedData struct {
	ChannelID snowflake.ID `json:"channel_id"`
	Name      string       `json:"name"`
}

type UserJoinedChannelData struct {
	Channel models.ChannelWithUsers `json:"channel"`
	UserIDs []snowflake.ID          `json:"user_ids"`
}

type UserLeftChannelData struct {
	ChannelID snowflake.ID `json:"channel_id"`
	UserID    snowflake.ID `json:"user_id"`
}

// MustMarshal marshals v or panics; for payloads built from our own types.
func MustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
