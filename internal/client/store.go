package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavrupets/universe/internal/models"
	"github.com/vladislavrupets/universe/internal/protocol"
	"github.com/vladislavrupets/universe/internal/snowflake"
)

// MessageStatus is the client-only delivery state of a message. Server-held
// messages are implicitly SUCCESS.
type MessageStatus string

const (
	StatusSending MessageStatus = "SENDING"
	StatusFailed  MessageStatus = "FAILED"
	StatusSuccess MessageStatus = "SUCCESS"
)

// Message is the client mirror of a message. Instances are shared by
// pointer between the mirror list and in-flight send bookkeeping, so the
// timeout and the ack mutate the same object regardless of list rebuilds.
type Message struct {
	ID          string
	ChannelID   snowflake.ID
	Author      models.UserSummary
	TextContent json.RawMessage
	SentAt      time.Time
	Attachments []models.Attachment
	Status      MessageStatus
}

// ChannelMirror is the local projection of one channel: its newest-first
// message list plus pagination state.
type ChannelMirror struct {
	Channel         models.ChannelSummary
	Users           []models.UserSummary
	Messages        []*Message
	Page            int
	HasMoreMessages bool
}

// transport is the outbound half of the event channel the store talks
// through. *Socket implements it.
type transport interface {
	Request(ctx context.Context, event string, payload any) (protocol.Ack, error)
}

const (
	sendTimeout = 10 * time.Second
	pageSize    = 20
)

// Store holds the client's optimistic view of channels and messages. All
// mutations go through its methods; external consumers subscribe for
// change notification and read through the accessors.
type Store struct {
	mu sync.Mutex

	transport transport
	self      models.UserSummary

	groups  []models.ChannelGroup
	dms     []models.DMWithUser
	notes   models.ChannelSummary
	mirrors map[snowflake.ID]*ChannelMirror

	lastSent    *Message
	lastDeleted string
	lastEdited  *Message

	subscribers []func()

	// Overridable in tests.
	timeout time.Duration
	limit   int
	now     func() time.Time
	newID   func() string
}

func NewStore(t transport, self models.UserSummary) *Store {
	return &Store{
		transport: t,
		self:      self,
		mirrors:   make(map[snowflake.ID]*ChannelMirror),
		timeout:   sendTimeout,
		limit:     pageSize,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Bind registers the store's receive path on a socket. Dispatch events and
// send reconciliation are two disjoint update paths for the same logical
// event: the server never echoes a broadcast back to its origin.
func (st *Store) Bind(s *Socket) {
	s.OnDispatch(protocol.EventSendChannels, unmarshalTo(st.handleSendChannels))
	s.OnDispatch(protocol.EventReceiveMessage, unmarshalTo(st.handleReceiveMessage))
	s.OnDispatch(protocol.EventDeletedMessage, unmarshalTo(st.handleDeletedMessage))
	s.OnDispatch(protocol.EventEditedMessage, unmarshalTo(st.handleEditedMessage))
	s.OnDispatch(protocol.EventSendChannelMessages, unmarshalTo(st.handleChannelMessages))
	s.OnDispatch(protocol.EventChannelDeleted, unmarshalTo(st.handleChannelDeleted))
	s.OnDispatch(protocol.EventChannelRenamed, unmarshalTo(st.handleChannelRenamed))
	s.OnDispatch(protocol.EventUserJoinedChannel, unmarshalTo(st.handleUserJoined))
	s.OnDispatch(protocol.EventUserLeftChannel, unmarshalTo(st.handleUserLeft))
}

func unmarshalTo[T any](h func(T)) DispatchHandler {
	return func(data json.RawMessage) {
		var payload T
		if err := json.Unmarshal(data, &payload); err != nil {
			return
		}
		h(payload)
	}
}

// Subscribe registers a change callback, invoked after every store mutation.
func (st *Store) Subscribe(fn func()) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.subscribers = append(st.subscribers, fn)
}

func (st *Store) notify() {
	st.mu.Lock()
	subs := make([]func(), len(st.subscribers))
	copy(subs, st.subscribers)
	st.mu.Unlock()

	for _, fn := range subs {
		fn()
	}
}

// --- send path ---

// SendMessage optimistically prepends a SENDING message to the target
// channel and reconciles it in place when the ack or the timeout arrives,
// whichever is first. When uploadFailed is set a terminal FAILED message is
// synthesized locally and nothing is sent.
func (st *Store) SendMessage(channelID snowflake.ID, text json.RawMessage, attachments []protocol.AttachmentUpload, uploadFailed bool) *Message {
	return st.send(channelID, st.self, text, attachments, uploadFailed, nil)
}

// SendToNotes sends into the local Notes channel on another identity's
// behalf. The server suppresses the broadcast for override sends.
func (st *Store) SendToNotes(author models.UserSummary, text json.RawMessage, attachments []protocol.AttachmentUpload) *Message {
	st.mu.Lock()
	notesID := st.notes.ID
	st.mu.Unlock()
	return st.send(notesID, author, text, attachments, false, &author.ID)
}

func (st *Store) send(channelID snowflake.ID, author models.UserSummary, text json.RawMessage, attachments []protocol.AttachmentUpload, uploadFailed bool, override *snowflake.ID) *Message {
	// Attachments stay empty until the ack supplies the server-confirmed
	// records.
	msg := &Message{
		ID:          st.newID(),
		ChannelID:   channelID,
		Author:      author,
		TextContent: text,
		SentAt:      st.now(),
		Status:      StatusSending,
	}
	if uploadFailed {
		msg.Status = StatusFailed
	}

	st.mu.Lock()
	mirror := st.ensureMirrorLocked(channelID)
	mirror.Messages = append([]*Message{msg}, mirror.Messages...)
	st.lastSent = msg
	st.mu.Unlock()
	st.notify()

	if uploadFailed {
		return msg
	}

	// Single-fire guard shared by the timeout and the reply: whichever
	// settles first wins, the other is a no-op.
	var done bool
	settle := func(status MessageStatus, confirmed []models.Attachment) {
		st.mu.Lock()
		if done {
			st.mu.Unlock()
			return
		}
		done = true
		msg.Status = status
		if status == StatusSuccess {
			msg.Attachments = confirmed
			st.moveDMToFrontLocked(channelID)
		}
		st.mu.Unlock()
		st.notify()
	}

	timer := time.AfterFunc(st.timeout, func() {
		settle(StatusFailed, nil)
	})

	req := &protocol.SendMessageRequest{
		Message: protocol.OutgoingMessage{
			ID:          msg.ID,
			TextContent: text,
			SentAt:      msg.SentAt.UnixMilli(),
			Attachments: attachments,
			Author:      author,
		},
		ChannelID: channelID,
		UserID:    override,
	}

	go func() {
		ack, err := st.transport.Request(context.Background(), protocol.EventSendMessage, req)
		timer.Stop()
		if err != nil || ack.Status != protocol.StatusSuccess {
			settle(StatusFailed, nil)
			return
		}
		settle(StatusSuccess, ack.Attachments)
	}()

	return msg
}

// --- confirmation-gated mutations ---

// DeleteMessage removes a message after server confirmation; local state is
// untouched on failure.
func (st *Store) DeleteMessage(channelID snowflake.ID, messageID string) error {
	err := st.request(protocol.EventDeleteMessage, &protocol.DeleteMessageRequest{
		MessageID: messageID,
		ChannelID: channelID,
	}, nil)
	if err != nil {
		return err
	}

	st.mu.Lock()
	st.removeMessageLocked(channelID, messageID)
	st.lastDeleted = messageID
	st.mu.Unlock()
	st.notify()
	return nil
}

// EditMessage replaces a message's text content after server confirmation.
func (st *Store) EditMessage(channelID snowflake.ID, messageID string, text json.RawMessage) error {
	st.mu.Lock()
	msg := st.findMessageLocked(channelID, messageID)
	st.mu.Unlock()
	if msg == nil {
		return errors.New("message not found")
	}

	err := st.request(protocol.EventEditMessage, &protocol.EditMessageRequest{
		EditedMessage: protocol.OutgoingMessage{
			ID:          messageID,
			TextContent: text,
			SentAt:      msg.SentAt.UnixMilli(),
			Author:      msg.Author,
		},
		ChannelID: channelID,
	}, nil)
	if err != nil {
		return err
	}

	st.mu.Lock()
	msg.TextContent = text
	st.lastEdited = msg
	st.mu.Unlock()
	st.notify()
	return nil
}

// LoadChannelMessages requests the next page for a channel. The page itself
// arrives as a send-channel-messages dispatch and is merged there.
func (st *Store) LoadChannelMessages(channelID snowflake.ID) error {
	st.mu.Lock()
	mirror := st.ensureMirrorLocked(channelID)
	page := mirror.Page
	st.mu.Unlock()

	return st.request(protocol.EventGetChannelMessages, &protocol.GetChannelMessagesRequest{
		ChannelID: channelID,
		Limit:     st.limit,
		Page:      page,
	}, nil)
}

// CreateChannel creates a channel. The acting member never gets a join
// broadcast, so the confirmed channel is synthesized locally at the front
// of the owning group's item list.
func (st *Store) CreateChannel(name string, private, readonly bool) (*ChannelMirror, error) {
	var created models.ChannelWithUsers
	err := st.request(protocol.EventCreateChannel, &protocol.CreateChannelRequest{
		Name:     name,
		Private:  private,
		Readonly: readonly,
	}, &created)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	mirror := st.insertChannelLocked(created, !private)
	st.mu.Unlock()
	st.notify()
	return mirror, nil
}

// CreateDM opens (or reuses) the DM channel with another user and places it
// at the front of the DM ordering.
func (st *Store) CreateDM(user models.UserSummary) (snowflake.ID, error) {
	var channel models.Channel
	err := st.request(protocol.EventCreateDMChannel, &protocol.CreateDMChannelRequest{
		UserID: user.ID,
	}, &channel)
	if err != nil {
		return 0, err
	}

	st.mu.Lock()
	found := false
	for _, dm := range st.dms {
		if dm.ChannelID == channel.ID {
			found = true
			break
		}
	}
	if !found {
		st.dms = append([]models.DMWithUser{{ChannelID: channel.ID, User: user}}, st.dms...)
	}
	st.ensureMirrorLocked(channel.ID)
	st.mu.Unlock()
	st.notify()
	return channel.ID, nil
}

// DeleteChannel removes a channel after server confirmation.
func (st *Store) DeleteChannel(channelID snowflake.ID) error {
	err := st.request(protocol.EventDeleteChannel, &protocol.ChannelIDRequest{ChannelID: channelID}, nil)
	if err != nil {
		return err
	}

	st.mu.Lock()
	st.removeChannelLocked(channelID)
	st.mu.Unlock()
	st.notify()
	return nil
}

// RenameChannel renames a channel after server confirmation.
func (st *Store) RenameChannel(channelID snowflake.ID, name string) error {
	err := st.request(protocol.EventRenameChannel, &protocol.RenameChannelRequest{
		ChannelID: channelID,
		Name:      name,
	}, nil)
	if err != nil {
		return err
	}

	st.mu.Lock()
	st.renameChannelLocked(channelID, name)
	st.mu.Unlock()
	st.notify()
	return nil
}

// LeaveChannel drops the channel locally after server confirmation.
func (st *Store) LeaveChannel(channelID snowflake.ID) error {
	err := st.request(protocol.EventLeaveChannel, &protocol.ChannelIDRequest{ChannelID: channelID}, nil)
	if err != nil {
		return err
	}

	st.mu.Lock()
	st.removeChannelLocked(channelID)
	st.mu.Unlock()
	st.notify()
	return nil
}

// AddUsersToChannel adds users and refreshes the mirror's member list from
// the confirmed channel object.
func (st *Store) AddUsersToChannel(channelID snowflake.ID, userIDs []snowflake.ID) error {
	var updated models.ChannelWithUsers
	err := st.request(protocol.EventAddUserToChannel, &protocol.AddUserToChannelRequest{
		ChannelID: channelID,
		UserIDs:   userIDs,
	}, &updated)
	if err != nil {
		return err
	}

	st.mu.Lock()
	mirror := st.ensureMirrorLocked(channelID)
	mirror.Users = updated.Users
	st.mu.Unlock()
	st.notify()
	return nil
}

// UpdateGroupsOrder submits a new group ordering. An ordering structurally
// identical to the current one produces zero outbound events; the local
// ordering is committed only on server confirmation.
func (st *Store) UpdateGroupsOrder(proposed []models.ChannelGroup) error {
	st.mu.Lock()
	same := sameOrdering(st.groups, proposed)
	st.mu.Unlock()
	if same {
		return nil
	}

	err := st.request(protocol.EventUpdateGroupsOrder, &protocol.UpdateGroupsOrderRequest{
		Groups: proposed,
	}, nil)
	if err != nil {
		return err
	}

	st.mu.Lock()
	st.groups = proposed
	st.mu.Unlock()
	st.notify()
	return nil
}

// sameOrdering compares two group lists structurally over (id, name,
// ordered item ids).
func sameOrdering(current, proposed []models.ChannelGroup) bool {
	if len(current) != len(proposed) {
		return false
	}
	for i := range current {
		if current[i].ID != proposed[i].ID || current[i].Name != proposed[i].Name {
			return false
		}
		if len(current[i].Items) != len(proposed[i].Items) {
			return false
		}
		for j := range current[i].Items {
			if current[i].Items[j].ID != proposed[i].Items[j].ID {
				return false
			}
		}
	}
	return true
}

// request performs a confirmation round trip and decodes the ack data into
// out when non-nil.
func (st *Store) request(event string, payload, out any) error {
	ctx, cancel := context.WithTimeout(context.Background(), st.timeout)
	defer cancel()

	ack, err := st.transport.Request(ctx, event, payload)
	if err != nil {
		return err
	}
	if ack.Status != protocol.StatusSuccess {
		if ack.Message != "" {
			return errors.New(ack.Message)
		}
		return errors.New("request failed")
	}
	if out != nil && len(ack.Data) > 0 {
		if err := json.Unmarshal(ack.Data, out); err != nil {
			return err
		}
	}
	return nil
}

// --- receive path (server dispatches) ---

func (st *Store) handleSendChannels(data protocol.SendChannelsData) {
	st.mu.Lock()
	st.groups = data.ChannelGroups
	st.dms = data.DMsWithUsers
	st.notes = data.NotesChannel
	st.mu.Unlock()
	st.notify()
}

func (st *Store) handleReceiveMessage(data protocol.ReceiveMessageData) {
	st.mu.Lock()
	mirror := st.ensureMirrorLocked(data.ChannelID)
	mirror.Messages = append([]*Message{fromModel(data.Message, data.ChannelID)}, mirror.Messages...)
	st.moveDMToFrontLocked(data.ChannelID)
	st.mu.Unlock()
	st.notify()
}

func (st *Store) handleDeletedMessage(data protocol.DeletedMessageData) {
	st.mu.Lock()
	st.removeMessageLocked(data.ChannelID, data.MessageID)
	st.lastDeleted = data.MessageID
	st.mu.Unlock()
	st.notify()
}

func (st *Store) handleEditedMessage(data protocol.EditedMessageData) {
	st.mu.Lock()
	if msg := st.findMessageLocked(data.ChannelID, data.EditedMessage.ID); msg != nil {
		msg.TextContent = data.EditedMessage.TextContent
		msg.Attachments = data.EditedMessage.Attachments
		st.lastEdited = msg
	}
	st.mu.Unlock()
	st.notify()
}

// handleChannelMessages merges one fetched page: messages already mirrored
// are filtered out by id, so a retried page fetch never duplicates.
func (st *Store) handleChannelMessages(data protocol.ChannelMessagesData) {
	st.mu.Lock()
	mirror := st.ensureMirrorLocked(data.ChannelID)

	seen := make(map[string]bool, len(mirror.Messages))
	for _, m := range mirror.Messages {
		seen[m.ID] = true
	}
	for _, m := range data.Messages {
		if seen[m.ID] {
			continue
		}
		mirror.Messages = append(mirror.Messages, fromModel(m, data.ChannelID))
	}

	mirror.Users = data.Users
	mirror.Page++
	mirror.HasMoreMessages = data.HasMoreMessages
	st.mu.Unlock()
	st.notify()
}

func (st *Store) handleChannelDeleted(data protocol.ChannelDeletedData) {
	st.mu.Lock()
	st.removeChannelLocked(data.ChannelID)
	st.mu.Unlock()
	st.notify()
}

func (st *Store) handleChannelRenamed(data protocol.ChannelRenamedData) {
	st.mu.Lock()
	st.renameChannelLocked(data.ChannelID, data.Name)
	st.mu.Unlock()
	st.notify()
}

func (st *Store) handleUserJoined(data protocol.UserJoinedChannelData) {
	joinedSelf := false
	for _, id := range data.UserIDs {
		if id == st.self.ID {
			joinedSelf = true
			break
		}
	}

	st.mu.Lock()
	if joinedSelf {
		st.insertChannelLocked(data.Channel, true)
	} else {
		mirror := st.ensureMirrorLocked(data.Channel.ID)
		mirror.Users = data.Channel.Users
	}
	st.mu.Unlock()
	st.notify()
}

func (st *Store) handleUserLeft(data protocol.UserLeftChannelData) {
	st.mu.Lock()
	if mirror, ok := st.mirrors[data.ChannelID]; ok {
		users := mirror.Users[:0]
		for _, u := range mirror.Users {
			if u.ID != data.UserID {
				users = append(users, u)
			}
		}
		mirror.Users = users
	}
	st.mu.Unlock()
	st.notify()
}

// --- accessors ---

func (st *Store) Groups() []models.ChannelGroup {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]models.ChannelGroup, len(st.groups))
	copy(out, st.groups)
	return out
}

func (st *Store) DMs() []models.DMWithUser {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]models.DMWithUser, len(st.dms))
	copy(out, st.dms)
	return out
}

func (st *Store) Notes() models.ChannelSummary {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.notes
}

func (st *Store) Mirror(channelID snowflake.ID) *ChannelMirror {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.mirrors[channelID]
}

// LastSent returns the most recently sent message, for consumers like
// autoscroll that track the user's own activity.
func (st *Store) LastSent() *Message {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.lastSent
}

func (st *Store) LastDeleted() string {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.lastDeleted
}

func (st *Store) LastEdited() *Message {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.lastEdited
}

// --- locked helpers ---

func (st *Store) ensureMirrorLocked(channelID snowflake.ID) *ChannelMirror {
	mirror, ok := st.mirrors[channelID]
	if !ok {
		mirror = &ChannelMirror{Channel: models.ChannelSummary{ID: channelID}}
		st.mirrors[channelID] = mirror
	}
	return mirror
}

func (st *Store) insertChannelLocked(channel models.ChannelWithUsers, grouped bool) *ChannelMirror {
	mirror := st.ensureMirrorLocked(channel.ID)
	mirror.Channel = models.ChannelSummary{ID: channel.ID, Name: channel.Name}
	mirror.Users = channel.Users

	if grouped {
		summary := models.ChannelSummary{ID: channel.ID, Name: channel.Name}
		for i := range st.groups {
			if st.groups[i].Name != models.DefaultGroupName {
				continue
			}
			for _, item := range st.groups[i].Items {
				if item.ID == channel.ID {
					return mirror
				}
			}
			st.groups[i].Items = append([]models.ChannelSummary{summary}, st.groups[i].Items...)
			return mirror
		}
	}
	return mirror
}

func (st *Store) removeChannelLocked(channelID snowflake.ID) {
	delete(st.mirrors, channelID)

	for i := range st.groups {
		items := st.groups[i].Items[:0]
		for _, item := range st.groups[i].Items {
			if item.ID != channelID {
				items = append(items, item)
			}
		}
		st.groups[i].Items = items
	}

	dms := st.dms[:0]
	for _, dm := range st.dms {
		if dm.ChannelID != channelID {
			dms = append(dms, dm)
		}
	}
	st.dms = dms
}

func (st *Store) renameChannelLocked(channelID snowflake.ID, name string) {
	if mirror, ok := st.mirrors[channelID]; ok {
		mirror.Channel.Name = name
	}
	for i := range st.groups {
		for j := range st.groups[i].Items {
			if st.groups[i].Items[j].ID == channelID {
				st.groups[i].Items[j].Name = name
			}
		}
	}
}

func (st *Store) removeMessageLocked(channelID snowflake.ID, messageID string) {
	mirror, ok := st.mirrors[channelID]
	if !ok {
		return
	}
	msgs := mirror.Messages[:0]
	for _, m := range mirror.Messages {
		if m.ID != messageID {
			msgs = append(msgs, m)
		}
	}
	mirror.Messages = msgs
}

func (st *Store) findMessageLocked(channelID snowflake.ID, messageID string) *Message {
	mirror, ok := st.mirrors[channelID]
	if !ok {
		return nil
	}
	for _, m := range mirror.Messages {
		if m.ID == messageID {
			return m
		}
	}
	return nil
}

func (st *Store) moveDMToFrontLocked(channelID snowflake.ID) {
	for i, dm := range st.dms {
		if dm.ChannelID == channelID {
			if i > 0 {
				copy(st.dms[1:i+1], st.dms[:i])
				st.dms[0] = dm
			}
			return
		}
	}
}

func fromModel(m models.Message, channelID snowflake.ID) *Message {
	return &Message{
		ID:          m.ID,
		ChannelID:   channelID,
		Author:      m.Author,
		TextContent: m.TextContent,
		SentAt:      m.SentAt,
		Attachments: m.Attachments,
		Status:      StatusSuccess,
	}
}
