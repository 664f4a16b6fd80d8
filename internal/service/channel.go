package service

import (
	"context"
	"strings"

	"github.com/vladislavrupets/universe/internal/database"
	"github.com/vladislavrupets/universe/internal/models"
	"github.com/vladislavrupets/universe/internal/protocol"
	"github.com/vladislavrupets/universe/internal/snowflake"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ChannelService owns the channel directory: channels, DMs, the per-user
// Notes channel, membership, grouping, and message pagination.
type ChannelService struct {
	channels  database.ChannelRepository
	groups    database.GroupRepository
	users     database.UserRepository
	messages  database.MessageRepository
	snowflake *snowflake.Generator
	gateway   Dispatcher
	blobs     BlobStore
}

func NewChannelService(
	channels database.ChannelRepository,
	groups database.GroupRepository,
	users database.UserRepository,
	messages database.MessageRepository,
	sf *snowflake.Generator,
	gw Dispatcher,
	blobs BlobStore,
) *ChannelService {
	return &ChannelService{
		channels:  channels,
		groups:    groups,
		users:     users,
		messages:  messages,
		snowflake: sf,
		gateway:   gw,
		blobs:     blobs,
	}
}

// Create makes a new channel owned by the actor. Public channels are
// appended to the default group's item list.
func (s *ChannelService) Create(ctx context.Context, actorID snowflake.ID, req *protocol.CreateChannelRequest) (*models.ChannelWithUsers, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, BadRequest("channel name is required")
	}

	channel := &models.Channel{
		ID:       s.snowflake.Generate(),
		Name:     name,
		Kind:     models.ChannelKindText,
		OwnerID:  &actorID,
		Readonly: req.Readonly,
	}
	if err := s.channels.Create(ctx, channel, []snowflake.ID{actorID}); err != nil {
		return nil, Internal("error creating channel")
	}

	if !req.Private {
		if err := s.groups.AppendChannel(ctx, models.DefaultGroupName, channel.ID); err != nil {
			return nil, Internal("error creating channel")
		}
	}

	s.gateway.SubscribeToChannel(actorID, channel.ID)

	users, err := s.channels.GetMembers(ctx, channel.ID)
	if err != nil {
		return nil, Internal("error creating channel")
	}
	return &models.ChannelWithUsers{Channel: *channel, Users: users}, nil
}

// CreateDM returns the DM channel between the actor and another user,
// creating it on first use.
func (s *ChannelService) CreateDM(ctx context.Context, actorID snowflake.ID, req *protocol.CreateDMChannelRequest) (*models.Channel, error) {
	if req.UserID == actorID {
		return nil, BadRequest("cannot open a DM with yourself")
	}
	other, err := s.users.GetByID(ctx, req.UserID)
	if err != nil {
		return nil, Internal("error creating dm channel")
	}
	if other == nil {
		return nil, NotFound("user not found")
	}

	channel, _, err := s.channels.GetOrCreateDM(ctx, actorID, req.UserID, s.snowflake.Generate())
	if err != nil {
		return nil, Internal("error creating dm channel")
	}

	s.gateway.SubscribeToChannel(actorID, channel.ID)
	s.gateway.SubscribeToChannel(req.UserID, channel.ID)

	return channel, nil
}

// Delete removes a channel with all its messages and orphaned attachments,
// then tells the remaining members.
func (s *ChannelService) Delete(ctx context.Context, actorID, channelID snowflake.ID) error {
	channel, err := s.requireOwner(ctx, channelID, actorID)
	if err != nil {
		return err
	}
	if channel.Kind != models.ChannelKindText {
		return BadRequest("only regular channels can be deleted")
	}

	memberIDs, err := s.channels.GetMemberIDs(ctx, channelID)
	if err != nil {
		return Internal("error deleting channel")
	}

	if err := s.channels.DeleteWithMessages(ctx, channelID, s.blobs); err != nil {
		return Internal("error deleting channel")
	}

	s.gateway.DispatchToChannelExcept(channelID, actorID, protocol.EventChannelDeleted,
		protocol.ChannelDeletedData{ChannelID: channelID})
	for _, userID := range memberIDs {
		s.gateway.UnsubscribeFromChannel(userID, channelID)
	}
	return nil
}

// Rename changes a channel's name and tells the other members.
func (s *ChannelService) Rename(ctx context.Context, actorID snowflake.ID, req *protocol.RenameChannelRequest) error {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return BadRequest("channel name is required")
	}
	if _, err := s.requireOwner(ctx, req.ChannelID, actorID); err != nil {
		return err
	}

	if err := s.channels.Rename(ctx, req.ChannelID, name); err != nil {
		return Internal("error renaming channel")
	}

	s.gateway.DispatchToChannelExcept(req.ChannelID, actorID, protocol.EventChannelRenamed,
		protocol.ChannelRenamedData{ChannelID: req.ChannelID, Name: name})
	return nil
}

// Leave removes the actor from a channel's membership.
func (s *ChannelService) Leave(ctx context.Context, actorID, channelID snowflake.ID) error {
	channel, err := s.requireMember(ctx, channelID, actorID)
	if err != nil {
		return err
	}
	if channel.Kind != models.ChannelKindText {
		return BadRequest("cannot leave this channel")
	}

	if err := s.channels.RemoveMember(ctx, channelID, actorID); err != nil {
		return Internal("error leaving channel")
	}

	s.gateway.UnsubscribeFromChannel(actorID, channelID)
	s.gateway.DispatchToChannel(channelID, protocol.EventUserLeftChannel,
		protocol.UserLeftChannelData{ChannelID: channelID, UserID: actorID})
	return nil
}

// AddUsers adds users to a channel, subscribes their live connections, and
// broadcasts the join so both existing members and the newcomers converge.
func (s *ChannelService) AddUsers(ctx context.Context, actorID snowflake.ID, req *protocol.AddUserToChannelRequest) (*models.ChannelWithUsers, error) {
	if len(req.UserIDs) == 0 {
		return nil, BadRequest("no users given")
	}
	channel, err := s.requireMember(ctx, req.ChannelID, actorID)
	if err != nil {
		return nil, err
	}
	if channel.Kind != models.ChannelKindText {
		return nil, BadRequest("users can only be added to regular channels")
	}

	for _, userID := range req.UserIDs {
		user, err := s.users.GetByID(ctx, userID)
		if err != nil {
			return nil, Internal("error adding users")
		}
		if user == nil {
			return nil, NotFound("user not found")
		}
	}

	if err := s.channels.AddMembers(ctx, req.ChannelID, req.UserIDs); err != nil {
		return nil, Internal("error adding users")
	}
	for _, userID := range req.UserIDs {
		s.gateway.SubscribeToChannel(userID, req.ChannelID)
	}

	withUsers, err := s.channels.GetWithUsers(ctx, req.ChannelID)
	if err != nil || withUsers == nil {
		return nil, Internal("error adding users")
	}

	s.gateway.DispatchToChannelExcept(req.ChannelID, actorID, protocol.EventUserJoinedChannel,
		protocol.UserJoinedChannelData{Channel: *withUsers, UserIDs: req.UserIDs})

	return withUsers, nil
}

// GetMessages returns one page of a channel's messages, newest first.
func (s *ChannelService) GetMessages(ctx context.Context, actorID snowflake.ID, req *protocol.GetChannelMessagesRequest) (*protocol.ChannelMessagesData, error) {
	if _, err := s.requireMember(ctx, req.ChannelID, actorID); err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	page := req.Page
	if page < 0 {
		page = 0
	}

	messages, hasMore, err := s.messages.GetPage(ctx, req.ChannelID, limit, page)
	if err != nil {
		return nil, Internal("error loading messages")
	}
	users, err := s.channels.GetMembers(ctx, req.ChannelID)
	if err != nil {
		return nil, Internal("error loading messages")
	}

	return &protocol.ChannelMessagesData{
		ChannelID:       req.ChannelID,
		Messages:        messages,
		Users:           users,
		HasMoreMessages: hasMore,
	}, nil
}

// UpdateGroupsOrder persists a full new group ordering.
func (s *ChannelService) UpdateGroupsOrder(ctx context.Context, actorID snowflake.ID, req *protocol.UpdateGroupsOrderRequest) error {
	if len(req.Groups) == 0 {
		return BadRequest("no groups given")
	}

	existing, err := s.groups.GetAll(ctx)
	if err != nil {
		return Internal("error updating group order")
	}
	known := make(map[snowflake.ID]bool, len(existing))
	for _, g := range existing {
		known[g.ID] = true
	}
	for _, g := range req.Groups {
		if !known[g.ID] {
			return NotFound("unknown channel group")
		}
	}

	if err := s.groups.ReplaceOrder(ctx, req.Groups); err != nil {
		return Internal("error updating group order")
	}
	return nil
}

// Snapshot assembles the directory state pushed to a client after identify:
// grouped channels, DMs with counterpart users, and the always-present
// Notes channel (created lazily on first identify).
func (s *ChannelService) Snapshot(ctx context.Context, userID snowflake.ID) (*protocol.SendChannelsData, error) {
	groups, err := s.groups.GetAll(ctx)
	if err != nil {
		return nil, Internal("error loading channels")
	}
	dms, err := s.channels.GetDMsWithUsers(ctx, userID)
	if err != nil {
		return nil, Internal("error loading channels")
	}
	notes, err := s.channels.GetOrCreateNotes(ctx, userID, s.snowflake.Generate)
	if err != nil || notes == nil {
		return nil, Internal("error loading channels")
	}

	return &protocol.SendChannelsData{
		ChannelGroups: groups,
		DMsWithUsers:  dms,
		NotesChannel:  models.ChannelSummary{ID: notes.ID, Name: notes.Name},
	}, nil
}

func (s *ChannelService) requireMember(ctx context.Context, channelID, userID snowflake.ID) (*models.Channel, error) {
	channel, err := s.channels.GetByID(ctx, channelID)
	if err != nil {
		return nil, Internal("internal server error")
	}
	if channel == nil {
		return nil, NotFound("channel not found")
	}
	ok, err := s.channels.IsMember(ctx, channelID, userID)
	if err != nil {
		return nil, Internal("internal server error")
	}
	if !ok {
		return nil, Forbidden("you are not a member of this channel")
	}
	return channel, nil
}

func (s *ChannelService) requireOwner(ctx context.Context, channelID, userID snowflake.ID) (*models.Channel, error) {
	channel, err := s.channels.GetByID(ctx, channelID)
	if err != nil {
		return nil, Internal("internal server error")
	}
	if channel == nil {
		return nil, NotFound("channel not found")
	}
	if channel.OwnerID == nil || *channel.OwnerID != userID {
		return nil, Forbidden("only the channel owner can do this")
	}
	return channel, nil
}
