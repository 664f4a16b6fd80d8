package service

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path"
	"time"

	"github.com/vladislavrupets/universe/internal/database"
	"github.com/vladislavrupets/universe/internal/models"
	"github.com/vladislavrupets/universe/internal/protocol"
	"github.com/vladislavrupets/universe/internal/snowflake"
	"github.com/vladislavrupets/universe/internal/storage"
)

// MessageService applies message events to the durable store and emits the
// matching broadcasts. Messages keep their client-minted ids as primary
// keys, so a retried send collides instead of duplicating.
type MessageService struct {
	messages    database.MessageRepository
	attachments database.AttachmentRepository
	channels    database.ChannelRepository
	users       database.UserRepository
	snowflake   *snowflake.Generator
	gateway     Dispatcher
	blobs       BlobStore
}

func NewMessageService(
	messages database.MessageRepository,
	attachments database.AttachmentRepository,
	channels database.ChannelRepository,
	users database.UserRepository,
	sf *snowflake.Generator,
	gw Dispatcher,
	blobs BlobStore,
) *MessageService {
	return &MessageService{
		messages:    messages,
		attachments: attachments,
		channels:    channels,
		users:       users,
		snowflake:   sf,
		gateway:     gw,
		blobs:       blobs,
	}
}

// Send persists a message and broadcasts it to the channel's other members.
// When req.UserID is set the send targets a shared Notes context on that
// identity's behalf and the broadcast is suppressed.
func (s *MessageService) Send(ctx context.Context, actorID snowflake.ID, req *protocol.SendMessageRequest) (*models.Message, error) {
	if req.Message.ID == "" {
		return nil, BadRequest("message id is required")
	}
	if len(req.Message.TextContent) == 0 && len(req.Message.Attachments) == 0 {
		return nil, BadRequest("message must have text or attachments")
	}

	channel, err := s.requireMember(ctx, req.ChannelID, actorID)
	if err != nil {
		return nil, err
	}
	if channel.Readonly && (channel.OwnerID == nil || *channel.OwnerID != actorID) {
		return nil, Forbidden("channel is read-only")
	}

	authorID := actorID
	if req.UserID != nil {
		authorID = *req.UserID
	}
	author, err := s.users.GetByID(ctx, authorID)
	if err != nil {
		return nil, Internal("internal server error")
	}
	if author == nil {
		return nil, NotFound("author not found")
	}

	attachments, err := s.resolveAttachments(ctx, req.Message.Attachments)
	if err != nil {
		return nil, err
	}

	msg := &models.Message{
		ID:          req.Message.ID,
		ChannelID:   req.ChannelID,
		Author:      models.UserSummary{ID: author.ID, Name: author.DisplayName},
		TextContent: req.Message.TextContent,
		SentAt:      time.UnixMilli(req.Message.SentAt),
		Attachments: attachments,
	}

	if err := s.messages.Create(ctx, msg); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return nil, Conflict("message already exists")
		}
		return nil, Internal("error sending message")
	}

	if req.UserID == nil {
		s.gateway.DispatchToChannelExcept(req.ChannelID, actorID, protocol.EventReceiveMessage,
			protocol.ReceiveMessageData{Message: *msg, ChannelID: req.ChannelID})
	}

	return msg, nil
}

// Delete removes a message and garbage-collects attachments no other
// message references, atomically. Only the author may delete; this also
// keeps the cleanup accounting tied to ownership.
func (s *MessageService) Delete(ctx context.Context, actorID snowflake.ID, req *protocol.DeleteMessageRequest) error {
	msg, err := s.messages.GetByID(ctx, req.MessageID)
	if err != nil {
		return Internal("error deleting message")
	}
	if msg == nil || msg.ChannelID != req.ChannelID {
		return NotFound("message not found")
	}
	if msg.Author.ID != actorID {
		return Forbidden("you can only delete your own messages")
	}

	if err := s.messages.DeleteWithAttachments(ctx, req.MessageID, s.blobs); err != nil {
		return Internal("error deleting message")
	}

	s.gateway.DispatchToChannelExcept(req.ChannelID, actorID, protocol.EventDeletedMessage,
		protocol.DeletedMessageData{MessageID: req.MessageID, ChannelID: req.ChannelID})

	return nil
}

// Edit replaces the text content of a message. Concurrent edits resolve
// last-writer-wins.
func (s *MessageService) Edit(ctx context.Context, actorID snowflake.ID, req *protocol.EditMessageRequest) (*models.Message, error) {
	if len(req.EditedMessage.TextContent) == 0 {
		return nil, BadRequest("edited message must have text")
	}

	msg, err := s.messages.GetByID(ctx, req.EditedMessage.ID)
	if err != nil {
		return nil, Internal("error editing message")
	}
	if msg == nil || msg.ChannelID != req.ChannelID {
		return nil, NotFound("message not found")
	}
	if msg.Author.ID != actorID {
		return nil, Forbidden("you can only edit your own messages")
	}

	if err := s.messages.UpdateText(ctx, msg.ID, req.EditedMessage.TextContent); err != nil {
		return nil, Internal("error editing message")
	}
	msg.TextContent = req.EditedMessage.TextContent

	s.gateway.DispatchToChannelExcept(req.ChannelID, actorID, protocol.EventEditedMessage,
		protocol.EditedMessageData{EditedMessage: *msg, ChannelID: req.ChannelID})

	return msg, nil
}

// resolveAttachments uploads any attachments that still carry a local file
// path, then reconciles the resolved URLs against existing records: known
// URLs reuse their record, unknown ones get a fresh one. The returned set
// preserves request order, so attachment identity is stable across repeated
// sends of the same file.
func (s *MessageService) resolveAttachments(ctx context.Context, uploads []protocol.AttachmentUpload) ([]models.Attachment, error) {
	if len(uploads) == 0 {
		return nil, nil
	}

	type resolved struct {
		upload protocol.AttachmentUpload
		url    string
		key    string
	}

	resolvedUploads := make([]resolved, 0, len(uploads))
	urls := make([]string, 0, len(uploads))
	for _, u := range uploads {
		r := resolved{upload: u}
		switch {
		case u.Path != "":
			data, err := os.ReadFile(u.Path)
			if err != nil {
				return nil, BadRequest("cannot read attachment file")
			}
			r.key = storage.ContentKey(data)
			if err := s.blobs.Upload(ctx, r.key, bytes.NewReader(data), int64(len(data)), u.Type); err != nil {
				return nil, Internal("error uploading attachment")
			}
			r.url = s.blobs.GetURL(r.key)
		case u.URL != "":
			// Reused or forwarded attachment: pass the URL through.
			r.url = u.URL
			r.key = path.Base(u.URL)
		default:
			return nil, BadRequest("attachment must have a path or a url")
		}
		resolvedUploads = append(resolvedUploads, r)
		urls = append(urls, r.url)
	}

	existing, err := s.attachments.FindByURLs(ctx, urls)
	if err != nil {
		return nil, Internal("error resolving attachments")
	}
	byURL := make(map[string]models.Attachment, len(existing))
	for _, a := range existing {
		byURL[a.URL] = a
	}

	var inserted []models.Attachment
	result := make([]models.Attachment, 0, len(resolvedUploads))
	for _, r := range resolvedUploads {
		a, ok := byURL[r.url]
		if !ok {
			a = models.Attachment{
				ID:          s.snowflake.Generate(),
				Name:        r.upload.Name,
				ContentType: r.upload.Type,
				URL:         r.url,
				StorageKey:  r.key,
			}
			inserted = append(inserted, a)
			byURL[r.url] = a
		}
		result = append(result, a)
	}

	if err := s.attachments.CreateMany(ctx, inserted); err != nil {
		return nil, Internal("error resolving attachments")
	}
	return result, nil
}

func (s *MessageService) requireMember(ctx context.Context, channelID, userID snowflake.ID) (*models.Channel, error) {
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
