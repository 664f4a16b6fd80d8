package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/vladislavrupets/universe/internal/protocol"
	"github.com/vladislavrupets/universe/internal/service"
)

const requestTimeout = 15 * time.Second

// handleRequest routes a client request frame to the right service call and
// sends the ack correlated by the request id. Requests for one connection
// run inline on its read loop, so they complete in submission order.
func (m *Manager) handleRequest(c *Connection, frame protocol.Frame) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic handling request", "event", frame.Event, "userID", c.UserID, "panic", r)
			c.SendAck(frame.RequestID, errorAck("internal server error"))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	ack := m.dispatchRequest(ctx, c, frame)
	c.SendAck(frame.RequestID, ack)
}

func (m *Manager) dispatchRequest(ctx context.Context, c *Connection, frame protocol.Frame) protocol.Ack {
	switch frame.Event {
	case protocol.EventSendMessage:
		var req protocol.SendMessageRequest
		if err := json.Unmarshal(frame.Data, &req); err != nil {
			return errorAck("malformed request")
		}
		msg, err := m.messages.Send(ctx, c.UserID, &req)
		if err != nil {
			return serviceErrorAck(err)
		}
		return protocol.Ack{
			Status:      protocol.StatusSuccess,
			Attachments: msg.Attachments,
			Data:        protocol.MustMarshal(msg),
		}

	case protocol.EventDeleteMessage:
		var req protocol.DeleteMessageRequest
		if err := json.Unmarshal(frame.Data, &req); err != nil {
			return errorAck("malformed request")
		}
		if err := m.messages.Delete(ctx, c.UserID, &req); err != nil {
			return serviceErrorAck(err)
		}
		return successAck()

	case protocol.EventEditMessage:
		var req protocol.EditMessageRequest
		if err := json.Unmarshal(frame.Data, &req); err != nil {
			return errorAck("malformed request")
		}
		msg, err := m.messages.Edit(ctx, c.UserID, &req)
		if err != nil {
			return serviceErrorAck(err)
		}
		return protocol.Ack{
			Status: protocol.StatusSuccess,
			Data:   protocol.MustMarshal(msg),
		}

	case protocol.EventGetChannelMessages:
		var req protocol.GetChannelMessagesRequest
		if err := json.Unmarshal(frame.Data, &req); err != nil {
			return errorAck("malformed request")
		}
		page, err := m.channelSvc.GetMessages(ctx, c.UserID, &req)
		if err != nil {
			return serviceErrorAck(err)
		}
		c.SendEvent(protocol.EventSendChannelMessages, page)
		return successAck()

	case protocol.EventCreateChannel:
		var req protocol.CreateChannelRequest
		if err := json.Unmarshal(frame.Data, &req); err != nil {
			return errorAck("malformed request")
		}
		channel, err := m.channelSvc.Create(ctx, c.UserID, &req)
		if err != nil {
			return serviceErrorAck(err)
		}
		return protocol.Ack{
			Status: protocol.StatusSuccess,
			Data:   protocol.MustMarshal(channel),
		}

	case protocol.EventCreateDMChannel:
		var req protocol.CreateDMChannelRequest
		if err := json.Unmarshal(frame.Data, &req); err != nil {
			return errorAck("malformed request")
		}
		channel, err := m.channelSvc.CreateDM(ctx, c.UserID, &req)
		if err != nil {
			return serviceErrorAck(err)
		}
		return protocol.Ack{
			Status: protocol.StatusSuccess,
			Data:   protocol.MustMarshal(channel),
		}

	case protocol.EventDeleteChannel:
		var req protocol.ChannelIDRequest
		if err := json.Unmarshal(frame.Data, &req); err != nil {
			return errorAck("malformed request")
		}
		if err := m.channelSvc.Delete(ctx, c.UserID, req.ChannelID); err != nil {
			return serviceErrorAck(err)
		}
		return successAck()

	case protocol.EventRenameChannel:
		var req protocol.RenameChannelRequest
		if err := json.Unmarshal(frame.Data, &req); err != nil {
			return errorAck("malformed request")
		}
		if err := m.channelSvc.Rename(ctx, c.UserID, &req); err != nil {
			return serviceErrorAck(err)
		}
		return successAck()

	case protocol.EventLeaveChannel:
		var req protocol.ChannelIDRequest
		if err := json.Unmarshal(frame.Data, &req); err != nil {
			return errorAck("malformed request")
		}
		if err := m.channelSvc.Leave(ctx, c.UserID, req.ChannelID); err != nil {
			return serviceErrorAck(err)
		}
		return successAck()

	case protocol.EventAddUserToChannel:
		var req protocol.AddUserToChannelRequest
		if err := json.Unmarshal(frame.Data, &req); err != nil {
			return errorAck("malformed request")
		}
		channel, err := m.channelSvc.AddUsers(ctx, c.UserID, &req)
		if err != nil {
			return serviceErrorAck(err)
		}
		return protocol.Ack{
			Status: protocol.StatusSuccess,
			Data:   protocol.MustMarshal(channel),
		}

	case protocol.EventUpdateGroupsOrder:
		var req protocol.UpdateGroupsOrderRequest
		if err := json.Unmarshal(frame.Data, &req); err != nil {
			return errorAck("malformed request")
		}
		if err := m.channelSvc.UpdateGroupsOrder(ctx, c.UserID, &req); err != nil {
			return serviceErrorAck(err)
		}
		return successAck()

	default:
		return errorAck("unknown event")
	}
}

func successAck() protocol.Ack {
	return protocol.Ack{Status: protocol.StatusSuccess}
}

func errorAck(message string) protocol.Ack {
	return protocol.Ack{Status: protocol.StatusError, Message: message}
}

func serviceErrorAck(err error) protocol.Ack {
	var svcErr *service.ServiceError
	if errors.As(err, &svcErr) {
		return errorAck(svcErr.Message)
	}
	return errorAck("internal server error")
}
