package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/vladislavrupets/universe/internal/auth"
	"github.com/vladislavrupets/universe/internal/database"
	"github.com/vladislavrupets/universe/internal/protocol"
	"github.com/vladislavrupets/universe/internal/redis"
	"github.com/vladislavrupets/universe/internal/service"
	"github.com/vladislavrupets/universe/internal/snowflake"
)

const presenceGrace = 10 * time.Second

// Manager tracks all active WebSocket connections and the per-channel
// subscription sets used for routing dispatch events. It implements
// service.Dispatcher.
type Manager struct {
	mu            sync.RWMutex
	connections   map[snowflake.ID]*Connection           // userID → connection
	subscriptions map[snowflake.ID]map[snowflake.ID]bool // channelID → set of userIDs

	tokens   *auth.TokenService
	channels database.ChannelRepository
	redis    *redis.Client

	// Set via SetServices once the services exist; they in turn hold the
	// manager as their Dispatcher.
	messages   *service.MessageService
	channelSvc *service.ChannelService
}

func NewManager(
	tokens *auth.TokenService,
	channels database.ChannelRepository,
	redisClient *redis.Client,
) *Manager {
	return &Manager{
		connections:   make(map[snowflake.ID]*Connection),
		subscriptions: make(map[snowflake.ID]map[snowflake.ID]bool),
		tokens:        tokens,
		channels:      channels,
		redis:         redisClient,
	}
}

// SetServices wires the request handlers. Must be called before serving.
func (m *Manager) SetServices(messages *service.MessageService, channels *service.ChannelService) {
	m.messages = messages
	m.channelSvc = channels
}

// register adds a connection to the manager. An existing connection for the
// same user is told to reconnect and closed.
func (m *Manager) register(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.connections[c.UserID]; ok {
		old.SendFrame(protocol.Frame{Op: protocol.OpReconnect})
		old.Close()
	}
	m.connections[c.UserID] = c
}

// unregister removes a connection and its subscriptions.
func (m *Manager) unregister(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.connections[c.UserID]; ok && existing == c {
		delete(m.connections, c.UserID)

		for channelID, members := range m.subscriptions {
			delete(members, c.UserID)
			if len(members) == 0 {
				delete(m.subscriptions, channelID)
			}
		}

		go m.clearPresenceWithGrace(c.UserID)
	}
}

// clearPresenceWithGrace waits before setting offline, allowing reconnection.
func (m *Manager) clearPresenceWithGrace(userID snowflake.ID) {
	time.Sleep(presenceGrace)

	m.mu.RLock()
	_, stillConnected := m.connections[userID]
	m.mu.RUnlock()

	if stillConnected {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.redis.SetPresence(ctx, userID, "offline"); err != nil {
		slog.Error("failed to clear presence", "userID", userID, "error", err)
	}
}

// SubscribeToChannel adds a user to a channel's event subscription.
func (m *Manager) SubscribeToChannel(userID, channelID snowflake.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.subscriptions[channelID] == nil {
		m.subscriptions[channelID] = make(map[snowflake.ID]bool)
	}
	m.subscriptions[channelID][userID] = true
}

// UnsubscribeFromChannel removes a user from a channel's event subscription.
func (m *Manager) UnsubscribeFromChannel(userID, channelID snowflake.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if members, ok := m.subscriptions[channelID]; ok {
		delete(members, userID)
		if len(members) == 0 {
			delete(m.subscriptions, channelID)
		}
	}
}

// DispatchToUser sends a dispatch event to a specific connected user.
func (m *Manager) DispatchToUser(userID snowflake.ID, event string, data any) {
	m.mu.RLock()
	c, ok := m.connections[userID]
	m.mu.RUnlock()

	if ok {
		c.SendEvent(event, data)
	}
}

// DispatchToChannel sends a dispatch event to all users subscribed to a channel.
func (m *Manager) DispatchToChannel(channelID snowflake.ID, event string, data any) {
	for _, c := range m.subscribers(channelID, 0) {
		c.SendEvent(event, data)
	}
}

// DispatchToChannelExcept sends a dispatch event to all channel subscribers
// except one user, typically the actor whose request caused the event.
func (m *Manager) DispatchToChannelExcept(channelID, exceptUserID snowflake.ID, event string, data any) {
	for _, c := range m.subscribers(channelID, exceptUserID) {
		c.SendEvent(event, data)
	}
}

func (m *Manager) subscribers(channelID, exceptUserID snowflake.ID) []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	members := m.subscriptions[channelID]
	conns := make([]*Connection, 0, len(members))
	for userID := range members {
		if exceptUserID != 0 && userID == exceptUserID {
			continue
		}
		if c, ok := m.connections[userID]; ok {
			conns = append(conns, c)
		}
	}
	return conns
}

// handleIdentify authenticates a connection, subscribes it to the user's
// channels and pushes the directory snapshot.
func (m *Manager) handleIdentify(c *Connection, data json.RawMessage) {
	var identify protocol.IdentifyData
	if err := json.Unmarshal(data, &identify); err != nil {
		slog.Error("invalid identify data", "error", err)
		c.Close()
		return
	}

	claims, err := m.tokens.ValidateAccessToken(identify.Token)
	if err != nil {
		slog.Warn("invalid token in identify", "error", err)
		c.Close()
		return
	}

	c.UserID = claims.UserID

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	channelIDs, err := m.channels.GetUserChannelIDs(ctx, c.UserID)
	if err != nil {
		slog.Error("failed to load channels for user", "userID", c.UserID, "error", err)
		c.Close()
		return
	}

	m.register(c)
	for _, channelID := range channelIDs {
		m.SubscribeToChannel(c.UserID, channelID)
	}

	if err := m.redis.SetPresence(ctx, c.UserID, "online"); err != nil {
		slog.Error("failed to set presence", "userID", c.UserID, "error", err)
	}

	snapshot, err := m.channelSvc.Snapshot(ctx, c.UserID)
	if err != nil {
		slog.Error("failed to build channel snapshot", "userID", c.UserID, "error", err)
		c.Close()
		return
	}
	// The Notes channel may have been created just now; make sure its events
	// reach this connection.
	m.SubscribeToChannel(c.UserID, snapshot.NotesChannel.ID)

	c.SendEvent(protocol.EventSendChannels, snapshot)
}
