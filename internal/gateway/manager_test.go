package gateway

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/vladislavrupets/universe/internal/auth"
	"github.com/vladislavrupets/universe/internal/models"
	"github.com/vladislavrupets/universe/internal/protocol"
	"github.com/vladislavrupets/universe/internal/service"
	"github.com/vladislavrupets/universe/internal/snowflake"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	rdb, _ := newTestRedis(t)
	return NewManager(auth.NewTokenService("test-secret"), &stubChannelRepo{}, rdb)
}

func TestRegisterReplacesOldConnection(t *testing.T) {
	m := newTestManager(t)

	old := testConn(t, m, 1)
	m.register(old)

	replacement := testConn(t, m, 1)
	m.register(replacement)

	frame := nextFrame(t, old)
	if frame.Op != protocol.OpReconnect {
		t.Fatalf("old connection got op %d, want reconnect", frame.Op)
	}
	select {
	case <-old.done:
	case <-time.After(time.Second):
		t.Fatal("old connection not closed")
	}

	m.mu.RLock()
	current := m.connections[1]
	m.mu.RUnlock()
	if current != replacement {
		t.Error("replacement connection not registered")
	}
}

func TestDispatchToChannelExceptSkipsActor(t *testing.T) {
	m := newTestManager(t)

	actor := testConn(t, m, 1)
	other := testConn(t, m, 2)
	third := testConn(t, m, 3)
	for _, c := range []*Connection{actor, other, third} {
		m.register(c)
		m.SubscribeToChannel(c.UserID, 9)
	}

	m.DispatchToChannelExcept(9, 1, protocol.EventChannelRenamed, protocol.ChannelRenamedData{ChannelID: 9, Name: "x"})

	assertNoFrame(t, actor)
	for _, c := range []*Connection{other, third} {
		frame := nextFrame(t, c)
		if frame.Op != protocol.OpDispatch || frame.Event != protocol.EventChannelRenamed {
			t.Errorf("user %d got frame %+v", c.UserID, frame)
		}
	}
}

func TestDispatchToChannelSkipsUnsubscribed(t *testing.T) {
	m := newTestManager(t)

	member := testConn(t, m, 1)
	outsider := testConn(t, m, 2)
	m.register(member)
	m.register(outsider)
	m.SubscribeToChannel(1, 9)

	m.DispatchToChannel(9, protocol.EventUserLeftChannel, protocol.UserLeftChannelData{ChannelID: 9, UserID: 3})

	nextFrame(t, member)
	assertNoFrame(t, outsider)

	m.UnsubscribeFromChannel(1, 9)
	m.DispatchToChannel(9, protocol.EventUserLeftChannel, protocol.UserLeftChannelData{ChannelID: 9, UserID: 3})
	assertNoFrame(t, member)
}

func TestDispatchToUser(t *testing.T) {
	m := newTestManager(t)

	c := testConn(t, m, 1)
	m.register(c)

	m.DispatchToUser(1, protocol.EventChannelDeleted, protocol.ChannelDeletedData{ChannelID: 4})
	frame := nextFrame(t, c)
	if frame.Event != protocol.EventChannelDeleted {
		t.Errorf("event = %q", frame.Event)
	}

	// Unknown user is a no-op.
	m.DispatchToUser(99, protocol.EventChannelDeleted, protocol.ChannelDeletedData{ChannelID: 4})
}

func TestUnregisterRemovesSubscriptions(t *testing.T) {
	m := newTestManager(t)

	c := testConn(t, m, 1)
	m.register(c)
	m.SubscribeToChannel(1, 9)

	m.unregister(c)

	m.DispatchToChannel(9, protocol.EventChannelRenamed, protocol.ChannelRenamedData{ChannelID: 9, Name: "x"})
	assertNoFrame(t, c)

	m.mu.RLock()
	_, connected := m.connections[1]
	subs := len(m.subscriptions)
	m.mu.RUnlock()
	if connected || subs != 0 {
		t.Errorf("connected=%v subscriptions=%d after unregister", connected, subs)
	}
}

func TestUnregisterIgnoresStaleConnection(t *testing.T) {
	m := newTestManager(t)

	old := testConn(t, m, 1)
	m.register(old)
	replacement := testConn(t, m, 1)
	m.register(replacement)
	m.SubscribeToChannel(1, 9)

	// The old connection's read pump tears down after replacement; it must
	// not evict the live connection.
	m.unregister(old)

	m.DispatchToChannel(9, protocol.EventChannelRenamed, protocol.ChannelRenamedData{ChannelID: 9, Name: "x"})
	frame := nextFrame(t, replacement)
	if frame.Event != protocol.EventChannelRenamed {
		t.Errorf("event = %q", frame.Event)
	}
}

func TestIdentifySubscribesAndSendsSnapshot(t *testing.T) {
	rdb, mr := newTestRedis(t)
	tokens := auth.NewTokenService("test-secret")
	repo := &stubChannelRepo{
		userChannels: []snowflake.ID{10, 11},
		notes:        models.Channel{ID: 30, Name: "Notes", Kind: models.ChannelKindNotes},
	}
	m := NewManager(tokens, repo, rdb)

	sf, err := snowflake.NewGenerator(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	channelSvc := service.NewChannelService(repo, &stubGroupRepo{}, nil, nil, sf, m, nil)
	m.SetServices(nil, channelSvc)

	token, err := tokens.GenerateAccessToken(7)
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	c := newConnection(serverConn(t), m)
	m.handleIdentify(c, protocol.MustMarshal(protocol.IdentifyData{Token: token}))

	if c.UserID != 7 {
		t.Fatalf("UserID = %d, want 7", c.UserID)
	}

	frame := nextFrame(t, c)
	if frame.Op != protocol.OpDispatch || frame.Event != protocol.EventSendChannels {
		t.Fatalf("frame = %+v, want a send-channels dispatch", frame)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.connections[7] != c {
		t.Error("connection not registered")
	}
	for _, channelID := range []snowflake.ID{10, 11, 30} {
		if !m.subscriptions[channelID][7] {
			t.Errorf("not subscribed to channel %d", channelID)
		}
	}
	if got, err := mr.Get("presence:7"); err != nil || got != "online" {
		t.Errorf("presence = %q (%v), want online", got, err)
	}
}

func TestIdentifyRejectsBadToken(t *testing.T) {
	m := newTestManager(t)

	c := newConnection(serverConn(t), m)
	m.handleIdentify(c, protocol.MustMarshal(protocol.IdentifyData{Token: "garbage"}))

	select {
	case <-c.done:
	case <-time.After(time.Second):
		t.Fatal("connection with a bad token not closed")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.connections) != 0 {
		t.Error("unauthenticated connection registered")
	}
}

func TestServiceErrorAckUsesServiceMessage(t *testing.T) {
	ack := serviceErrorAck(service.NotFound("channel not found"))
	if ack.Status != protocol.StatusError || ack.Message != "channel not found" {
		t.Errorf("ack = %+v", ack)
	}

	ack = serviceErrorAck(errors.New("pq: connection refused"))
	if ack.Message != "internal server error" {
		t.Errorf("internal errors must not leak detail, got %q", ack.Message)
	}
}

func TestRequestBeforeIdentifyRejected(t *testing.T) {
	m := newTestManager(t)

	c := newConnection(serverConn(t), m)
	c.handleFrame([]byte(`{"op":4,"t":"leave-channel","rid":"r1","d":{"channelId":"9"}}`))

	frame := nextFrame(t, c)
	if frame.Op != protocol.OpAck || frame.RequestID != "r1" {
		t.Fatalf("frame = %+v, want an ack for r1", frame)
	}
	var ack protocol.Ack
	if err := json.Unmarshal(frame.Data, &ack); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if ack.Status != protocol.StatusError || ack.Message != "not identified" {
		t.Errorf("ack = %+v", ack)
	}
}
