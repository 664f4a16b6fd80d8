package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"

	"github.com/vladislavrupets/universe/internal/database"
	"github.com/vladislavrupets/universe/internal/models"
	"github.com/vladislavrupets/universe/internal/protocol"
	"github.com/vladislavrupets/universe/internal/redis"
	"github.com/vladislavrupets/universe/internal/snowflake"
)

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := redis.NewClient("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client, mr
}

// serverConn returns the server side of a live WebSocket pair, so connection
// teardown paths can run against a real conn.
func serverConn(t *testing.T) *websocket.Conn {
	t.Helper()
	conns := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- conn
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	select {
	case conn := <-conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no server connection")
		return nil
	}
}

func testConn(t *testing.T, m *Manager, userID snowflake.ID) *Connection {
	t.Helper()
	c := newConnection(serverConn(t), m)
	c.UserID = userID
	return c
}

// nextFrame pops one queued frame off a connection's send buffer.
func nextFrame(t *testing.T, c *Connection) protocol.Frame {
	t.Helper()
	select {
	case data := <-c.Send:
		var frame protocol.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("unmarshal frame: %v", err)
		}
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("no frame queued in time")
		return protocol.Frame{}
	}
}

func assertNoFrame(t *testing.T, c *Connection) {
	t.Helper()
	select {
	case data := <-c.Send:
		t.Fatalf("unexpected frame queued: %s", data)
	default:
	}
}

// stubChannelRepo is a canned database.ChannelRepository for identify tests.
type stubChannelRepo struct {
	userChannels []snowflake.ID
	notes        models.Channel
	dms          []models.DMWithUser
}

var _ database.ChannelRepository = (*stubChannelRepo)(nil)

func (r *stubChannelRepo) Create(ctx context.Context, channel *models.Channel, memberIDs []snowflake.ID) error {
	return nil
}

func (r *stubChannelRepo) GetByID(ctx context.Context, id snowflake.ID) (*models.Channel, error) {
	return &models.Channel{ID: id, Name: "channel", Kind: models.ChannelKindText}, nil
}

func (r *stubChannelRepo) GetWithUsers(ctx context.Context, id snowflake.ID) (*models.ChannelWithUsers, error) {
	return &models.ChannelWithUsers{Channel: models.Channel{ID: id, Name: "channel"}}, nil
}

func (r *stubChannelRepo) Rename(ctx context.Context, id snowflake.ID, name string) error {
	return nil
}

func (r *stubChannelRepo) IsMember(ctx context.Context, channelID, userID snowflake.ID) (bool, error) {
	return true, nil
}

func (r *stubChannelRepo) AddMembers(ctx context.Context, channelID snowflake.ID, userIDs []snowflake.ID) error {
	return nil
}

func (r *stubChannelRepo) RemoveMember(ctx context.Context, channelID, userID snowflake.ID) error {
	return nil
}

func (r *stubChannelRepo) GetMembers(ctx context.Context, channelID snowflake.ID) ([]models.UserSummary, error) {
	return nil, nil
}

func (r *stubChannelRepo) GetMemberIDs(ctx context.Context, channelID snowflake.ID) ([]snowflake.ID, error) {
	return nil, nil
}

func (r *stubChannelRepo) GetUserChannelIDs(ctx context.Context, userID snowflake.ID) ([]snowflake.ID, error) {
	return r.userChannels, nil
}

func (r *stubChannelRepo) GetOrCreateDM(ctx context.Context, userA, userB, newID snowflake.ID) (*models.Channel, bool, error) {
	return &models.Channel{ID: newID, Kind: models.ChannelKindDM}, true, nil
}

func (r *stubChannelRepo) GetOrCreateNotes(ctx context.Context, ownerID snowflake.ID, newID func() snowflake.ID) (*models.Channel, error) {
	return &r.notes, nil
}

func (r *stubChannelRepo) GetDMsWithUsers(ctx context.Context, userID snowflake.ID) ([]models.DMWithUser, error) {
	return r.dms, nil
}

func (r *stubChannelRepo) DeleteWithMessages(ctx context.Context, id snowflake.ID, blobs database.BlobDeleter) error {
	return nil
}

// stubGroupRepo is a canned database.GroupRepository.
type stubGroupRepo struct {
	groups []models.ChannelGroup
}

var _ database.GroupRepository = (*stubGroupRepo)(nil)

func (r *stubGroupRepo) Create(ctx context.Context, group *models.ChannelGroup) error { return nil }

func (r *stubGroupRepo) GetAll(ctx context.Context) ([]models.ChannelGroup, error) {
	return r.groups, nil
}

func (r *stubGroupRepo) GetByName(ctx context.Context, name string) (*models.ChannelGroup, error) {
	for i := range r.groups {
		if r.groups[i].Name == name {
			return &r.groups[i], nil
		}
	}
	return nil, nil
}

func (r *stubGroupRepo) AppendChannel(ctx context.Context, groupName string, channelID snowflake.ID) error {
	return nil
}

func (r *stubGroupRepo) ReplaceOrder(ctx context.Context, groups []models.ChannelGroup) error {
	return nil
}
