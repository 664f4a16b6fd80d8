package gateway

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vladislavrupets/universe/internal/protocol"
	"github.com/vladislavrupets/universe/internal/service"
	"github.com/vladislavrupets/universe/internal/snowflake"
)

const (
	heartbeatInterval = 41250 * time.Millisecond
	heartbeatTimeout  = 10 * time.Second
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	maxMessageSize    = 1 << 20 // sends may carry inline attachment metadata
	sendBufferSize    = 256
)

// Connection represents a single WebSocket client connection.
type Connection struct {
	UserID  snowflake.ID
	Conn    *websocket.Conn
	Send    chan []byte
	manager *Manager

	closeOnce sync.Once
	done      chan struct{}

	lastHeartbeat atomic.Int64 // unix millis of last heartbeat from client
}

func newConnection(conn *websocket.Conn, manager *Manager) *Connection {
	c := &Connection{
		Conn:    conn,
		Send:    make(chan []byte, sendBufferSize),
		manager: manager,
		done:    make(chan struct{}),
	}
	c.lastHeartbeat.Store(time.Now().UnixMilli())
	return c
}

// SendFrame marshals and queues a frame to be sent.
func (c *Connection) SendFrame(f protocol.Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		slog.Error("marshal error", "userID", c.UserID, "error", err)
		return
	}
	select {
	case c.Send <- data:
	default:
		slog.Warn("send buffer full, dropping frame", "userID", c.UserID)
	}
}

// SendEvent queues a dispatch event.
func (c *Connection) SendEvent(event string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		slog.Error("marshal event error", "event", event, "error", err)
		return
	}
	c.SendFrame(protocol.Frame{
		Op:    protocol.OpDispatch,
		Event: event,
		Data:  raw,
	})
}

// SendAck queues a reply to the request identified by rid.
func (c *Connection) SendAck(rid string, ack protocol.Ack) {
	raw, err := json.Marshal(ack)
	if err != nil {
		slog.Error("marshal ack error", "rid", rid, "error", err)
		return
	}
	c.SendFrame(protocol.Frame{
		Op:        protocol.OpAck,
		RequestID: rid,
		Data:      raw,
	})
}

// Close terminates the connection.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.Conn.Close()
	})
}

// readPump reads frames from the WebSocket and handles them.
func (c *Connection) readPump() {
	defer func() {
		c.manager.unregister(c)
		c.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Error("read error", "userID", c.UserID, "error", err)
			}
			return
		}
		c.handleFrame(message)
	}
}

// writePump writes frames from the Send channel to the WebSocket and sends
// heartbeat probes on a timer.
func (c *Connection) writePump() {
	heartbeatTicker := time.NewTicker(heartbeatInterval)
	defer func() {
		heartbeatTicker.Stop()
		c.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-heartbeatTicker.C:
			lastAck := c.lastHeartbeat.Load()
			if time.Since(time.UnixMilli(lastAck)) > heartbeatInterval+heartbeatTimeout {
				slog.Warn("heartbeat timeout", "userID", c.UserID)
				return
			}

			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.SendFrame(protocol.Frame{Op: protocol.OpHeartbeat})

		case <-c.done:
			return
		}
	}
}

// handleFrame processes an incoming frame from the client.
func (c *Connection) handleFrame(data []byte) {
	var frame protocol.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		slog.Error("invalid frame", "userID", c.UserID, "error", err)
		return
	}

	switch frame.Op {
	case protocol.OpHeartbeat:
		c.lastHeartbeat.Store(time.Now().UnixMilli())
		c.SendFrame(protocol.Frame{Op: protocol.OpHeartbeatAck})

	case protocol.OpIdentify:
		c.manager.handleIdentify(c, frame.Data)

	case protocol.OpRequest:
		if c.UserID == 0 {
			c.SendAck(frame.RequestID, serviceErrorAck(service.Unauthorized("not identified")))
			return
		}
		c.manager.handleRequest(c, frame)
	}
}
