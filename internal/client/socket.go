package client

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vladislavrupets/universe/internal/protocol"
)

var ErrSocketClosed = errors.New("socket closed")

// DispatchHandler consumes a server-pushed event payload.
type DispatchHandler func(data json.RawMessage)

// Socket is the client side of the persistent event channel. Requests are
// correlated to acks by a generated request id; dispatch events are routed
// to registered handlers.
type Socket struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu       sync.Mutex
	pending  map[string]chan protocol.Ack
	handlers map[string]DispatchHandler
	closed   bool

	done chan struct{}
}

// Dial connects to the gateway URL, starts the read loop and identifies
// with the given token. The send-channels snapshot that follows arrives
// through the registered dispatch handler.
func Dial(url, token string) (*Socket, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}

	s := &Socket{
		conn:     conn,
		pending:  make(map[string]chan protocol.Ack),
		handlers: make(map[string]DispatchHandler),
		done:     make(chan struct{}),
	}
	go s.readLoop()

	if err := s.writeFrame(protocol.Frame{
		Op:   protocol.OpIdentify,
		Data: protocol.MustMarshal(protocol.IdentifyData{Token: token}),
	}); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// OnDispatch registers the handler for a dispatch event. Must be called
// before the event can arrive; handlers run on the read loop.
func (s *Socket) OnDispatch(event string, h DispatchHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[event] = h
}

// Request sends a request frame and blocks until its ack arrives or ctx is
// done. Callers race their own timers against it; a late ack after the
// caller gave up is dropped with the pending entry.
func (s *Socket) Request(ctx context.Context, event string, payload any) (protocol.Ack, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return protocol.Ack{}, err
	}

	rid := uuid.NewString()
	ch := make(chan protocol.Ack, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return protocol.Ack{}, ErrSocketClosed
	}
	s.pending[rid] = ch
	s.mu.Unlock()

	err = s.writeFrame(protocol.Frame{
		Op:        protocol.OpRequest,
		Event:     event,
		RequestID: rid,
		Data:      data,
	})
	if err != nil {
		s.dropPending(rid)
		return protocol.Ack{}, err
	}

	select {
	case ack := <-ch:
		return ack, nil
	case <-ctx.Done():
		s.dropPending(rid)
		return protocol.Ack{}, ctx.Err()
	case <-s.done:
		return protocol.Ack{}, ErrSocketClosed
	}
}

// Close terminates the connection. Pending requests fail with ErrSocketClosed.
func (s *Socket) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	_ = s.conn.Close()
}

func (s *Socket) dropPending(rid string) {
	s.mu.Lock()
	delete(s.pending, rid)
	s.mu.Unlock()
}

func (s *Socket) writeFrame(f protocol.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Socket) readLoop() {
	defer s.Close()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame protocol.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			slog.Error("invalid frame from server", "error", err)
			continue
		}

		switch frame.Op {
		case protocol.OpHello:
			// Heartbeats are driven by server probes; nothing to arm here.

		case protocol.OpHeartbeat:
			_ = s.writeFrame(protocol.Frame{Op: protocol.OpHeartbeat})

		case protocol.OpHeartbeatAck:

		case protocol.OpAck:
			var ack protocol.Ack
			if err := json.Unmarshal(frame.Data, &ack); err != nil {
				slog.Error("invalid ack from server", "rid", frame.RequestID, "error", err)
				continue
			}
			s.mu.Lock()
			ch, ok := s.pending[frame.RequestID]
			delete(s.pending, frame.RequestID)
			s.mu.Unlock()
			if ok {
				ch <- ack
			}

		case protocol.OpDispatch:
			s.mu.Lock()
			h := s.handlers[frame.Event]
			s.mu.Unlock()
			if h != nil {
				h(frame.Data)
			}

		case protocol.OpReconnect:
			return
		}
	}
}

// requestTimeout bounds how long a blocked Request can outlive its caller's
// interest when no explicit deadline is supplied.
const requestTimeout = 30 * time.Second

// RequestWithTimeout is Request with a default deadline.
func (s *Socket) RequestWithTimeout(event string, payload any) (protocol.Ack, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	return s.Request(ctx, event, payload)
}
