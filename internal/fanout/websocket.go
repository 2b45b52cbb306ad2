package fanout

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/Guizzs26/go-doener-saga/internal/models"

	"github.com/gorilla/websocket"
)

const closeGracePeriod = time.Second

// WSSubscriber writes envelopes as JSON text frames. gorilla/websocket allows one
// concurrent writer, so writes are serialized
type WSSubscriber struct {
	conn      *websocket.Conn
	mu        sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func NewWSSubscriber(conn *websocket.Conn) *WSSubscriber {
	return &WSSubscriber{conn: conn, done: make(chan struct{})}
}

func (s *WSSubscriber) Send(ctx context.Context, env models.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return websocket.ErrCloseSent
	default:
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(DefaultWriteTimeout)
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, body)
}

// Close sends a close frame and releases the connection. It is safe to call repeatedly
func (s *WSSubscriber) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		close(s.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
		err = s.conn.Close()
	})
	return err
}

// Done is closed once the subscriber has been closed
func (s *WSSubscriber) Done() <-chan struct{} {
	return s.done
}
