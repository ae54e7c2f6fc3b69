package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/edustream/personalize-gateway/internal/observability"
)

// WSChannel frames events as JSON text messages on a websocket connection.
// It offers the same ordering and latency guarantees as the SSE channel for
// clients that prefer a duplex transport.
type WSChannel struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
	broken bool
}

type wsEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// NewWSChannel wraps an upgraded websocket connection
func NewWSChannel(conn *websocket.Conn) *WSChannel {
	return &WSChannel{conn: conn}
}

// Send writes one event message
func (c *WSChannel) Send(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.broken {
		return ErrChannelClosed
	}

	if err := c.conn.WriteJSON(wsEvent{Event: event, Data: payload}); err != nil {
		c.broken = true
		return fmt.Errorf("failed to write event: %w", err)
	}

	observability.RecordEventSent(event)
	return nil
}

// Close sends a close frame and closes the connection; safe to call repeatedly
func (c *WSChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if !c.broken {
		deadline := time.Now().Add(time.Second)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	}
	return c.conn.Close()
}
