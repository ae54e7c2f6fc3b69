package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/edustream/personalize-gateway/internal/observability"
)

// ErrChannelClosed is returned by Send after the channel was closed or broke
var ErrChannelClosed = errors.New("event channel closed")

// SSEChannel frames events onto a long-lived HTTP response as server-sent
// events, flushing after every send so chunks reach the client immediately.
type SSEChannel struct {
	w       http.ResponseWriter
	flusher http.Flusher

	mu     sync.Mutex
	closed bool
	broken bool
}

// NewSSEChannel prepares the response for event streaming. It fails if the
// underlying writer cannot flush, since unflushed events would be batched by
// the server until the stream ends.
func NewSSEChannel(w http.ResponseWriter) (*SSEChannel, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("response writer does not support streaming")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	// Tells nginx-style proxies not to buffer the response
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &SSEChannel{w: w, flusher: flusher}, nil
}

// Send writes one framed event and flushes it
func (c *SSEChannel) Send(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.broken {
		return ErrChannelClosed
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	if _, err := fmt.Fprintf(c.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		// Client went away; degrade so later sends fail fast
		c.broken = true
		return fmt.Errorf("failed to write event: %w", err)
	}
	c.flusher.Flush()

	observability.RecordEventSent(event)
	return nil
}

// Close marks the channel closed. The response itself ends when the handler
// returns; Close only prevents further sends and is safe to call repeatedly.
func (c *SSEChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}
