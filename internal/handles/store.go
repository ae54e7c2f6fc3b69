package handles

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/edustream/personalize-gateway/internal/personalization"
)

// ErrNotFound is returned when a handle is missing, expired, or already claimed
var ErrNotFound = errors.New("handle not found")

// Payload is the request state stashed between initiate and stream
type Payload struct {
	Request   personalization.Request `json:"request"`
	OwnerID   string                  `json:"ownerId,omitempty"`
	CreatedAt time.Time               `json:"createdAt"`
}

// Store is a short-lived, expiring handle-to-payload store. A handle is the
// sole authorization token for claiming its queued request: Take claims the
// handle so a second Take observes ErrNotFound, and Discard evicts the entry
// once the stream execution terminates. Expiry is enforced by the store
// independently of Discard.
type Store interface {
	// Put stashes a payload and returns the new handle
	Put(ctx context.Context, payload Payload, ttl time.Duration) (string, error)

	// Take claims the payload for a handle; ErrNotFound if the handle is
	// missing, expired, or already claimed
	Take(ctx context.Context, id string) (Payload, error)

	// Discard evicts the handle. It is idempotent.
	Discard(ctx context.Context, id string) error

	// Ping reports whether the store is reachable
	Ping(ctx context.Context) error

	// Close releases store resources
	Close() error
}

// NewID generates an unpredictable 128-bit handle identifier. Handles are
// bearer tokens, so they must not be guessable.
func NewID() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("failed to generate handle id: %w", err)
	}
	return hex.EncodeToString(buf[:]), nil
}
