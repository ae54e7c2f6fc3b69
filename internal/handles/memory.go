package handles

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type memoryEntry struct {
	payload   Payload
	claimed   bool
	expiresAt time.Time
}

// MemoryStore is an in-process handle store with a background expiry sweep.
// Operations on distinct handles never contend beyond the map lock; the sweep
// holds the same lock, so it cannot race a concurrent Discard.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry

	sweepInterval time.Duration
	log           zerolog.Logger
	done          chan struct{}
	closeOnce     sync.Once
}

// NewMemoryStore creates a memory store and starts its expiry sweeper
func NewMemoryStore(sweepInterval time.Duration, log zerolog.Logger) *MemoryStore {
	s := &MemoryStore{
		entries:       make(map[string]*memoryEntry),
		sweepInterval: sweepInterval,
		log:           log,
		done:          make(chan struct{}),
	}

	go s.sweepLoop()

	return s
}

// Put stashes a payload and returns the new handle
func (s *MemoryStore) Put(ctx context.Context, payload Payload, ttl time.Duration) (string, error) {
	id, err := NewID()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.entries[id] = &memoryEntry{
		payload:   payload,
		expiresAt: time.Now().Add(ttl),
	}
	s.mu.Unlock()

	return id, nil
}

// Take claims the payload for a handle
func (s *MemoryStore) Take(ctx context.Context, id string) (Payload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok || entry.claimed || time.Now().After(entry.expiresAt) {
		return Payload{}, ErrNotFound
	}

	// Claiming makes a second Take fail while the running execution keeps
	// its own copy of the payload; the entry itself stays until Discard.
	entry.claimed = true
	return entry.payload, nil
}

// Discard evicts the handle
func (s *MemoryStore) Discard(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
	return nil
}

// Ping reports whether the store is reachable (always true in-process)
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close stops the expiry sweeper
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	return nil
}

// Len returns the number of live entries
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) sweepLoop() {
	interval := s.sweepInterval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.done:
			return
		}
	}
}

func (s *MemoryStore) sweep() {
	now := time.Now()

	s.mu.Lock()
	removed := 0
	for id, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, id)
			removed++
		}
	}
	s.mu.Unlock()

	if removed > 0 {
		s.log.Debug().Int("removed", removed).Msg("Swept expired handles")
	}
}
