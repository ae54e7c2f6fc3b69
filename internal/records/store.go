package records

import "context"

// Record is one persisted personalization history entry
type Record struct {
	OwnerID     string
	Topic       string
	Description string
	Note        string
	Content     string
	AudioURL    string
}

// Store persists completed generation runs for authenticated owners. It is a
// collaborator of the stream pipeline: a save failure is logged by the caller
// and never affects the events already sent to the client.
type Store interface {
	Save(ctx context.Context, rec Record) error
}

// NopStore discards records; used when no database is configured
type NopStore struct{}

func (NopStore) Save(ctx context.Context, rec Record) error { return nil }
