package textgen

import (
	"context"
	"fmt"
)

// Fragment is one incremental piece of generated text. A terminal provider
// failure is delivered as the final fragment with Err set; the channel is
// closed when the sequence ends either way.
type Fragment struct {
	Text string
	Err  error
}

// Client is the interface for streaming text-generation providers. The
// returned sequence is finite, not restartable, and must be consumed in
// arrival order. Cancelling the context releases the provider stream.
type Client interface {
	StreamGenerate(ctx context.Context, prompt string) (<-chan Fragment, error)
}

// ProviderError is a failure reported by the text-generation provider
type ProviderError struct {
	Status  int // HTTP status, 0 for transport-level failures
	Message string
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("text generation provider returned status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("text generation provider error: %s", e.Message)
}
