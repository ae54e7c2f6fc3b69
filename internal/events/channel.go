package events

// Event names delivered on a stream channel. Clients may treat streamEnd as
// the unconditional signal to close their side of the channel.
const (
	EventTextChunk    = "textChunk"
	EventAudioDetails = "audioDetails"
	EventStreamError  = "streamError"
	EventStreamEnd    = "streamEnd"
)

// Channel is a push-event transport to one client. Events sent on the same
// channel are delivered in send order with bounded latency (no intermediary
// buffering). A Send failure means the client is gone; the channel stays
// closeable and Close is idempotent.
type Channel interface {
	Send(event string, payload any) error
	Close() error
}

// TextChunk carries one incremental text fragment
type TextChunk struct {
	TextChunk string `json:"textChunk"`
}

// AudioDetails carries the synthesis outcome together with the full text
type AudioDetails struct {
	AudioURL   *string `json:"audioUrl"`
	AudioError *string `json:"audioError"`
	FullText   string  `json:"fullText"`
}

// StreamError carries a user-visible failure; at most one per stream
type StreamError struct {
	Error string `json:"error"`
}

// StreamEnd is the single terminal event of every stream
type StreamEnd struct {
	Message string `json:"message"`
}
