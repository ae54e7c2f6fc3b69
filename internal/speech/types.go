package speech

import "context"

// ResultKind tags the variant of a synthesis result
type ResultKind int

const (
	ResultURL     ResultKind = iota // Provider returned a hosted audio URL
	ResultBytes                     // Provider returned raw audio needing storage
	ResultFailure                   // Synthesis failed; never fatal for the caller
)

// FailureReason classifies a synthesis failure
type FailureReason string

const (
	FailureEmptyText             FailureReason = "empty_text"
	FailureUnconfigured          FailureReason = "unconfigured"
	FailureHTTPStatus            FailureReason = "http_status"
	FailureUnexpectedContentType FailureReason = "unexpected_content_type"
	FailureNetwork               FailureReason = "network"
	FailureMissingURL            FailureReason = "missing_url"
)

// Result is the tagged outcome of one synthesis call
type Result struct {
	Kind ResultKind

	// URL is set for ResultURL
	URL string

	// Audio and ContentType are set for ResultBytes
	Audio       []byte
	ContentType string

	// Reason and Message are set for ResultFailure. Message is the
	// human-readable audioError string surfaced to the end client.
	Reason  FailureReason
	Message string
}

// Client is the interface for text-to-speech providers. Synthesis is a single
// request/response for the whole text; failures are reported in the Result,
// never as an error, because audio is always optional for the caller.
type Client interface {
	Synthesize(ctx context.Context, text string) Result
}

func failure(reason FailureReason, message string) Result {
	return Result{Kind: ResultFailure, Reason: reason, Message: message}
}
