package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/edustream/personalize-gateway/internal/events"
	"github.com/edustream/personalize-gateway/internal/handles"
	"github.com/edustream/personalize-gateway/internal/observability"
	"github.com/edustream/personalize-gateway/internal/personalization"
	"github.com/edustream/personalize-gateway/internal/records"
	"github.com/edustream/personalize-gateway/internal/speech"
	"github.com/edustream/personalize-gateway/internal/storage"
	"github.com/edustream/personalize-gateway/internal/textgen"
)

// Orchestrator owns the two-phase stream protocol: it claims the queued
// request for a handle, drives the text-generation stream onto the client
// channel, hands the full text to speech synthesis, persists the outcome for
// authenticated owners, and terminates every run with exactly one streamEnd
// and exactly one handle discard.
type Orchestrator struct {
	handles     handles.Store
	generator   textgen.Client
	synthesizer speech.Client
	blobs       storage.BlobStore
	records     records.Store
}

// New creates an orchestrator over its collaborators
func New(
	handleStore handles.Store,
	generator textgen.Client,
	synthesizer speech.Client,
	blobs storage.BlobStore,
	recordStore records.Store,
) *Orchestrator {
	return &Orchestrator{
		handles:     handleStore,
		generator:   generator,
		synthesizer: synthesizer,
		blobs:       blobs,
		records:     recordStore,
	}
}

// Run executes one stream for a previously initiated handle. The context is
// the client connection's: cancelling it releases the provider stream, skips
// synthesis and persistence, and still performs terminal cleanup.
func (o *Orchestrator) Run(ctx context.Context, streamID string, ch events.Channel) {
	log := observability.WithStream(streamID)
	metrics := observability.NewStreamMetrics(streamID)
	metrics.RecordStreamStart()

	errorSent := false
	sendError := func(msg string) {
		// At most one streamError per run
		if errorSent {
			return
		}
		errorSent = true
		if err := ch.Send(events.EventStreamError, events.StreamError{Error: msg}); err != nil {
			log.Warn().Err(err).Msg("Failed to deliver streamError to client")
		}
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Stream execution panicked")
			metrics.RecordError("panic", "orchestrator")
			sendError("Internal error during content generation.")
		}

		// Terminal guarantees: streamEnd, channel close, handle discard.
		// These run on every path, including client disconnect, so the
		// discard uses a fresh context.
		if err := ch.Send(events.EventStreamEnd, events.StreamEnd{Message: "Stream completed."}); err != nil {
			log.Debug().Err(err).Msg("Client gone before streamEnd")
		}
		if err := ch.Close(); err != nil {
			log.Debug().Err(err).Msg("Failed to close event channel")
		}

		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := o.handles.Discard(dctx, streamID); err != nil {
			log.Warn().Err(err).Msg("Failed to discard handle")
		}

		metrics.RecordStreamEnd()
	}()

	payload, err := o.handles.Take(ctx, streamID)
	if err != nil {
		if !errors.Is(err, handles.ErrNotFound) {
			log.Error().Err(err).Msg("Handle store lookup failed")
			metrics.RecordError("handle_store", "orchestrator")
		}
		sendError("Invalid or expired stream id.")
		return
	}

	log.Info().
		Str("topic", payload.Request.Topic).
		Str("level", string(payload.Request.LearningLevel)).
		Bool("authenticated", payload.OwnerID != "").
		Msg("Stream execution started")

	fullText, ok := o.generate(ctx, payload.Request, ch, log, metrics, sendError)
	if !ok {
		return
	}

	audioURL, audioError := o.synthesize(ctx, fullText, log, metrics)

	if err := ch.Send(events.EventAudioDetails, events.AudioDetails{
		AudioURL:   audioURL,
		AudioError: audioError,
		FullText:   fullText,
	}); err != nil {
		log.Warn().Err(err).Msg("Failed to deliver audioDetails to client")
	}

	o.persist(payload, fullText, audioURL, log, metrics)
}

// generate drives the text-generation stream, emitting one textChunk per
// fragment. It returns the accumulated text and whether the run may proceed.
func (o *Orchestrator) generate(
	ctx context.Context,
	req personalization.Request,
	ch events.Channel,
	log zerolog.Logger,
	metrics *observability.StreamMetrics,
	sendError func(string),
) (string, bool) {
	prompt := personalization.BuildPrompt(req)

	// Cancelling runCtx releases the provider stream when the client goes away
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	metrics.RecordGenerationStart()
	fragments, err := o.generator.StreamGenerate(runCtx, prompt)
	if err != nil {
		metrics.RecordGenerationEnd(false)
		metrics.RecordError("generation", "textgen")
		log.Error().Err(err).Str("prompt", prompt).Msg("Content generation failed to start")
		sendError(fmt.Sprintf("Unable to generate content: %v", err))
		return "", false
	}

	var full strings.Builder
	var genErr error
	clientGone := false

	for frag := range fragments {
		if frag.Err != nil {
			genErr = frag.Err
			break
		}

		full.WriteString(frag.Text)

		if err := ch.Send(events.EventTextChunk, events.TextChunk{TextChunk: frag.Text}); err != nil {
			// Broken pipe: stop generating further output, keep cleanup
			log.Info().Err(err).Msg("Client disconnected mid-stream")
			clientGone = true
			cancel()
			break
		}
	}

	if genErr != nil {
		metrics.RecordGenerationEnd(false)
		metrics.RecordError("generation", "textgen")
		log.Error().Err(genErr).Str("prompt", prompt).Msg("Content generation failed")
		sendError(fmt.Sprintf("Unable to generate content: %v", genErr))
		return "", false
	}

	if clientGone || ctx.Err() != nil {
		metrics.RecordGenerationEnd(false)
		return "", false
	}

	if full.Len() == 0 {
		metrics.RecordGenerationEnd(false)
		metrics.RecordError("empty_generation", "textgen")
		log.Error().Str("prompt", prompt).Msg("Provider produced no content")
		sendError("No content was generated. Please try again.")
		return "", false
	}

	metrics.RecordGenerationEnd(true)
	return full.String(), true
}

// synthesize converts the full text to audio. Synthesis failures are always
// recoverable: they surface as an audioError string and never abort the run.
func (o *Orchestrator) synthesize(
	ctx context.Context,
	fullText string,
	log zerolog.Logger,
	metrics *observability.StreamMetrics,
) (audioURL *string, audioError *string) {
	metrics.RecordSynthesisStart()
	result := o.synthesizer.Synthesize(ctx, fullText)

	switch result.Kind {
	case speech.ResultURL:
		metrics.RecordSynthesisEnd(true)
		return &result.URL, nil

	case speech.ResultBytes:
		name := storage.NewObjectName(".mp3")
		url, err := o.blobs.Put(ctx, result.Audio, name, result.ContentType)
		if err != nil {
			metrics.RecordSynthesisEnd(false)
			metrics.RecordError("blob_store", "storage")
			log.Error().Err(err).Msg("Failed to store synthesis audio")
			msg := "Failed to store generated audio."
			return nil, &msg
		}
		metrics.RecordSynthesisEnd(true)
		return &url, nil

	default:
		metrics.RecordSynthesisEnd(false)
		metrics.RecordError(string(result.Reason), "speech")
		log.Warn().Str("reason", string(result.Reason)).Str("detail", result.Message).Msg("Speech synthesis failed")
		msg := result.Message
		return nil, &msg
	}
}

// persist saves the outcome for authenticated owners. Persistence failures
// are server-side only: the client already received its events.
func (o *Orchestrator) persist(
	payload handles.Payload,
	fullText string,
	audioURL *string,
	log zerolog.Logger,
	metrics *observability.StreamMetrics,
) {
	if payload.OwnerID == "" {
		// Guest run: output delivered, no history entry
		return
	}

	rec := records.Record{
		OwnerID: payload.OwnerID,
		Topic:   payload.Request.Topic,
		Description: fmt.Sprintf("Generated content for %s at %s level.",
			payload.Request.Topic, payload.Request.LearningLevel),
		Note:    payload.Request.Note,
		Content: fullText,
	}
	if audioURL != nil {
		rec.AudioURL = *audioURL
	}

	// Not tied to the client connection: the record should outlive it
	pctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := o.records.Save(pctx, rec); err != nil {
		metrics.RecordError("persistence", "records")
		log.Error().Err(err).Msg("Failed to persist personalization record")
	}
}
