package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/edustream/personalize-gateway/internal/events"
	"github.com/edustream/personalize-gateway/internal/handles"
	"github.com/edustream/personalize-gateway/internal/personalization"
	"github.com/edustream/personalize-gateway/internal/records"
	"github.com/edustream/personalize-gateway/internal/speech"
	"github.com/edustream/personalize-gateway/internal/textgen"
)

// ---- Test doubles ----

type capturedEvent struct {
	name    string
	payload any
}

// captureChannel records events in send order; it can be told to start
// failing sends after a number of successes to simulate a dropped client.
type captureChannel struct {
	mu        sync.Mutex
	events    []capturedEvent
	failAfter int // -1: never fail
	sent      int
	closes    int
}

func newCaptureChannel() *captureChannel {
	return &captureChannel{failAfter: -1}
}

func (c *captureChannel) Send(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failAfter >= 0 && c.sent >= c.failAfter {
		return errors.New("broken pipe")
	}
	c.sent++
	c.events = append(c.events, capturedEvent{name: event, payload: payload})
	return nil
}

func (c *captureChannel) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	return nil
}

func (c *captureChannel) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, len(c.events))
	for i, e := range c.events {
		names[i] = e.name
	}
	return names
}

func (c *captureChannel) find(name string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.events {
		if e.name == name {
			return e.payload, true
		}
	}
	return nil, false
}

func (c *captureChannel) count(name string) int {
	n := 0
	for _, en := range c.names() {
		if en == name {
			n++
		}
	}
	return n
}

// stubGenerator yields the configured fragments, then optionally an error
type stubGenerator struct {
	fragments []string
	err       error
	startErr  error
}

func (g *stubGenerator) StreamGenerate(ctx context.Context, prompt string) (<-chan textgen.Fragment, error) {
	if g.startErr != nil {
		return nil, g.startErr
	}

	out := make(chan textgen.Fragment, len(g.fragments)+1)
	go func() {
		defer close(out)
		for _, f := range g.fragments {
			select {
			case out <- textgen.Fragment{Text: f}:
			case <-ctx.Done():
				return
			}
		}
		if g.err != nil {
			out <- textgen.Fragment{Err: g.err}
		}
	}()
	return out, nil
}

type stubSynthesizer struct {
	mu     sync.Mutex
	result speech.Result
	calls  int
	gotTxt string
}

func (s *stubSynthesizer) Synthesize(ctx context.Context, text string) speech.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.gotTxt = text
	return s.result
}

type stubBlobStore struct {
	url   string
	err   error
	calls int
	data  []byte
}

func (b *stubBlobStore) Put(ctx context.Context, data []byte, name string, contentType string) (string, error) {
	b.calls++
	b.data = data
	if b.err != nil {
		return "", b.err
	}
	return b.url, nil
}

type recordingStore struct {
	mu    sync.Mutex
	saved []records.Record
	err   error
}

func (r *recordingStore) Save(ctx context.Context, rec records.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.saved = append(r.saved, rec)
	return nil
}

// ---- Fixture ----

type fixture struct {
	store *handles.MemoryStore
	gen   *stubGenerator
	synth *stubSynthesizer
	blobs *stubBlobStore
	rec   *recordingStore
	orch  *Orchestrator
}

func newFixture(t *testing.T, gen *stubGenerator, synth *stubSynthesizer) *fixture {
	t.Helper()

	store := handles.NewMemoryStore(time.Minute, zerolog.Nop())
	t.Cleanup(func() { store.Close() })

	blobs := &stubBlobStore{url: "https://blobs/audio.mp3"}
	rec := &recordingStore{}

	return &fixture{
		store: store,
		gen:   gen,
		synth: synth,
		blobs: blobs,
		rec:   rec,
		orch:  New(store, gen, synth, blobs, rec),
	}
}

func (f *fixture) initiate(t *testing.T, req personalization.Request, ownerID string) string {
	t.Helper()

	id, err := f.store.Put(context.Background(), handles.Payload{
		Request:   req,
		OwnerID:   ownerID,
		CreatedAt: time.Now(),
	}, time.Minute)
	if err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	return id
}

func algebraRequest() personalization.Request {
	return personalization.Request{
		Topic:         "Algebra",
		LearningLevel: personalization.LevelBeginner,
		ContentType:   personalization.ContentConcise,
	}
}

// ---- Tests ----

func TestRun_EndToEnd(t *testing.T) {
	gen := &stubGenerator{fragments: []string{"Algebra ", "is ", "fun."}}
	synth := &stubSynthesizer{result: speech.Result{Kind: speech.ResultURL, URL: "https://audio/x.mp3"}}
	f := newFixture(t, gen, synth)

	id := f.initiate(t, algebraRequest(), "user-1")
	ch := newCaptureChannel()
	f.orch.Run(context.Background(), id, ch)

	want := []string{"textChunk", "textChunk", "textChunk", "audioDetails", "streamEnd"}
	got := ch.names()
	if len(got) != len(want) {
		t.Fatalf("Event sequence = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Event %d = %q, want %q (full sequence %v)", i, got[i], want[i], got)
		}
	}

	// Chunks arrive in fragment order
	chunks := []string{
		ch.events[0].payload.(events.TextChunk).TextChunk,
		ch.events[1].payload.(events.TextChunk).TextChunk,
		ch.events[2].payload.(events.TextChunk).TextChunk,
	}
	if chunks[0] != "Algebra " || chunks[1] != "is " || chunks[2] != "fun." {
		t.Errorf("Chunks = %v", chunks)
	}

	details := ch.events[3].payload.(events.AudioDetails)
	if details.AudioURL == nil || *details.AudioURL != "https://audio/x.mp3" {
		t.Errorf("AudioURL = %v", details.AudioURL)
	}
	if details.AudioError != nil {
		t.Errorf("AudioError = %v, want nil", *details.AudioError)
	}
	if details.FullText != "Algebra is fun." {
		t.Errorf("FullText = %q", details.FullText)
	}

	if synth.gotTxt != "Algebra is fun." {
		t.Errorf("Synthesizer received %q", synth.gotTxt)
	}

	// Exactly one save with the full content
	if len(f.rec.saved) != 1 {
		t.Fatalf("Expected 1 save, got %d", len(f.rec.saved))
	}
	saved := f.rec.saved[0]
	if saved.Content != "Algebra is fun." {
		t.Errorf("Saved content = %q", saved.Content)
	}
	if saved.OwnerID != "user-1" {
		t.Errorf("Saved owner = %q", saved.OwnerID)
	}
	if saved.Description != "Generated content for Algebra at Beginner level." {
		t.Errorf("Saved description = %q", saved.Description)
	}
	if saved.AudioURL != "https://audio/x.mp3" {
		t.Errorf("Saved audio URL = %q", saved.AudioURL)
	}
}

func TestRun_GuestSkipsPersistence(t *testing.T) {
	gen := &stubGenerator{fragments: []string{"content"}}
	synth := &stubSynthesizer{result: speech.Result{Kind: speech.ResultURL, URL: "https://audio/x.mp3"}}
	f := newFixture(t, gen, synth)

	id := f.initiate(t, algebraRequest(), "")
	ch := newCaptureChannel()
	f.orch.Run(context.Background(), id, ch)

	if _, ok := ch.find("audioDetails"); !ok {
		t.Error("Expected audioDetails for guest run")
	}
	if len(f.rec.saved) != 0 {
		t.Errorf("Expected no saves for guest run, got %d", len(f.rec.saved))
	}
}

func TestRun_InvalidHandle(t *testing.T) {
	f := newFixture(t, &stubGenerator{}, &stubSynthesizer{})

	ch := newCaptureChannel()
	f.orch.Run(context.Background(), "does-not-exist", ch)

	want := []string{"streamError", "streamEnd"}
	got := ch.names()
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("Event sequence = %v, want %v", got, want)
	}
}

func TestRun_ReplayRejected(t *testing.T) {
	gen := &stubGenerator{fragments: []string{"content"}}
	synth := &stubSynthesizer{result: speech.Result{Kind: speech.ResultURL, URL: "u"}}
	f := newFixture(t, gen, synth)

	id := f.initiate(t, algebraRequest(), "user-1")

	first := newCaptureChannel()
	f.orch.Run(context.Background(), id, first)
	if _, ok := first.find("audioDetails"); !ok {
		t.Fatal("First run did not complete")
	}

	second := newCaptureChannel()
	f.orch.Run(context.Background(), id, second)
	got := second.names()
	if len(got) != 2 || got[0] != "streamError" || got[1] != "streamEnd" {
		t.Errorf("Replay sequence = %v, want [streamError streamEnd]", got)
	}
	if synth.calls != 1 {
		t.Errorf("Expected one synthesis call total, got %d", synth.calls)
	}
}

func TestRun_EmptyGeneration(t *testing.T) {
	gen := &stubGenerator{} // zero fragments
	synth := &stubSynthesizer{result: speech.Result{Kind: speech.ResultURL, URL: "u"}}
	f := newFixture(t, gen, synth)

	id := f.initiate(t, algebraRequest(), "user-1")
	ch := newCaptureChannel()
	f.orch.Run(context.Background(), id, ch)

	if n := ch.count("streamError"); n != 1 {
		t.Errorf("Expected exactly 1 streamError, got %d", n)
	}
	if n := ch.count("streamEnd"); n != 1 {
		t.Errorf("Expected exactly 1 streamEnd, got %d", n)
	}
	if _, ok := ch.find("audioDetails"); ok {
		t.Error("Unexpected audioDetails for empty generation")
	}
	if synth.calls != 0 {
		t.Errorf("Expected no synthesis call, got %d", synth.calls)
	}
	if len(f.rec.saved) != 0 {
		t.Errorf("Expected no persistence, got %d saves", len(f.rec.saved))
	}
}

func TestRun_ProviderErrorMidStream(t *testing.T) {
	gen := &stubGenerator{
		fragments: []string{"partial "},
		err:       &textgen.ProviderError{Message: "upstream hiccup"},
	}
	synth := &stubSynthesizer{result: speech.Result{Kind: speech.ResultURL, URL: "u"}}
	f := newFixture(t, gen, synth)

	id := f.initiate(t, algebraRequest(), "user-1")
	ch := newCaptureChannel()
	f.orch.Run(context.Background(), id, ch)

	got := ch.names()
	want := []string{"textChunk", "streamError", "streamEnd"}
	if len(got) != len(want) {
		t.Fatalf("Event sequence = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Event %d = %q, want %q", i, got[i], want[i])
		}
	}
	if synth.calls != 0 {
		t.Errorf("Expected no synthesis after provider error, got %d calls", synth.calls)
	}
}

func TestRun_ProviderErrorAtStart(t *testing.T) {
	gen := &stubGenerator{startErr: &textgen.ProviderError{Status: 429, Message: "quota"}}
	f := newFixture(t, gen, &stubSynthesizer{})

	id := f.initiate(t, algebraRequest(), "user-1")
	ch := newCaptureChannel()
	f.orch.Run(context.Background(), id, ch)

	got := ch.names()
	if len(got) != 2 || got[0] != "streamError" || got[1] != "streamEnd" {
		t.Errorf("Event sequence = %v, want [streamError streamEnd]", got)
	}
}

func TestRun_SynthesisFailureIsNonFatal(t *testing.T) {
	gen := &stubGenerator{fragments: []string{"full text"}}
	synth := &stubSynthesizer{result: speech.Result{
		Kind:    speech.ResultFailure,
		Reason:  speech.FailureUnconfigured,
		Message: "Audio generation is not configured (API key missing).",
	}}
	f := newFixture(t, gen, synth)

	id := f.initiate(t, algebraRequest(), "user-1")
	ch := newCaptureChannel()
	f.orch.Run(context.Background(), id, ch)

	payload, ok := ch.find("audioDetails")
	if !ok {
		t.Fatal("Expected audioDetails despite synthesis failure")
	}
	details := payload.(events.AudioDetails)
	if details.AudioURL != nil {
		t.Errorf("AudioURL = %v, want nil", *details.AudioURL)
	}
	if details.AudioError == nil || *details.AudioError == "" {
		t.Error("Expected non-null audioError")
	}
	if details.FullText != "full text" {
		t.Errorf("FullText = %q", details.FullText)
	}
	if n := ch.count("streamError"); n != 0 {
		t.Errorf("Synthesis failure must not emit streamError, got %d", n)
	}

	// Text success still persists for an owner
	if len(f.rec.saved) != 1 {
		t.Fatalf("Expected 1 save, got %d", len(f.rec.saved))
	}
	if f.rec.saved[0].AudioURL != "" {
		t.Errorf("Saved audio URL = %q, want empty", f.rec.saved[0].AudioURL)
	}
}

func TestRun_BytesResultStoredAsBlob(t *testing.T) {
	audio := []byte{1, 2, 3}
	gen := &stubGenerator{fragments: []string{"text"}}
	synth := &stubSynthesizer{result: speech.Result{
		Kind:        speech.ResultBytes,
		Audio:       audio,
		ContentType: "audio/mpeg",
	}}
	f := newFixture(t, gen, synth)

	id := f.initiate(t, algebraRequest(), "user-1")
	ch := newCaptureChannel()
	f.orch.Run(context.Background(), id, ch)

	if f.blobs.calls != 1 {
		t.Fatalf("Expected 1 blob put, got %d", f.blobs.calls)
	}
	if len(f.blobs.data) != len(audio) {
		t.Errorf("Blob data length = %d, want %d", len(f.blobs.data), len(audio))
	}

	payload, _ := ch.find("audioDetails")
	details := payload.(events.AudioDetails)
	if details.AudioURL == nil || *details.AudioURL != "https://blobs/audio.mp3" {
		t.Errorf("AudioURL = %v", details.AudioURL)
	}
}

func TestRun_BlobFailureDowngradesToAudioError(t *testing.T) {
	gen := &stubGenerator{fragments: []string{"text"}}
	synth := &stubSynthesizer{result: speech.Result{
		Kind:        speech.ResultBytes,
		Audio:       []byte{1},
		ContentType: "audio/mpeg",
	}}
	f := newFixture(t, gen, synth)
	f.blobs.err = errors.New("bucket unavailable")

	id := f.initiate(t, algebraRequest(), "user-1")
	ch := newCaptureChannel()
	f.orch.Run(context.Background(), id, ch)

	payload, ok := ch.find("audioDetails")
	if !ok {
		t.Fatal("Expected audioDetails")
	}
	details := payload.(events.AudioDetails)
	if details.AudioURL != nil {
		t.Error("Expected nil AudioURL after blob failure")
	}
	if details.AudioError == nil {
		t.Error("Expected audioError after blob failure")
	}
	if n := ch.count("streamEnd"); n != 1 {
		t.Errorf("Expected 1 streamEnd, got %d", n)
	}
}

func TestRun_ClientDisconnectStopsPipeline(t *testing.T) {
	gen := &stubGenerator{fragments: []string{"a", "b", "c", "d"}}
	synth := &stubSynthesizer{result: speech.Result{Kind: speech.ResultURL, URL: "u"}}
	f := newFixture(t, gen, synth)

	id := f.initiate(t, algebraRequest(), "user-1")
	ch := newCaptureChannel()
	ch.failAfter = 2 // first two sends succeed, then the pipe breaks
	f.orch.Run(context.Background(), id, ch)

	if synth.calls != 0 {
		t.Errorf("Expected synthesis to be skipped, got %d calls", synth.calls)
	}
	if len(f.rec.saved) != 0 {
		t.Errorf("Expected no persistence, got %d saves", len(f.rec.saved))
	}

	// Handle is still cleaned up
	if _, err := f.store.Take(context.Background(), id); !errors.Is(err, handles.ErrNotFound) {
		t.Errorf("Expected handle discarded, Take() = %v", err)
	}
	if ch.closes == 0 {
		t.Error("Expected channel close attempt")
	}
}

func TestRun_PersistenceFailureStillEnds(t *testing.T) {
	gen := &stubGenerator{fragments: []string{"text"}}
	synth := &stubSynthesizer{result: speech.Result{Kind: speech.ResultURL, URL: "u"}}
	f := newFixture(t, gen, synth)
	f.rec.err = errors.New("database down")

	id := f.initiate(t, algebraRequest(), "user-1")
	ch := newCaptureChannel()
	f.orch.Run(context.Background(), id, ch)

	got := ch.names()
	if got[len(got)-1] != "streamEnd" {
		t.Errorf("Expected terminal streamEnd, sequence %v", got)
	}
	if n := ch.count("streamError"); n != 0 {
		t.Errorf("Persistence failure must be server-side only, got %d streamError", n)
	}
}

func TestRun_HandleDiscardedAfterCompletion(t *testing.T) {
	gen := &stubGenerator{fragments: []string{"text"}}
	synth := &stubSynthesizer{result: speech.Result{Kind: speech.ResultURL, URL: "u"}}
	f := newFixture(t, gen, synth)

	id := f.initiate(t, algebraRequest(), "user-1")
	f.orch.Run(context.Background(), id, newCaptureChannel())

	if f.store.Len() != 0 {
		t.Errorf("Expected store empty after run, %d entries remain", f.store.Len())
	}
}

func TestRun_ConcurrentIndependentStreams(t *testing.T) {
	gen := &stubGenerator{fragments: []string{"x"}}
	synth := &stubSynthesizer{result: speech.Result{Kind: speech.ResultURL, URL: "u"}}
	f := newFixture(t, gen, synth)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		id := f.initiate(t, algebraRequest(), "")
		ch := newCaptureChannel()
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.orch.Run(context.Background(), id, ch)
			if n := ch.count("streamEnd"); n != 1 {
				t.Errorf("Expected 1 streamEnd, got %d", n)
			}
		}()
	}
	wg.Wait()
}
