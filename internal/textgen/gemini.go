package textgen

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/edustream/personalize-gateway/internal/config"
	"github.com/edustream/personalize-gateway/internal/observability"
	"github.com/edustream/personalize-gateway/internal/resilience"
)

// GeminiClient implements Client against the Gemini streaming REST API.
// Fragments arrive as server-sent events on a chunked response body.
type GeminiClient struct {
	baseURL       string
	apiKey        string
	model         string
	streamTimeout time.Duration
	httpClient    *http.Client
	breaker       *resilience.CircuitBreaker
	log           zerolog.Logger
}

// NewGeminiClient creates a new Gemini streaming client
func NewGeminiClient(cfg *config.Config) *GeminiClient {
	breaker := resilience.NewCircuitBreaker(
		"gemini",
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
	)
	breaker.OnStateChange(func(name string, state resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(state))
	})

	return &GeminiClient{
		baseURL:       strings.TrimRight(cfg.GeminiBaseURL, "/"),
		apiKey:        cfg.GeminiAPIKey,
		model:         cfg.GeminiModel,
		streamTimeout: time.Duration(cfg.GenerateTimeout) * time.Second,
		httpClient:    &http.Client{},
		breaker:       breaker,
		log:           observability.WithComponent("textgen"),
	}
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type streamChunk struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// StreamGenerate opens a generation stream for the prompt. Request-level
// failures (circuit open, connection, non-2xx status) are returned directly;
// failures after streaming began arrive as the terminal fragment.
func (c *GeminiClient) StreamGenerate(ctx context.Context, prompt string) (<-chan Fragment, error) {
	if !c.breaker.Allow() {
		return nil, &ProviderError{Message: "text generation temporarily unavailable"}
	}

	resp, cancel, err := c.open(ctx, prompt)
	if err != nil {
		c.breaker.RecordResult(false)
		return nil, err
	}

	fragments := make(chan Fragment, 16)

	go func() {
		defer func() {
			resp.Body.Close()
			if cancel != nil {
				cancel()
			}
			close(fragments)
		}()

		err := c.scan(ctx, resp.Body, fragments)
		if ctx.Err() != nil {
			// Consumer cancelled; not a provider failure.
			c.breaker.RecordResult(true)
			return
		}
		if err != nil {
			c.breaker.RecordResult(false)
			fragments <- Fragment{Err: err}
			return
		}
		c.breaker.RecordResult(true)
	}()

	return fragments, nil
}

// open issues the streaming request and validates the response status
func (c *GeminiClient) open(ctx context.Context, prompt string) (*http.Response, context.CancelFunc, error) {
	body := generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, nil, fmt.Errorf("failed to encode generation request: %w", err)
	}

	var cancel context.CancelFunc
	if c.streamTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.streamTimeout)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		if cancel != nil {
			cancel()
		}
		return nil, nil, fmt.Errorf("failed to create generation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if cancel != nil {
			cancel()
		}
		return nil, nil, &ProviderError{Message: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		if cancel != nil {
			cancel()
		}
		c.log.Error().Int("status", resp.StatusCode).Str("body", string(raw)).Msg("Gemini request rejected")
		return nil, nil, &ProviderError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}

	return resp, cancel, nil
}

// scan reads SSE data lines from the stream and forwards text parts in order
func (c *GeminiClient) scan(ctx context.Context, body io.Reader, fragments chan<- Fragment) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			c.log.Warn().Err(err).Msg("Skipping malformed stream chunk")
			continue
		}
		if chunk.Error != nil {
			return &ProviderError{Status: chunk.Error.Code, Message: chunk.Error.Message}
		}

		for _, cand := range chunk.Candidates {
			for _, p := range cand.Content.Parts {
				if p.Text == "" {
					continue
				}
				select {
				case fragments <- Fragment{Text: p.Text}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return &ProviderError{Message: err.Error()}
	}
	return nil
}
