package speech

import (
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

// UnrealspeechClient implements Client using the Unrealspeech REST API.
// A successful call returns either JSON carrying a hosted OutputUri or a raw
// audio body, both of which map onto the tagged Result.
type UnrealspeechClient struct {
	apiKey     string
	voiceID    string
	apiURL     string
	httpClient *http.Client
	retryCfg   *resilience.RetryConfig
	log        zerolog.Logger
}

// NewUnrealspeechClient creates a new Unrealspeech TTS client. A missing API
// key is allowed; synthesis then reports an unconfigured failure per call.
func NewUnrealspeechClient(cfg *config.Config) *UnrealspeechClient {
	return &UnrealspeechClient{
		apiKey:  cfg.UnrealspeechAPIKey,
		voiceID: cfg.UnrealspeechVoiceID,
		apiURL:  cfg.UnrealspeechURL,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.SpeechTimeout) * time.Second,
		},
		retryCfg: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
		},
		log: observability.WithComponent("speech"),
	}
}

type synthesizeRequest struct {
	Text    string `json:"Text"`
	VoiceID string `json:"VoiceId"`
}

type synthesizeResponse struct {
	OutputURI string `json:"OutputUri"`
}

// Synthesize converts the full text into an audio resource
func (c *UnrealspeechClient) Synthesize(ctx context.Context, text string) Result {
	if strings.TrimSpace(text) == "" {
		// Normal empty-result path, not worth a provider round trip
		return failure(FailureEmptyText, "No text available for audio generation.")
	}

	if c.apiKey == "" {
		c.log.Warn().Msg("Speech API key not set, skipping audio generation")
		return failure(FailureUnconfigured, "Audio generation is not configured (API key missing).")
	}

	payload, err := json.Marshal(synthesizeRequest{Text: text, VoiceID: c.voiceID})
	if err != nil {
		return failure(FailureNetwork, "Failed to generate audio due to a network or server issue.")
	}

	var resp *http.Response
	err = resilience.Retry(ctx, func() error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(payload))
		if reqErr != nil {
			return reqErr
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, reqErr = c.httpClient.Do(req)
		return reqErr
	}, c.retryCfg, resilience.IsRetryableNetworkError)
	if err != nil {
		c.log.Error().Err(err).Msg("Speech request failed")
		return failure(FailureNetwork, "Failed to generate audio due to a network or server issue.")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to read speech response")
		return failure(FailureNetwork, "Failed to generate audio due to a network or server issue.")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Error().Int("status", resp.StatusCode).Str("body", truncate(string(body), 512)).Msg("Speech API error")
		return failure(FailureHTTPStatus, fmt.Sprintf("Failed to generate audio: speech API error (%d).", resp.StatusCode))
	}

	contentType := resp.Header.Get("Content-Type")
	switch {
	case strings.Contains(contentType, "application/json"):
		var parsed synthesizeResponse
		if err := json.Unmarshal(body, &parsed); err != nil || parsed.OutputURI == "" {
			c.log.Error().Str("body", truncate(string(body), 512)).Msg("Speech JSON response missing output URL")
			return failure(FailureMissingURL, "Failed to retrieve audio URL from the speech provider.")
		}
		return Result{Kind: ResultURL, URL: parsed.OutputURI}

	case strings.HasPrefix(contentType, "audio/"):
		return Result{Kind: ResultBytes, Audio: body, ContentType: contentType}

	default:
		c.log.Error().Str("content_type", contentType).Msg("Speech API returned unexpected content type")
		return failure(FailureUnexpectedContentType, "Failed to process audio response from the speech provider.")
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
