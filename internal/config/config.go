package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the personalization gateway service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Public base URL for this service (e.g. https://gateway.example.com).
	// Used to build URLs for locally stored synthesis audio.
	// Optional; if unset, audio URLs are root-relative.
	PublicBaseURL string `envconfig:"PUBLIC_BASE_URL" default:""`

	// Gemini text-generation API configuration
	GeminiAPIKey  string `envconfig:"GEMINI_API_KEY" required:"true"`
	GeminiModel   string `envconfig:"GEMINI_MODEL" default:"gemini-1.5-flash"`
	GeminiBaseURL string `envconfig:"GEMINI_BASE_URL" default:"https://generativelanguage.googleapis.com"`

	// Upper bound on one generation stream, in seconds. 0 disables the bound.
	GenerateTimeout int `envconfig:"GENERATE_TIMEOUT" default:"120"`

	// Unrealspeech text-to-speech API configuration.
	// The API key is optional: a missing key downgrades synthesis to an
	// "unconfigured" result instead of failing startup.
	UnrealspeechAPIKey  string `envconfig:"UNREALSPEECH_API_KEY" default:""`
	UnrealspeechVoiceID string `envconfig:"UNREALSPEECH_VOICE_ID" default:"af_bella"`
	UnrealspeechURL     string `envconfig:"UNREALSPEECH_URL" default:"https://api.v8.unrealspeech.com/speech"`
	SpeechTimeout       int    `envconfig:"SPEECH_TIMEOUT" default:"60"` // seconds

	// Handle store configuration
	HandleTTL           int    `envconfig:"HANDLE_TTL" default:"900"`           // Seconds a queued request stays claimable
	HandleSweepInterval int    `envconfig:"HANDLE_SWEEP_INTERVAL" default:"60"` // Expiry sweep period for the in-memory store
	RedisAddr           string `envconfig:"REDIS_ADDR" default:""`              // If set, handles live in Redis instead of memory

	// Persistence configuration. An empty DSN disables history persistence.
	DatabaseDriver string `envconfig:"DATABASE_DRIVER" default:"sqlite"` // sqlite or postgres
	DatabaseDSN    string `envconfig:"DATABASE_DSN" default:""`

	// Audio blob storage configuration. When a GCS bucket is set, raw
	// synthesis audio is uploaded there; otherwise it is written to disk.
	AudioStorageDir     string `envconfig:"AUDIO_STORAGE_DIR" default:"./data/tts_audio"`
	AudioGCSBucket      string `envconfig:"AUDIO_GCS_BUCKET" default:""`
	AudioCDNDomain      string `envconfig:"AUDIO_CDN_DOMAIN" default:""`
	AudioGCSCredentials string `envconfig:"AUDIO_GCS_CREDENTIALS_FILE" default:""`

	// Resilience configuration
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum synthesis retry attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Generation failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Validate required fields
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	if cfg.HandleTTL <= 0 {
		return nil, fmt.Errorf("HANDLE_TTL must be positive")
	}

	return &cfg, nil
}
