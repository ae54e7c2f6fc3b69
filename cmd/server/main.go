package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edustream/personalize-gateway/internal/config"
	"github.com/edustream/personalize-gateway/internal/gateway"
	"github.com/edustream/personalize-gateway/internal/handles"
	"github.com/edustream/personalize-gateway/internal/observability"
	"github.com/edustream/personalize-gateway/internal/orchestrator"
	"github.com/edustream/personalize-gateway/internal/records"
	"github.com/edustream/personalize-gateway/internal/speech"
	"github.com/edustream/personalize-gateway/internal/storage"
	"github.com/edustream/personalize-gateway/internal/textgen"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("gemini_model", cfg.GeminiModel).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Personalize Gateway Service starting")

	// Handle store: Redis when configured, otherwise in-process memory
	var handleStore handles.Store
	if cfg.RedisAddr != "" {
		store, err := handles.NewRedisStore(cfg.RedisAddr, logger)
		if err != nil {
			logger.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("Failed to connect to Redis")
		}
		handleStore = store
		logger.Info().Str("addr", cfg.RedisAddr).Msg("Using Redis handle store")
	} else {
		handleStore = handles.NewMemoryStore(
			time.Duration(cfg.HandleSweepInterval)*time.Second, logger)
		logger.Info().Msg("Using in-memory handle store")
	}
	defer handleStore.Close()

	// Audio blob store: GCS when a bucket is configured, local disk otherwise
	var blobs storage.BlobStore
	var localAudio *storage.LocalStore
	if cfg.AudioGCSBucket != "" {
		gcsCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		store, err := storage.NewGCSStore(gcsCtx, cfg.AudioGCSBucket, cfg.AudioCDNDomain, cfg.AudioGCSCredentials)
		cancel()
		if err != nil {
			logger.Fatal().Err(err).Str("bucket", cfg.AudioGCSBucket).Msg("Failed to create GCS store")
		}
		blobs = store
		logger.Info().Str("bucket", cfg.AudioGCSBucket).Msg("Using GCS audio storage")
	} else {
		store, err := storage.NewLocalStore(cfg.AudioStorageDir, cfg.PublicBaseURL)
		if err != nil {
			logger.Fatal().Err(err).Str("dir", cfg.AudioStorageDir).Msg("Failed to create local audio store")
		}
		blobs = store
		localAudio = store
		logger.Info().Str("dir", cfg.AudioStorageDir).Msg("Using local audio storage")
	}

	// Personalization records: database when a DSN is configured
	var recordStore records.Store = records.NopStore{}
	if cfg.DatabaseDSN != "" {
		store, err := records.NewGormStore(cfg.DatabaseDriver, cfg.DatabaseDSN)
		if err != nil {
			logger.Fatal().Err(err).Str("driver", cfg.DatabaseDriver).Msg("Failed to open database")
		}
		recordStore = store
		logger.Info().Str("driver", cfg.DatabaseDriver).Msg("Persisting personalizations to database")
	} else {
		logger.Info().Msg("No database configured, personalizations will not be persisted")
	}

	generator := textgen.NewGeminiClient(cfg)
	synthesizer := speech.NewUnrealspeechClient(cfg)
	if cfg.UnrealspeechAPIKey == "" {
		logger.Warn().Msg("Speech API key not configured, audio generation disabled")
	}

	orch := orchestrator.New(handleStore, generator, synthesizer, blobs, recordStore)

	mux := http.NewServeMux()
	gateway.New(handleStore, orch, time.Duration(cfg.HandleTTL)*time.Second).Routes(mux)

	// Locally stored audio is served straight off disk
	if localAudio != nil {
		mux.Handle("GET /audio/", http.StripPrefix("/audio/",
			http.FileServer(http.Dir(localAudio.Dir()))))
	}

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	// Readiness endpoint
	mux.HandleFunc("/ready", observability.ReadinessHandler(
		observability.NamedCheck{
			Name: "handle_store",
			Check: func(ctx context.Context) (bool, error) {
				if err := handleStore.Ping(ctx); err != nil {
					return false, err
				}
				return true, nil
			},
		},
		observability.NamedCheck{
			Name: "text_generation",
			Check: func(ctx context.Context) (bool, error) {
				// Config-level check only: no API call, generation quota is metered
				if cfg.GeminiAPIKey == "" {
					return false, fmt.Errorf("generation API key not configured")
				}
				return true, nil
			},
		},
	))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// No WriteTimeout: SSE streams stay open for the full generation run
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("http://localhost:%s/initiate", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
