package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lexiqai/stt-relay/internal/config"
	"github.com/lexiqai/stt-relay/internal/observability"
	"github.com/lexiqai/stt-relay/internal/relay"
	"github.com/lexiqai/stt-relay/internal/upstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"
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
		Str("upstream_url", cfg.UpstreamURL).
		Str("auth_mode", cfg.UpstreamAuthMode).
		Str("model", cfg.DeepgramModel).
		Str("language", cfg.DeepgramLanguage).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("STT relay starting")

	creds := upstream.StaticKey(cfg.DeepgramAPIKey)
	dialer := upstream.NewDialer(cfg, creds)

	mux := http.NewServeMux()

	// Client WebSocket endpoint
	mux.Handle("/ws", relay.NewHandler(cfg, dialer))

	mux.HandleFunc("/health", observability.HealthCheckHandler())

	// Readiness checks credentials only; it never dials upstream
	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"credentials": func(ctx context.Context) (bool, error) {
			return upstream.Check(ctx, creds)
		},
	}))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Sessions run on request contexts derived from baseCtx and end when it is cancelled
	baseCtx, cancelSessions := context.WithCancel(context.Background())
	defer cancelSessions()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return baseCtx },
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/ws", cfg.Port)).
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
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	// Shutdown does not wait for hijacked WebSocket connections
	cancelSessions()

	logger.Info().Msg("Server exited gracefully")
}
