package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bailey0002/viseme-sync/internal/config"
	"github.com/bailey0002/viseme-sync/internal/metrics"
	"github.com/bailey0002/viseme-sync/internal/producer"
	"github.com/bailey0002/viseme-sync/internal/server"
	"github.com/bailey0002/viseme-sync/internal/session"
	"github.com/bailey0002/viseme-sync/internal/stream"
)

const (
	serviceName    = "viseme-sync"
	serviceVersion = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file (built-in defaults when empty)")
	flag.Parse()

	// Load configuration
	var cfg *config.Config
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.Int("http_port", cfg.HTTP.Port),
		slog.String("bind_address", cfg.HTTP.Address),
		slog.Int("frame_rate", cfg.Animation.FrameRate),
		slog.String("model", cfg.Animation.Model),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Int("min_submission_bytes", cfg.Audio.MinSubmissionBytes),
		slog.Bool("backend_enabled", cfg.Backend.Enabled),
		slog.Int("retention_delay", cfg.Stream.RetentionDelay),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Select the frame producer (backend probe happens here, once)
	frames := producer.Select(cfg, logger)
	logger.Info("Frame producer selected", slog.String("mode", frames.Name()))

	// Initialize session store and reaper
	store := session.NewStore(logger)
	reaper := session.NewReaper(store, session.ReaperConfig{
		RetentionDelay: cfg.Stream.GetRetentionDelay(),
		MaxSessionAge:  cfg.Stream.GetMaxSessionAge(),
		SweepInterval:  cfg.Stream.GetReapInterval(),
	}, logger, func(string) {
		appMetrics.RecordSessionEvicted()
		appMetrics.SetActiveSessions(store.Count())
	})
	reaper.Start()

	// Initialize stream coordinator
	coordinator := stream.NewCoordinator(store, reaper, appMetrics, stream.Config{
		SessionWaitTimeout: cfg.Stream.GetSessionWaitTimeout(),
		StartTimeout:       cfg.Stream.GetStartTimeout(),
	}, logger)
	logger.Info("Stream coordinator initialized",
		slog.Duration("session_wait_timeout", cfg.Stream.GetSessionWaitTimeout()),
		slog.Duration("start_timeout", cfg.Stream.GetStartTimeout()),
	)

	// Initialize and start HTTP server
	httpServer := server.NewHTTPServer(cfg, logger, store, reaper, frames, coordinator, appMetrics)
	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("http_address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
	)

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests and streams)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	// Stop the reaper (cancels pending eviction timers)
	reaper.Stop()

	logger.Info("Final statistics",
		slog.Int("remaining_sessions", store.Count()),
	)

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
