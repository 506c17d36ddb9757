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

	"github.com/cap-mahdi/stream-backend/internal/audio"
	"github.com/cap-mahdi/stream-backend/internal/broadcast"
	"github.com/cap-mahdi/stream-backend/internal/config"
	"github.com/cap-mahdi/stream-backend/internal/metrics"
	"github.com/cap-mahdi/stream-backend/internal/server"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "radio-broadcast-service"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.String("bind_address", cfg.Server.Address),
		slog.Int("http_port", cfg.Server.Port),
		slog.String("audio_file", cfg.Audio.FilePath),
		slog.Int("chunk_size", cfg.Audio.ChunkSize),
		slog.Int("chunk_delay_ms", cfg.Audio.ChunkDelayMs),
		slog.Int("queue_capacity", cfg.Audio.QueueCapacity),
		slog.Bool("prepare", cfg.Audio.Prepare),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()

	// Build the audio source: either the raw file, or the prepared
	// (decode, pad, re-encode) in-memory variant.
	var source audio.Source
	var preparer *audio.Preparer
	if cfg.Audio.Prepare {
		preparer = audio.NewPreparer(cfg.Audio.FilePath, cfg.Audio.ChunkSize, cfg.Audio.GetPadTo(), logger)
		prepStart := time.Now()
		preparer.Start()
		go func() {
			<-preparer.Ready()
			appMetrics.RecordPreparation(time.Since(prepStart).Seconds())
		}()
		source = preparer
		logger.Info("Audio preparation started",
			slog.String("file_path", cfg.Audio.FilePath),
			slog.Duration("pad_to", cfg.Audio.GetPadTo()),
		)
	} else {
		source = audio.NewFileSource(cfg.Audio.FilePath, cfg.Audio.ChunkSize)
	}

	// Initialize the broadcast core
	registry := broadcast.NewRegistry(cfg.Audio.QueueCapacity)
	broadcaster := broadcast.New(source, registry, broadcast.Config{
		ChunkDelay:     cfg.Audio.GetChunkDelay(),
		SourceRetry:    cfg.Audio.GetSourceRetry(),
		FatalOnMissing: cfg.Audio.FatalOnMissing,
	}, logger, appMetrics)

	// Start the broadcast loop; this is the process-wide producer, started
	// exactly once and cancelled through ctx on shutdown.
	broadcastErr := make(chan error, 1)
	go func() {
		broadcastErr <- broadcaster.Run(ctx)
	}()

	// Initialize and start the HTTP server
	httpServer := server.NewHTTPServer(cfg, logger, broadcaster, preparer, appMetrics)
	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("http_address", fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)),
	)

	exitCode := 0
	loopStopped := false
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case err := <-broadcastErr:
		loopStopped = true
		if err != nil {
			logger.Error("Broadcast loop failed", slog.String("error", err.Error()))
			exitCode = 1
		} else {
			logger.Info("Broadcast loop exited")
		}
	}

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new listeners, end sessions)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.GetShutdownTimeout())
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}
	shutdownCancel()

	// Stop the broadcast loop and wait for it to finish
	cancel()
	if !loopStopped {
		if err := <-broadcastErr; err != nil {
			logger.Error("Broadcast loop failed during shutdown", slog.String("error", err.Error()))
		}
	}

	// Log final statistics
	stats := broadcaster.Stats()
	logger.Info("Final broadcast statistics",
		slog.Uint64("chunks_broadcast", stats.ChunksBroadcast),
		slog.Uint64("chunks_dropped", stats.ChunksDropped),
		slog.Uint64("loops_completed", stats.LoopsCompleted),
		slog.Int("active_listeners", stats.ActiveListeners),
	)

	logger.Info("Service stopped")

	if exitCode != 0 {
		os.Exit(exitCode)
	}
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
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	default:
		output = os.Stdout
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
