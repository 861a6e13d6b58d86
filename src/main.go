package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"signalbot/src/config"
	"signalbot/src/database"
	"signalbot/src/metrics"
	"signalbot/src/pipeline"
	"signalbot/src/server"
	"signalbot/src/storage"
	"signalbot/src/tracker"
	"signalbot/src/version"
)

const expirySweepInterval = time.Minute

func main() {
	logLevel := os.Getenv("LOG_LEVEL")
	initializeLogging(logLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalbotConfig, err := config.Load()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	if logLevel == "" {
		initializeLogging(signalbotConfig.LogLevel)
	}
	slog.Info("Ramping up Signalbot", "build", version.GetBuildInfo())

	db, err := database.NewBuiltDatabase(signalbotConfig.StorageConfig, signalbotConfig.DatabaseConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		slog.Error("Failed to migrate database", "error", err)
		os.Exit(1)
	}

	metricsWriter, err := metrics.BuildMetricsWriter(&signalbotConfig.MetricsWriterConfig, db)
	if err != nil {
		slog.Error("Failed to build metrics writer", "error", err)
		os.Exit(1)
	}
	defer metricsWriter.Close()

	artifacts, err := storage.NewArtifactStore(ctx, signalbotConfig.ArtifactConfig)
	if err != nil {
		slog.Error("Failed to open artifact store", "error", err)
		os.Exit(1)
	}
	if artifacts != nil {
		defer artifacts.Close()
	}

	components, err := pipeline.BuildPipelineFromConfig(ctx, signalbotConfig, db, metricsWriter, artifacts)
	if err != nil {
		slog.Error("Failed to build pipeline", "error", err)
		os.Exit(1)
	}
	models, scheduler := components.Models, components.Scheduler
	if err := models.ListenForPromotions(ctx); err != nil {
		slog.Warn("Promotions from other processes will not be picked up", "error", err)
	}
	if scheduler != nil {
		if err := scheduler.Start(ctx); err != nil {
			slog.Error("Failed to start retraining scheduler", "error", err)
			os.Exit(1)
		}
	}

	go sweepExpiredSignals(ctx, components.Tracker)

	srv := server.NewServer(signalbotConfig.ServerConfig).
		WithPipeline(components.Pipeline).
		WithMetricsWriter(metricsWriter.WebsocketWriter())

	go func() {
		if err := srv.Start(ctx); err != nil {
			slog.Error("Server failed", "error", err)
			cancel()
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	slog.Info("Shutting down...")
	cancel()
	if scheduler != nil {
		scheduler.Stop()
	}
	closeCtx, closeCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer closeCancel()
	if err := models.Close(closeCtx); err != nil {
		slog.Warn("Model registry did not close cleanly", "error", err)
	}
}

// sweepExpiredSignals resolves open signals whose horizon passed without a price update.
func sweepExpiredSignals(ctx context.Context, outcomes *tracker.OutcomeTracker) {
	ticker := time.NewTicker(expirySweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			expired, err := outcomes.ExpireStale(ctx, now)
			if err != nil {
				slog.Warn("Failed to expire stale signals", "error", err)
				continue
			}
			if expired > 0 {
				slog.Info("Expired stale signals", "count", expired)
			}
		}
	}
}

func initializeLogging(logLevel string) {
	switch strings.ToLower(logLevel) {
	case "debug":
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout,
			&slog.HandlerOptions{Level: slog.LevelDebug, AddSource: true})))
	case "warn":
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout,
			&slog.HandlerOptions{Level: slog.LevelWarn})))
	default:
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout,
			&slog.HandlerOptions{Level: slog.LevelInfo})))
	}
}
