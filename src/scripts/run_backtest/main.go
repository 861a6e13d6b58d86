package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"signalbot/src/config"
	"signalbot/src/database"
	"signalbot/src/pipeline"
	"signalbot/src/storage"
)

// Replays one configured strategy over [start, end) and prints the report as json.
// Set backtest.plot_dir in the config to also get an equity curve png.
func main() {
	if len(os.Args) != 5 {
		slog.Error("Usage: run_backtest <config_path> <strategy_id> <start RFC3339> <end RFC3339>")
		os.Exit(1)
	}
	configFilePath, strategyId := os.Args[1], os.Args[2]
	start, err := time.Parse(time.RFC3339, os.Args[3])
	if err != nil {
		slog.Error("Invalid start", "error", err)
		os.Exit(1)
	}
	end, err := time.Parse(time.RFC3339, os.Args[4])
	if err != nil {
		slog.Error("Invalid end", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("Using config file", "path", configFilePath)
	signalbotConfig, err := config.LoadFromPath(configFilePath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	// a backtest never trains
	signalbotConfig.RetrainingConfig.Enabled = false

	db, err := database.NewBuiltDatabase(signalbotConfig.StorageConfig, signalbotConfig.DatabaseConfig)
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		slog.Error("Failed to migrate database", "error", err)
		os.Exit(1)
	}

	artifacts, err := storage.NewArtifactStore(ctx, signalbotConfig.ArtifactConfig)
	if err != nil {
		slog.Error("Failed to open artifact store", "error", err)
		os.Exit(1)
	}
	if artifacts != nil {
		defer artifacts.Close()
	}

	components, err := pipeline.BuildPipelineFromConfig(ctx, signalbotConfig, db, nil, artifacts)
	if err != nil {
		slog.Error("Failed to build pipeline", "error", err)
		os.Exit(1)
	}

	report, err := components.Pipeline.RunBacktest(ctx, strategyId, start, end)
	if err != nil {
		slog.Error("Backtest failed", "strategy", strategyId, "error", err)
		os.Exit(1)
	}

	slog.Info("Backtest complete",
		"strategy", strategyId,
		"trades", report.Result.TotalTrades,
		"win_rate", report.Result.WinRate,
		"total_return", report.Result.TotalReturn,
		"max_drawdown", report.Result.MaxDrawdown,
		"plot", report.PlotPath)

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		slog.Error("Failed to write report", "error", err)
		os.Exit(1)
	}
}
