package pipeline

import (
	"context"

	"signalbot/src/backtest"
	"signalbot/src/database"
	"signalbot/src/datamodels"
	"signalbot/src/features"
	"signalbot/src/feeds"
	"signalbot/src/metrics"
	"signalbot/src/registry"
	"signalbot/src/retraining"
	"signalbot/src/storage"
	"signalbot/src/strategies"
	"signalbot/src/tracker"
	"signalbot/src/utils/errors"
)

// Components are the long-lived parts a process has to start and stop around the pipeline.
type Components struct {
	Pipeline  *Pipeline
	Models    *registry.ModelRegistry
	Tracker   *tracker.OutcomeTracker
	Scheduler *retraining.RetrainingScheduler // nil when retraining is disabled
}

// BuildPipelineFromConfig wires every component named in config onto db.
// The registry is initialized; the scheduler is built but not started.
// writer and artifacts may be nil.
func BuildPipelineFromConfig(
	ctx context.Context,
	config *datamodels.SignalbotConfig,
	db database.PipelineDatabase,
	writer metrics.MetricsWriter,
	artifacts storage.ArtifactStore) (*Components, error) {

	if config == nil {
		return nil, errors.New("config is nil")
	}
	if db == nil {
		return nil, errors.New("database is nil")
	}

	schemaVersion := config.FeatureConfig.SchemaVersion
	featureBuilder, err := features.NewFeatureBuilder(schemaVersion)
	if err != nil {
		return nil, err
	}

	models := registry.NewModelRegistry(db).
		WithArtifactStore(artifacts).
		WithModelConfig(config.ModelConfig).
		WithSchemaVersion(schemaVersion)
	if err := models.Initialize(ctx); err != nil {
		return nil, errors.Wrap(err, "initialize model registry")
	}

	bars, err := feeds.NewBarSupplierFromConfig(config.MarketDataConfig, db)
	if err != nil {
		return nil, err
	}

	engine, err := strategies.NewSignalEngine(bars, models, db).
		WithConfig(config.SignalEngineConfig).
		WithFeatureBuilder(featureBuilder).
		WithMetricsWriter(writer).
		Build()
	if err != nil {
		return nil, errors.Wrap(err, "build signal engine")
	}

	outcomes := tracker.NewOutcomeTracker(db).WithMetricsWriter(writer)

	backtests, err := backtest.NewBacktestEngine(db).
		WithConfig(config.BacktestConfig).
		WithSignalEngineConfig(config.SignalEngineConfig).
		WithFeatureBuilder(featureBuilder).
		WithMetricsWriter(writer).
		Build()
	if err != nil {
		return nil, errors.Wrap(err, "build backtest engine")
	}

	builder := NewPipeline().
		WithConfig(config).
		WithSignalEngine(engine).
		WithOutcomeTracker(outcomes).
		WithBacktestEngine(backtests).
		WithBarSupplier(bars).
		WithModels(models).
		WithSignalStore(db)

	components := &Components{Models: models, Tracker: outcomes}
	if config.RetrainingConfig.Enabled {
		scheduler, err := retraining.NewRetrainingScheduler(db, db, models).
			WithConfig(config.RetrainingConfig).
			WithModelConfig(config.ModelConfig).
			WithSchemaVersion(schemaVersion).
			WithMetricsWriter(writer).
			Build()
		if err != nil {
			return nil, errors.Wrap(err, "build retraining scheduler")
		}
		builder = builder.WithScheduler(scheduler)
		components.Scheduler = scheduler
	}

	components.Pipeline, err = builder.Build()
	if err != nil {
		return nil, err
	}
	return components, nil
}
