package strategies

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"signalbot/src/database"
	"signalbot/src/datamodels"
	"signalbot/src/features"
	"signalbot/src/feeds"
	"signalbot/src/metrics"
	"signalbot/src/registry"
	"signalbot/src/utils/errors"
	"signalbot/src/utils/general"
)

// ModelSource yields the model to score with. *registry.ModelRegistry satisfies it.
type ModelSource interface {
	Current() (*registry.PromotedModel, error)
}

type SignalEngine struct {
	name           string
	bars           feeds.BarSupplier
	models         ModelSource
	db             database.SignalDb
	featureBuilder *features.FeatureBuilder
	config         datamodels.SignalEngineConfig
	locks          *general.KeyedMutex
	cooldownMu     sync.Mutex
	lastSignal     map[string]time.Time
	clock          func() time.Time
	metricsWriter  metrics.MetricsWriter
}

type SignalEngineBuilder struct {
	engine *SignalEngine
}

func NewSignalEngine(bars feeds.BarSupplier, models ModelSource, db database.SignalDb) *SignalEngineBuilder {
	return &SignalEngineBuilder{
		engine: &SignalEngine{
			name:       "signal_engine",
			bars:       bars,
			models:     models,
			db:         db,
			locks:      general.NewKeyedMutex(),
			lastSignal: make(map[string]time.Time),
			clock:      time.Now,
			config: datamodels.SignalEngineConfig{
				BarTimeout:      2 * time.Second,
				ExpiryHorizon:   24 * time.Hour,
				StopAtrMultiple: 1.5,
				MinStopPct:      0.005,
				AtrPeriod:       14,
			},
		},
	}
}

func (b *SignalEngineBuilder) WithConfig(config datamodels.SignalEngineConfig) *SignalEngineBuilder {
	b.engine.config = config
	return b
}

func (b *SignalEngineBuilder) WithFeatureBuilder(fb *features.FeatureBuilder) *SignalEngineBuilder {
	b.engine.featureBuilder = fb
	return b
}

func (b *SignalEngineBuilder) WithClock(clock func() time.Time) *SignalEngineBuilder {
	b.engine.clock = clock
	return b
}

func (b *SignalEngineBuilder) WithMetricsWriter(writer metrics.MetricsWriter) *SignalEngineBuilder {
	b.engine.metricsWriter = writer
	return b
}

func (b *SignalEngineBuilder) Build() (*SignalEngine, error) {
	e := b.engine
	if e.bars == nil || e.models == nil || e.db == nil {
		return nil, errors.New("signal engine needs a bar supplier, a model source and a signal store")
	}
	if e.featureBuilder == nil {
		fb, err := features.NewFeatureBuilder(features.SchemaV1)
		if err != nil {
			return nil, err
		}
		e.featureBuilder = fb
	}
	if e.config.BarTimeout <= 0 {
		return nil, errors.New("bar timeout must be positive")
	}
	if e.config.AtrPeriod <= 0 {
		e.config.AtrPeriod = 14
	}
	return e, nil
}

func signalKey(symbol, timeframe string) string {
	return symbol + "|" + timeframe
}

// GenerateSignal returns nil, nil whenever no signal is warranted: cooldown,
// bar timeout, a FLAT score or a confidence below risk.MinConfidence.
// Calls for the same symbol and timeframe are serialized.
func (e *SignalEngine) GenerateSignal(ctx context.Context, symbol, timeframe string, risk datamodels.RiskConfig) (*datamodels.Signal, error) {
	if err := risk.Validate(); err != nil {
		return nil, err
	}

	key := signalKey(symbol, timeframe)
	unlock := e.locks.Lock(key)
	defer unlock()

	now := e.clock()
	if e.inCooldown(key, now, risk.Cooldown()) {
		e.suppressed(symbol, timeframe, "cooldown")
		return nil, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, e.config.BarTimeout)
	bars, err := e.bars.GetLatestBars(fetchCtx, symbol, timeframe, e.featureBuilder.WindowSize())
	timedOut := fetchCtx.Err() != nil && ctx.Err() == nil
	cancel()
	if timedOut {
		slog.Warn("Bar fetch timed out, no signal", "symbol", symbol, "timeframe", timeframe, "timeout", e.config.BarTimeout)
		e.suppressed(symbol, timeframe, "timeout")
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "fetch bars %s %s", symbol, timeframe)
	}

	fv, err := e.featureBuilder.Build(symbol, timeframe, bars)
	if err != nil {
		return nil, err
	}

	if fv.Flat {
		e.suppressed(symbol, timeframe, "flat")
		return nil, nil
	}

	promoted, err := e.models.Current()
	if err != nil {
		return nil, err
	}
	side, confidence := promoted.Model.Score(fv)
	if side == datamodels.DirectionFlat {
		e.suppressed(symbol, timeframe, "flat")
		return nil, nil
	}
	if confidence < risk.MinConfidence {
		slog.Debug("Confidence below threshold", "symbol", symbol, "confidence", confidence, "min", risk.MinConfidence)
		e.suppressed(symbol, timeframe, "low_confidence")
		return nil, nil
	}

	last := bars[len(bars)-1]
	atr := features.AverageTrueRange(bars, e.config.AtrPeriod)
	stopLoss, takeProfit, err := ComputeRiskLevels(side, last.Close, atr, risk, LevelConfigFrom(e.config))
	if err != nil {
		return nil, err
	}

	signal := &datamodels.Signal{
		Id:              uuid.NewString(),
		Symbol:          symbol,
		Timeframe:       timeframe,
		Side:            side,
		EntryPrice:      last.Close,
		StopLoss:        stopLoss,
		TakeProfit:      takeProfit,
		ConfidenceScore: confidence,
		ModelVersion:    promoted.Version.Id,
		SchemaVersion:   fv.SchemaVersion,
		Features:        fv.Values,
		Status:          datamodels.SignalStatusOpen,
		CreatedAt:       now,
		ExpiresAt:       now.Add(e.config.ExpiryHorizon),
	}
	if err := e.db.SaveSignal(ctx, signal); err != nil {
		return nil, errors.Wrap(err, "persist signal")
	}

	e.cooldownMu.Lock()
	e.lastSignal[key] = now
	e.cooldownMu.Unlock()

	slog.Info("Signal emitted",
		"id", signal.Id,
		"symbol", symbol,
		"timeframe", timeframe,
		"side", side,
		"confidence", confidence,
		"entry", signal.EntryPrice,
		"stop", stopLoss,
		"target", takeProfit,
		"model_version", signal.ModelVersion)
	metrics.SignalsEmitted.WithLabelValues(symbol, timeframe, string(side)).Inc()
	metrics.Emit(ctx, e.metricsWriter, e.name, datamodels.MetricGeneratorTypeSignalEngine, "signal", now, signal)
	return signal, nil
}

func (e *SignalEngine) inCooldown(key string, now time.Time, cooldown time.Duration) bool {
	e.cooldownMu.Lock()
	defer e.cooldownMu.Unlock()
	last, ok := e.lastSignal[key]
	return ok && now.Sub(last) < cooldown
}

func (e *SignalEngine) suppressed(symbol, timeframe, reason string) {
	metrics.SignalsSuppressed.WithLabelValues(symbol, timeframe, reason).Inc()
}
