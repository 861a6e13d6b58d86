// Package pipeline is the query and mutation surface of the signal pipeline:
// signal generation, outcome recording, backtests and live statistics.
package pipeline

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"signalbot/src/backtest"
	"signalbot/src/database"
	"signalbot/src/datamodels"
	"signalbot/src/feeds"
	"signalbot/src/performance"
	"signalbot/src/registry"
	"signalbot/src/retraining"
	"signalbot/src/strategies"
	"signalbot/src/tracker"
	"signalbot/src/utils/errors"
)

// ModelStore resolves the model a backtest is frozen on. *registry.ModelRegistry satisfies it.
type ModelStore interface {
	Current() (*registry.PromotedModel, error)
	Load(ctx context.Context, id int64) (*registry.PromotedModel, error)
}

type Pipeline struct {
	defaultRisk datamodels.RiskConfig
	strategies  []datamodels.StrategyConfig
	engine      *strategies.SignalEngine
	tracker     *tracker.OutcomeTracker
	backtests   *backtest.BacktestEngine
	bars        feeds.BarSupplier
	models      ModelStore
	signals     database.SignalDb
	scheduler   *retraining.RetrainingScheduler
}

type PipelineBuilder struct {
	pipeline *Pipeline
}

func NewPipeline() *PipelineBuilder {
	return &PipelineBuilder{
		pipeline: &Pipeline{
			defaultRisk: datamodels.RiskConfig{MinConfidence: 0.6, RiskRewardMultiple: 2, CooldownSeconds: 300},
		},
	}
}

// WithConfig takes the default risk and the backtest strategies from config.
func (b *PipelineBuilder) WithConfig(config *datamodels.SignalbotConfig) *PipelineBuilder {
	b.pipeline.defaultRisk = config.DefaultRisk
	b.pipeline.strategies = config.Strategies
	return b
}

func (b *PipelineBuilder) WithSignalEngine(engine *strategies.SignalEngine) *PipelineBuilder {
	b.pipeline.engine = engine
	return b
}

func (b *PipelineBuilder) WithOutcomeTracker(t *tracker.OutcomeTracker) *PipelineBuilder {
	b.pipeline.tracker = t
	return b
}

func (b *PipelineBuilder) WithBacktestEngine(engine *backtest.BacktestEngine) *PipelineBuilder {
	b.pipeline.backtests = engine
	return b
}

func (b *PipelineBuilder) WithBarSupplier(bars feeds.BarSupplier) *PipelineBuilder {
	b.pipeline.bars = bars
	return b
}

func (b *PipelineBuilder) WithModels(models ModelStore) *PipelineBuilder {
	b.pipeline.models = models
	return b
}

func (b *PipelineBuilder) WithSignalStore(signals database.SignalDb) *PipelineBuilder {
	b.pipeline.signals = signals
	return b
}

func (b *PipelineBuilder) WithScheduler(scheduler *retraining.RetrainingScheduler) *PipelineBuilder {
	b.pipeline.scheduler = scheduler
	return b
}

func (b *PipelineBuilder) Build() (*Pipeline, error) {
	p := b.pipeline
	switch {
	case p.engine == nil:
		return nil, errors.New("pipeline needs a signal engine")
	case p.tracker == nil:
		return nil, errors.New("pipeline needs an outcome tracker")
	case p.backtests == nil:
		return nil, errors.New("pipeline needs a backtest engine")
	case p.bars == nil:
		return nil, errors.New("pipeline needs a bar supplier")
	case p.models == nil:
		return nil, errors.New("pipeline needs a model store")
	case p.signals == nil:
		return nil, errors.New("pipeline needs a signal store")
	}
	if err := p.defaultRisk.Validate(); err != nil {
		return nil, errors.Wrap(err, "default risk")
	}
	return p, nil
}

// GenerateSignal returns nil, nil when no signal is warranted. A nil risk uses the configured default.
func (p *Pipeline) GenerateSignal(ctx context.Context, symbol, timeframe string, risk *datamodels.RiskConfig) (*datamodels.Signal, error) {
	r := p.defaultRisk
	if risk != nil {
		r = *risk
	}
	return p.engine.GenerateSignal(ctx, symbol, timeframe, r)
}

// RecordOutcome resolves a signal and returns it in its terminal state.
func (p *Pipeline) RecordOutcome(ctx context.Context, signalId string, price float64, at time.Time) (*datamodels.Signal, error) {
	if _, err := p.tracker.RecordOutcome(ctx, signalId, price, at); err != nil {
		return nil, err
	}
	return p.signals.GetSignal(ctx, signalId)
}

// RunBacktest replays the configured strategy over bars in [start, end).
func (p *Pipeline) RunBacktest(ctx context.Context, strategyId string, start, end time.Time) (*backtest.BacktestReport, error) {
	strategy, err := p.strategy(strategyId)
	if err != nil {
		return nil, err
	}
	if !end.After(start) {
		return nil, errors.Newf("backtest range end %s is not after start %s", end, start)
	}
	risk := strategy.Risk
	if risk == (datamodels.RiskConfig{}) {
		risk = p.defaultRisk
	}

	frozen, err := p.freeze(ctx, strategy)
	if err != nil {
		return nil, err
	}
	bars, err := p.bars.GetBarsInRange(ctx, strategy.Symbol, strategy.Timeframe, start, end)
	if err != nil {
		return nil, errors.Wrapf(err, "load bars for %s", strategyId)
	}
	slog.Info("Running backtest",
		"strategy", strategyId,
		"symbol", strategy.Symbol,
		"timeframe", strategy.Timeframe,
		"bars", len(bars),
		"model_version", frozen.Version.Id)
	return p.backtests.Run(ctx, strategyId, risk, bars, frozen)
}

func (p *Pipeline) strategy(id string) (datamodels.StrategyConfig, error) {
	for _, strategy := range p.strategies {
		if strategy.Id == id {
			return strategy, nil
		}
	}
	return datamodels.StrategyConfig{}, errors.Wrapf(datamodels.ErrUnknownStrategy, "%s", id)
}

// freeze pins the pinned version when the strategy names one, else the promoted snapshot.
func (p *Pipeline) freeze(ctx context.Context, strategy datamodels.StrategyConfig) (*registry.PromotedModel, error) {
	if strategy.ModelVersion > 0 {
		return p.models.Load(ctx, strategy.ModelVersion)
	}
	return p.models.Current()
}

// GetStats summarizes live signals resolved in [from, to). Expired signals
// count as trades at their resolution price.
func (p *Pipeline) GetStats(ctx context.Context, from, to time.Time) (datamodels.PerformanceSummary, error) {
	if !to.After(from) {
		return datamodels.PerformanceSummary{}, errors.Newf("stats period end %s is not after start %s", to, from)
	}
	resolved, err := p.signals.ListSignals(ctx, database.SignalFilter{
		Statuses: []datamodels.SignalStatus{
			datamodels.SignalStatusClosedWin,
			datamodels.SignalStatusClosedLoss,
			datamodels.SignalStatusExpired,
		},
		ResolvedFrom: &from,
		ResolvedTo:   &to,
	})
	if err != nil {
		return datamodels.PerformanceSummary{}, err
	}
	returns := make([]performance.TradeReturn, 0, len(resolved))
	for i := range resolved {
		signal := &resolved[i]
		if !signal.Status.IsTerminal() || signal.ResolvedAt == nil || signal.ResolutionPrice == nil {
			continue
		}
		returns = append(returns, performance.TradeReturn{
			Time:    *signal.ResolvedAt,
			Return:  signal.ReturnAt(*signal.ResolutionPrice),
			Outcome: signal.Status,
		})
	}
	sort.SliceStable(returns, func(i, j int) bool {
		return returns[i].Time.Before(returns[j].Time)
	})
	return performance.Summarize(returns, performance.Options{}), nil
}

// RetrainingHistory is empty when retraining is disabled.
func (p *Pipeline) RetrainingHistory() []retraining.CycleReport {
	if p.scheduler == nil {
		return nil
	}
	return p.scheduler.History()
}
