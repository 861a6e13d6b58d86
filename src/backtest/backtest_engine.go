// Package backtest replays historical bars through the live feature builder,
// a frozen model and the live risk levels to measure how a strategy would have
// performed.
package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"signalbot/src/database"
	"signalbot/src/datamodels"
	"signalbot/src/features"
	"signalbot/src/metrics"
	"signalbot/src/performance"
	"signalbot/src/registry"
	"signalbot/src/strategies"
	"signalbot/src/tracker"
	"signalbot/src/utils/errors"
)

type BacktestReport struct {
	Result   datamodels.BacktestResult  `json:"result"`
	Trades   []datamodels.BacktestTrade `json:"trades"`
	Equity   []datamodels.EquityPoint   `json:"equity"`
	PlotPath string                     `json:"plot_path,omitempty"`
}

type BacktestEngine struct {
	name           string
	db             database.BacktestResultDb
	featureBuilder *features.FeatureBuilder
	config         datamodels.BacktestConfig
	levels         strategies.LevelConfig
	atrPeriod      int
	clock          func() time.Time
	metricsWriter  metrics.MetricsWriter
}

type BacktestEngineBuilder struct {
	engine *BacktestEngine
}

// NewBacktestEngine builds an engine that persists results to db. A nil db
// keeps results in the returned report only.
func NewBacktestEngine(db database.BacktestResultDb) *BacktestEngineBuilder {
	return &BacktestEngineBuilder{
		engine: &BacktestEngine{
			name:      "backtest_engine",
			db:        db,
			config:    datamodels.BacktestConfig{ExpiryBars: 390},
			levels:    strategies.LevelConfig{StopAtrMultiple: 1.5, MinStopPct: 0.005},
			atrPeriod: 14,
			clock:     time.Now,
		},
	}
}

func (b *BacktestEngineBuilder) WithConfig(config datamodels.BacktestConfig) *BacktestEngineBuilder {
	b.engine.config = config
	return b
}

// WithSignalEngineConfig shares stop sizing with live signal generation.
func (b *BacktestEngineBuilder) WithSignalEngineConfig(config datamodels.SignalEngineConfig) *BacktestEngineBuilder {
	b.engine.levels = strategies.LevelConfigFrom(config)
	if config.AtrPeriod > 0 {
		b.engine.atrPeriod = config.AtrPeriod
	}
	return b
}

func (b *BacktestEngineBuilder) WithFeatureBuilder(fb *features.FeatureBuilder) *BacktestEngineBuilder {
	b.engine.featureBuilder = fb
	return b
}

func (b *BacktestEngineBuilder) WithClock(clock func() time.Time) *BacktestEngineBuilder {
	b.engine.clock = clock
	return b
}

func (b *BacktestEngineBuilder) WithMetricsWriter(writer metrics.MetricsWriter) *BacktestEngineBuilder {
	b.engine.metricsWriter = writer
	return b
}

func (b *BacktestEngineBuilder) Build() (*BacktestEngine, error) {
	e := b.engine
	if e.featureBuilder == nil {
		fb, err := features.NewFeatureBuilder(features.SchemaV1)
		if err != nil {
			return nil, err
		}
		e.featureBuilder = fb
	}
	if e.config.ExpiryBars <= 0 {
		return nil, errors.Newf("expiry bars must be positive, got %d", e.config.ExpiryBars)
	}
	if e.config.CommissionPct < 0 || e.config.SlippagePct < 0 {
		return nil, errors.New("commission and slippage must not be negative")
	}
	return e, nil
}

// position is the single trade open during replay.
type position struct {
	signal   datamodels.Signal
	openedAt int
}

// Run replays bars with the frozen model. Bars must share one symbol and
// timeframe and be in strictly increasing time order. The model is never
// trained during replay.
func (e *BacktestEngine) Run(
	ctx context.Context,
	strategyId string,
	risk datamodels.RiskConfig,
	bars []datamodels.Bar,
	frozen *registry.PromotedModel) (*BacktestReport, error) {

	if frozen == nil || frozen.Model == nil {
		return nil, errors.New("backtest needs a frozen model")
	}
	if frozen.Model.SchemaVersion() != e.featureBuilder.SchemaVersion() {
		return nil, errors.Newf("model schema %d does not match feature schema %d",
			frozen.Model.SchemaVersion(), e.featureBuilder.SchemaVersion())
	}
	if err := risk.Validate(); err != nil {
		return nil, err
	}
	if err := validateSeries(bars); err != nil {
		return nil, err
	}

	result := datamodels.BacktestResult{
		Id:           uuid.NewString(),
		StrategyId:   strategyId,
		ModelVersion: frozen.Version.Id,
		CreatedAt:    e.clock(),
	}
	if len(bars) > 0 {
		result.Symbol = bars[0].Symbol
		result.Timeframe = bars[0].Timeframe
		result.PeriodStart = bars[0].Timestamp
		result.PeriodEnd = bars[len(bars)-1].Timestamp
	}

	trades, err := e.replay(ctx, result.Symbol, result.Timeframe, risk, bars, frozen)
	if err != nil {
		return nil, err
	}

	returns := make([]performance.TradeReturn, len(trades))
	for i, trade := range trades {
		returns[i] = performance.TradeReturn{Time: trade.ExitTime, Return: trade.Return, Outcome: trade.Outcome}
	}
	summary := performance.Summarize(returns, performance.Options{
		TradesPerYear: performance.TradesPerYear(len(trades), len(bars), e.config.BarsPerYear),
		StartTime:     result.PeriodStart,
	})
	result.WinRate = summary.WinRate
	result.SharpeRatio = summary.SharpeRatio
	result.MaxDrawdown = summary.MaxDrawdown
	result.TotalTrades = summary.TotalTrades
	result.Wins = summary.Wins
	result.Losses = summary.Losses
	result.Expired = summary.Expired
	result.TotalReturn = summary.TotalReturn
	result.ProfitFactor = summary.ProfitFactor
	result.AvgTradeReturn = summary.AvgReturn

	report := &BacktestReport{Result: result, Trades: trades, Equity: summary.Equity}
	if e.db != nil {
		if err := e.db.SaveBacktestResult(ctx, &report.Result); err != nil {
			return nil, errors.Wrap(err, "persist backtest result")
		}
	}
	if e.config.PlotDir != "" && len(trades) > 0 {
		plotPath := filepath.Join(e.config.PlotDir, fmt.Sprintf("%s_%s.png", strategyId, result.Id))
		title := fmt.Sprintf("%s %s %s (model v%d)", strategyId, result.Symbol, result.Timeframe, result.ModelVersion)
		if err := metrics.PlotEquityCurve(plotPath, title, summary.Equity, trades); err != nil {
			slog.Warn("Failed to plot backtest equity", "strategy", strategyId, "error", err)
		} else {
			report.PlotPath = plotPath
		}
	}

	metrics.BacktestsRun.WithLabelValues(strategyId).Inc()
	metrics.Emit(ctx, e.metricsWriter, e.name, datamodels.MetricGeneratorTypeBacktest, "backtest_result", result.CreatedAt, result)
	slog.Info("Backtest finished",
		"strategy", strategyId,
		"symbol", result.Symbol,
		"bars", len(bars),
		"trades", result.TotalTrades,
		"win_rate", result.WinRate,
		"max_drawdown", result.MaxDrawdown,
		"model_version", result.ModelVersion)
	return report, nil
}

func (e *BacktestEngine) replay(
	ctx context.Context,
	symbol, timeframe string,
	risk datamodels.RiskConfig,
	bars []datamodels.Bar,
	frozen *registry.PromotedModel) ([]datamodels.BacktestTrade, error) {

	n := e.featureBuilder.WindowSize()
	var trades []datamodels.BacktestTrade
	var open *position
	var lastEmission time.Time
	emitted := false

	for i := range bars {
		if i%1000 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		bar := bars[i]

		if open != nil && i > open.openedAt {
			if status, exitPrice, ok := tracker.EvaluateBar(&open.signal, bar); ok {
				trades = append(trades, e.closeTrade(open, bar.Timestamp, exitPrice, status))
				open = nil
			} else if i-open.openedAt >= e.config.ExpiryBars {
				trades = append(trades, e.closeTrade(open, bar.Timestamp, bar.Close, datamodels.SignalStatusExpired))
				open = nil
			}
		}

		if open != nil || i < n-1 {
			continue
		}
		if emitted && bar.Timestamp.Sub(lastEmission) < risk.Cooldown() {
			continue
		}

		window := bars[i-n+1 : i+1]
		fv, err := e.featureBuilder.Build(symbol, timeframe, window)
		if err != nil {
			return nil, err
		}
		if fv.Flat {
			continue
		}
		side, confidence := frozen.Model.Score(fv)
		if side == datamodels.DirectionFlat || confidence < risk.MinConfidence {
			continue
		}
		atr := features.AverageTrueRange(window, e.atrPeriod)
		stopLoss, takeProfit, err := strategies.ComputeRiskLevels(side, bar.Close, atr, risk, e.levels)
		if err != nil {
			return nil, err
		}
		open = &position{
			signal: datamodels.Signal{
				Symbol:          symbol,
				Timeframe:       timeframe,
				Side:            side,
				EntryPrice:      bar.Close,
				StopLoss:        stopLoss,
				TakeProfit:      takeProfit,
				ConfidenceScore: confidence,
				ModelVersion:    frozen.Version.Id,
				CreatedAt:       bar.Timestamp,
			},
			openedAt: i,
		}
		lastEmission = bar.Timestamp
		emitted = true
	}

	if open != nil {
		// the series ended first
		last := bars[len(bars)-1]
		trades = append(trades, e.closeTrade(open, last.Timestamp, last.Close, datamodels.SignalStatusExpired))
	}
	return trades, nil
}

func (e *BacktestEngine) closeTrade(open *position, at time.Time, exitPrice float64, status datamodels.SignalStatus) datamodels.BacktestTrade {
	signal := &open.signal
	return datamodels.BacktestTrade{
		Side:       signal.Side,
		EntryTime:  signal.CreatedAt,
		EntryPrice: signal.EntryPrice,
		ExitTime:   at,
		ExitPrice:  exitPrice,
		StopLoss:   signal.StopLoss,
		TakeProfit: signal.TakeProfit,
		Confidence: signal.ConfidenceScore,
		Outcome:    status,
		Return:     e.tradeReturn(signal.Side, signal.EntryPrice, exitPrice),
	}
}

// tradeReturn fills entry and exit with adverse slippage and pays commission on both sides.
func (e *BacktestEngine) tradeReturn(side datamodels.Direction, entry, exit float64) float64 {
	slip := e.config.SlippagePct
	var r float64
	if side == datamodels.DirectionShort {
		entryFill, exitFill := entry*(1-slip), exit*(1+slip)
		r = (entryFill - exitFill) / entryFill
	} else {
		entryFill, exitFill := entry*(1+slip), exit*(1-slip)
		r = (exitFill - entryFill) / entryFill
	}
	return r - 2*e.config.CommissionPct
}

func validateSeries(bars []datamodels.Bar) error {
	for i := 1; i < len(bars); i++ {
		if bars[i].Symbol != bars[0].Symbol || bars[i].Timeframe != bars[0].Timeframe {
			return errors.Wrapf(datamodels.ErrInvalidWindow, "bar %d is %s %s, series is %s %s",
				i, bars[i].Symbol, bars[i].Timeframe, bars[0].Symbol, bars[0].Timeframe)
		}
		if !bars[i].Timestamp.After(bars[i-1].Timestamp) {
			return errors.Wrapf(datamodels.ErrInvalidWindow, "bar %d at %s is not after %s",
				i, bars[i].Timestamp, bars[i-1].Timestamp)
		}
	}
	return nil
}
