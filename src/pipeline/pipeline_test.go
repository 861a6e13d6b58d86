package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"signalbot/src/backtest"
	"signalbot/src/database"
	"signalbot/src/datamodels"
	"signalbot/src/feeds"
	"signalbot/src/registry"
	"signalbot/src/strategies"
	"signalbot/src/tracker"
	"signalbot/src/utils/testutil"
)

type PipelineTestSuite struct {
	suite.Suite
	ctx      context.Context
	db       *database.MemoryDatabase
	pipeline *Pipeline
	mu       sync.Mutex
	now      time.Time
}

func TestPipelineSuite(t *testing.T) {
	suite.Run(t, new(PipelineTestSuite))
}

func (s *PipelineTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.db = database.NewMemoryDatabase()
	s.now = testutil.SessionStart.Add(4 * time.Hour)

	models := registry.NewModelRegistry(s.db)
	s.Require().NoError(models.Initialize(s.ctx))
	supplier := feeds.NewStaticBarSupplier(testutil.TrendBars("UP", 200, 100, 0.5)...)

	engine, err := strategies.NewSignalEngine(supplier, models, s.db).WithClock(s.clock).Build()
	s.Require().NoError(err)
	backtests, err := backtest.NewBacktestEngine(s.db).Build()
	s.Require().NoError(err)

	config := &datamodels.SignalbotConfig{
		DefaultRisk: datamodels.RiskConfig{MinConfidence: 0.6, RiskRewardMultiple: 2, CooldownSeconds: 300},
		Strategies: []datamodels.StrategyConfig{
			{Id: "up_1m", Symbol: "UP", Timeframe: "1m"},
			{Id: "pinned", Symbol: "UP", Timeframe: "1m", ModelVersion: 1},
			{Id: "missing_model", Symbol: "UP", Timeframe: "1m", ModelVersion: 99},
		},
	}
	s.pipeline, err = NewPipeline().
		WithConfig(config).
		WithSignalEngine(engine).
		WithOutcomeTracker(tracker.NewOutcomeTracker(s.db)).
		WithBacktestEngine(backtests).
		WithBarSupplier(supplier).
		WithModels(models).
		WithSignalStore(s.db).
		Build()
	s.Require().NoError(err)
}

func (s *PipelineTestSuite) clock() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *PipelineTestSuite) noCooldown() *datamodels.RiskConfig {
	return &datamodels.RiskConfig{MinConfidence: 0.6, RiskRewardMultiple: 2, CooldownSeconds: 0}
}

func (s *PipelineTestSuite) TestBuildRequiresComponents() {
	_, err := NewPipeline().Build()
	s.Error(err)
}

func (s *PipelineTestSuite) TestGenerateSignalDefaultsRisk() {
	signal, err := s.pipeline.GenerateSignal(s.ctx, "UP", "1m", nil)
	s.Require().NoError(err)
	s.Require().NotNil(signal)
	s.Equal(datamodels.DirectionLong, signal.Side)
	s.InDelta(signal.EntryPrice+2*(signal.EntryPrice-signal.StopLoss), signal.TakeProfit, 1e-9)

	// default cooldown of 300s
	again, err := s.pipeline.GenerateSignal(s.ctx, "UP", "1m", nil)
	s.Require().NoError(err)
	s.Nil(again)

	explicit, err := s.pipeline.GenerateSignal(s.ctx, "UP", "1m", s.noCooldown())
	s.Require().NoError(err)
	s.NotNil(explicit)
}

func (s *PipelineTestSuite) TestRecordOutcome() {
	signal, err := s.pipeline.GenerateSignal(s.ctx, "UP", "1m", nil)
	s.Require().NoError(err)
	s.Require().NotNil(signal)

	resolved, err := s.pipeline.RecordOutcome(s.ctx, signal.Id, signal.TakeProfit+0.01, s.now.Add(time.Minute))
	s.Require().NoError(err)
	s.Equal(datamodels.SignalStatusClosedWin, resolved.Status)

	_, err = s.pipeline.RecordOutcome(s.ctx, signal.Id, signal.StopLoss, s.now.Add(2*time.Minute))
	s.ErrorIs(err, datamodels.ErrAlreadyResolved)

	_, err = s.pipeline.RecordOutcome(s.ctx, uuid.NewString(), 100, s.now)
	s.ErrorIs(err, datamodels.ErrSignalNotFound)
}

func (s *PipelineTestSuite) TestGetStats() {
	var signals []*datamodels.Signal
	for i := 0; i < 3; i++ {
		signal, err := s.pipeline.GenerateSignal(s.ctx, "UP", "1m", s.noCooldown())
		s.Require().NoError(err)
		s.Require().NotNil(signal)
		signals = append(signals, signal)
	}
	win, loss, expired := signals[0], signals[1], signals[2]

	_, err := s.pipeline.RecordOutcome(s.ctx, win.Id, win.TakeProfit, s.now.Add(time.Minute))
	s.Require().NoError(err)
	_, err = s.pipeline.RecordOutcome(s.ctx, loss.Id, loss.StopLoss, s.now.Add(2*time.Minute))
	s.Require().NoError(err)
	_, err = s.pipeline.RecordOutcome(s.ctx, expired.Id, expired.EntryPrice, expired.ExpiresAt.Add(time.Hour))
	s.Require().NoError(err)

	stats, err := s.pipeline.GetStats(s.ctx, s.now, s.now.Add(48*time.Hour))
	s.Require().NoError(err)
	s.Equal(3, stats.TotalTrades)
	s.Equal(1, stats.Wins)
	s.Equal(1, stats.Losses)
	s.Equal(1, stats.Expired)
	s.InDelta(1.0/3, stats.WinRate, 1e-12)
	s.NotNil(stats.SharpeRatio)

	winReturn := win.ReturnAt(win.TakeProfit)
	lossReturn := loss.ReturnAt(loss.StopLoss)
	peak := 1 + winReturn
	s.InDelta((peak-peak*(1+lossReturn))/peak, stats.MaxDrawdown, 1e-12)

	// only the first two resolved in the first hour
	early, err := s.pipeline.GetStats(s.ctx, s.now, s.now.Add(time.Hour))
	s.Require().NoError(err)
	s.Equal(2, early.TotalTrades)

	_, err = s.pipeline.GetStats(s.ctx, s.now, s.now)
	s.Error(err)
}

func (s *PipelineTestSuite) TestGetStatsEmpty() {
	stats, err := s.pipeline.GetStats(s.ctx, s.now, s.now.Add(time.Hour))
	s.Require().NoError(err)
	s.Zero(stats.TotalTrades)
	s.Nil(stats.SharpeRatio)
}

func (s *PipelineTestSuite) TestRunBacktest() {
	start, end := testutil.SessionStart, testutil.SessionStart.Add(200*time.Minute)

	report, err := s.pipeline.RunBacktest(s.ctx, "up_1m", start, end)
	s.Require().NoError(err)
	s.Greater(report.Result.TotalTrades, 0)
	s.Equal(int64(1), report.Result.ModelVersion)
	s.Equal("UP", report.Result.Symbol)

	stored, err := s.db.ListBacktestResults(s.ctx, "up_1m")
	s.Require().NoError(err)
	s.Len(stored, 1)

	pinned, err := s.pipeline.RunBacktest(s.ctx, "pinned", start, end)
	s.Require().NoError(err)
	s.Equal(int64(1), pinned.Result.ModelVersion)
	s.Equal(report.Result.TotalTrades, pinned.Result.TotalTrades)
}

func (s *PipelineTestSuite) TestRunBacktestErrors() {
	start, end := testutil.SessionStart, testutil.SessionStart.Add(200*time.Minute)

	_, err := s.pipeline.RunBacktest(s.ctx, "nope", start, end)
	s.ErrorIs(err, datamodels.ErrUnknownStrategy)

	_, err = s.pipeline.RunBacktest(s.ctx, "missing_model", start, end)
	s.ErrorIs(err, datamodels.ErrModelVersionNotFound)

	_, err = s.pipeline.RunBacktest(s.ctx, "up_1m", end, start)
	s.Error(err)
}

func (s *PipelineTestSuite) TestRetrainingHistoryWithoutScheduler() {
	s.Empty(s.pipeline.RetrainingHistory())
}
