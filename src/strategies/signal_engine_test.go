//go:build unit

package strategies

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"signalbot/src/database"
	"signalbot/src/datamodels"
	"signalbot/src/feeds"
	"signalbot/src/registry"
	"signalbot/src/signalmodel"
	"signalbot/src/utils/testutil"
)

type SignalEngineTestSuite struct {
	suite.Suite
	ctx      context.Context
	cancel   context.CancelFunc
	db       *database.MemoryDatabase
	registry *registry.ModelRegistry
	supplier *feeds.StaticBarSupplier
	now      time.Time
	mu       sync.Mutex
	risk     datamodels.RiskConfig
}

func TestSignalEngineSuite(t *testing.T) {
	suite.Run(t, new(SignalEngineTestSuite))
}

func (s *SignalEngineTestSuite) SetupTest() {
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.db = database.NewMemoryDatabase()
	s.registry = registry.NewModelRegistry(s.db)
	s.Require().NoError(s.registry.Initialize(s.ctx))
	s.supplier = feeds.NewStaticBarSupplier(
		append(testutil.TrendBars("UP", 60, 150, 0.5), testutil.TrendBars("DOWN", 60, 150, -0.5)...)...)
	s.supplier.Add(testutil.FlatBars("FLAT", 60, 100)...)
	s.now = testutil.SessionStart.Add(2 * time.Hour)
	s.risk = datamodels.RiskConfig{MinConfidence: 0.6, RiskRewardMultiple: 2, CooldownSeconds: 300}
}

func (s *SignalEngineTestSuite) TearDownTest() {
	s.cancel()
}

func (s *SignalEngineTestSuite) clock() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *SignalEngineTestSuite) advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = s.now.Add(d)
}

func (s *SignalEngineTestSuite) engine(supplier feeds.BarSupplier, timeout time.Duration) *SignalEngine {
	engine, err := NewSignalEngine(supplier, s.registry, s.db).
		WithConfig(datamodels.SignalEngineConfig{
			BarTimeout:      timeout,
			ExpiryHorizon:   time.Hour,
			StopAtrMultiple: 1.5,
			MinStopPct:      0.005,
			AtrPeriod:       14,
		}).
		WithClock(s.clock).
		Build()
	s.Require().NoError(err)
	return engine
}

func (s *SignalEngineTestSuite) TestUptrendEmitsLong() {
	signal, err := s.engine(s.supplier, time.Second).GenerateSignal(s.ctx, "UP", "1m", s.risk)
	s.Require().NoError(err)
	s.Require().NotNil(signal)

	s.Equal(datamodels.DirectionLong, signal.Side)
	s.GreaterOrEqual(signal.ConfidenceScore, 0.6)
	s.InDelta(179.5, signal.EntryPrice, 1e-9)
	s.InDelta(178.6, signal.StopLoss, 1e-9)
	s.InDelta(181.3, signal.TakeProfit, 1e-9)
	s.Equal(datamodels.SignalStatusOpen, signal.Status)
	s.True(signal.ExpiresAt.Equal(s.now.Add(time.Hour)))
	s.Len(signal.Features, 10)

	current, err := s.registry.Current()
	s.Require().NoError(err)
	s.Equal(current.Version.Id, signal.ModelVersion)

	stored, err := s.db.GetSignal(s.ctx, signal.Id)
	s.Require().NoError(err)
	s.Equal(signal.Features, stored.Features)
}

func (s *SignalEngineTestSuite) TestDowntrendEmitsShort() {
	signal, err := s.engine(s.supplier, time.Second).GenerateSignal(s.ctx, "DOWN", "1m", s.risk)
	s.Require().NoError(err)
	s.Require().NotNil(signal)

	s.Equal(datamodels.DirectionShort, signal.Side)
	s.InDelta(120.5, signal.EntryPrice, 1e-9)
	s.InDelta(121.4, signal.StopLoss, 1e-9)
	s.InDelta(118.7, signal.TakeProfit, 1e-9)
}

func (s *SignalEngineTestSuite) TestCooldown() {
	engine := s.engine(s.supplier, time.Second)

	first, err := engine.GenerateSignal(s.ctx, "UP", "1m", s.risk)
	s.Require().NoError(err)
	s.Require().NotNil(first)

	s.advance(299 * time.Second)
	second, err := engine.GenerateSignal(s.ctx, "UP", "1m", s.risk)
	s.Require().NoError(err)
	s.Nil(second)

	// other keys are unaffected
	other, err := engine.GenerateSignal(s.ctx, "DOWN", "1m", s.risk)
	s.Require().NoError(err)
	s.NotNil(other)

	s.advance(time.Second)
	third, err := engine.GenerateSignal(s.ctx, "UP", "1m", s.risk)
	s.Require().NoError(err)
	s.NotNil(third)
}

func (s *SignalEngineTestSuite) TestConcurrentSameKeyYieldsOneSignal() {
	engine := s.engine(s.supplier, time.Second)

	var emitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			signal, err := engine.GenerateSignal(s.ctx, "UP", "1m", s.risk)
			s.NoError(err)
			if signal != nil {
				emitted.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(1), emitted.Load())

	stored, err := s.db.ListSignals(s.ctx, database.SignalFilter{Symbol: "UP"})
	s.Require().NoError(err)
	s.Len(stored, 1)
}

func (s *SignalEngineTestSuite) TestDifferentKeysDoNotBlock() {
	slow := feeds.NewStaticBarSupplier(
		append(testutil.TrendBars("UP", 60, 150, 0.5), testutil.TrendBars("DOWN", 60, 150, -0.5)...)...).
		WithDelay(200 * time.Millisecond)
	engine := s.engine(slow, 2*time.Second)

	started := time.Now()
	var wg sync.WaitGroup
	for _, symbol := range []string{"UP", "DOWN"} {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			signal, err := engine.GenerateSignal(s.ctx, symbol, "1m", s.risk)
			s.NoError(err)
			s.NotNil(signal)
		}(symbol)
	}
	wg.Wait()
	s.Less(time.Since(started), 390*time.Millisecond)
}

func (s *SignalEngineTestSuite) TestInsufficientHistory() {
	short := feeds.NewStaticBarSupplier(testutil.TrendBars("UP", 20, 150, 0.5)...)
	_, err := s.engine(short, time.Second).GenerateSignal(s.ctx, "UP", "1m", s.risk)
	s.ErrorIs(err, datamodels.ErrInsufficientHistory)
}

func (s *SignalEngineTestSuite) TestBarTimeoutYieldsNoSignal() {
	slow := feeds.NewStaticBarSupplier(testutil.TrendBars("UP", 60, 150, 0.5)...).WithDelay(time.Second)
	signal, err := s.engine(slow, 20*time.Millisecond).GenerateSignal(s.ctx, "UP", "1m", s.risk)
	s.NoError(err)
	s.Nil(signal)
}

func (s *SignalEngineTestSuite) TestFlatMarketYieldsNoSignal() {
	signal, err := s.engine(s.supplier, time.Second).GenerateSignal(s.ctx, "FLAT", "1m", s.risk)
	s.NoError(err)
	s.Nil(signal)
}

func (s *SignalEngineTestSuite) TestFlatMarketYieldsNoSignalWithTrainedModel() {
	examples := testutil.SeparableExamples(200, func(i int) bool { return i%5 < 4 }, 3)
	train, holdout := signalmodel.ChronologicalSplit(examples, 0.2)
	prototype, err := signalmodel.NewSignalModel(signalmodel.ModelTypeMomentum, 1, nil, signalmodel.DefaultHyperparameters())
	s.Require().NoError(err)
	version, model, err := signalmodel.TrainCandidate(prototype, train, holdout, 42, s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.registry.Promote(s.ctx, &version, model))

	side, confidence := model.Score(datamodels.FeatureVector{SchemaVersion: 1, Values: make([]float64, 10)})
	s.Require().Equal(datamodels.DirectionLong, side)
	s.Require().GreaterOrEqual(confidence, s.risk.MinConfidence)

	signal, err := s.engine(s.supplier, time.Second).GenerateSignal(s.ctx, "FLAT", "1m", s.risk)
	s.NoError(err)
	s.Nil(signal)
}

func (s *SignalEngineTestSuite) TestConfidenceGate() {
	strict := s.risk
	strict.MinConfidence = 1
	signal, err := s.engine(s.supplier, time.Second).GenerateSignal(s.ctx, "UP", "1m", strict)
	s.NoError(err)
	s.Nil(signal)
}

func (s *SignalEngineTestSuite) TestInvalidRisk() {
	bad := s.risk
	bad.RiskRewardMultiple = 0
	_, err := s.engine(s.supplier, time.Second).GenerateSignal(s.ctx, "UP", "1m", bad)
	s.ErrorIs(err, datamodels.ErrInvalidRiskConfig)
}
