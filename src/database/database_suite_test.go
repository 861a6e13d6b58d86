package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"signalbot/src/datamodels"
	"signalbot/src/utils/testutil"
)

// PipelineDatabaseTestSuite runs against any PipelineDatabase implementation.
type PipelineDatabaseTestSuite struct {
	suite.Suite
	ctx     context.Context
	newDb   func() PipelineDatabase
	db      PipelineDatabase
	symbol  string
	started time.Time
}

func (s *PipelineDatabaseTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.db = s.newDb()
	s.Require().NoError(s.db.Migrate(s.ctx))
	// unique per test so a shared postgres doesn't leak rows between tests
	s.symbol = "T" + uuid.NewString()[:8]
	s.started = testutil.SessionStart
}

func (s *PipelineDatabaseTestSuite) openSignal(createdAt time.Time) *datamodels.Signal {
	signal := &datamodels.Signal{
		Id:              uuid.NewString(),
		Symbol:          s.symbol,
		Timeframe:       "1m",
		Side:            datamodels.DirectionLong,
		EntryPrice:      100,
		StopLoss:        99,
		TakeProfit:      102,
		ConfidenceScore: 0.7,
		ModelVersion:    1,
		SchemaVersion:   1,
		Features:        []float64{0.1, 0.2},
		Status:          datamodels.SignalStatusOpen,
		CreatedAt:       createdAt,
		ExpiresAt:       createdAt.Add(time.Hour),
	}
	s.Require().NoError(s.db.SaveSignal(s.ctx, signal))
	return signal
}

func (s *PipelineDatabaseTestSuite) TestSignalRoundTrip() {
	signal := s.openSignal(s.started)

	loaded, err := s.db.GetSignal(s.ctx, signal.Id)
	s.Require().NoError(err)
	s.Equal(signal.Side, loaded.Side)
	s.Equal(signal.Features, loaded.Features)
	s.Equal(datamodels.SignalStatusOpen, loaded.Status)
	s.Nil(loaded.ResolvedAt)

	_, err = s.db.GetSignal(s.ctx, uuid.NewString())
	s.ErrorIs(err, datamodels.ErrSignalNotFound)
}

func (s *PipelineDatabaseTestSuite) TestResolveSignalOnce() {
	signal := s.openSignal(s.started)
	resolvedAt := s.started.Add(10 * time.Minute)
	resolution := datamodels.SignalResolution{
		SignalId:        signal.Id,
		Status:          datamodels.SignalStatusClosedWin,
		ResolutionPrice: 102.5,
		ResolvedAt:      resolvedAt,
	}
	example := &datamodels.TrainingExample{
		SignalId:      signal.Id,
		Symbol:        s.symbol,
		Timeframe:     "1m",
		Side:          datamodels.DirectionLong,
		Features:      signal.Features,
		SchemaVersion: 1,
		Label:         datamodels.LabelWon,
		CreatedAt:     resolvedAt,
	}

	before, err := s.db.LatestExampleSeq(s.ctx)
	s.Require().NoError(err)

	s.Require().NoError(s.db.ResolveSignal(s.ctx, resolution, example))
	s.Greater(example.Seq, before)

	loaded, err := s.db.GetSignal(s.ctx, signal.Id)
	s.Require().NoError(err)
	s.Equal(datamodels.SignalStatusClosedWin, loaded.Status)
	s.Require().NotNil(loaded.ResolutionPrice)
	s.InDelta(102.5, *loaded.ResolutionPrice, 1e-9)

	second := resolution
	second.Status = datamodels.SignalStatusClosedLoss
	err = s.db.ResolveSignal(s.ctx, second, nil)
	s.ErrorIs(err, datamodels.ErrAlreadyResolved)

	count, err := s.db.CountExamplesAfter(s.ctx, before)
	s.Require().NoError(err)
	s.Equal(int64(1), count)

	err = s.db.ResolveSignal(s.ctx, datamodels.SignalResolution{SignalId: uuid.NewString()}, nil)
	s.ErrorIs(err, datamodels.ErrSignalNotFound)
}

func (s *PipelineDatabaseTestSuite) TestListSignalsFilters() {
	first := s.openSignal(s.started)
	second := s.openSignal(s.started.Add(time.Minute))
	s.Require().NoError(s.db.ResolveSignal(s.ctx, datamodels.SignalResolution{
		SignalId:        second.Id,
		Status:          datamodels.SignalStatusExpired,
		ResolutionPrice: 100.1,
		ResolvedAt:      s.started.Add(2 * time.Hour),
	}, nil))

	open, err := s.db.ListSignals(s.ctx, SignalFilter{Symbol: s.symbol, Statuses: []datamodels.SignalStatus{datamodels.SignalStatusOpen}})
	s.Require().NoError(err)
	s.Require().Len(open, 1)
	s.Equal(first.Id, open[0].Id)

	from := s.started.Add(time.Hour)
	to := s.started.Add(3 * time.Hour)
	resolved, err := s.db.ListSignals(s.ctx, SignalFilter{Symbol: s.symbol, ResolvedFrom: &from, ResolvedTo: &to})
	s.Require().NoError(err)
	s.Require().Len(resolved, 1)
	s.Equal(second.Id, resolved[0].Id)

	all, err := s.db.ListSignals(s.ctx, SignalFilter{Symbol: s.symbol})
	s.Require().NoError(err)
	s.Require().Len(all, 2)
	s.Equal(first.Id, all[0].Id)
}

func (s *PipelineDatabaseTestSuite) TestExamplesAreSequenced() {
	base, err := s.db.LatestExampleSeq(s.ctx)
	s.Require().NoError(err)

	examples := testutil.SeparableExamples(5, testutil.ThreeInFive, 3)
	var last int64
	for i := range examples {
		examples[i].SignalId = uuid.NewString()
		examples[i].Symbol = s.symbol
		s.Require().NoError(s.db.AppendExample(s.ctx, &examples[i]))
		s.Greater(examples[i].Seq, last)
		last = examples[i].Seq
	}

	count, err := s.db.CountExamplesAfter(s.ctx, base)
	s.Require().NoError(err)
	s.Equal(int64(5), count)

	through, err := s.db.ListExamplesThrough(s.ctx, examples[2].Seq)
	s.Require().NoError(err)
	var mine int
	for _, example := range through {
		if example.Symbol == s.symbol {
			mine++
		}
	}
	s.Equal(3, mine)
}

func (s *PipelineDatabaseTestSuite) TestSinglePromotedVersion() {
	first := &datamodels.ModelVersion{ModelType: "momentum", SchemaVersion: 1, Parameters: []byte(`{}`), TrainedAt: s.started, EvaluationMetric: 0.5}
	second := &datamodels.ModelVersion{ModelType: "logistic", SchemaVersion: 1, Parameters: []byte(`{}`), TrainedAt: s.started, EvaluationMetric: 0.7, TrainedThroughSeq: 40}
	s.Require().NoError(s.db.CreateModelVersion(s.ctx, first))
	s.Require().NoError(s.db.CreateModelVersion(s.ctx, second))
	s.Greater(second.Id, first.Id)

	s.Require().NoError(s.db.PromoteModelVersion(s.ctx, first.Id, s.started))
	s.Require().NoError(s.db.PromoteModelVersion(s.ctx, second.Id, s.started.Add(time.Minute)))

	promoted, err := s.db.GetPromotedModelVersion(s.ctx)
	s.Require().NoError(err)
	s.Equal(second.Id, promoted.Id)

	versions, err := s.db.ListModelVersions(s.ctx)
	s.Require().NoError(err)
	var promotedCount int
	for _, version := range versions {
		if version.Promoted {
			promotedCount++
		}
	}
	s.Equal(1, promotedCount)

	seq, err := s.db.LatestTrainedThroughSeq(s.ctx)
	s.Require().NoError(err)
	s.GreaterOrEqual(seq, int64(40))

	_, err = s.db.GetModelVersion(s.ctx, second.Id+1000)
	s.ErrorIs(err, datamodels.ErrModelVersionNotFound)
	s.ErrorIs(s.db.PromoteModelVersion(s.ctx, second.Id+1000, s.started), datamodels.ErrModelVersionNotFound)
}

func (s *PipelineDatabaseTestSuite) TestBarsIgnoreDuplicatesAndOrder() {
	bars := testutil.TrendBars(s.symbol, 10, 100, 1)
	s.Require().NoError(s.db.WriteBars(s.ctx, bars[5:]))
	s.Require().NoError(s.db.WriteBars(s.ctx, bars))

	latest, err := s.db.GetLatestBars(s.ctx, s.symbol, "1m", 4)
	s.Require().NoError(err)
	s.Require().Len(latest, 4)
	s.True(latest[0].Timestamp.Equal(bars[6].Timestamp))
	s.True(latest[3].Timestamp.Equal(bars[9].Timestamp))

	ranged, err := s.db.GetBarsInRange(s.ctx, s.symbol, "1m", bars[2].Timestamp, bars[5].Timestamp)
	s.Require().NoError(err)
	s.Require().Len(ranged, 3)
	s.True(ranged[0].Timestamp.Equal(bars[2].Timestamp))
}

func (s *PipelineDatabaseTestSuite) TestBacktestResults() {
	sharpe := 1.2
	result := &datamodels.BacktestResult{
		Id:          uuid.NewString(),
		StrategyId:  s.symbol,
		Symbol:      s.symbol,
		Timeframe:   "1m",
		PeriodStart: s.started,
		PeriodEnd:   s.started.Add(time.Hour),
		SharpeRatio: &sharpe,
		CreatedAt:   s.started,
	}
	s.Require().NoError(s.db.SaveBacktestResult(s.ctx, result))

	results, err := s.db.ListBacktestResults(s.ctx, s.symbol)
	s.Require().NoError(err)
	s.Require().Len(results, 1)
	s.Require().NotNil(results[0].SharpeRatio)
	s.InDelta(1.2, *results[0].SharpeRatio, 1e-9)
}
