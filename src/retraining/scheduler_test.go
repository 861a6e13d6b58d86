package retraining

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"signalbot/src/database"
	"signalbot/src/datamodels"
	"signalbot/src/registry"
	"signalbot/src/signalmodel"
	"signalbot/src/utils/errors"
	"signalbot/src/utils/testutil"
)

type RetrainingSchedulerTestSuite struct {
	suite.Suite
	ctx      context.Context
	db       *database.MemoryDatabase
	registry *registry.ModelRegistry
	clockMu  sync.Mutex
	now      time.Time
}

func TestRetrainingSchedulerSuite(t *testing.T) {
	suite.Run(t, new(RetrainingSchedulerTestSuite))
}

func (s *RetrainingSchedulerTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.db = database.NewMemoryDatabase()
	s.now = time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	s.registry = registry.NewModelRegistry(s.db).
		WithModelConfig(datamodels.ModelConfig{BaselineType: signalmodel.ModelTypeMomentum, BaselineMetric: 0.5}).
		WithClock(s.clock)
	s.Require().NoError(s.registry.Initialize(s.ctx))
}

func (s *RetrainingSchedulerTestSuite) clock() time.Time {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	return s.now
}

func (s *RetrainingSchedulerTestSuite) advanceClock(d time.Duration) {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	s.now = s.now.Add(d)
}

func (s *RetrainingSchedulerTestSuite) config() datamodels.RetrainingConfig {
	return datamodels.RetrainingConfig{
		Enabled:             true,
		MinNewExamples:      80,
		Interval:            24 * time.Hour,
		CheckCadence:        10 * time.Millisecond,
		HoldoutFraction:     0.2,
		MinImprovement:      0.01,
		MinTrainingExamples: 50,
		MaxOverfitGap:       0.2,
		HistorySize:         10,
	}
}

func (s *RetrainingSchedulerTestSuite) newScheduler(config datamodels.RetrainingConfig) *RetrainingScheduler {
	scheduler, err := NewRetrainingScheduler(s.db, s.db, s.registry).
		WithConfig(config).
		WithModelConfig(datamodels.ModelConfig{CandidateType: signalmodel.ModelTypeLogistic, Seed: 42}).
		WithClock(s.clock).
		Build()
	s.Require().NoError(err)
	return scheduler
}

func (s *RetrainingSchedulerTestSuite) appendExamples(examples []datamodels.TrainingExample) {
	for i := range examples {
		s.Require().NoError(s.db.AppendExample(s.ctx, &examples[i]))
	}
}

// flakyRegistry fails Promote and Reject while down is set.
type flakyRegistry struct {
	*registry.ModelRegistry
	down bool
}

func (r *flakyRegistry) Promote(ctx context.Context, version *datamodels.ModelVersion, model signalmodel.SignalModel) error {
	if r.down {
		return errors.New("model store unavailable")
	}
	return r.ModelRegistry.Promote(ctx, version, model)
}

func (r *flakyRegistry) Reject(ctx context.Context, version *datamodels.ModelVersion) error {
	if r.down {
		return errors.New("model store unavailable")
	}
	return r.ModelRegistry.Reject(ctx, version)
}

func (s *RetrainingSchedulerTestSuite) TestBuildRejectsBadHoldout() {
	config := s.config()
	config.HoldoutFraction = 1
	_, err := NewRetrainingScheduler(s.db, s.db, s.registry).WithConfig(config).Build()
	s.Error(err)
}

func (s *RetrainingSchedulerTestSuite) TestCountTrigger() {
	scheduler := s.newScheduler(s.config())

	due, _, err := scheduler.ShouldTrain(s.ctx, s.clock())
	s.Require().NoError(err)
	s.False(due)

	s.appendExamples(testutil.SeparableExamples(79, testutil.ThreeInFive, 1))
	due, _, err = scheduler.ShouldTrain(s.ctx, s.clock())
	s.Require().NoError(err)
	s.False(due)

	s.appendExamples(testutil.SeparableExamples(1, testutil.ThreeInFive, 2))
	due, trigger, err := scheduler.ShouldTrain(s.ctx, s.clock())
	s.Require().NoError(err)
	s.True(due)
	s.Equal(TriggerNewExamples, trigger)
}

func (s *RetrainingSchedulerTestSuite) TestIntervalTrigger() {
	scheduler := s.newScheduler(s.config())

	// an elapsed interval alone is not enough without new examples
	s.advanceClock(25 * time.Hour)
	due, _, err := scheduler.ShouldTrain(s.ctx, s.clock())
	s.Require().NoError(err)
	s.False(due)

	s.appendExamples(testutil.SeparableExamples(5, testutil.ThreeInFive, 1))
	due, trigger, err := scheduler.ShouldTrain(s.ctx, s.clock())
	s.Require().NoError(err)
	s.True(due)
	s.Equal(TriggerInterval, trigger)
}

func (s *RetrainingSchedulerTestSuite) TestBetterCandidateIsPromoted() {
	scheduler := s.newScheduler(s.config())
	before, err := s.registry.Current()
	s.Require().NoError(err)

	s.appendExamples(testutil.SeparableExamples(100, testutil.ThreeInFive, 1))
	report, err := scheduler.RunCycle(s.ctx, TriggerNewExamples)
	s.Require().NoError(err)

	s.Equal(CycleOutcomePromoted, report.Outcome)
	s.Equal(int64(100), report.ThroughSeq)
	s.Equal(80, report.TrainingExamples)
	s.Equal(20, report.HoldoutExamples)
	s.Equal(before.Version.Id, report.BaselineVersion)
	s.GreaterOrEqual(report.CandidateMetric, report.BaselineMetric+0.01)

	current, err := s.registry.Current()
	s.Require().NoError(err)
	s.Equal(report.CandidateVersion, current.Version.Id)
	s.Equal(signalmodel.ModelTypeLogistic, current.Model.GetType())
	s.Equal(int64(100), current.Version.TrainedThroughSeq)
	s.GreaterOrEqual(current.Version.EvaluationMetric, before.Version.EvaluationMetric)

	s.Equal(StateIdle, scheduler.State())
	s.Equal(int64(100), scheduler.Watermark())
	s.Len(scheduler.History(), 1)

	due, _, err := scheduler.ShouldTrain(s.ctx, s.clock())
	s.Require().NoError(err)
	s.False(due)
}

func (s *RetrainingSchedulerTestSuite) TestWeakCandidateIsRejected() {
	config := s.config()
	config.MinImprovement = 0.6
	scheduler := s.newScheduler(config)
	before, err := s.registry.Current()
	s.Require().NoError(err)

	s.appendExamples(testutil.SeparableExamples(100, testutil.ThreeInFive, 1))
	report, err := scheduler.RunCycle(s.ctx, TriggerManual)
	s.Require().NoError(err)
	s.Equal(CycleOutcomeRejected, report.Outcome)
	s.Equal("no_improvement", report.Reason)

	current, err := s.registry.Current()
	s.Require().NoError(err)
	s.Equal(before.Version.Id, current.Version.Id)

	stored, err := s.db.GetModelVersion(s.ctx, report.CandidateVersion)
	s.Require().NoError(err)
	s.True(stored.Rejected)
	s.False(stored.Promoted)
	s.Equal(int64(100), stored.TrainedThroughSeq)
	s.Equal(int64(100), scheduler.Watermark())
}

func (s *RetrainingSchedulerTestSuite) TestDegenerateExamplesSkip() {
	scheduler := s.newScheduler(s.config())
	before, err := s.registry.Current()
	s.Require().NoError(err)

	allWins := func(int) bool { return true }
	s.appendExamples(testutil.SeparableExamples(100, allWins, 1))
	report, err := scheduler.RunCycle(s.ctx, TriggerNewExamples)
	s.Require().NoError(err)

	s.Equal(CycleOutcomeSkipped, report.Outcome)
	s.NotEmpty(report.Error)
	s.Equal(StateIdle, scheduler.State())
	s.Equal(int64(100), scheduler.Watermark())

	current, err := s.registry.Current()
	s.Require().NoError(err)
	s.Equal(before.Version.Id, current.Version.Id)

	versions, err := s.db.ListModelVersions(s.ctx)
	s.Require().NoError(err)
	s.Len(versions, 1)
}

func (s *RetrainingSchedulerTestSuite) TestTooFewExamplesSkip() {
	scheduler := s.newScheduler(s.config())
	s.appendExamples(testutil.SeparableExamples(20, testutil.ThreeInFive, 1))

	report, err := scheduler.RunCycle(s.ctx, TriggerManual)
	s.Require().NoError(err)
	s.Equal(CycleOutcomeSkipped, report.Outcome)
	s.Contains(report.Error, "need 50")
}

func (s *RetrainingSchedulerTestSuite) TestForeignSchemaExamplesIgnored() {
	scheduler := s.newScheduler(s.config())
	examples := testutil.SeparableExamples(100, testutil.ThreeInFive, 1)
	for i := range examples[:60] {
		examples[i].SchemaVersion = 2
	}
	s.appendExamples(examples)

	report, err := scheduler.RunCycle(s.ctx, TriggerManual)
	s.Require().NoError(err)
	s.Equal(CycleOutcomeSkipped, report.Outcome)
	s.Equal(int64(100), scheduler.Watermark())
}

func (s *RetrainingSchedulerTestSuite) TestWatermarkRestoredFromVersions() {
	first := s.newScheduler(s.config())
	s.appendExamples(testutil.SeparableExamples(100, testutil.ThreeInFive, 1))
	_, err := first.RunCycle(s.ctx, TriggerManual)
	s.Require().NoError(err)

	restarted := s.newScheduler(s.config())
	s.Zero(restarted.Watermark())
	s.Require().NoError(restarted.Restore(s.ctx))
	s.Equal(int64(100), restarted.Watermark())
}

func (s *RetrainingSchedulerTestSuite) TestStartRunsDueCycleAndStops() {
	scheduler := s.newScheduler(s.config())
	s.appendExamples(testutil.SeparableExamples(100, testutil.ThreeInFive, 1))

	s.Require().NoError(scheduler.Start(s.ctx))
	s.Error(scheduler.Start(s.ctx))

	s.Eventually(func() bool {
		return len(scheduler.History()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	scheduler.Stop()
	scheduler.Stop()
	s.Equal(StateIdle, scheduler.State())
	s.Equal(CycleOutcomePromoted, scheduler.History()[0].Outcome)
}

func (s *RetrainingSchedulerTestSuite) TestReadersNeverBlockDuringCycle() {
	scheduler := s.newScheduler(s.config())
	s.appendExamples(testutil.SeparableExamples(100, testutil.ThreeInFive, 1))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = scheduler.RunCycle(s.ctx, TriggerManual)
	}()

	for {
		select {
		case <-done:
			current, err := s.registry.Current()
			s.Require().NoError(err)
			s.Equal(signalmodel.ModelTypeLogistic, current.Model.GetType())
			return
		default:
			current, err := s.registry.Current()
			s.Require().NoError(err)
			s.NotNil(current.Model)
		}
	}
}

func (s *RetrainingSchedulerTestSuite) TestTwoHundredFiftyExamplesTrainExactlyOnce() {
	config := s.config()
	config.MinNewExamples = 200
	scheduler := s.newScheduler(config)

	// 150 wins, 100 losses
	examples := testutil.SeparableExamples(250, testutil.ThreeInFive, 7)
	wins := 0
	for _, example := range examples {
		if example.Won() {
			wins++
		}
	}
	s.Require().Equal(150, wins)
	s.appendExamples(examples)

	s.Require().NoError(scheduler.Start(s.ctx))
	s.Eventually(func() bool {
		return len(scheduler.History()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	// further ticks find nothing new
	time.Sleep(100 * time.Millisecond)
	scheduler.Stop()

	history := scheduler.History()
	s.Require().Len(history, 1)
	s.Equal(CycleOutcomePromoted, history[0].Outcome)
	s.Equal(200, history[0].TrainingExamples)
	s.Equal(50, history[0].HoldoutExamples)

	current, err := s.registry.Current()
	s.Require().NoError(err)
	s.True(current.Version.Promoted)
	s.GreaterOrEqual(current.Version.EvaluationMetric, 0.5)
}

func (s *RetrainingSchedulerTestSuite) TestStoreFailureKeepsSnapshotDue() {
	models := &flakyRegistry{ModelRegistry: s.registry, down: true}
	scheduler, err := NewRetrainingScheduler(s.db, s.db, models).
		WithConfig(s.config()).
		WithModelConfig(datamodels.ModelConfig{CandidateType: signalmodel.ModelTypeLogistic, Seed: 42}).
		WithClock(s.clock).
		Build()
	s.Require().NoError(err)

	s.appendExamples(testutil.SeparableExamples(100, testutil.ThreeInFive, 1))
	_, err = scheduler.RunCycle(s.ctx, TriggerNewExamples)
	s.Require().Error(err)

	s.Zero(scheduler.Watermark())
	s.Empty(scheduler.History())
	s.Equal(StateIdle, scheduler.State())
	due, trigger, err := scheduler.ShouldTrain(s.ctx, s.clock())
	s.Require().NoError(err)
	s.True(due)
	s.Equal(TriggerNewExamples, trigger)

	models.down = false
	report, err := scheduler.RunCycle(s.ctx, trigger)
	s.Require().NoError(err)
	s.Equal(CycleOutcomePromoted, report.Outcome)
	s.Equal(int64(100), scheduler.Watermark())
}
