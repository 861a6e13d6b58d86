// Package retraining trains candidate models from accumulated outcomes in the
// background and promotes a candidate only when it beats the current model on
// a chronological holdout.
package retraining

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"signalbot/src/database"
	"signalbot/src/datamodels"
	"signalbot/src/metrics"
	"signalbot/src/registry"
	"signalbot/src/signalmodel"
	"signalbot/src/utils/errors"
	"signalbot/src/utils/general"
)

// ModelRegistry is the promotion surface the scheduler needs. *registry.ModelRegistry satisfies it.
type ModelRegistry interface {
	Current() (*registry.PromotedModel, error)
	Hyperparameters() signalmodel.Hyperparameters
	Promote(ctx context.Context, version *datamodels.ModelVersion, model signalmodel.SignalModel) error
	Reject(ctx context.Context, version *datamodels.ModelVersion) error
}

type RetrainingScheduler struct {
	name          string
	examples      database.TrainingExampleDb
	versions      database.ModelVersionDb
	models        ModelRegistry
	config        datamodels.RetrainingConfig
	candidateType string
	seed          int64
	schemaVersion int
	clock         func() time.Time
	metricsWriter metrics.MetricsWriter

	// runMu serializes cycles; mu guards the fields below it
	runMu          sync.Mutex
	mu             sync.RWMutex
	state          State
	lastTrainedSeq int64
	lastRunAt      time.Time
	history        *general.TimedBuffer[CycleReport]

	loopMu sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type RetrainingSchedulerBuilder struct {
	scheduler *RetrainingScheduler
}

func NewRetrainingScheduler(
	examples database.TrainingExampleDb,
	versions database.ModelVersionDb,
	models ModelRegistry) *RetrainingSchedulerBuilder {

	return &RetrainingSchedulerBuilder{
		scheduler: &RetrainingScheduler{
			name:          "retraining_scheduler",
			examples:      examples,
			versions:      versions,
			models:        models,
			candidateType: signalmodel.ModelTypeLogistic,
			seed:          42,
			schemaVersion: 1,
			clock:         time.Now,
			state:         StateIdle,
			config: datamodels.RetrainingConfig{
				Enabled:             true,
				MinNewExamples:      200,
				Interval:            24 * time.Hour,
				CheckCadence:        time.Minute,
				HoldoutFraction:     0.2,
				MinImprovement:      0.01,
				MinTrainingExamples: 50,
				MaxOverfitGap:       0.2,
				HistorySize:         50,
			},
		},
	}
}

func (b *RetrainingSchedulerBuilder) WithConfig(config datamodels.RetrainingConfig) *RetrainingSchedulerBuilder {
	b.scheduler.config = config
	return b
}

func (b *RetrainingSchedulerBuilder) WithModelConfig(config datamodels.ModelConfig) *RetrainingSchedulerBuilder {
	if config.CandidateType != "" {
		b.scheduler.candidateType = config.CandidateType
	}
	b.scheduler.seed = config.Seed
	return b
}

func (b *RetrainingSchedulerBuilder) WithSchemaVersion(schemaVersion int) *RetrainingSchedulerBuilder {
	b.scheduler.schemaVersion = schemaVersion
	return b
}

func (b *RetrainingSchedulerBuilder) WithClock(clock func() time.Time) *RetrainingSchedulerBuilder {
	b.scheduler.clock = clock
	return b
}

func (b *RetrainingSchedulerBuilder) WithMetricsWriter(writer metrics.MetricsWriter) *RetrainingSchedulerBuilder {
	b.scheduler.metricsWriter = writer
	return b
}

func (b *RetrainingSchedulerBuilder) Build() (*RetrainingScheduler, error) {
	s := b.scheduler
	if s.examples == nil || s.versions == nil || s.models == nil {
		return nil, errors.New("retraining scheduler needs an example store, a version store and a registry")
	}
	c := &s.config
	if c.HoldoutFraction <= 0 || c.HoldoutFraction >= 1 {
		return nil, errors.Newf("holdout fraction must be in (0,1), got %v", c.HoldoutFraction)
	}
	if c.MinImprovement < 0 {
		return nil, errors.Newf("min improvement must not be negative, got %v", c.MinImprovement)
	}
	if c.MinNewExamples <= 0 {
		c.MinNewExamples = 200
	}
	if c.CheckCadence <= 0 {
		c.CheckCadence = time.Minute
	}
	if c.MinTrainingExamples <= 0 {
		c.MinTrainingExamples = 50
	}
	if c.MaxOverfitGap <= 0 {
		c.MaxOverfitGap = 0.2
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 50
	}
	s.history = general.NewTimedBuffer[CycleReport](c.HistorySize)
	s.lastRunAt = s.clock()
	return s, nil
}

func (s *RetrainingScheduler) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *RetrainingScheduler) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Watermark is the highest example seq consumed by a training run.
func (s *RetrainingScheduler) Watermark() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastTrainedSeq
}

// History returns recent cycle reports, oldest first.
func (s *RetrainingScheduler) History() []CycleReport {
	return s.history.GetAllElements()
}

// Restore reloads the consumed watermark from the stored model versions.
func (s *RetrainingScheduler) Restore(ctx context.Context) error {
	seq, err := s.versions.LatestTrainedThroughSeq(ctx)
	if err != nil {
		return errors.Wrap(err, "restore retraining watermark")
	}
	versions, err := s.versions.ListModelVersions(ctx)
	if err != nil {
		return errors.Wrap(err, "restore last training time")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTrainedSeq = seq
	for i := range versions {
		if versions[i].TrainedThroughSeq > 0 && versions[i].TrainedAt.After(s.lastRunAt) {
			s.lastRunAt = versions[i].TrainedAt
		}
	}
	slog.Info("Restored retraining watermark", "through_seq", seq, "last_run", s.lastRunAt)
	return nil
}

// ShouldTrain reports whether a cycle is due and which trigger fired.
func (s *RetrainingScheduler) ShouldTrain(ctx context.Context, now time.Time) (bool, Trigger, error) {
	s.mu.RLock()
	watermark, lastRunAt := s.lastTrainedSeq, s.lastRunAt
	s.mu.RUnlock()

	unconsumed, err := s.examples.CountExamplesAfter(ctx, watermark)
	if err != nil {
		return false, "", errors.Wrap(err, "count unconsumed examples")
	}
	if unconsumed >= s.config.MinNewExamples {
		return true, TriggerNewExamples, nil
	}
	if unconsumed > 0 && s.config.Interval > 0 && now.Sub(lastRunAt) >= s.config.Interval {
		return true, TriggerInterval, nil
	}
	return false, "", nil
}

// RunCycle trains and evaluates one candidate. Training problems are reported
// as a skipped cycle, not as an error; the error return is reserved for store
// failures.
func (s *RetrainingScheduler) RunCycle(ctx context.Context, trigger Trigger) (CycleReport, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	started := s.clock()
	report := CycleReport{
		Id:        uuid.NewString(),
		StartedAt: started,
		Trigger:   trigger,
	}
	defer func() {
		s.setState(StateIdle)
	}()

	throughSeq, err := s.examples.LatestExampleSeq(ctx)
	if err != nil {
		return report, errors.Wrap(err, "snapshot examples")
	}
	report.ThroughSeq = throughSeq

	s.setState(StateTraining)
	snapshot, err := s.examples.ListExamplesThrough(ctx, throughSeq)
	if err != nil {
		return report, errors.Wrap(err, "load examples")
	}
	snapshot = s.usable(snapshot)

	if len(snapshot) < s.config.MinTrainingExamples {
		return s.skip(ctx, report, errors.Wrapf(datamodels.ErrTrainingFailed,
			"%d usable examples, need %d", len(snapshot), s.config.MinTrainingExamples)), nil
	}

	current, err := s.models.Current()
	if err != nil {
		return report, err
	}
	prototype, err := signalmodel.NewSignalModel(s.candidateType, s.schemaVersion, nil, s.models.Hyperparameters())
	if err != nil {
		return s.skip(ctx, report, err), nil
	}

	train, holdout := signalmodel.ChronologicalSplit(snapshot, s.config.HoldoutFraction)
	report.TrainingExamples, report.HoldoutExamples = len(train), len(holdout)
	version, candidate, err := signalmodel.TrainCandidate(prototype, train, holdout, s.seed, started)
	if err != nil {
		return s.skip(ctx, report, err), nil
	}

	s.setState(StateEvaluating)
	report.CandidateMetric = version.EvaluationMetric
	report.TrainMetric = version.TrainMetric
	report.BaselineVersion = current.Version.Id
	report.BaselineMetric = baselineMetric(current, holdout)
	version.TrainedThroughSeq = throughSeq

	promote, reason := s.gate(version, report.BaselineMetric)
	if promote {
		s.setState(StatePromoted)
		if err := s.models.Promote(ctx, &version, candidate); err != nil {
			return report, err
		}
		report.Outcome = CycleOutcomePromoted
	} else {
		s.setState(StateRejected)
		if err := s.models.Reject(ctx, &version); err != nil {
			return report, err
		}
		report.Outcome = CycleOutcomeRejected
		report.Reason = reason
	}
	report.CandidateVersion = version.Id
	return s.finish(ctx, report), nil
}

// baselineMetric is the better of the promoted version's recorded metric and
// its AUC on the candidate's holdout.
func baselineMetric(current *registry.PromotedModel, holdout []datamodels.TrainingExample) float64 {
	return max(current.Version.EvaluationMetric, signalmodel.EvaluateAUC(current.Model, holdout))
}

func (s *RetrainingScheduler) gate(candidate datamodels.ModelVersion, baseline float64) (bool, string) {
	if gap := candidate.TrainMetric - candidate.EvaluationMetric; gap > s.config.MaxOverfitGap {
		return false, "overfit"
	}
	if candidate.EvaluationMetric < baseline+s.config.MinImprovement {
		return false, "no_improvement"
	}
	return true, ""
}

// usable drops examples whose features were built by another schema.
func (s *RetrainingScheduler) usable(examples []datamodels.TrainingExample) []datamodels.TrainingExample {
	out := examples[:0]
	for i := range examples {
		if examples[i].SchemaVersion == s.schemaVersion {
			out = append(out, examples[i])
		}
	}
	return out
}

func (s *RetrainingScheduler) advance(throughSeq int64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if throughSeq > s.lastTrainedSeq {
		s.lastTrainedSeq = throughSeq
	}
	s.lastRunAt = at
}

func (s *RetrainingScheduler) skip(ctx context.Context, report CycleReport, err error) CycleReport {
	slog.Warn("Retraining cycle skipped", "trigger", report.Trigger, "through_seq", report.ThroughSeq, "error", err)
	report.Outcome = CycleOutcomeSkipped
	report.Error = err.Error()
	return s.finish(ctx, report)
}

// finish records a cycle that reached an outcome and consumes its snapshot.
// Cycles cut short by a store error never get here and are retried.
func (s *RetrainingScheduler) finish(ctx context.Context, report CycleReport) CycleReport {
	s.advance(report.ThroughSeq, report.StartedAt)
	report.Duration = s.clock().Sub(report.StartedAt)
	s.history.AddElement(report)
	metrics.RetrainingCycles.WithLabelValues(string(report.Outcome)).Inc()
	metrics.Emit(ctx, s.metricsWriter, s.name, datamodels.MetricGeneratorTypeRetraining, "cycle", report.StartedAt, report)

	if report.Outcome != CycleOutcomeSkipped {
		slog.Info("Retraining cycle finished",
			"outcome", report.Outcome,
			"reason", report.Reason,
			"candidate", report.CandidateVersion,
			"candidate_auc", report.CandidateMetric,
			"baseline", report.BaselineVersion,
			"baseline_auc", report.BaselineMetric,
			"train_examples", report.TrainingExamples,
			"holdout_examples", report.HoldoutExamples)
	}
	return report
}

// Start restores the watermark and checks for due cycles every check cadence
// until Stop is called or ctx is done.
func (s *RetrainingScheduler) Start(ctx context.Context) error {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	if s.cancel != nil {
		return errors.New("retraining scheduler already started")
	}
	if err := s.Restore(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.config.CheckCadence)
		defer ticker.Stop()
		slog.Info("Retraining scheduler started", "cadence", s.config.CheckCadence, "min_new_examples", s.config.MinNewExamples)
		for {
			select {
			case <-ctx.Done():
				slog.Info("Retraining scheduler stopped")
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
	return nil
}

func (s *RetrainingScheduler) tick(ctx context.Context) {
	due, trigger, err := s.ShouldTrain(ctx, s.clock())
	if err != nil {
		slog.Error("Failed to check retraining trigger", "error", err)
		return
	}
	if !due {
		return
	}
	if _, err := s.RunCycle(ctx, trigger); err != nil && ctx.Err() == nil {
		slog.Error("Retraining cycle failed", "trigger", trigger, "error", err)
	}
}

// Stop cancels the background loop and waits for an in-flight cycle.
func (s *RetrainingScheduler) Stop() {
	s.loopMu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.loopMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
}
