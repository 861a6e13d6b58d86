package retraining

import (
	"time"
)

type State string

const (
	StateIdle       State = "IDLE"
	StateTraining   State = "TRAINING"
	StateEvaluating State = "EVALUATING"
	StatePromoted   State = "PROMOTED"
	StateRejected   State = "REJECTED"
)

type CycleOutcome string

const (
	CycleOutcomePromoted CycleOutcome = "promoted"
	CycleOutcomeRejected CycleOutcome = "rejected"
	CycleOutcomeSkipped  CycleOutcome = "skipped"
)

type Trigger string

const (
	TriggerNewExamples Trigger = "new_examples"
	TriggerInterval    Trigger = "interval"
	TriggerManual      Trigger = "manual"
)

// CycleReport describes one attempted retraining run.
type CycleReport struct {
	Id               string        `json:"id"`
	StartedAt        time.Time     `json:"started_at"`
	Duration         time.Duration `json:"duration"`
	Trigger          Trigger       `json:"trigger"`
	Outcome          CycleOutcome  `json:"outcome"`
	Reason           string        `json:"reason,omitempty"`
	ThroughSeq       int64         `json:"through_seq"`
	TrainingExamples int           `json:"training_examples"`
	HoldoutExamples  int           `json:"holdout_examples"`
	CandidateVersion int64         `json:"candidate_version,omitempty"`
	CandidateMetric  float64       `json:"candidate_metric"`
	TrainMetric      float64       `json:"train_metric"`
	BaselineVersion  int64         `json:"baseline_version"`
	BaselineMetric   float64       `json:"baseline_metric"`
	Error            string        `json:"error,omitempty"`
}

func (r CycleReport) GetId() string {
	return r.Id
}

func (r CycleReport) GetTimestamp() time.Time {
	return r.StartedAt
}
