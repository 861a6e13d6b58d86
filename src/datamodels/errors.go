package datamodels

import "errors"

// Sentinel errors shared across the pipeline. Callers match them with errors.Is.
var (
	ErrInsufficientHistory  = errors.New("insufficient history")
	ErrInvalidWindow        = errors.New("invalid bar window")
	ErrAlreadyResolved      = errors.New("signal already resolved")
	ErrSignalNotFound       = errors.New("signal not found")
	ErrOutcomeUndetermined  = errors.New("outcome undetermined")
	ErrTrainingFailed       = errors.New("training failed")
	ErrNoTrainingExamples   = errors.New("no training examples")
	ErrNoPromotedModel      = errors.New("no promoted model")
	ErrModelVersionNotFound = errors.New("model version not found")
	ErrUnknownModelType     = errors.New("unknown model type")
	ErrInvalidRiskConfig    = errors.New("invalid risk config")
	ErrUnknownStrategy      = errors.New("unknown strategy")
)
