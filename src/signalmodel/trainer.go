package signalmodel

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"time"

	"signalbot/src/datamodels"
	"signalbot/src/utils/errors"
)

// ChronologicalSplit sorts examples and holds out the most recent fraction.
func ChronologicalSplit(examples []datamodels.TrainingExample, holdoutFraction float64) ([]datamodels.TrainingExample, []datamodels.TrainingExample) {
	sorted := SortExamples(examples)
	holdout := int(math.Round(float64(len(sorted)) * holdoutFraction))
	if holdout < 1 && len(sorted) > 1 {
		holdout = 1
	}
	if holdout >= len(sorted) {
		holdout = len(sorted) - 1
	}
	if holdout < 0 {
		holdout = 0
	}
	cut := len(sorted) - holdout
	return sorted[:cut], sorted[cut:]
}

// TrainCandidate trains prototype on train and scores it on holdout.
// The returned version has no id; the store assigns one.
func TrainCandidate(
	prototype SignalModel,
	train []datamodels.TrainingExample,
	holdout []datamodels.TrainingExample,
	seed int64,
	trainedAt time.Time) (datamodels.ModelVersion, SignalModel, error) {

	trained, err := prototype.Train(train, seed)
	if err != nil {
		return datamodels.ModelVersion{}, nil, err
	}
	params, err := trained.Parameters()
	if err != nil {
		return datamodels.ModelVersion{}, nil, errors.WrapE(datamodels.ErrTrainingFailed, err)
	}

	var throughSeq int64
	for i := range train {
		throughSeq = max(throughSeq, train[i].Seq)
	}
	for i := range holdout {
		throughSeq = max(throughSeq, holdout[i].Seq)
	}

	version := datamodels.ModelVersion{
		ModelType:         trained.GetType(),
		SchemaVersion:     trained.SchemaVersion(),
		Parameters:        params,
		TrainedAt:         trainedAt,
		EvaluationMetric:  EvaluateAUC(trained, holdout),
		TrainMetric:       EvaluateAUC(trained, train),
		TrainingExamples:  len(train),
		HoldoutExamples:   len(holdout),
		TrainedThroughSeq: throughSeq,
		Seed:              seed,
		DataHash:          DataHash(train, holdout),
	}
	return version, trained, nil
}

// DataHash fingerprints the example snapshot a version was trained on.
func DataHash(sets ...[]datamodels.TrainingExample) string {
	h := sha256.New()
	for _, set := range sets {
		for i := range set {
			h.Write([]byte(set[i].SignalId))
			h.Write([]byte{0})
			h.Write([]byte(set[i].Label))
			h.Write([]byte{0})
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
