// Package signalmodel holds the trainable scoring functions behind signal generation.
// Models are immutable: Train returns a new model and never mutates its receiver,
// so a promoted model can be shared by concurrent readers without locking.
package signalmodel

import (
	"math"
	"sort"

	"signalbot/src/datamodels"
	"signalbot/src/features"
	"signalbot/src/utils/errors"
)

const (
	ModelTypeMomentum = "momentum"
	ModelTypeLogistic = "logistic"
)

type SignalModel interface {
	GetType() string
	SchemaVersion() int
	// Score maps features to a direction and a confidence in [0,1].
	Score(fv datamodels.FeatureVector) (datamodels.Direction, float64)
	// UpProbability is the model's probability that price moves the long way.
	UpProbability(values []float64) float64
	Train(examples []datamodels.TrainingExample, seed int64) (SignalModel, error)
	Parameters() ([]byte, error)
}

type Hyperparameters struct {
	Epochs       int
	LearningRate float64
	L2           float64
	NeutralBand  float64
}

func DefaultHyperparameters() Hyperparameters {
	return Hyperparameters{
		Epochs:       300,
		LearningRate: 0.1,
		L2:           0.001,
		NeutralBand:  0.02,
	}
}

func (h Hyperparameters) withDefaults() Hyperparameters {
	d := DefaultHyperparameters()
	if h.Epochs <= 0 {
		h.Epochs = d.Epochs
	}
	if h.LearningRate <= 0 {
		h.LearningRate = d.LearningRate
	}
	if h.L2 < 0 {
		h.L2 = 0
	}
	if h.NeutralBand < 0 {
		h.NeutralBand = 0
	}
	return h
}

// NewSignalModel builds a model of the given type. Nil params yields the untrained form.
func NewSignalModel(modelType string, schemaVersion int, params []byte, hp Hyperparameters) (SignalModel, error) {
	fb, err := features.NewFeatureBuilder(schemaVersion)
	if err != nil {
		return nil, err
	}
	hp = hp.withDefaults()

	switch modelType {
	case ModelTypeMomentum:
		if len(params) == 0 {
			return newMomentumModel(schemaVersion, fb.NumFeatures(), hp)
		}
		return decodeMomentumModel(schemaVersion, fb.NumFeatures(), params, hp)
	case ModelTypeLogistic:
		if len(params) == 0 {
			return newLogisticModel(schemaVersion, fb.NumFeatures(), hp), nil
		}
		return decodeLogisticModel(schemaVersion, fb.NumFeatures(), params, hp)
	default:
		return nil, errors.Wrapf(datamodels.ErrUnknownModelType, "%q", modelType)
	}
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

func directionFromProbability(p, neutralBand float64) (datamodels.Direction, float64) {
	confidence := math.Max(p, 1-p)
	if math.IsNaN(p) {
		return datamodels.DirectionFlat, 0
	}
	if math.Abs(p-0.5) < neutralBand {
		return datamodels.DirectionFlat, confidence
	}
	if p > 0.5 {
		return datamodels.DirectionLong, confidence
	}
	return datamodels.DirectionShort, confidence
}

// SortExamples orders examples by creation time, then sequence.
func SortExamples(examples []datamodels.TrainingExample) []datamodels.TrainingExample {
	sorted := make([]datamodels.TrainingExample, len(examples))
	copy(sorted, examples)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		return sorted[i].Seq < sorted[j].Seq
	})
	return sorted
}

// prepareExamples sorts and validates a training set, returning features and up labels.
func prepareExamples(examples []datamodels.TrainingExample, schemaVersion, numFeatures int) ([][]float64, []float64, error) {
	if len(examples) == 0 {
		return nil, nil, errors.Wrap(datamodels.ErrNoTrainingExamples, "train")
	}
	sorted := SortExamples(examples)

	xs := make([][]float64, len(sorted))
	ys := make([]float64, len(sorted))
	ups, wins := 0, 0
	for i := range sorted {
		example := &sorted[i]
		if example.SchemaVersion != schemaVersion {
			return nil, nil, errors.Wrapf(datamodels.ErrTrainingFailed,
				"example %d has schema %d, model uses %d", example.Seq, example.SchemaVersion, schemaVersion)
		}
		if len(example.Features) != numFeatures {
			return nil, nil, errors.Wrapf(datamodels.ErrTrainingFailed,
				"example %d has %d features, want %d", example.Seq, len(example.Features), numFeatures)
		}
		xs[i] = example.Features
		if example.MovedUp() {
			ys[i] = 1
			ups++
		}
		if example.Won() {
			wins++
		}
	}
	if wins == 0 || wins == len(sorted) {
		return nil, nil, errors.Wrapf(datamodels.ErrTrainingFailed,
			"degenerate example set: all %d examples labelled %s", len(sorted), sorted[0].Label)
	}
	if ups == 0 || ups == len(sorted) {
		return nil, nil, errors.Wrapf(datamodels.ErrTrainingFailed,
			"degenerate example set: price moved one way in all %d examples", len(sorted))
	}
	return xs, ys, nil
}

func allFinite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
