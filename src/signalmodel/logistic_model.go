package signalmodel

import (
	"encoding/json"
	"math/rand"

	"github.com/montanaflynn/stats"

	"signalbot/src/datamodels"
	"signalbot/src/features"
	"signalbot/src/utils/errors"
)

type logisticParameters struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
	Means   []float64 `json:"means"`
	Stds    []float64 `json:"stds"`
}

// logisticModel is L2-regularized logistic regression over standardized features,
// fit with full-batch gradient descent.
type logisticModel struct {
	schemaVersion int
	params        logisticParameters
	hp            Hyperparameters
}

func newLogisticModel(schemaVersion, numFeatures int, hp Hyperparameters) *logisticModel {
	stds := make([]float64, numFeatures)
	for i := range stds {
		stds[i] = 1
	}
	return &logisticModel{
		schemaVersion: schemaVersion,
		params: logisticParameters{
			Weights: make([]float64, numFeatures),
			Means:   make([]float64, numFeatures),
			Stds:    stds,
		},
		hp: hp,
	}
}

func decodeLogisticModel(schemaVersion, numFeatures int, raw []byte, hp Hyperparameters) (*logisticModel, error) {
	var params logisticParameters
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, errors.Wrap(err, "decoding logistic parameters")
	}
	if len(params.Weights) != numFeatures || len(params.Means) != numFeatures || len(params.Stds) != numFeatures {
		return nil, errors.Newf("logistic parameters do not match schema %d with %d features", schemaVersion, numFeatures)
	}
	return &logisticModel{schemaVersion: schemaVersion, params: params, hp: hp}, nil
}

func (m *logisticModel) GetType() string {
	return ModelTypeLogistic
}

func (m *logisticModel) SchemaVersion() int {
	return m.schemaVersion
}

func (m *logisticModel) UpProbability(values []float64) float64 {
	if len(values) != len(m.params.Weights) {
		return 0.5
	}
	z := m.params.Bias
	for i, w := range m.params.Weights {
		z += w * (values[i] - m.params.Means[i]) / m.params.Stds[i]
	}
	return sigmoid(z)
}

func (m *logisticModel) Score(fv datamodels.FeatureVector) (datamodels.Direction, float64) {
	if fv.SchemaVersion != m.schemaVersion || len(fv.Values) != len(m.params.Weights) {
		return datamodels.DirectionFlat, 0
	}
	return directionFromProbability(m.UpProbability(fv.Values), m.hp.NeutralBand)
}

func (m *logisticModel) Train(examples []datamodels.TrainingExample, seed int64) (SignalModel, error) {
	numFeatures := len(m.params.Weights)
	xs, ys, err := prepareExamples(examples, m.schemaVersion, numFeatures)
	if err != nil {
		return nil, err
	}

	means := make([]float64, numFeatures)
	stds := make([]float64, numFeatures)
	column := make([]float64, len(xs))
	for j := 0; j < numFeatures; j++ {
		for i, x := range xs {
			column[i] = x[j]
		}
		means[j], _ = stats.Mean(column)
		std, _ := stats.StandardDeviationPopulation(column)
		if std < features.Epsilon {
			std = 1
		}
		stds[j] = std
	}

	zs := make([][]float64, len(xs))
	for i, x := range xs {
		z := make([]float64, numFeatures)
		for j := range z {
			z[j] = (x[j] - means[j]) / stds[j]
		}
		zs[i] = z
	}

	rng := rand.New(rand.NewSource(seed))
	weights := make([]float64, numFeatures)
	for j := range weights {
		weights[j] = rng.NormFloat64() * 0.01
	}
	bias := 0.0

	n := float64(len(zs))
	grad := make([]float64, numFeatures)
	for epoch := 0; epoch < m.hp.Epochs; epoch++ {
		for j := range grad {
			grad[j] = 0
		}
		gradBias := 0.0
		for i, z := range zs {
			p := bias
			for j, w := range weights {
				p += w * z[j]
			}
			residual := sigmoid(p) - ys[i]
			for j := range grad {
				grad[j] += residual * z[j]
			}
			gradBias += residual
		}
		for j := range weights {
			weights[j] -= m.hp.LearningRate * (grad[j]/n + m.hp.L2*weights[j])
		}
		bias -= m.hp.LearningRate * gradBias / n
	}

	if !allFinite(append([]float64{bias}, weights...)...) {
		return nil, errors.Wrap(datamodels.ErrTrainingFailed, "logistic weights diverged")
	}

	return &logisticModel{
		schemaVersion: m.schemaVersion,
		params:        logisticParameters{Weights: weights, Bias: bias, Means: means, Stds: stds},
		hp:            m.hp,
	}, nil
}

func (m *logisticModel) Parameters() ([]byte, error) {
	return json.Marshal(m.params)
}
