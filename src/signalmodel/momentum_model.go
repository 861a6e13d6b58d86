package signalmodel

import (
	"encoding/json"

	"signalbot/src/datamodels"
	"signalbot/src/features"
	"signalbot/src/utils/errors"
)

// prior weights per feature schema, in feature order
var momentumPriors = map[int][]float64{
	features.SchemaV1: {1.0, 0.5, 1.0, 0.5, 0, 0.5, 0.5, 0.5, 0, 0},
}

type momentumParameters struct {
	Prior []float64 `json:"prior"`
	Scale float64   `json:"scale"`
	Bias  float64   `json:"bias"`
}

// momentumModel scores a fixed trend-following combination of features.
// Training only recalibrates scale and bias of that score.
type momentumModel struct {
	schemaVersion int
	params        momentumParameters
	hp            Hyperparameters
}

func newMomentumModel(schemaVersion, numFeatures int, hp Hyperparameters) (*momentumModel, error) {
	prior, ok := momentumPriors[schemaVersion]
	if !ok || len(prior) != numFeatures {
		return nil, errors.Newf("no momentum prior for feature schema %d", schemaVersion)
	}
	weights := make([]float64, len(prior))
	copy(weights, prior)
	return &momentumModel{
		schemaVersion: schemaVersion,
		params:        momentumParameters{Prior: weights, Scale: 1},
		hp:            hp,
	}, nil
}

func decodeMomentumModel(schemaVersion, numFeatures int, raw []byte, hp Hyperparameters) (*momentumModel, error) {
	var params momentumParameters
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, errors.Wrap(err, "decoding momentum parameters")
	}
	if len(params.Prior) != numFeatures {
		return nil, errors.Newf("momentum prior has %d weights, schema %d has %d features",
			len(params.Prior), schemaVersion, numFeatures)
	}
	return &momentumModel{schemaVersion: schemaVersion, params: params, hp: hp}, nil
}

func (m *momentumModel) GetType() string {
	return ModelTypeMomentum
}

func (m *momentumModel) SchemaVersion() int {
	return m.schemaVersion
}

func (m *momentumModel) rawScore(values []float64) float64 {
	s := 0.0
	for i, w := range m.params.Prior {
		s += w * values[i]
	}
	return s
}

func (m *momentumModel) UpProbability(values []float64) float64 {
	if len(values) != len(m.params.Prior) {
		return 0.5
	}
	return sigmoid(m.params.Scale*m.rawScore(values) + m.params.Bias)
}

func (m *momentumModel) Score(fv datamodels.FeatureVector) (datamodels.Direction, float64) {
	if fv.SchemaVersion != m.schemaVersion || len(fv.Values) != len(m.params.Prior) {
		return datamodels.DirectionFlat, 0
	}
	return directionFromProbability(m.UpProbability(fv.Values), m.hp.NeutralBand)
}

func (m *momentumModel) Train(examples []datamodels.TrainingExample, seed int64) (SignalModel, error) {
	xs, ys, err := prepareExamples(examples, m.schemaVersion, len(m.params.Prior))
	if err != nil {
		return nil, err
	}

	scores := make([]float64, len(xs))
	for i, x := range xs {
		scores[i] = m.rawScore(x)
	}

	// one-dimensional logistic fit, starting from the untrained calibration
	scale, bias := 1.0, 0.0
	n := float64(len(xs))
	for epoch := 0; epoch < m.hp.Epochs; epoch++ {
		gradScale, gradBias := 0.0, 0.0
		for i, s := range scores {
			residual := sigmoid(scale*s+bias) - ys[i]
			gradScale += residual * s
			gradBias += residual
		}
		scale -= m.hp.LearningRate * (gradScale/n + m.hp.L2*scale)
		bias -= m.hp.LearningRate * gradBias / n
	}
	if !allFinite(scale, bias) {
		return nil, errors.Wrap(datamodels.ErrTrainingFailed, "momentum calibration diverged")
	}

	prior := make([]float64, len(m.params.Prior))
	copy(prior, m.params.Prior)
	return &momentumModel{
		schemaVersion: m.schemaVersion,
		params:        momentumParameters{Prior: prior, Scale: scale, Bias: bias},
		hp:            m.hp,
	}, nil
}

func (m *momentumModel) Parameters() ([]byte, error) {
	return json.Marshal(m.params)
}
