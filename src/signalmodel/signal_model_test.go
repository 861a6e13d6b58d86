package signalmodel

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalbot/src/datamodels"
	"signalbot/src/features"
	"signalbot/src/utils/testutil"
)

func untrained(t *testing.T, modelType string) SignalModel {
	t.Helper()
	model, err := NewSignalModel(modelType, features.SchemaV1, nil, DefaultHyperparameters())
	require.NoError(t, err)
	return model
}

func featuresFor(t *testing.T, bars []datamodels.Bar) datamodels.FeatureVector {
	t.Helper()
	fb, err := features.NewFeatureBuilder(features.SchemaV1)
	require.NoError(t, err)
	fv, err := fb.Build(bars[0].Symbol, "1m", bars)
	require.NoError(t, err)
	return fv
}

func TestUnknownModelType(t *testing.T) {
	_, err := NewSignalModel("gbdt", features.SchemaV1, nil, DefaultHyperparameters())
	assert.ErrorIs(t, err, datamodels.ErrUnknownModelType)
}

func TestMomentumBaselineDirections(t *testing.T) {
	model := untrained(t, ModelTypeMomentum)

	direction, confidence := model.Score(featuresFor(t, testutil.TrendBars("AAPL", 50, 150, 0.5)))
	assert.Equal(t, datamodels.DirectionLong, direction)
	assert.Greater(t, confidence, 0.9)

	direction, confidence = model.Score(featuresFor(t, testutil.TrendBars("AAPL", 50, 150, -0.5)))
	assert.Equal(t, datamodels.DirectionShort, direction)
	assert.Greater(t, confidence, 0.9)

	direction, _ = model.Score(featuresFor(t, testutil.FlatBars("AAPL", 50, 150)))
	assert.Equal(t, datamodels.DirectionFlat, direction)
}

func TestScoreRejectsForeignSchema(t *testing.T) {
	model := untrained(t, ModelTypeMomentum)
	direction, confidence := model.Score(datamodels.FeatureVector{SchemaVersion: 2, Values: make([]float64, 10)})
	assert.Equal(t, datamodels.DirectionFlat, direction)
	assert.Equal(t, 0.0, confidence)
}

func TestTrainErrors(t *testing.T) {
	for _, modelType := range []string{ModelTypeMomentum, ModelTypeLogistic} {
		t.Run(modelType, func(t *testing.T) {
			model := untrained(t, modelType)

			_, err := model.Train(nil, 1)
			assert.ErrorIs(t, err, datamodels.ErrNoTrainingExamples)

			allWins := testutil.SeparableExamples(40, func(int) bool { return true }, 1)
			_, err = model.Train(allWins, 1)
			assert.ErrorIs(t, err, datamodels.ErrTrainingFailed)

			wrongSchema := testutil.SeparableExamples(40, testutil.ThreeInFive, 1)
			wrongSchema[3].SchemaVersion = 2
			_, err = model.Train(wrongSchema, 1)
			assert.ErrorIs(t, err, datamodels.ErrTrainingFailed)
		})
	}
}

func TestLogisticTrainingIsDeterministic(t *testing.T) {
	examples := testutil.SeparableExamples(200, testutil.ThreeInFive, 5)
	model := untrained(t, ModelTypeLogistic)

	first, err := model.Train(examples, 42)
	require.NoError(t, err)
	firstParams, err := first.Parameters()
	require.NoError(t, err)

	shuffled := make([]datamodels.TrainingExample, len(examples))
	copy(shuffled, examples)
	rand.New(rand.NewSource(9)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	second, err := model.Train(shuffled, 42)
	require.NoError(t, err)
	secondParams, err := second.Parameters()
	require.NoError(t, err)

	assert.Equal(t, string(firstParams), string(secondParams))
}

func TestTrainDoesNotMutateReceiver(t *testing.T) {
	model := untrained(t, ModelTypeLogistic)
	before, err := model.Parameters()
	require.NoError(t, err)

	_, err = model.Train(testutil.SeparableExamples(100, testutil.ThreeInFive, 2), 1)
	require.NoError(t, err)

	after, err := model.Parameters()
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 0.5, model.UpProbability(make([]float64, 10)))
}

func TestParametersRoundTrip(t *testing.T) {
	examples := testutil.SeparableExamples(100, testutil.ThreeInFive, 3)
	for _, modelType := range []string{ModelTypeMomentum, ModelTypeLogistic} {
		t.Run(modelType, func(t *testing.T) {
			trained, err := untrained(t, modelType).Train(examples, 7)
			require.NoError(t, err)
			params, err := trained.Parameters()
			require.NoError(t, err)

			decoded, err := NewSignalModel(modelType, features.SchemaV1, params, DefaultHyperparameters())
			require.NoError(t, err)
			for _, example := range examples[:10] {
				assert.Equal(t, trained.UpProbability(example.Features), decoded.UpProbability(example.Features))
			}
		})
	}
}

func TestDecodeRejectsWrongWidth(t *testing.T) {
	_, err := NewSignalModel(ModelTypeLogistic, features.SchemaV1,
		[]byte(`{"weights":[1,2],"bias":0,"means":[0,0],"stds":[1,1]}`), DefaultHyperparameters())
	assert.Error(t, err)
}

func TestAUC(t *testing.T) {
	tests := []struct {
		name   string
		scores []float64
		labels []bool
		want   float64
	}{
		{"perfect", []float64{0.1, 0.2, 0.8, 0.9}, []bool{false, false, true, true}, 1},
		{"inverted", []float64{0.9, 0.8, 0.2, 0.1}, []bool{false, false, true, true}, 0},
		{"all tied", []float64{0.5, 0.5, 0.5, 0.5}, []bool{false, true, false, true}, 0.5},
		{"one class", []float64{0.1, 0.9}, []bool{true, true}, 0.5},
		{"empty", nil, nil, 0.5},
		{"partial", []float64{0.1, 0.4, 0.35, 0.8}, []bool{false, false, true, true}, 0.75},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, AUC(tt.scores, tt.labels), 1e-12)
		})
	}
}

func TestEvaluateAUCUsesExampleSide(t *testing.T) {
	examples := testutil.SeparableExamples(100, testutil.ThreeInFive, 4)
	trained, err := untrained(t, ModelTypeLogistic).Train(examples, 1)
	require.NoError(t, err)
	longAUC := EvaluateAUC(trained, examples)

	// flipping a long win into a short loss keeps the direction of price, so the label flips with it
	flipped := make([]datamodels.TrainingExample, len(examples))
	copy(flipped, examples)
	for i := range flipped {
		flipped[i].Side = datamodels.DirectionShort
		if flipped[i].Won() {
			flipped[i].Label = datamodels.LabelLost
		} else {
			flipped[i].Label = datamodels.LabelWon
		}
	}
	assert.InDelta(t, longAUC, EvaluateAUC(trained, flipped), 1e-12)
}

func TestChronologicalSplit(t *testing.T) {
	examples := testutil.SeparableExamples(250, testutil.ThreeInFive, 1)
	train, holdout := ChronologicalSplit(examples, 0.2)
	require.Len(t, train, 200)
	require.Len(t, holdout, 50)
	assert.True(t, train[len(train)-1].CreatedAt.Before(holdout[0].CreatedAt))

	train, holdout = ChronologicalSplit(examples[:3], 0.2)
	assert.Len(t, train, 2)
	assert.Len(t, holdout, 1)
}

func TestTrainCandidate(t *testing.T) {
	examples := testutil.SeparableExamples(250, testutil.ThreeInFive, 1)
	train, holdout := ChronologicalSplit(examples, 0.2)
	trainedAt := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	version, model, err := TrainCandidate(untrained(t, ModelTypeLogistic), train, holdout, 42, trainedAt)
	require.NoError(t, err)
	require.NotNil(t, model)

	assert.Equal(t, ModelTypeLogistic, version.ModelType)
	assert.Equal(t, features.SchemaV1, version.SchemaVersion)
	assert.Equal(t, 200, version.TrainingExamples)
	assert.Equal(t, 50, version.HoldoutExamples)
	assert.Equal(t, int64(250), version.TrainedThroughSeq)
	assert.Equal(t, trainedAt, version.TrainedAt)
	assert.Greater(t, version.EvaluationMetric, 0.95)
	assert.Len(t, version.DataHash, 64)
	assert.Equal(t, DataHash(train, holdout), version.DataHash)
}
