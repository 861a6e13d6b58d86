package testutil

import (
	"fmt"
	"math/rand"
	"time"

	"signalbot/src/datamodels"
)

// InformativeFeature is the feature index that carries the label in SeparableExamples.
// The momentum prior puts no weight on it.
const InformativeFeature = 9

// SeparableExamples returns n chronologically ordered LONG examples with ten
// schema v1 features. Feature InformativeFeature separates wins from losses and
// the rest is seeded noise.
func SeparableExamples(n int, won func(i int) bool, seed int64) []datamodels.TrainingExample {
	rng := rand.New(rand.NewSource(seed))
	examples := make([]datamodels.TrainingExample, n)
	for i := 0; i < n; i++ {
		values := make([]float64, 10)
		for j := range values {
			values[j] = rng.NormFloat64() * 0.3
		}
		label := datamodels.LabelLost
		values[InformativeFeature] = -0.5 + rng.NormFloat64()*0.05
		if won(i) {
			label = datamodels.LabelWon
			values[InformativeFeature] = 0.5 + rng.NormFloat64()*0.05
		}
		examples[i] = datamodels.TrainingExample{
			Seq:                    int64(i + 1),
			SignalId:               fmt.Sprintf("sig-%04d", i),
			Symbol:                 "AAPL",
			Timeframe:              "1m",
			Side:                   datamodels.DirectionLong,
			Features:               values,
			SchemaVersion:          1,
			Label:                  label,
			ModelVersionAtEmission: 1,
			CreatedAt:              SessionStart.Add(time.Duration(i) * time.Minute),
		}
	}
	return examples
}

// ThreeInFive labels 60% of examples as wins, interleaved through time.
func ThreeInFive(i int) bool {
	return i%5 < 3
}
