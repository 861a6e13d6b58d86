package signalmodel

import (
	"sort"

	"signalbot/src/datamodels"
)

// WinProbability is the model's probability that the example's own side won.
func WinProbability(model SignalModel, example *datamodels.TrainingExample) float64 {
	p := model.UpProbability(example.Features)
	if example.Side == datamodels.DirectionShort {
		return 1 - p
	}
	return p
}

// EvaluateAUC scores model against won/lost labels. Single-class sets score 0.5.
func EvaluateAUC(model SignalModel, examples []datamodels.TrainingExample) float64 {
	scores := make([]float64, len(examples))
	labels := make([]bool, len(examples))
	for i := range examples {
		scores[i] = WinProbability(model, &examples[i])
		labels[i] = examples[i].Won()
	}
	return AUC(scores, labels)
}

// AUC is the Mann-Whitney estimate of ROC area. Tied scores share their average rank.
func AUC(scores []float64, labels []bool) float64 {
	if len(scores) != len(labels) || len(scores) == 0 {
		return 0.5
	}
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return scores[idx[a]] < scores[idx[b]]
	})

	positives, negatives := 0, 0
	rankSum := 0.0
	for i := 0; i < len(idx); {
		j := i
		for j+1 < len(idx) && scores[idx[j+1]] == scores[idx[i]] {
			j++
		}
		// ranks are 1-based, ties get the mean of i+1..j+1
		avgRank := float64(i+j+2) / 2
		for k := i; k <= j; k++ {
			if labels[idx[k]] {
				positives++
				rankSum += avgRank
			} else {
				negatives++
			}
		}
		i = j + 1
	}
	if positives == 0 || negatives == 0 {
		return 0.5
	}
	p := float64(positives)
	return (rankSum - p*(p+1)/2) / (p * float64(negatives))
}
