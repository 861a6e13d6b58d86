package features

import (
	"math"

	"signalbot/src/datamodels"
)

// AverageTrueRange is Wilder's true range averaged over the last period bars.
// Returns 0 when fewer than two bars are supplied.
func AverageTrueRange(bars []datamodels.Bar, period int) float64 {
	if len(bars) < 2 || period <= 0 {
		return 0
	}
	if period > len(bars)-1 {
		period = len(bars) - 1
	}
	start := len(bars) - period
	total := 0.0
	for i := start; i < len(bars); i++ {
		prevClose := bars[i-1].Close
		trueRange := math.Max(bars[i].High-bars[i].Low,
			math.Max(math.Abs(bars[i].High-prevClose), math.Abs(bars[i].Low-prevClose)))
		total += trueRange
	}
	return total / float64(period)
}
