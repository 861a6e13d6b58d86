// Package features turns bar windows into fixed-width feature vectors.
package features

import (
	"math"

	"github.com/montanaflynn/stats"

	"signalbot/src/datamodels"
	"signalbot/src/utils/errors"
)

const (
	SchemaV1 = 1

	// substituted for any denominator that would otherwise be zero
	Epsilon = 1e-9
)

type schema struct {
	version    int
	windowSize int
	names      []string
	compute    func(bars []datamodels.Bar) []float64
}

var schemas = map[int]schema{
	SchemaV1: {
		version:    SchemaV1,
		windowSize: 50,
		names: []string{
			"window_return",
			"recent_return",
			"trend_slope",
			"trend_strength",
			"volatility",
			"range_position",
			"ma_ratio",
			"gain_loss_balance",
			"volume_trend",
			"mean_range",
		},
		compute: computeV1,
	},
}

// FeatureBuilder is stateless; Build is a pure function of its input window.
type FeatureBuilder struct {
	schema schema
}

func NewFeatureBuilder(schemaVersion int) (*FeatureBuilder, error) {
	s, ok := schemas[schemaVersion]
	if !ok {
		return nil, errors.Newf("unknown feature schema version %d", schemaVersion)
	}
	return &FeatureBuilder{schema: s}, nil
}

func (fb *FeatureBuilder) SchemaVersion() int {
	return fb.schema.version
}

func (fb *FeatureBuilder) WindowSize() int {
	return fb.schema.windowSize
}

func (fb *FeatureBuilder) FeatureNames() []string {
	names := make([]string, len(fb.schema.names))
	copy(names, fb.schema.names)
	return names
}

func (fb *FeatureBuilder) NumFeatures() int {
	return len(fb.schema.names)
}

// Build uses the most recent WindowSize bars.
func (fb *FeatureBuilder) Build(symbol, timeframe string, bars []datamodels.Bar) (datamodels.FeatureVector, error) {
	n := fb.schema.windowSize
	if len(bars) < n {
		return datamodels.FeatureVector{}, errors.Wrapf(datamodels.ErrInsufficientHistory,
			"%s %s: have %d bars, need %d", symbol, timeframe, len(bars), n)
	}
	window := bars[len(bars)-n:]
	if err := validateWindow(symbol, timeframe, window); err != nil {
		return datamodels.FeatureVector{}, err
	}

	return datamodels.FeatureVector{
		Symbol:        symbol,
		Timeframe:     timeframe,
		Timestamp:     window[n-1].Timestamp,
		SchemaVersion: fb.schema.version,
		Values:        fb.schema.compute(window),
		Flat:          isFlat(window),
	}, nil
}

// isFlat reports a window whose whole price range is below Epsilon relative to its level.
func isFlat(window []datamodels.Bar) bool {
	hi, lo := math.Inf(-1), math.Inf(1)
	for _, bar := range window {
		hi = math.Max(hi, math.Max(math.Max(bar.High, bar.Low), math.Max(bar.Open, bar.Close)))
		lo = math.Min(lo, math.Min(math.Min(bar.High, bar.Low), math.Min(bar.Open, bar.Close)))
	}
	return hi-lo < Epsilon*math.Max(1, math.Abs(hi))
}

func validateWindow(symbol, timeframe string, window []datamodels.Bar) error {
	for i := range window {
		bar := &window[i]
		if bar.Symbol != "" && bar.Symbol != symbol {
			return errors.Wrapf(datamodels.ErrInvalidWindow, "bar %d has symbol %s, want %s", i, bar.Symbol, symbol)
		}
		if bar.Timeframe != "" && bar.Timeframe != timeframe {
			return errors.Wrapf(datamodels.ErrInvalidWindow, "bar %d has timeframe %s, want %s", i, bar.Timeframe, timeframe)
		}
		if i > 0 && !bar.Timestamp.After(window[i-1].Timestamp) {
			return errors.Wrapf(datamodels.ErrInvalidWindow, "bar %d at %s is not after %s",
				i, bar.Timestamp, window[i-1].Timestamp)
		}
		for _, v := range []float64{bar.Open, bar.High, bar.Low, bar.Close, bar.Volume} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return errors.Wrapf(datamodels.ErrInvalidWindow, "bar %d has non-finite values", i)
			}
		}
	}
	return nil
}

func computeV1(window []datamodels.Bar) []float64 {
	n := len(window)
	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	volumes := make([]float64, n)
	ranges := make([]float64, n)
	series := make([]stats.Coordinate, n)
	for i, bar := range window {
		closes[i] = bar.Close
		highs[i] = bar.High
		lows[i] = bar.Low
		volumes[i] = bar.Volume
		ranges[i] = (bar.High - bar.Low) / safe(bar.Close)
		series[i] = stats.Coordinate{X: float64(i), Y: bar.Close}
	}

	returns := make([]float64, n-1)
	gains, losses := 0.0, 0.0
	for i := 1; i < n; i++ {
		diff := closes[i] - closes[i-1]
		returns[i-1] = diff / safe(closes[i-1])
		if diff > 0 {
			gains += diff
		} else {
			losses -= diff
		}
	}

	first, last := closes[0], closes[n-1]
	meanClose := mean(closes)

	slope := 0.0
	if fitted, err := stats.LinReg(series); err == nil && len(fitted) == n {
		slope = (fitted[n-1].Y - fitted[0].Y) / float64(n-1)
	}
	slopeNorm := slope / safe(meanClose)

	volatility, _ := stats.StandardDeviationPopulation(returns)
	hi, _ := stats.Max(highs)
	lo, _ := stats.Min(lows)
	mid := (hi + lo) / 2

	recent := n - 6
	if recent < 0 {
		recent = 0
	}
	shortWindow := 10
	if shortWindow > n {
		shortWindow = n
	}
	volumeWindow := 5
	if volumeWindow > n {
		volumeWindow = n
	}
	meanVolume := mean(volumes)

	return []float64{
		math.Tanh(10 * (last - first) / safe(first)),
		math.Tanh(20 * (last - closes[recent]) / safe(closes[recent])),
		math.Tanh(10 * slopeNorm * float64(n)),
		math.Tanh(slopeNorm / math.Max(volatility, Epsilon)),
		math.Tanh(100 * volatility),
		clamp((last-mid)/math.Max((hi-lo)/2, Epsilon), -1, 1),
		math.Tanh(50 * (mean(closes[n-shortWindow:])/safe(meanClose) - 1)),
		(gains - losses) / math.Max(gains+losses, Epsilon),
		math.Tanh((mean(volumes[n-volumeWindow:]) - meanVolume) / math.Max(meanVolume, Epsilon)),
		math.Tanh(100 * mean(ranges)),
	}
}

// safe returns x, or Epsilon when |x| is below it, keeping the sign.
func safe(x float64) float64 {
	if math.Abs(x) < Epsilon {
		if x < 0 {
			return -Epsilon
		}
		return Epsilon
	}
	return x
}

func mean(xs []float64) float64 {
	m, err := stats.Mean(xs)
	if err != nil {
		return 0
	}
	return m
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}
