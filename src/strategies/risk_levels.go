package strategies

import (
	"math"

	"signalbot/src/datamodels"
	"signalbot/src/utils/errors"
)

// LevelConfig sizes the stop distance.
type LevelConfig struct {
	StopAtrMultiple float64
	MinStopPct      float64
}

func LevelConfigFrom(config datamodels.SignalEngineConfig) LevelConfig {
	return LevelConfig{
		StopAtrMultiple: config.StopAtrMultiple,
		MinStopPct:      config.MinStopPct,
	}
}

// ComputeRiskLevels places the stop at max(atr*StopAtrMultiple, entry*MinStopPct)
// from entry and the target RiskRewardMultiple times further on the other side.
func ComputeRiskLevels(
	side datamodels.Direction,
	entry float64,
	atr float64,
	risk datamodels.RiskConfig,
	levels LevelConfig) (stopLoss float64, takeProfit float64, err error) {

	if entry <= 0 || math.IsNaN(entry) || math.IsInf(entry, 0) {
		return 0, 0, errors.Newf("invalid entry price %v", entry)
	}
	distance := math.Max(atr*levels.StopAtrMultiple, entry*levels.MinStopPct)
	if distance <= 0 || math.IsNaN(distance) {
		return 0, 0, errors.Newf("stop distance must be positive, got %v", distance)
	}

	switch side {
	case datamodels.DirectionLong:
		stopLoss, takeProfit = entry-distance, entry+distance*risk.RiskRewardMultiple
	case datamodels.DirectionShort:
		stopLoss, takeProfit = entry+distance, entry-distance*risk.RiskRewardMultiple
	default:
		return 0, 0, errors.Newf("no risk levels for side %q", side)
	}
	// prices are positive, so a level at or below zero can never be reached
	if stopLoss <= 0 || takeProfit <= 0 {
		return 0, 0, errors.Wrapf(datamodels.ErrInvalidRiskConfig,
			"%s from %v gives stop %v and target %v", side, entry, stopLoss, takeProfit)
	}
	return stopLoss, takeProfit, nil
}
