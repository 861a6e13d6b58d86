package strategies

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalbot/src/datamodels"
)

func TestComputeRiskLevels(t *testing.T) {
	risk := datamodels.RiskConfig{MinConfidence: 0.6, RiskRewardMultiple: 2, CooldownSeconds: 0}
	levels := LevelConfig{StopAtrMultiple: 1.5, MinStopPct: 0.005}

	testCases := []struct {
		name       string
		side       datamodels.Direction
		entry      float64
		atr        float64
		wantStop   float64
		wantTarget float64
	}{
		{name: "long atr bound", side: datamodels.DirectionLong, entry: 100, atr: 1, wantStop: 98.5, wantTarget: 103},
		{name: "short atr bound", side: datamodels.DirectionShort, entry: 100, atr: 1, wantStop: 101.5, wantTarget: 97},
		{name: "long pct floor", side: datamodels.DirectionLong, entry: 100, atr: 0.1, wantStop: 99.5, wantTarget: 101},
		{name: "zero atr uses floor", side: datamodels.DirectionShort, entry: 200, atr: 0, wantStop: 201, wantTarget: 198},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			stop, target, err := ComputeRiskLevels(tc.side, tc.entry, tc.atr, risk, levels)
			require.NoError(t, err)
			assert.InDelta(t, tc.wantStop, stop, 1e-9)
			assert.InDelta(t, tc.wantTarget, target, 1e-9)
		})
	}
}

func TestComputeRiskLevelsRejects(t *testing.T) {
	risk := datamodels.RiskConfig{RiskRewardMultiple: 2}
	levels := LevelConfig{StopAtrMultiple: 1.5, MinStopPct: 0.005}

	_, _, err := ComputeRiskLevels(datamodels.DirectionFlat, 100, 1, risk, levels)
	assert.Error(t, err)
	_, _, err = ComputeRiskLevels(datamodels.DirectionLong, 0, 1, risk, levels)
	assert.Error(t, err)
	_, _, err = ComputeRiskLevels(datamodels.DirectionLong, 100, 0, risk, LevelConfig{})
	assert.Error(t, err)
}

func TestComputeRiskLevelsRejectsUnreachableLevels(t *testing.T) {
	levels := LevelConfig{StopAtrMultiple: 1.5, MinStopPct: 0.005}

	// 1.5 below a short entry of 100, fifty times over, is under zero
	_, _, err := ComputeRiskLevels(datamodels.DirectionShort, 100, 1, datamodels.RiskConfig{RiskRewardMultiple: 50}, levels)
	assert.ErrorIs(t, err, datamodels.ErrInvalidRiskConfig)

	// the same risk is fine on the long side
	stop, target, err := ComputeRiskLevels(datamodels.DirectionLong, 100, 1, datamodels.RiskConfig{RiskRewardMultiple: 50}, levels)
	require.NoError(t, err)
	assert.InDelta(t, 98.5, stop, 1e-9)
	assert.InDelta(t, 175, target, 1e-9)

	// a stop distance wider than the entry puts a long stop below zero
	_, _, err = ComputeRiskLevels(datamodels.DirectionLong, 1, 1, datamodels.RiskConfig{RiskRewardMultiple: 2}, levels)
	assert.ErrorIs(t, err, datamodels.ErrInvalidRiskConfig)
}
