// Package testutil builds synthetic bar series for tests.
package testutil

import (
	"math/rand"
	"time"

	"signalbot/src/datamodels"
)

var SessionStart = time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)

// TrendBars returns n one-minute bars whose close moves by step each bar.
func TrendBars(symbol string, n int, start, step float64) []datamodels.Bar {
	bars := make([]datamodels.Bar, n)
	for i := 0; i < n; i++ {
		closePrice := start + step*float64(i)
		openPrice := closePrice - step
		high := closePrice
		low := openPrice
		if step < 0 {
			high, low = openPrice, closePrice
		}
		bars[i] = datamodels.Bar{
			Symbol:    symbol,
			Timeframe: "1m",
			Timestamp: SessionStart.Add(time.Duration(i) * time.Minute),
			Open:      openPrice,
			High:      high + 0.05,
			Low:       low - 0.05,
			Close:     closePrice,
			Volume:    1000 + float64(i),
		}
	}
	return bars
}

// FlatBars returns n bars with identical prices and volume.
func FlatBars(symbol string, n int, price float64) []datamodels.Bar {
	bars := make([]datamodels.Bar, n)
	for i := 0; i < n; i++ {
		bars[i] = datamodels.Bar{
			Symbol:    symbol,
			Timeframe: "1m",
			Timestamp: SessionStart.Add(time.Duration(i) * time.Minute),
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    500,
		}
	}
	return bars
}

// ZigZagBars alternates between trending legs so that a backtest sees both wins and losses.
func ZigZagBars(symbol string, n int, start float64, legLength int, step float64) []datamodels.Bar {
	bars := make([]datamodels.Bar, n)
	price := start
	direction := 1.0
	for i := 0; i < n; i++ {
		if i > 0 && i%legLength == 0 {
			direction = -direction
		}
		openPrice := price
		price += direction * step
		bars[i] = datamodels.Bar{
			Symbol:    symbol,
			Timeframe: "1m",
			Timestamp: SessionStart.Add(time.Duration(i) * time.Minute),
			Open:      openPrice,
			High:      max(openPrice, price) + step/4,
			Low:       min(openPrice, price) - step/4,
			Close:     price,
			Volume:    1000,
		}
	}
	return bars
}

// RandomWalkBars is deterministic for a given seed.
func RandomWalkBars(symbol string, n int, start float64, seed int64) []datamodels.Bar {
	rng := rand.New(rand.NewSource(seed))
	bars := make([]datamodels.Bar, n)
	price := start
	for i := 0; i < n; i++ {
		openPrice := price
		price *= 1 + rng.NormFloat64()*0.002
		bars[i] = datamodels.Bar{
			Symbol:    symbol,
			Timeframe: "1m",
			Timestamp: SessionStart.Add(time.Duration(i) * time.Minute),
			Open:      openPrice,
			High:      max(openPrice, price) * 1.0005,
			Low:       min(openPrice, price) * 0.9995,
			Close:     price,
			Volume:    1000 + rng.Float64()*100,
		}
	}
	return bars
}
