// Package performance turns a sequence of per-trade returns into the summary
// statistics reported by backtests and live stats.
package performance

import (
	"math"
	"time"

	"github.com/montanaflynn/stats"

	"signalbot/src/datamodels"
)

// minStd below which returns are treated as constant and the sharpe ratio is undefined.
const minStd = 1e-12

// TradeReturn is one closed trade: its exit time, fractional return and terminal status.
type TradeReturn struct {
	Time    time.Time
	Return  float64
	Outcome datamodels.SignalStatus
}

type Options struct {
	// TradesPerYear annualizes the sharpe ratio when positive.
	TradesPerYear float64
	// StartTime, when set, prepends a unit equity point.
	StartTime time.Time
}

// Summarize computes win rate, sharpe ratio, max drawdown and the compounded
// equity curve (starting at 1.0) for returns in the given order.
func Summarize(returns []TradeReturn, opts Options) datamodels.PerformanceSummary {
	summary := datamodels.PerformanceSummary{TotalTrades: len(returns)}
	if !opts.StartTime.IsZero() {
		summary.Equity = append(summary.Equity, datamodels.EquityPoint{Time: opts.StartTime, Equity: 1})
	}
	if len(returns) == 0 {
		return summary
	}

	values := make([]float64, len(returns))
	var gains, losses float64
	equity, peak := 1.0, 1.0
	for i, trade := range returns {
		values[i] = trade.Return
		switch trade.Outcome {
		case datamodels.SignalStatusClosedWin:
			summary.Wins++
		case datamodels.SignalStatusClosedLoss:
			summary.Losses++
		case datamodels.SignalStatusExpired:
			summary.Expired++
		}
		if trade.Return > 0 {
			gains += trade.Return
		} else {
			losses -= trade.Return
		}

		equity *= 1 + trade.Return
		peak = math.Max(peak, equity)
		summary.MaxDrawdown = math.Max(summary.MaxDrawdown, drawdown(peak, equity))
		summary.Equity = append(summary.Equity, datamodels.EquityPoint{Time: trade.Time, Equity: equity})
	}

	summary.WinRate = float64(summary.Wins) / float64(summary.TotalTrades)
	summary.TotalReturn = equity - 1
	summary.AvgReturn, _ = stats.Mean(values)
	if losses > 0 {
		pf := gains / losses
		summary.ProfitFactor = &pf
	}
	summary.SharpeRatio = sharpe(values, opts.TradesPerYear)
	return summary
}

// sharpe is mean over sample std of per-trade returns with a zero risk-free
// rate. It is nil with fewer than two trades or constant returns.
func sharpe(values []float64, tradesPerYear float64) *float64 {
	if len(values) < 2 {
		return nil
	}
	std, err := stats.StandardDeviationSample(values)
	if err != nil || std < minStd {
		return nil
	}
	mean, err := stats.Mean(values)
	if err != nil {
		return nil
	}
	ratio := mean / std
	if tradesPerYear > 0 {
		ratio *= math.Sqrt(tradesPerYear)
	}
	return &ratio
}

func drawdown(peak, current float64) float64 {
	if peak <= 0 || current >= peak {
		return 0
	}
	return (peak - current) / peak
}

// TradesPerYear scales a trade count observed over numBars bars to a yearly rate.
func TradesPerYear(trades, numBars int, barsPerYear float64) float64 {
	if trades == 0 || numBars == 0 || barsPerYear <= 0 {
		return 0
	}
	return float64(trades) * barsPerYear / float64(numBars)
}
