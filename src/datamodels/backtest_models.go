package datamodels

import "time"

// BacktestResult is written once per completed run.
type BacktestResult struct {
	Id             string    `gorm:"primarykey;type:uuid" json:"id"`
	StrategyId     string    `gorm:"not null;index" json:"strategy_id"`
	Symbol         string    `gorm:"not null" json:"symbol"`
	Timeframe      string    `gorm:"not null" json:"timeframe"`
	ModelVersion   int64     `gorm:"not null;index" json:"model_version"`
	PeriodStart    time.Time `gorm:"not null" json:"period_start"`
	PeriodEnd      time.Time `gorm:"not null" json:"period_end"`
	WinRate        float64   `json:"win_rate"`
	SharpeRatio    *float64  `json:"sharpe_ratio"`
	MaxDrawdown    float64   `json:"max_drawdown"`
	TotalTrades    int       `json:"total_trades"`
	Wins           int       `json:"wins"`
	Losses         int       `json:"losses"`
	Expired        int       `json:"expired"`
	TotalReturn    float64   `json:"total_return"`
	ProfitFactor   *float64  `json:"profit_factor"`
	AvgTradeReturn float64   `json:"avg_trade_return"`
	CreatedAt      time.Time `json:"created_at"`
}

type BacktestTrade struct {
	Side       Direction    `json:"side"`
	EntryTime  time.Time    `json:"entry_time"`
	EntryPrice float64      `json:"entry_price"`
	ExitTime   time.Time    `json:"exit_time"`
	ExitPrice  float64      `json:"exit_price"`
	StopLoss   float64      `json:"stop_loss"`
	TakeProfit float64      `json:"take_profit"`
	Confidence float64      `json:"confidence"`
	Outcome    SignalStatus `json:"outcome"`
	Return     float64      `json:"return"`
}

type EquityPoint struct {
	Time   time.Time `json:"time"`
	Equity float64   `json:"equity"`
}

// PerformanceSummary is shared by backtests and live stats.
type PerformanceSummary struct {
	TotalTrades  int           `json:"total_trades"`
	Wins         int           `json:"wins"`
	Losses       int           `json:"losses"`
	Expired      int           `json:"expired"`
	WinRate      float64       `json:"win_rate"`
	SharpeRatio  *float64      `json:"sharpe_ratio"`
	MaxDrawdown  float64       `json:"max_drawdown"`
	TotalReturn  float64       `json:"total_return"`
	ProfitFactor *float64      `json:"profit_factor"`
	AvgReturn    float64       `json:"avg_return"`
	Equity       []EquityPoint `json:"equity,omitempty"`
}
