package datamodels

import (
	"time"

	"signalbot/src/utils/errors"
)

type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
	DirectionFlat  Direction = "FLAT"
)

type SignalStatus string

const (
	SignalStatusOpen       SignalStatus = "OPEN"
	SignalStatusClosedWin  SignalStatus = "CLOSED_WIN"
	SignalStatusClosedLoss SignalStatus = "CLOSED_LOSS"
	SignalStatusExpired    SignalStatus = "EXPIRED"
)

func (s SignalStatus) IsTerminal() bool {
	return s == SignalStatusClosedWin || s == SignalStatusClosedLoss || s == SignalStatusExpired
}

type Label string

const (
	LabelWon  Label = "won"
	LabelLost Label = "lost"
)

// RiskConfig is supplied per generateSignal call.
type RiskConfig struct {
	MinConfidence      float64 `mapstructure:"min_confidence" json:"min_confidence"`
	RiskRewardMultiple float64 `mapstructure:"risk_reward_multiple" json:"risk_reward_multiple"`
	CooldownSeconds    int     `mapstructure:"cooldown_seconds" json:"cooldown_seconds"`
}

func (r RiskConfig) Validate() error {
	if r.MinConfidence < 0 || r.MinConfidence > 1 {
		return errors.Wrapf(ErrInvalidRiskConfig, "min_confidence %v outside [0,1]", r.MinConfidence)
	}
	if r.RiskRewardMultiple <= 0 {
		return errors.Wrapf(ErrInvalidRiskConfig, "risk_reward_multiple must be positive, got %v", r.RiskRewardMultiple)
	}
	if r.CooldownSeconds < 0 {
		return errors.Wrapf(ErrInvalidRiskConfig, "cooldown_seconds must not be negative, got %d", r.CooldownSeconds)
	}
	return nil
}

func (r RiskConfig) Cooldown() time.Duration {
	return time.Duration(r.CooldownSeconds) * time.Second
}

type Signal struct {
	Id              string       `gorm:"primarykey;type:uuid" json:"id"`
	Symbol          string       `gorm:"not null;index:idx_signal_key,priority:1" json:"symbol"`
	Timeframe       string       `gorm:"not null;index:idx_signal_key,priority:2" json:"timeframe"`
	Side            Direction    `gorm:"not null" json:"side"`
	EntryPrice      float64      `gorm:"not null" json:"entry_price"`
	StopLoss        float64      `gorm:"not null" json:"stop_loss"`
	TakeProfit      float64      `gorm:"not null" json:"take_profit"`
	ConfidenceScore float64      `gorm:"not null" json:"confidence_score"`
	ModelVersion    int64        `gorm:"not null;index" json:"model_version"`
	SchemaVersion   int          `gorm:"not null" json:"schema_version"`
	Features        []float64    `gorm:"serializer:json;not null" json:"features,omitempty"`
	Status          SignalStatus `gorm:"not null;index" json:"status"`
	CreatedAt       time.Time    `gorm:"not null;index" json:"created_at"`
	ExpiresAt       time.Time    `gorm:"not null" json:"expires_at"`
	ResolvedAt      *time.Time   `gorm:"index" json:"resolved_at,omitempty"`
	ResolutionPrice *float64     `json:"resolution_price,omitempty"`
}

func (s *Signal) GetId() string {
	return s.Id
}

func (s *Signal) GetTimestamp() time.Time {
	return s.CreatedAt
}

// ReturnAt is the fractional return of the signal if closed at exitPrice.
func (s *Signal) ReturnAt(exitPrice float64) float64 {
	if s.EntryPrice == 0 {
		return 0
	}
	r := (exitPrice - s.EntryPrice) / s.EntryPrice
	if s.Side == DirectionShort {
		return -r
	}
	return r
}

// SignalResolution is the terminal transition applied by the outcome tracker.
type SignalResolution struct {
	SignalId        string
	Status          SignalStatus
	ResolutionPrice float64
	ResolvedAt      time.Time
}

// TrainingExample is append-only. Seq is assigned by the store and is strictly increasing.
type TrainingExample struct {
	Seq                    int64     `gorm:"primarykey;autoIncrement" json:"seq"`
	SignalId               string    `gorm:"not null;uniqueIndex" json:"signal_id"`
	Symbol                 string    `gorm:"not null;index" json:"symbol"`
	Timeframe              string    `gorm:"not null" json:"timeframe"`
	Side                   Direction `gorm:"not null" json:"side"`
	Features               []float64 `gorm:"serializer:json;not null" json:"features"`
	SchemaVersion          int       `gorm:"not null" json:"schema_version"`
	Label                  Label     `gorm:"not null" json:"label"`
	ModelVersionAtEmission int64     `gorm:"not null;index" json:"model_version_at_emission"`
	CreatedAt              time.Time `gorm:"not null;index" json:"created_at"`
}

func (e *TrainingExample) Won() bool {
	return e.Label == LabelWon
}

// MovedUp is true when price went the long way: a long that won or a short that lost.
func (e *TrainingExample) MovedUp() bool {
	return (e.Side == DirectionLong) == e.Won()
}
