package datamodels

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"signalbot/src/utils/errors"
)

type BaseModel struct {
	Id        int64 `gorm:"primarykey"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type BaseModelUUID struct {
	ID        uuid.UUID `gorm:"primarykey;default:gen_random_uuid();type:uuid"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Bar is one OHLCV observation. Bars are immutable once written.
type Bar struct {
	BaseModel
	Symbol    string    `gorm:"not null;uniqueIndex:idx_bar_key,priority:1" json:"symbol"`
	Timeframe string    `gorm:"not null;uniqueIndex:idx_bar_key,priority:2" json:"timeframe"`
	Timestamp time.Time `gorm:"not null;uniqueIndex:idx_bar_key,priority:3" json:"timestamp"`
	Open      float64   `gorm:"not null" json:"open"`
	High      float64   `gorm:"not null" json:"high"`
	Low       float64   `gorm:"not null" json:"low"`
	Close     float64   `gorm:"not null" json:"close"`
	Volume    float64   `gorm:"not null" json:"volume"`
}

func (b *Bar) GetId() string {
	return b.Symbol + "|" + b.Timeframe + "|" + strconv.FormatInt(b.Timestamp.UnixNano(), 10)
}

func (b *Bar) GetTimestamp() time.Time {
	return b.Timestamp
}

// FeatureVector is derived from a window of bars ending at Timestamp.
type FeatureVector struct {
	Symbol        string    `json:"symbol"`
	Timeframe     string    `json:"timeframe"`
	Timestamp     time.Time `json:"timestamp"`
	SchemaVersion int       `json:"schema_version"`
	Values        []float64 `json:"values"`
	// Flat is set when every price in the window is the same; no signal is taken on it.
	Flat          bool      `json:"flat,omitempty"`
}

// ParseTimeframe turns "1m", "15m", "4h", "1d" or "1w" into a duration.
func ParseTimeframe(timeframe string) (time.Duration, error) {
	tf := strings.TrimSpace(strings.ToLower(timeframe))
	if len(tf) < 2 {
		return 0, errors.Newf("invalid timeframe %q", timeframe)
	}
	unit := tf[len(tf)-1]
	count, err := strconv.Atoi(tf[:len(tf)-1])
	if err != nil || count <= 0 {
		return 0, errors.Newf("invalid timeframe %q", timeframe)
	}
	switch unit {
	case 's':
		return time.Duration(count) * time.Second, nil
	case 'm':
		return time.Duration(count) * time.Minute, nil
	case 'h':
		return time.Duration(count) * time.Hour, nil
	case 'd':
		return time.Duration(count) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(count) * 7 * 24 * time.Hour, nil
	default:
		return 0, errors.Newf("invalid timeframe unit in %q", timeframe)
	}
}
