package datamodels

import (
	"time"

	"gorm.io/datatypes"
)

type MetricGeneratorType string

const (
	MetricGeneratorTypeSignalEngine MetricGeneratorType = "signal_engine"
	MetricGeneratorTypeTracker      MetricGeneratorType = "outcome_tracker"
	MetricGeneratorTypeRetraining   MetricGeneratorType = "retraining"
	MetricGeneratorTypeBacktest     MetricGeneratorType = "backtest"
)

// metric value is any json document
type Metric struct {
	BaseModel
	MetricGeneratorId   string              `gorm:"not null;index" json:"metric_generator_id"`
	MetricGeneratorName string              `gorm:"not null;index" json:"metric_generator_name"`
	MetricGeneratorType MetricGeneratorType `gorm:"not null;index" json:"metric_generator_type"`
	MetricTime          time.Time           `gorm:"not null;index" json:"metric_time"`
	MetricName          string              `gorm:"not null;index" json:"metric_name"`
	MetricValue         datatypes.JSON      `gorm:"not null;type:jsonb" json:"metric_value"`
}

type MetricGenerator struct {
	BaseModel
	MetricGeneratorName string              `gorm:"not null;index"`
	MetricGeneratorType MetricGeneratorType `gorm:"not null;index"`
}
