package datamodels

import (
	"time"

	"gorm.io/datatypes"
)

// ModelVersion ids are monotonic. Exactly one version is promoted at a time.
type ModelVersion struct {
	Id                int64          `gorm:"primarykey" json:"id"`
	ModelType         string         `gorm:"not null;index" json:"model_type"`
	SchemaVersion     int            `gorm:"not null" json:"schema_version"`
	Parameters        datatypes.JSON `gorm:"type:jsonb;not null" json:"parameters"`
	TrainedAt         time.Time      `gorm:"not null" json:"trained_at"`
	EvaluationMetric  float64        `gorm:"not null" json:"evaluation_metric"`
	TrainMetric       float64        `json:"train_metric"`
	Promoted          bool           `gorm:"not null;default:false;index" json:"promoted"`
	Rejected          bool           `gorm:"not null;default:false" json:"rejected"`
	PromotedAt        *time.Time     `json:"promoted_at,omitempty"`
	TrainingExamples  int            `json:"training_examples"`
	HoldoutExamples   int            `json:"holdout_examples"`
	TrainedThroughSeq int64          `gorm:"not null;default:0" json:"trained_through_seq"`
	Seed              int64          `json:"seed"`
	DataHash          string         `json:"data_hash"`
}
