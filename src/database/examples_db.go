package database

import (
	"context"

	"signalbot/src/datamodels"
)

// TrainingExampleDb is append-only. There is deliberately no update or delete.
type TrainingExampleDb interface {
	AppendExample(ctx context.Context, example *datamodels.TrainingExample) error
	CountExamplesAfter(ctx context.Context, seq int64) (int64, error)
	ListExamplesThrough(ctx context.Context, seq int64) ([]datamodels.TrainingExample, error)
	LatestExampleSeq(ctx context.Context) (int64, error)
}

func (d *databaseImplementation) AppendExample(ctx context.Context, example *datamodels.TrainingExample) error {
	example.Seq = 0
	return d.gormDb.WithContext(ctx).Create(example).Error
}

func (d *databaseImplementation) CountExamplesAfter(ctx context.Context, seq int64) (int64, error) {
	var count int64
	err := d.gormDb.WithContext(ctx).Model(&datamodels.TrainingExample{}).Where("seq > ?", seq).Count(&count).Error
	return count, err
}

func (d *databaseImplementation) ListExamplesThrough(ctx context.Context, seq int64) ([]datamodels.TrainingExample, error) {
	var examples []datamodels.TrainingExample
	err := d.gormDb.WithContext(ctx).
		Where("seq <= ?", seq).
		Order("created_at, seq").
		Find(&examples).Error
	return examples, err
}

func (d *databaseImplementation) LatestExampleSeq(ctx context.Context) (int64, error) {
	var seq *int64
	err := d.gormDb.WithContext(ctx).Model(&datamodels.TrainingExample{}).Select("MAX(seq)").Scan(&seq).Error
	if err != nil || seq == nil {
		return 0, err
	}
	return *seq, nil
}
