package database

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"gorm.io/gorm"

	"signalbot/src/datamodels"
	"signalbot/src/utils/errors"
)

const PromotionChannel = "model_promotion"

type ModelVersionDb interface {
	// CreateModelVersion assigns the next id. The version is stored unpromoted.
	CreateModelVersion(ctx context.Context, version *datamodels.ModelVersion) error
	// PromoteModelVersion makes id the single promoted version.
	PromoteModelVersion(ctx context.Context, id int64, at time.Time) error
	GetPromotedModelVersion(ctx context.Context) (*datamodels.ModelVersion, error)
	GetModelVersion(ctx context.Context, id int64) (*datamodels.ModelVersion, error)
	ListModelVersions(ctx context.Context) ([]datamodels.ModelVersion, error)
	LatestTrainedThroughSeq(ctx context.Context) (int64, error)
	// SubscribePromotions delivers promoted version ids written by any process.
	// Implementations without cross-process notifications return a nil channel.
	SubscribePromotions(ctx context.Context) (<-chan string, error)
}

func (d *databaseImplementation) CreateModelVersion(ctx context.Context, version *datamodels.ModelVersion) error {
	version.Id = 0
	version.Promoted = false
	version.PromotedAt = nil
	return d.gormDb.WithContext(ctx).Create(version).Error
}

func (d *databaseImplementation) PromoteModelVersion(ctx context.Context, id int64, at time.Time) error {
	err := d.gormDb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&datamodels.ModelVersion{}).
			Where("promoted = ?", true).
			Update("promoted", false).Error; err != nil {
			return err
		}
		result := tx.Model(&datamodels.ModelVersion{}).
			Where("id = ?", id).
			Updates(map[string]any{"promoted": true, "promoted_at": at, "rejected": false})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return errors.Wrapf(datamodels.ErrModelVersionNotFound, "%d", id)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if notifyErr := Notify(d.gormDb, PromotionChannel, strconv.FormatInt(id, 10), "promoted"); notifyErr != nil {
		slog.Warn("Failed to notify model promotion", "version", id, "error", notifyErr)
	}
	return nil
}

func (d *databaseImplementation) GetPromotedModelVersion(ctx context.Context) (*datamodels.ModelVersion, error) {
	var version datamodels.ModelVersion
	err := d.gormDb.WithContext(ctx).Where("promoted = ?", true).First(&version).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, datamodels.ErrNoPromotedModel
	}
	if err != nil {
		return nil, err
	}
	return &version, nil
}

func (d *databaseImplementation) GetModelVersion(ctx context.Context, id int64) (*datamodels.ModelVersion, error) {
	var version datamodels.ModelVersion
	err := d.gormDb.WithContext(ctx).Where("id = ?", id).First(&version).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrapf(datamodels.ErrModelVersionNotFound, "%d", id)
	}
	if err != nil {
		return nil, err
	}
	return &version, nil
}

func (d *databaseImplementation) ListModelVersions(ctx context.Context) ([]datamodels.ModelVersion, error) {
	var versions []datamodels.ModelVersion
	err := d.gormDb.WithContext(ctx).Order("id").Find(&versions).Error
	return versions, err
}

func (d *databaseImplementation) LatestTrainedThroughSeq(ctx context.Context) (int64, error) {
	var seq *int64
	err := d.gormDb.WithContext(ctx).Model(&datamodels.ModelVersion{}).Select("MAX(trained_through_seq)").Scan(&seq).Error
	if err != nil || seq == nil {
		return 0, err
	}
	return *seq, nil
}

func (d *databaseImplementation) SubscribePromotions(ctx context.Context) (<-chan string, error) {
	notifications, err := d.notificationManager.Subscribe(ctx, PromotionChannel)
	if err != nil {
		return nil, err
	}
	ids := make(chan string, 10)
	go func() {
		defer close(ids)
		for n := range notifications {
			select {
			case ids <- n.ObjectId:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ids, nil
}
