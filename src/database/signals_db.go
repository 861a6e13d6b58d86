package database

import (
	"context"
	"time"

	"gorm.io/gorm"

	"signalbot/src/datamodels"
	"signalbot/src/utils/errors"
)

type SignalFilter struct {
	Symbol        string
	Timeframe     string
	Statuses      []datamodels.SignalStatus
	ResolvedFrom  *time.Time
	ResolvedTo    *time.Time
	ExpiresBefore *time.Time
}

type SignalDb interface {
	SaveSignal(ctx context.Context, signal *datamodels.Signal) error
	GetSignal(ctx context.Context, id string) (*datamodels.Signal, error)
	ListSignals(ctx context.Context, filter SignalFilter) ([]datamodels.Signal, error)
	// ResolveSignal moves an OPEN signal to a terminal status and appends example, when
	// non-nil, in one step. A signal that is no longer OPEN yields ErrAlreadyResolved.
	ResolveSignal(ctx context.Context, resolution datamodels.SignalResolution, example *datamodels.TrainingExample) error
}

func (d *databaseImplementation) SaveSignal(ctx context.Context, signal *datamodels.Signal) error {
	return d.gormDb.WithContext(ctx).Create(signal).Error
}

func (d *databaseImplementation) GetSignal(ctx context.Context, id string) (*datamodels.Signal, error) {
	var signal datamodels.Signal
	err := d.gormDb.WithContext(ctx).Where("id = ?", id).First(&signal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrapf(datamodels.ErrSignalNotFound, "%s", id)
	}
	if err != nil {
		return nil, err
	}
	return &signal, nil
}

func (d *databaseImplementation) ListSignals(ctx context.Context, filter SignalFilter) ([]datamodels.Signal, error) {
	query := d.gormDb.WithContext(ctx).Model(&datamodels.Signal{})

	if filter.Symbol != "" {
		query = query.Where("symbol = ?", filter.Symbol)
	}
	if filter.Timeframe != "" {
		query = query.Where("timeframe = ?", filter.Timeframe)
	}
	if len(filter.Statuses) > 0 {
		query = query.Where("status IN ?", filter.Statuses)
	}
	if filter.ResolvedFrom != nil {
		query = query.Where("resolved_at >= ?", *filter.ResolvedFrom)
	}
	if filter.ResolvedTo != nil {
		query = query.Where("resolved_at < ?", *filter.ResolvedTo)
	}
	if filter.ExpiresBefore != nil {
		query = query.Where("expires_at <= ?", *filter.ExpiresBefore)
	}

	var signals []datamodels.Signal
	if err := query.Order("created_at, id").Find(&signals).Error; err != nil {
		return nil, err
	}
	return signals, nil
}

func (d *databaseImplementation) ResolveSignal(
	ctx context.Context,
	resolution datamodels.SignalResolution,
	example *datamodels.TrainingExample) error {

	return d.gormDb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&datamodels.Signal{}).
			Where("id = ? AND status = ?", resolution.SignalId, datamodels.SignalStatusOpen).
			Updates(map[string]any{
				"status":           resolution.Status,
				"resolved_at":      resolution.ResolvedAt,
				"resolution_price": resolution.ResolutionPrice,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&datamodels.Signal{}).Where("id = ?", resolution.SignalId).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return errors.Wrapf(datamodels.ErrSignalNotFound, "%s", resolution.SignalId)
			}
			return errors.Wrapf(datamodels.ErrAlreadyResolved, "%s", resolution.SignalId)
		}
		if example != nil {
			return tx.Create(example).Error
		}
		return nil
	})
}
