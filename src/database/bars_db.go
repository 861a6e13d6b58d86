package database

import (
	"context"
	"time"

	"gorm.io/gorm/clause"

	"signalbot/src/datamodels"
)

type BarDb interface {
	// WriteBars ignores bars that already exist; recorded bars are immutable.
	WriteBars(ctx context.Context, bars []datamodels.Bar) error
	// GetLatestBars returns up to limit bars, oldest first.
	GetLatestBars(ctx context.Context, symbol, timeframe string, limit int) ([]datamodels.Bar, error)
	GetBarsInRange(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]datamodels.Bar, error)
}

func (d *databaseImplementation) WriteBars(ctx context.Context, bars []datamodels.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	batchSize := 5000
	return d.gormDb.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(bars, batchSize).Error
}

func (d *databaseImplementation) GetLatestBars(ctx context.Context, symbol, timeframe string, limit int) ([]datamodels.Bar, error) {
	var bars []datamodels.Bar
	err := d.gormDb.WithContext(ctx).
		Where("symbol = ? AND timeframe = ?", symbol, timeframe).
		Order("timestamp DESC").
		Limit(limit).
		Find(&bars).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
	return bars, nil
}

func (d *databaseImplementation) GetBarsInRange(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]datamodels.Bar, error) {
	var bars []datamodels.Bar
	err := d.gormDb.WithContext(ctx).
		Where("symbol = ? AND timeframe = ? AND timestamp >= ? AND timestamp < ?", symbol, timeframe, start, end).
		Order("timestamp").
		Find(&bars).Error
	return bars, err
}
