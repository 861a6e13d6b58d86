package database

import (
	"context"

	"signalbot/src/datamodels"
)

type BacktestResultDb interface {
	SaveBacktestResult(ctx context.Context, result *datamodels.BacktestResult) error
	ListBacktestResults(ctx context.Context, strategyId string) ([]datamodels.BacktestResult, error)
}

func (d *databaseImplementation) SaveBacktestResult(ctx context.Context, result *datamodels.BacktestResult) error {
	return d.gormDb.WithContext(ctx).Create(result).Error
}

func (d *databaseImplementation) ListBacktestResults(ctx context.Context, strategyId string) ([]datamodels.BacktestResult, error) {
	var results []datamodels.BacktestResult
	query := d.gormDb.WithContext(ctx).Model(&datamodels.BacktestResult{})
	if strategyId != "" {
		query = query.Where("strategy_id = ?", strategyId)
	}
	err := query.Order("created_at").Find(&results).Error
	return results, err
}
