package database

import (
	"context"

	"signalbot/src/datamodels"
)

type MetricsDatabase interface {
	CreateNewMetricGenerator(ctx context.Context, metricGenerator datamodels.MetricGenerator) (int64, error)
	WriteNewMetric(ctx context.Context, metric datamodels.Metric) (int64, error)
}

func (d *databaseImplementation) CreateNewMetricGenerator(ctx context.Context, metricGenerator datamodels.MetricGenerator) (int64, error) {
	result := d.gormDb.WithContext(ctx).Create(&metricGenerator)
	return metricGenerator.Id, result.Error
}

func (d *databaseImplementation) WriteNewMetric(ctx context.Context, metric datamodels.Metric) (int64, error) {
	result := d.gormDb.WithContext(ctx).Create(&metric)
	return metric.Id, result.Error
}
