package metrics

import (
	"context"
	"sync"

	"signalbot/src/database"
	"signalbot/src/datamodels"
	"signalbot/src/utils/errors"
)

// DBMetricsWriter persists metrics, registering each generator the first
// time one of its metrics is written.
type DBMetricsWriter struct {
	db         database.MetricsDatabase
	mu         sync.Mutex
	registered map[string]bool
}

func NewDBMetricsWriter(db database.MetricsDatabase) *DBMetricsWriter {
	return &DBMetricsWriter{
		db:         db,
		registered: make(map[string]bool),
	}
}

func (w *DBMetricsWriter) Write(ctx context.Context, metric datamodels.Metric) error {
	if err := w.register(ctx, metric); err != nil {
		return err
	}
	_, err := w.db.WriteNewMetric(ctx, metric)
	return err
}

func (w *DBMetricsWriter) register(ctx context.Context, metric datamodels.Metric) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.registered[metric.MetricGeneratorId] {
		return nil
	}
	_, err := w.db.CreateNewMetricGenerator(ctx, datamodels.MetricGenerator{
		MetricGeneratorName: metric.MetricGeneratorName,
		MetricGeneratorType: metric.MetricGeneratorType,
	})
	if err != nil {
		return errors.Wrapf(err, "register metric generator %s", metric.MetricGeneratorName)
	}
	w.registered[metric.MetricGeneratorId] = true
	return nil
}

func (w *DBMetricsWriter) Close() error {
	return nil
}
