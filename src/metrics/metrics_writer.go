package metrics

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"signalbot/src/database"
	"signalbot/src/datamodels"
	"signalbot/src/utils/errors"
	"signalbot/src/utils/general"
)

// MetricsWriter interface defines methods for writing metrics
type MetricsWriter interface {
	// Write takes any struct and writes it as metrics
	Write(ctx context.Context, metric datamodels.Metric) error
	// Close cleans up any resources
	Close() error
}

// BuildMetricsWriter fans out to every writer enabled in config. db may be nil
// when the db writer is disabled.
func BuildMetricsWriter(config *datamodels.MetricsWriterConfig, db database.MetricsDatabase) (*MultiMetricsWriter, error) {
	if config == nil {
		slog.Warn("MetricsWriterConfig is nil, skipping metrics writer")
		return NewMultiMetricsWriter(), nil
	}
	writers := []MetricsWriter{}
	if config.WsWriter {
		writers = append(writers, NewWebSocketMetricsWriter())
	}
	if config.FileWriter {
		metricsWriter, err := NewFileMetricsWriter(config.FilePath, FormatJSON)
		if err != nil {
			return nil, err
		}
		writers = append(writers, metricsWriter)
	}
	if config.DbWriter {
		if db == nil {
			return nil, errors.New("db metrics writer needs a database")
		}
		writers = append(writers, NewDBMetricsWriter(db))
	}
	return NewMultiMetricsWriter(writers...), nil
}

// NewMetric packs value as the json document of a metric row.
func NewMetric(
	generatorName string,
	generatorType datamodels.MetricGeneratorType,
	name string,
	at time.Time,
	value any) (datamodels.Metric, error) {

	raw, err := json.Marshal(value)
	if err != nil {
		return datamodels.Metric{}, errors.Wrapf(err, "marshal metric %s", name)
	}
	return datamodels.Metric{
		MetricGeneratorId:   GeneratorId(generatorName, generatorType),
		MetricGeneratorName: generatorName,
		MetricGeneratorType: generatorType,
		MetricTime:          at,
		MetricName:          name,
		MetricValue:         raw,
	}, nil
}

// GeneratorId is stable across restarts so rows from one generator group together.
func GeneratorId(generatorName string, generatorType datamodels.MetricGeneratorType) string {
	return general.GenerateUUID5StringFromByteArray([]byte(string(generatorType) + "/" + generatorName))
}

// Emit builds and writes a metric, logging instead of failing. Metrics never
// abort the operation that produced them. A nil writer is a no-op.
func Emit(
	ctx context.Context,
	writer MetricsWriter,
	generatorName string,
	generatorType datamodels.MetricGeneratorType,
	name string,
	at time.Time,
	value any) {

	if writer == nil {
		return
	}
	metric, err := NewMetric(generatorName, generatorType, name, at, value)
	if err != nil {
		slog.Warn("Failed to build metric", "metric", name, "error", err)
		return
	}
	if err := writer.Write(ctx, metric); err != nil {
		slog.Warn("Failed to write metric", "metric", name, "error", err)
	}
}
