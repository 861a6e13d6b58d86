package metrics

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"signalbot/src/datamodels"
	"signalbot/src/utils/errors"
)

type FileFormat string

const (
	FormatCSV  FileFormat = "csv"
	FormatJSON FileFormat = "json"
)

var csvHeader = []string{"metric_time", "metric_generator_name", "metric_generator_type", "metric_name", "metric_value"}

// FileMetricsWriter appends metrics to one file per generator and day.
type FileMetricsWriter struct {
	baseDir    string
	fileFormat FileFormat
	files      map[string]*os.File
	csvWriters map[string]*csv.Writer
	mu         sync.Mutex
}

func NewFileMetricsWriter(baseDir string, format FileFormat) (*FileMetricsWriter, error) {
	if baseDir == "" {
		baseDir = "metrics"
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create metrics directory")
	}
	return &FileMetricsWriter{
		baseDir:    baseDir,
		fileFormat: format,
		files:      make(map[string]*os.File),
		csvWriters: make(map[string]*csv.Writer),
	}, nil
}

func (w *FileMetricsWriter) fileFor(metric datamodels.Metric) (string, error) {
	t := metric.MetricTime
	if t.IsZero() {
		t = time.Now()
	}
	writerId := fmt.Sprintf("%d%02d%02d_%s", t.Year(), t.Month(), t.Day(), metric.MetricGeneratorName)
	if _, ok := w.files[writerId]; ok {
		return writerId, nil
	}

	filename := filepath.Join(w.baseDir, writerId+"."+string(w.fileFormat))
	_, statErr := os.Stat(filename)
	isNew := os.IsNotExist(statErr)

	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return "", errors.Wrap(err, "failed to open metrics file")
	}
	w.files[writerId] = f

	if w.fileFormat == FormatCSV {
		csvWriter := csv.NewWriter(f)
		w.csvWriters[writerId] = csvWriter
		if isNew {
			if err := csvWriter.Write(csvHeader); err != nil {
				return "", errors.Wrap(err, "failed to write CSV headers")
			}
			csvWriter.Flush()
		}
	}
	return writerId, nil
}

func (w *FileMetricsWriter) Write(ctx context.Context, metric datamodels.Metric) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	writerId, err := w.fileFor(metric)
	if err != nil {
		return err
	}

	switch w.fileFormat {
	case FormatJSON:
		jsonBytes, err := json.Marshal(metric)
		if err != nil {
			return errors.Wrap(err, "failed to marshal metric to JSON")
		}
		if _, err := w.files[writerId].Write(append(jsonBytes, '\n')); err != nil {
			return errors.Wrap(err, "failed to write JSON metrics")
		}
	case FormatCSV:
		csvWriter := w.csvWriters[writerId]
		row := []string{
			metric.MetricTime.Format(time.RFC3339Nano),
			metric.MetricGeneratorName,
			string(metric.MetricGeneratorType),
			metric.MetricName,
			string(metric.MetricValue),
		}
		if err := csvWriter.Write(row); err != nil {
			return errors.Wrap(err, "failed to write CSV row")
		}
		csvWriter.Flush()
		if err := csvWriter.Error(); err != nil {
			return errors.Wrap(err, "error flushing CSV writer")
		}
	}

	return nil
}

func (w *FileMetricsWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var lastErr error
	for source, file := range w.files {
		if writer := w.csvWriters[source]; writer != nil {
			writer.Flush()
			if err := writer.Error(); err != nil {
				slog.Error("Failed to flush CSV writer", "source", source, "error", err)
				lastErr = err
			}
		}
		if err := file.Close(); err != nil {
			slog.Error("Failed to close metrics file", "source", source, "error", err)
			lastErr = err
		}
		delete(w.files, source)
		delete(w.csvWriters, source)
	}
	return lastErr
}
