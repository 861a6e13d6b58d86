package feeds

import (
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"signalbot/src/datamodels"
	"signalbot/src/utils/errors"
)

const (
	colTimestamp = iota
	colOpen
	colHigh
	colLow
	colClose
	colVolume
	numBarColumns
)

type csvSeries struct {
	modTime time.Time
	bars    []datamodels.Bar
}

// CsvBarSupplier reads <dir>/<SYMBOL>_<timeframe>.csv files with columns
// timestamp,open,high,low,close,volume. A parsed file is cached until it changes on disk.
type CsvBarSupplier struct {
	dir       string
	hasHeader bool
	mutex     sync.Mutex
	cache     map[string]*csvSeries
}

func NewCsvBarSupplier(dir string) *CsvBarSupplier {
	return &CsvBarSupplier{
		dir:   dir,
		cache: make(map[string]*csvSeries),
	}
}

func (c *CsvBarSupplier) WithHasHeader(hasHeader bool) *CsvBarSupplier {
	c.hasHeader = hasHeader
	return c
}

func CsvFileName(symbol, timeframe string) string {
	return symbol + "_" + timeframe + ".csv"
}

func (c *CsvBarSupplier) load(symbol, timeframe string) ([]datamodels.Bar, error) {
	path := filepath.Join(c.dir, CsvFileName(symbol, timeframe))
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "no bar file for %s %s", symbol, timeframe)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if cached, ok := c.cache[path]; ok && cached.modTime.Equal(info.ModTime()) {
		return cached.bars, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open CSV file at %s", path)
	}
	defer file.Close()

	bars, err := ParseBarsCsv(file, symbol, timeframe, c.hasHeader)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	slog.Info("Loaded bar file", "path", path, "bars", len(bars))
	c.cache[path] = &csvSeries{modTime: info.ModTime(), bars: bars}
	return bars, nil
}

func (c *CsvBarSupplier) GetLatestBars(ctx context.Context, symbol, timeframe string, window int) ([]datamodels.Bar, error) {
	bars, err := c.load(symbol, timeframe)
	if err != nil {
		return nil, err
	}
	start := max(0, len(bars)-window)
	return slices.Clone(bars[start:]), nil
}

func (c *CsvBarSupplier) GetBarsInRange(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]datamodels.Bar, error) {
	bars, err := c.load(symbol, timeframe)
	if err != nil {
		return nil, err
	}
	from := sort.Search(len(bars), func(i int) bool { return !bars[i].Timestamp.Before(start) })
	to := sort.Search(len(bars), func(i int) bool { return !bars[i].Timestamp.Before(end) })
	if from >= to {
		return nil, nil
	}
	return slices.Clone(bars[from:to]), nil
}

// ParseBarsCsv reads every row, sorts by time and drops duplicate timestamps.
func ParseBarsCsv(r io.Reader, symbol, timeframe string, hasHeader bool) ([]datamodels.Bar, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var bars []datamodels.Bar
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		if hasHeader && line == 1 {
			continue
		}
		if len(record) < numBarColumns {
			return nil, errors.Newf("line %d: expected %d columns, got %d", line, numBarColumns, len(record))
		}
		bar, err := barFromRecord(record, symbol, timeframe)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		bars = append(bars, bar)
	}

	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	deduped := bars[:0]
	for i, bar := range bars {
		if i > 0 && bar.Timestamp.Equal(bars[i-1].Timestamp) {
			continue
		}
		deduped = append(deduped, bar)
	}
	return deduped, nil
}

func barFromRecord(record []string, symbol, timeframe string) (datamodels.Bar, error) {
	timestamp, err := parseTimestamp(record[colTimestamp])
	if err != nil {
		return datamodels.Bar{}, err
	}
	values := make([]float64, 0, numBarColumns-1)
	for _, field := range record[colOpen:numBarColumns] {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return datamodels.Bar{}, errors.Wrapf(err, "failed to parse %q", field)
		}
		values = append(values, v)
	}
	return datamodels.Bar{
		Symbol:    symbol,
		Timeframe: timeframe,
		Timestamp: timestamp,
		Open:      values[0],
		High:      values[1],
		Low:       values[2],
		Close:     values[3],
		Volume:    values[4],
	}, nil
}

// parseTimestamp accepts unix seconds, unix milliseconds or RFC3339.
func parseTimestamp(field string) (time.Time, error) {
	field = strings.TrimSpace(field)
	if unix, err := strconv.ParseInt(field, 10, 64); err == nil {
		if unix > 1e12 {
			return time.UnixMilli(unix).UTC(), nil
		}
		return time.Unix(unix, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, field)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "failed to parse timestamp %q", field)
	}
	return t.UTC(), nil
}
