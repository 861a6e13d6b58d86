package database

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"signalbot/src/datamodels"
	"signalbot/src/utils/errors"
)

// MemoryDatabase keeps everything in process. Used by tests and the memory driver.
type MemoryDatabase struct {
	mu sync.RWMutex

	signals       map[string]datamodels.Signal
	examples      []datamodels.TrainingExample
	exampleSeq    int64
	modelVersions []datamodels.ModelVersion
	backtests     []datamodels.BacktestResult
	bars          map[string][]datamodels.Bar
	metrics       []datamodels.Metric
	generators    []datamodels.MetricGenerator
}

func NewMemoryDatabase() *MemoryDatabase {
	return &MemoryDatabase{
		signals: make(map[string]datamodels.Signal),
		bars:    make(map[string][]datamodels.Bar),
	}
}

func (m *MemoryDatabase) Migrate(ctx context.Context) error {
	return nil
}

func (m *MemoryDatabase) Close() error {
	return nil
}

func (m *MemoryDatabase) SaveSignal(ctx context.Context, signal *datamodels.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.signals[signal.Id]; exists {
		return errors.Newf("duplicate signal id %s", signal.Id)
	}
	m.signals[signal.Id] = copySignal(*signal)
	return nil
}

func (m *MemoryDatabase) GetSignal(ctx context.Context, id string) (*datamodels.Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	signal, ok := m.signals[id]
	if !ok {
		return nil, errors.Wrapf(datamodels.ErrSignalNotFound, "%s", id)
	}
	out := copySignal(signal)
	return &out, nil
}

func (m *MemoryDatabase) ListSignals(ctx context.Context, filter SignalFilter) ([]datamodels.Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var signals []datamodels.Signal
	for _, signal := range m.signals {
		if filter.Symbol != "" && signal.Symbol != filter.Symbol {
			continue
		}
		if filter.Timeframe != "" && signal.Timeframe != filter.Timeframe {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, signal.Status) {
			continue
		}
		if filter.ResolvedFrom != nil && (signal.ResolvedAt == nil || signal.ResolvedAt.Before(*filter.ResolvedFrom)) {
			continue
		}
		if filter.ResolvedTo != nil && (signal.ResolvedAt == nil || !signal.ResolvedAt.Before(*filter.ResolvedTo)) {
			continue
		}
		if filter.ExpiresBefore != nil && signal.ExpiresAt.After(*filter.ExpiresBefore) {
			continue
		}
		signals = append(signals, copySignal(signal))
	}
	sort.Slice(signals, func(i, j int) bool {
		if signals[i].CreatedAt.Equal(signals[j].CreatedAt) {
			return signals[i].Id < signals[j].Id
		}
		return signals[i].CreatedAt.Before(signals[j].CreatedAt)
	})
	return signals, nil
}

func (m *MemoryDatabase) ResolveSignal(
	ctx context.Context,
	resolution datamodels.SignalResolution,
	example *datamodels.TrainingExample) error {

	m.mu.Lock()
	defer m.mu.Unlock()

	signal, ok := m.signals[resolution.SignalId]
	if !ok {
		return errors.Wrapf(datamodels.ErrSignalNotFound, "%s", resolution.SignalId)
	}
	if signal.Status != datamodels.SignalStatusOpen {
		return errors.Wrapf(datamodels.ErrAlreadyResolved, "%s", resolution.SignalId)
	}

	resolvedAt := resolution.ResolvedAt
	price := resolution.ResolutionPrice
	signal.Status = resolution.Status
	signal.ResolvedAt = &resolvedAt
	signal.ResolutionPrice = &price
	m.signals[signal.Id] = signal

	if example != nil {
		m.appendExampleLocked(example)
	}
	return nil
}

func (m *MemoryDatabase) AppendExample(ctx context.Context, example *datamodels.TrainingExample) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.examples {
		if existing.SignalId == example.SignalId {
			return errors.Newf("duplicate training example for signal %s", example.SignalId)
		}
	}
	m.appendExampleLocked(example)
	return nil
}

func (m *MemoryDatabase) appendExampleLocked(example *datamodels.TrainingExample) {
	m.exampleSeq++
	example.Seq = m.exampleSeq
	stored := *example
	stored.Features = slices.Clone(example.Features)
	m.examples = append(m.examples, stored)
}

func (m *MemoryDatabase) CountExamplesAfter(ctx context.Context, seq int64) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, example := range m.examples {
		if example.Seq > seq {
			count++
		}
	}
	return count, nil
}

func (m *MemoryDatabase) ListExamplesThrough(ctx context.Context, seq int64) ([]datamodels.TrainingExample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var examples []datamodels.TrainingExample
	for _, example := range m.examples {
		if example.Seq <= seq {
			copied := example
			copied.Features = slices.Clone(example.Features)
			examples = append(examples, copied)
		}
	}
	sort.SliceStable(examples, func(i, j int) bool {
		if examples[i].CreatedAt.Equal(examples[j].CreatedAt) {
			return examples[i].Seq < examples[j].Seq
		}
		return examples[i].CreatedAt.Before(examples[j].CreatedAt)
	})
	return examples, nil
}

func (m *MemoryDatabase) LatestExampleSeq(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.exampleSeq, nil
}

func (m *MemoryDatabase) CreateModelVersion(ctx context.Context, version *datamodels.ModelVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	version.Id = int64(len(m.modelVersions)) + 1
	version.Promoted = false
	version.PromotedAt = nil
	stored := *version
	stored.Parameters = slices.Clone(version.Parameters)
	m.modelVersions = append(m.modelVersions, stored)
	return nil
}

func (m *MemoryDatabase) PromoteModelVersion(ctx context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id < 1 || id > int64(len(m.modelVersions)) {
		return errors.Wrapf(datamodels.ErrModelVersionNotFound, "%d", id)
	}
	for i := range m.modelVersions {
		m.modelVersions[i].Promoted = false
	}
	promotedAt := at
	target := &m.modelVersions[id-1]
	target.Promoted = true
	target.Rejected = false
	target.PromotedAt = &promotedAt
	return nil
}

func (m *MemoryDatabase) GetPromotedModelVersion(ctx context.Context) (*datamodels.ModelVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, version := range m.modelVersions {
		if version.Promoted {
			out := version
			return &out, nil
		}
	}
	return nil, datamodels.ErrNoPromotedModel
}

func (m *MemoryDatabase) GetModelVersion(ctx context.Context, id int64) (*datamodels.ModelVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if id < 1 || id > int64(len(m.modelVersions)) {
		return nil, errors.Wrapf(datamodels.ErrModelVersionNotFound, "%d", id)
	}
	out := m.modelVersions[id-1]
	return &out, nil
}

func (m *MemoryDatabase) ListModelVersions(ctx context.Context) ([]datamodels.ModelVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.modelVersions), nil
}

func (m *MemoryDatabase) LatestTrainedThroughSeq(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var seq int64
	for _, version := range m.modelVersions {
		seq = max(seq, version.TrainedThroughSeq)
	}
	return seq, nil
}

func (m *MemoryDatabase) SubscribePromotions(ctx context.Context) (<-chan string, error) {
	return nil, nil
}

func (m *MemoryDatabase) SaveBacktestResult(ctx context.Context, result *datamodels.BacktestResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backtests = append(m.backtests, *result)
	return nil
}

func (m *MemoryDatabase) ListBacktestResults(ctx context.Context, strategyId string) ([]datamodels.BacktestResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []datamodels.BacktestResult
	for _, result := range m.backtests {
		if strategyId == "" || result.StrategyId == strategyId {
			results = append(results, result)
		}
	}
	return results, nil
}

func barKey(symbol, timeframe string) string {
	return symbol + "|" + timeframe
}

func (m *MemoryDatabase) WriteBars(ctx context.Context, bars []datamodels.Bar) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, bar := range bars {
		key := barKey(bar.Symbol, bar.Timeframe)
		series := m.bars[key]
		idx := sort.Search(len(series), func(i int) bool {
			return !series[i].Timestamp.Before(bar.Timestamp)
		})
		if idx < len(series) && series[idx].Timestamp.Equal(bar.Timestamp) {
			continue
		}
		series = slices.Insert(series, idx, bar)
		m.bars[key] = series
	}
	return nil
}

func (m *MemoryDatabase) GetLatestBars(ctx context.Context, symbol, timeframe string, limit int) ([]datamodels.Bar, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	series := m.bars[barKey(symbol, timeframe)]
	start := max(0, len(series)-limit)
	return slices.Clone(series[start:]), nil
}

func (m *MemoryDatabase) GetBarsInRange(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]datamodels.Bar, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	series := m.bars[barKey(symbol, timeframe)]
	from := sort.Search(len(series), func(i int) bool { return !series[i].Timestamp.Before(start) })
	to := sort.Search(len(series), func(i int) bool { return !series[i].Timestamp.Before(end) })
	if from >= to {
		return nil, nil
	}
	return slices.Clone(series[from:to]), nil
}

func (m *MemoryDatabase) CreateNewMetricGenerator(ctx context.Context, metricGenerator datamodels.MetricGenerator) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metricGenerator.Id = int64(len(m.generators)) + 1
	m.generators = append(m.generators, metricGenerator)
	return metricGenerator.Id, nil
}

func (m *MemoryDatabase) WriteNewMetric(ctx context.Context, metric datamodels.Metric) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metric.Id = int64(len(m.metrics)) + 1
	m.metrics = append(m.metrics, metric)
	return metric.Id, nil
}

func copySignal(signal datamodels.Signal) datamodels.Signal {
	signal.Features = slices.Clone(signal.Features)
	if signal.ResolvedAt != nil {
		resolvedAt := *signal.ResolvedAt
		signal.ResolvedAt = &resolvedAt
	}
	if signal.ResolutionPrice != nil {
		price := *signal.ResolutionPrice
		signal.ResolutionPrice = &price
	}
	return signal
}
