package feeds

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"signalbot/src/datamodels"
)

// StaticBarSupplier serves a fixed in-memory series. Delay simulates a slow
// upstream and honors ctx.
type StaticBarSupplier struct {
	mu    sync.RWMutex
	bars  map[string][]datamodels.Bar
	delay time.Duration
	calls int
}

func NewStaticBarSupplier(bars ...datamodels.Bar) *StaticBarSupplier {
	s := &StaticBarSupplier{bars: make(map[string][]datamodels.Bar)}
	s.Add(bars...)
	return s
}

func (s *StaticBarSupplier) WithDelay(delay time.Duration) *StaticBarSupplier {
	s.delay = delay
	return s
}

// Add appends bars and keeps every series sorted.
func (s *StaticBarSupplier) Add(bars ...datamodels.Bar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	touched := make(map[string]bool)
	for _, bar := range bars {
		key := bar.Symbol + "|" + bar.Timeframe
		s.bars[key] = append(s.bars[key], bar)
		touched[key] = true
	}
	for key := range touched {
		series := s.bars[key]
		sort.SliceStable(series, func(i, j int) bool { return series[i].Timestamp.Before(series[j].Timestamp) })
	}
}

func (s *StaticBarSupplier) Calls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls
}

func (s *StaticBarSupplier) wait(ctx context.Context) error {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if s.delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(s.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *StaticBarSupplier) GetLatestBars(ctx context.Context, symbol, timeframe string, window int) ([]datamodels.Bar, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	series := s.bars[symbol+"|"+timeframe]
	start := max(0, len(series)-window)
	return slices.Clone(series[start:]), nil
}

func (s *StaticBarSupplier) GetBarsInRange(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]datamodels.Bar, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []datamodels.Bar
	for _, bar := range s.bars[symbol+"|"+timeframe] {
		if !bar.Timestamp.Before(start) && bar.Timestamp.Before(end) {
			out = append(out, bar)
		}
	}
	return out, nil
}
