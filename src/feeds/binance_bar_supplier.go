package feeds

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"signalbot/src/datamodels"
	"signalbot/src/utils/errors"
)

// binance caps a klines request at 1000 rows
const binanceMaxKlines = 1000

type BinanceBarSupplier struct {
	client          *binance.Client
	rateLimiter     *rate.Limiter
	maxRetryElapsed time.Duration
	clock           func() time.Time
}

type BinanceBarSupplierBuilder struct {
	baseURL         string
	ratePerSec      float64
	maxRetryElapsed time.Duration
	clock           func() time.Time
}

func NewBinanceBarSupplier() *BinanceBarSupplierBuilder {
	return &BinanceBarSupplierBuilder{
		ratePerSec:      10,
		maxRetryElapsed: 10 * time.Second,
		clock:           time.Now,
	}
}

func (b *BinanceBarSupplierBuilder) WithBaseURL(baseURL string) *BinanceBarSupplierBuilder {
	b.baseURL = baseURL
	return b
}

func (b *BinanceBarSupplierBuilder) WithRateLimit(perSec float64) *BinanceBarSupplierBuilder {
	if perSec > 0 {
		b.ratePerSec = perSec
	}
	return b
}

func (b *BinanceBarSupplierBuilder) WithMaxRetryElapsed(d time.Duration) *BinanceBarSupplierBuilder {
	if d > 0 {
		b.maxRetryElapsed = d
	}
	return b
}

func (b *BinanceBarSupplierBuilder) WithClock(clock func() time.Time) *BinanceBarSupplierBuilder {
	if clock != nil {
		b.clock = clock
	}
	return b
}

func (b *BinanceBarSupplierBuilder) Build() *BinanceBarSupplier {
	// market data endpoints are public, no keys needed
	client := binance.NewClient("", "")
	if b.baseURL != "" {
		client.BaseURL = b.baseURL
	}
	return &BinanceBarSupplier{
		client:          client,
		rateLimiter:     rate.NewLimiter(rate.Limit(b.ratePerSec), int(max(1, b.ratePerSec*2))),
		maxRetryElapsed: b.maxRetryElapsed,
		clock:           b.clock,
	}
}

func (s *BinanceBarSupplier) fetch(ctx context.Context, symbol, timeframe string, limit int, start, end *time.Time) ([]datamodels.Bar, error) {
	var klines []*binance.Kline
	operation := func() error {
		if err := s.rateLimiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		service := s.client.NewKlinesService().
			Symbol(symbol).
			Interval(timeframe).
			Limit(limit)
		if start != nil {
			service = service.StartTime(start.UnixMilli())
		}
		if end != nil {
			service = service.EndTime(end.UnixMilli() - 1)
		}
		var err error
		klines, err = service.Do(ctx)
		return err
	}

	backoffStrategy := backoff.NewExponentialBackOff()
	backoffStrategy.MaxElapsedTime = s.maxRetryElapsed
	notify := func(err error, wait time.Duration) {
		slog.Warn("Retrying binance klines", "symbol", symbol, "timeframe", timeframe, "wait", wait, "error", err)
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(backoffStrategy, ctx), notify); err != nil {
		return nil, errors.Wrapf(err, "klines %s %s", symbol, timeframe)
	}
	return KlinesToBars(symbol, timeframe, closedKlines(klines, s.clock()))
}

// closedKlines drops klines still forming at now; their prices change until close.
func closedKlines(klines []*binance.Kline, now time.Time) []*binance.Kline {
	nowMs := now.UnixMilli()
	closed := klines[:0:0]
	for _, k := range klines {
		if k != nil && k.CloseTime < nowMs {
			closed = append(closed, k)
		}
	}
	return closed
}

// GetLatestBars asks for one extra kline to cover the one still forming.
func (s *BinanceBarSupplier) GetLatestBars(ctx context.Context, symbol, timeframe string, window int) ([]datamodels.Bar, error) {
	bars, err := s.fetch(ctx, symbol, timeframe, min(window+1, binanceMaxKlines), nil, nil)
	if err != nil {
		return nil, err
	}
	if len(bars) > window {
		bars = bars[len(bars)-window:]
	}
	return bars, nil
}

// GetBarsInRange pages through the range binanceMaxKlines bars at a time.
func (s *BinanceBarSupplier) GetBarsInRange(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]datamodels.Bar, error) {
	var bars []datamodels.Bar
	cursor := start
	for cursor.Before(end) {
		page, err := s.fetch(ctx, symbol, timeframe, binanceMaxKlines, &cursor, &end)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		bars = append(bars, page...)
		next := page[len(page)-1].Timestamp.Add(time.Millisecond)
		if !next.After(cursor) {
			break
		}
		cursor = next
	}
	return bars, nil
}

func KlinesToBars(symbol, timeframe string, klines []*binance.Kline) ([]datamodels.Bar, error) {
	bars := make([]datamodels.Bar, 0, len(klines))
	for _, k := range klines {
		if k == nil {
			continue
		}
		fields := []string{k.Open, k.High, k.Low, k.Close, k.Volume}
		values := make([]float64, len(fields))
		for i, field := range fields {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "kline at %d", k.OpenTime)
			}
			values[i] = v
		}
		bars = append(bars, datamodels.Bar{
			Symbol:    symbol,
			Timeframe: timeframe,
			Timestamp: time.UnixMilli(k.OpenTime).UTC(),
			Open:      values[0],
			High:      values[1],
			Low:       values[2],
			Close:     values[3],
			Volume:    values[4],
		})
	}
	return bars, nil
}
