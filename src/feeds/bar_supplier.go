// Package feeds supplies OHLCV bars to the signal engine and the backtest.
package feeds

import (
	"context"
	"log/slog"
	"time"

	"signalbot/src/database"
	"signalbot/src/datamodels"
	"signalbot/src/utils/errors"
	"signalbot/src/utils/general"
)

// BarSupplier returns bars oldest first.
type BarSupplier interface {
	// GetLatestBars returns at most window of the most recent bars.
	GetLatestBars(ctx context.Context, symbol, timeframe string, window int) ([]datamodels.Bar, error)
	// GetBarsInRange returns bars with start <= timestamp < end.
	GetBarsInRange(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]datamodels.Bar, error)
}

func NewBarSupplierFromConfig(config datamodels.MarketDataConfig, db database.BarDb) (BarSupplier, error) {
	switch config.Provider {
	case datamodels.MarketDataProviderDatabase, "":
		if db == nil {
			return nil, errors.New("database bar supplier needs a database")
		}
		slog.Info("Using database bar supplier")
		return NewDbBarSupplier(db), nil
	case datamodels.MarketDataProviderCsv:
		if config.CsvDir == "" {
			return nil, errors.New("market_data.csv_dir is required for the csv provider")
		}
		slog.Info("Using CSV bar supplier", "dir", config.CsvDir)
		return NewCsvBarSupplier(config.CsvDir).WithHasHeader(config.CsvHasHeader), nil
	case datamodels.MarketDataProviderBinance:
		if config.BinanceBaseURL != "" {
			if ok, reason := general.IsValidURL(config.BinanceBaseURL); !ok {
				return nil, errors.Newf("market_data.binance_base_url: %s", reason)
			}
		}
		slog.Info("Using binance bar supplier", "base_url", config.BinanceBaseURL)
		return NewBinanceBarSupplier().
			WithBaseURL(config.BinanceBaseURL).
			WithRateLimit(config.RateLimitPerSec).
			WithMaxRetryElapsed(config.MaxRetryElapsed).
			Build(), nil
	default:
		return nil, errors.Newf("unknown market data provider %q", config.Provider)
	}
}

// DbBarSupplier reads bars ingested by bars_csv_to_db.
type DbBarSupplier struct {
	db database.BarDb
}

func NewDbBarSupplier(db database.BarDb) *DbBarSupplier {
	return &DbBarSupplier{db: db}
}

func (s *DbBarSupplier) GetLatestBars(ctx context.Context, symbol, timeframe string, window int) ([]datamodels.Bar, error) {
	return s.db.GetLatestBars(ctx, symbol, timeframe, window)
}

func (s *DbBarSupplier) GetBarsInRange(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]datamodels.Bar, error) {
	return s.db.GetBarsInRange(ctx, symbol, timeframe, start, end)
}
