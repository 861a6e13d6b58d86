package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"signalbot/src/config"
	"signalbot/src/database"
	"signalbot/src/datamodels"
	"signalbot/src/feeds"
	"signalbot/src/utils/errors"
)

// folder of csv files named <SYMBOL>_<timeframe>.csv, the same layout the csv
// bar supplier reads. columns are timestamp,open,high,low,close,volume

const writeBatchSize = 5000

func main() {
	if len(os.Args) != 2 {
		slog.Error("Usage: bars_csv_to_db <data_dir>")
		os.Exit(1)
	}
	dataDir := os.Args[1]
	if _, err := os.Stat(dataDir); os.IsNotExist(err) {
		slog.Error("Data directory does not exist", "error", err)
		os.Exit(1)
	}
	files, err := filepath.Glob(filepath.Join(dataDir, "*.csv"))
	if err != nil {
		slog.Error("Failed to get files in data directory", "error", err)
		os.Exit(1)
	}
	slog.Info("Found files", "num_files", len(files))

	signalbotConfig, err := config.Load()
	if err != nil {
		slog.Error("Failed to get signalbot config", "error", err)
		os.Exit(1)
	}
	if signalbotConfig.StorageConfig.Driver != datamodels.StorageDriverPostgres {
		slog.Error("bars_csv_to_db needs storage.driver postgres")
		os.Exit(1)
	}
	db, err := database.NewBuiltDatabase(signalbotConfig.StorageConfig, signalbotConfig.DatabaseConfig)
	if err != nil {
		slog.Error("Failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		slog.Error("Failed to migrate", "error", err)
		os.Exit(1)
	}

	for _, file := range files {
		written, err := loadFile(ctx, db, file)
		if err != nil {
			slog.Error("Failed to load bar file", "file", file, "error", err)
			os.Exit(1)
		}
		slog.Info("Wrote bars", "file", file, "bars", written)
	}
}

func loadFile(ctx context.Context, db database.BarDb, file string) (int, error) {
	symbol, timeframe, err := seriesFromFileName(file)
	if err != nil {
		return 0, err
	}
	csvFile, err := os.Open(file)
	if err != nil {
		return 0, err
	}
	defer csvFile.Close()

	bars, err := feeds.ParseBarsCsv(csvFile, symbol, timeframe, true)
	if err != nil {
		return 0, err
	}
	for start := 0; start < len(bars); start += writeBatchSize {
		end := min(start+writeBatchSize, len(bars))
		if err := db.WriteBars(ctx, bars[start:end]); err != nil {
			return start, errors.Wrapf(err, "write bars %d..%d", start, end)
		}
	}
	return len(bars), nil
}

// seriesFromFileName splits BTCUSDT_1m.csv into BTCUSDT and 1m.
func seriesFromFileName(file string) (string, string, error) {
	name := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	i := strings.LastIndex(name, "_")
	if i <= 0 || i == len(name)-1 {
		return "", "", errors.Newf("file %s is not named <SYMBOL>_<timeframe>.csv", file)
	}
	return name[:i], name[i+1:], nil
}
