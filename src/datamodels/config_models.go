package datamodels

import (
	"time"

	"github.com/gorilla/websocket"

	"signalbot/src/utils/errors"
)

type SignalbotConfig struct {
	LogLevel            string              `mapstructure:"log_level"`
	StorageConfig       StorageConfig       `mapstructure:"storage"`
	DatabaseConfig      PostgresConfig      `mapstructure:"postgres"`
	ServerConfig        ServerConfig        `mapstructure:"server"`
	MarketDataConfig    MarketDataConfig    `mapstructure:"market_data"`
	FeatureConfig       FeatureConfig       `mapstructure:"features"`
	SignalEngineConfig  SignalEngineConfig  `mapstructure:"signal_engine"`
	ModelConfig         ModelConfig         `mapstructure:"model"`
	RetrainingConfig    RetrainingConfig    `mapstructure:"retraining"`
	BacktestConfig      BacktestConfig      `mapstructure:"backtest"`
	DefaultRisk         RiskConfig          `mapstructure:"risk"`
	Strategies          []StrategyConfig    `mapstructure:"strategies"`
	ArtifactConfig      ArtifactConfig      `mapstructure:"artifacts"`
	MetricsWriterConfig MetricsWriterConfig `mapstructure:"metrics_writer"`
}

type StorageDriver string

const (
	StorageDriverMemory   StorageDriver = "memory"
	StorageDriverPostgres StorageDriver = "postgres"
)

type StorageConfig struct {
	Driver StorageDriver `mapstructure:"driver"`
}

type PostgresConfig struct {
	Database string `mapstructure:"database"`
	Host     string `mapstructure:"host"`
	Password string `mapstructure:"password"`
	Port     int    `mapstructure:"port"`
	SSL      struct {
		CA   string `mapstructure:"ca"`
		Cert string `mapstructure:"cert"`
		Key  string `mapstructure:"key"`
		Mode string `mapstructure:"mode"`
	} `mapstructure:"ssl"`
	URI  string `mapstructure:"uri"`
	User string `mapstructure:"user"`
}

type ServerConfig struct {
	Port            string `mapstructure:"port"`
	MetricsEndpoint string `mapstructure:"metrics_endpoint"`
	HealthEndpoint  string `mapstructure:"health_endpoint"`
}

type WSConfig struct {
	Upgrader websocket.Upgrader
}

type MarketDataProvider string

const (
	MarketDataProviderDatabase MarketDataProvider = "database"
	MarketDataProviderCsv      MarketDataProvider = "csv"
	MarketDataProviderBinance  MarketDataProvider = "binance"
)

type MarketDataConfig struct {
	Provider        MarketDataProvider `mapstructure:"provider"`
	CsvDir          string             `mapstructure:"csv_dir"`
	CsvHasHeader    bool               `mapstructure:"csv_has_header"`
	BinanceBaseURL  string             `mapstructure:"binance_base_url"`
	RateLimitPerSec float64            `mapstructure:"rate_limit_per_sec"`
	MaxRetryElapsed time.Duration      `mapstructure:"max_retry_elapsed"`
}

type FeatureConfig struct {
	SchemaVersion int `mapstructure:"schema_version"`
}

type SignalEngineConfig struct {
	BarTimeout      time.Duration `mapstructure:"bar_timeout"`
	ExpiryHorizon   time.Duration `mapstructure:"expiry_horizon"`
	StopAtrMultiple float64       `mapstructure:"stop_atr_multiple"`
	MinStopPct      float64       `mapstructure:"min_stop_pct"`
	AtrPeriod       int           `mapstructure:"atr_period"`
}

type ModelConfig struct {
	BaselineType   string  `mapstructure:"baseline_type"`
	CandidateType  string  `mapstructure:"candidate_type"`
	BaselineMetric float64 `mapstructure:"baseline_metric"`
	Seed           int64   `mapstructure:"seed"`
	Epochs         int     `mapstructure:"epochs"`
	LearningRate   float64 `mapstructure:"learning_rate"`
	L2             float64 `mapstructure:"l2"`
	NeutralBand    float64 `mapstructure:"neutral_band"`
}

type RetrainingConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	MinNewExamples      int64         `mapstructure:"min_new_examples"`
	Interval            time.Duration `mapstructure:"interval"`
	CheckCadence        time.Duration `mapstructure:"check_cadence"`
	HoldoutFraction     float64       `mapstructure:"holdout_fraction"`
	MinImprovement      float64       `mapstructure:"min_improvement"`
	MinTrainingExamples int           `mapstructure:"min_training_examples"`
	MaxOverfitGap       float64       `mapstructure:"max_overfit_gap"`
	HistorySize         int           `mapstructure:"history_size"`
}

type BacktestConfig struct {
	BarsPerYear   float64 `mapstructure:"bars_per_year"`
	ExpiryBars    int     `mapstructure:"expiry_bars"`
	CommissionPct float64 `mapstructure:"commission_pct"`
	SlippagePct   float64 `mapstructure:"slippage_pct"`
	PlotDir       string  `mapstructure:"plot_dir"`
}

// StrategyConfig names a backtestable (symbol, timeframe, risk) combination.
type StrategyConfig struct {
	Id           string     `mapstructure:"id"`
	Symbol       string     `mapstructure:"symbol"`
	Timeframe    string     `mapstructure:"timeframe"`
	Risk         RiskConfig `mapstructure:"risk"`
	ModelVersion int64      `mapstructure:"model_version"`
}

type ArtifactDriver string

const (
	ArtifactDriverNone ArtifactDriver = "none"
	ArtifactDriverFile ArtifactDriver = "file"
	ArtifactDriverGCS  ArtifactDriver = "gcs"
)

type ArtifactConfig struct {
	Driver ArtifactDriver `mapstructure:"driver"`
	Dir    string         `mapstructure:"dir"`
	Bucket string         `mapstructure:"bucket"`
	Prefix string         `mapstructure:"prefix"`
}

type MetricsWriterConfig struct {
	WsWriter   bool   `mapstructure:"ws_writer"`
	FileWriter bool   `mapstructure:"file_writer"`
	FilePath   string `mapstructure:"file_path"`
	DbWriter   bool   `mapstructure:"db_writer"`
}

func (c *SignalbotConfig) Validate() error {
	switch c.StorageConfig.Driver {
	case StorageDriverMemory, StorageDriverPostgres:
	default:
		return errors.Newf("unknown storage driver %q", c.StorageConfig.Driver)
	}
	if err := c.DefaultRisk.Validate(); err != nil {
		return errors.Wrap(err, "risk")
	}
	if c.RetrainingConfig.HoldoutFraction <= 0 || c.RetrainingConfig.HoldoutFraction >= 1 {
		return errors.Newf("retraining.holdout_fraction must be in (0,1), got %v", c.RetrainingConfig.HoldoutFraction)
	}
	if c.RetrainingConfig.MinImprovement < 0 {
		return errors.New("retraining.min_improvement must not be negative")
	}
	if c.SignalEngineConfig.BarTimeout <= 0 {
		return errors.New("signal_engine.bar_timeout must be positive")
	}
	seen := make(map[string]bool)
	for _, strategy := range c.Strategies {
		if strategy.Id == "" {
			return errors.New("strategy id is required")
		}
		if seen[strategy.Id] {
			return errors.Newf("duplicate strategy id %q", strategy.Id)
		}
		seen[strategy.Id] = true
		// a strategy without risk settings trades with the default risk
		if strategy.Risk == (RiskConfig{}) {
			continue
		}
		if err := strategy.Risk.Validate(); err != nil {
			return errors.Wrapf(err, "strategy %s", strategy.Id)
		}
	}
	return nil
}

func (c *SignalbotConfig) GetStrategy(id string) (StrategyConfig, error) {
	for _, strategy := range c.Strategies {
		if strategy.Id == id {
			return strategy, nil
		}
	}
	return StrategyConfig{}, errors.Wrapf(ErrUnknownStrategy, "%s", id)
}
