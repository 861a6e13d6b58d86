package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"signalbot/src/datamodels"
	"signalbot/src/utils/errors"
	"signalbot/src/utils/general"
)

const envPrefix = "SIGNALBOT"

// Load reads CONFIG_PATH, falling back to config.local.yaml at the repo root.
// A missing default file is not an error; defaults and env vars still apply.
func Load() (*datamodels.SignalbotConfig, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		currentDir := general.GetCurrentDir()
		// go up two levels to the repo root
		configPath = filepath.Join(currentDir, "..", "..", "config.local.yaml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			slog.Warn("No config file found, using defaults", "path", configPath)
			configPath = ""
		}
	}

	return LoadFromPath(configPath)
}

func LoadFromPath(configPath string) (*datamodels.SignalbotConfig, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "reading config %s", configPath)
		}
	}

	var signalbotConfig datamodels.SignalbotConfig
	if err := v.Unmarshal(&signalbotConfig); err != nil {
		return nil, errors.Wrap(err, "unmarshalling config")
	}

	for i := range signalbotConfig.Strategies {
		if signalbotConfig.Strategies[i].Risk == (datamodels.RiskConfig{}) {
			signalbotConfig.Strategies[i].Risk = signalbotConfig.DefaultRisk
		}
	}

	if err := signalbotConfig.Validate(); err != nil {
		return nil, err
	}

	return &signalbotConfig, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("storage.driver", string(datamodels.StorageDriverMemory))
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.ssl.mode", "disable")

	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.metrics_endpoint", "/metrics")
	v.SetDefault("server.health_endpoint", "/health")

	v.SetDefault("market_data.provider", string(datamodels.MarketDataProviderDatabase))
	v.SetDefault("market_data.csv_has_header", true)
	v.SetDefault("market_data.binance_base_url", "")
	v.SetDefault("market_data.rate_limit_per_sec", 10.0)
	v.SetDefault("market_data.max_retry_elapsed", 30*time.Second)

	v.SetDefault("features.schema_version", 1)

	v.SetDefault("signal_engine.bar_timeout", 2*time.Second)
	v.SetDefault("signal_engine.expiry_horizon", 24*time.Hour)
	v.SetDefault("signal_engine.stop_atr_multiple", 1.5)
	v.SetDefault("signal_engine.min_stop_pct", 0.005)
	v.SetDefault("signal_engine.atr_period", 14)

	v.SetDefault("model.baseline_type", "momentum")
	v.SetDefault("model.candidate_type", "logistic")
	v.SetDefault("model.baseline_metric", 0.5)
	v.SetDefault("model.seed", 42)
	v.SetDefault("model.epochs", 300)
	v.SetDefault("model.learning_rate", 0.1)
	v.SetDefault("model.l2", 0.001)
	v.SetDefault("model.neutral_band", 0.02)

	v.SetDefault("retraining.enabled", true)
	v.SetDefault("retraining.min_new_examples", 200)
	v.SetDefault("retraining.interval", 24*time.Hour)
	v.SetDefault("retraining.check_cadence", time.Minute)
	v.SetDefault("retraining.holdout_fraction", 0.2)
	v.SetDefault("retraining.min_improvement", 0.01)
	v.SetDefault("retraining.min_training_examples", 50)
	v.SetDefault("retraining.max_overfit_gap", 0.2)
	v.SetDefault("retraining.history_size", 50)

	v.SetDefault("backtest.bars_per_year", 0)
	v.SetDefault("backtest.expiry_bars", 390)
	v.SetDefault("backtest.commission_pct", 0.0)
	v.SetDefault("backtest.slippage_pct", 0.0)
	v.SetDefault("backtest.plot_dir", "")

	v.SetDefault("risk.min_confidence", 0.6)
	v.SetDefault("risk.risk_reward_multiple", 2.0)
	v.SetDefault("risk.cooldown_seconds", 300)

	v.SetDefault("artifacts.driver", string(datamodels.ArtifactDriverNone))
	v.SetDefault("artifacts.prefix", "models")

	v.SetDefault("metrics_writer.ws_writer", true)
	v.SetDefault("metrics_writer.file_writer", false)
	v.SetDefault("metrics_writer.file_path", "metrics")
	v.SetDefault("metrics_writer.db_writer", false)
}
