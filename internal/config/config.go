// Package config defines all configuration for the market-data core.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// fields overridable via MKTF_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Streams   StreamsConfig   `mapstructure:"streams"`
	Heatmap   HeatmapConfig   `mapstructure:"heatmap"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Currency  CurrencyConfig  `mapstructure:"currency"`
}

// DatabaseConfig controls the embedded store.
//
//   - Path: database file location.
//   - Disabled: run in memory only (also settable via MKTF_PERSIST_DISABLED).
//   - CacheSizeMB / TempDirectory / BusyTimeout map to connection settings
//     applied once on open.
//   - RetentionDays: raw trades older than this are deleted by TTL cleanup.
type DatabaseConfig struct {
	Path          string        `mapstructure:"path"`
	Disabled      bool          `mapstructure:"disabled"`
	CacheSizeMB   int           `mapstructure:"cache_size_mb"`
	TempDirectory string        `mapstructure:"temp_directory"`
	BusyTimeout   time.Duration `mapstructure:"busy_timeout"`
	RetentionDays int           `mapstructure:"retention_days"`
}

// StreamsConfig seeds the initial subscriptions.
type StreamsConfig struct {
	// Tickers are serialized "Exchange:SYMBOL" strings.
	Tickers   []string `mapstructure:"tickers"`
	Timeframe string   `mapstructure:"timeframe"`
}

// HeatmapConfig tunes the historical-depth engine.
type HeatmapConfig struct {
	AggrTime        string  `mapstructure:"aggr_time"`
	OrderSizeFilter float32 `mapstructure:"order_size_filter"`
	TradeSizeFilter float32 `mapstructure:"trade_size_filter"`
	CoalesceKind    string  `mapstructure:"coalesce_kind"`
	CoalesceThresh  float32 `mapstructure:"coalesce_threshold"`
}

// ArchiveConfig points at historical aggTrades archives for import.
type ArchiveConfig struct {
	Root      string `mapstructure:"root"`
	BatchSize int    `mapstructure:"batch_size"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// CurrencyConfig selects the preferred sizing currency, applied write-once
// at startup.
type CurrencyConfig struct {
	SizeInQuote bool `mapstructure:"size_in_quote"`
}

// Load reads config from a YAML file with env var overrides. A missing file
// is not an error: defaults apply and MKTF_* variables still override.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("MKTF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("database.path", "data/marketflow.db")
	v.SetDefault("database.cache_size_mb", 512)
	v.SetDefault("database.busy_timeout", 5*time.Second)
	v.SetDefault("database.retention_days", 7)
	v.SetDefault("streams.timeframe", "1m")
	v.SetDefault("heatmap.aggr_time", "500ms")
	v.SetDefault("heatmap.coalesce_kind", "average")
	v.SetDefault("heatmap.coalesce_threshold", 0.15)
	v.SetDefault("archive.batch_size", 1000)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Toggle overrides from plain env.
	if val := os.Getenv("MKTF_PERSIST_DISABLED"); val == "true" || val == "1" {
		cfg.Database.Disabled = true
	}
	if path := os.Getenv("MKTF_DATABASE_PATH"); path != "" {
		cfg.Database.Path = path
	}

	return &cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if !c.Database.Disabled && c.Database.Path == "" {
		return fmt.Errorf("database.path is required unless database.disabled is set")
	}
	if c.Database.RetentionDays < 0 {
		return fmt.Errorf("database.retention_days must not be negative")
	}
	if c.Heatmap.CoalesceThresh < 0 {
		return fmt.Errorf("heatmap.coalesce_threshold must not be negative")
	}
	switch c.Heatmap.CoalesceKind {
	case "", "first", "average", "max":
	default:
		return fmt.Errorf("heatmap.coalesce_kind must be one of: first, average, max")
	}
	if c.Archive.BatchSize <= 0 {
		return fmt.Errorf("archive.batch_size must be positive")
	}
	return nil
}
