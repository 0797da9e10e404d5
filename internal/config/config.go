// Package config loads the platform configuration from YAML: storage,
// logging, matching-policy defaults and lock-gate thresholds.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/ledgerline/cashops/internal/domain"
)

// Config is the complete platform configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Matching MatchingConfig `yaml:"matching"`
	Gates    GatesConfig    `yaml:"gates"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// DatabaseConfig selects and tunes the storage backend.
type DatabaseConfig struct {
	Driver          string `yaml:"driver"` // postgres or memory
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifeSecs int    `yaml:"conn_max_life_secs"`
}

// LoggingConfig tunes the zerolog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // trace, debug, info, warn, error
	Format string `yaml:"format"` // console or json
}

// MatchingConfig carries the default matching policy applied when an
// entity has no explicit policy row.
type MatchingConfig struct {
	AmountTolerance    float64 `yaml:"amount_tolerance"`
	DateWindowDays     int     `yaml:"date_window_days"`
	Tier2MinConfidence float64 `yaml:"tier2_min_confidence"`
	Tier3MinConfidence float64 `yaml:"tier3_min_confidence"`
	AutoApplyTier1     bool    `yaml:"auto_apply_tier1"`
	AutoApplyTier2     bool    `yaml:"auto_apply_tier2"`
}

// ToPolicy converts the section into a domain matching policy.
func (m MatchingConfig) ToPolicy() domain.MatchingPolicy {
	return domain.MatchingPolicy{
		AmountTolerance:    m.AmountTolerance,
		DateWindowDays:     m.DateWindowDays,
		Tier2MinConfidence: m.Tier2MinConfidence,
		Tier3MinConfidence: m.Tier3MinConfidence,
		AutoApplyTier1:     m.AutoApplyTier1,
		AutoApplyTier2:     m.AutoApplyTier2,
	}
}

// GatesConfig holds the lock-gate thresholds.
type GatesConfig struct {
	MaxMissingFXRatio float64 `yaml:"max_missing_fx_ratio"`
	MaxUnknownCashPct float64 `yaml:"max_unknown_cash_pct"`
	MaxFreshnessHours float64 `yaml:"max_freshness_hours"`
}

// MetricsConfig controls the prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns the platform defaults applied beneath any loaded file.
func Default() *Config {
	policy := domain.DefaultMatchingPolicy()
	return &Config{
		Database: DatabaseConfig{
			Driver:          "memory",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifeSecs: 1800,
		},
		Logging: LoggingConfig{Level: "info", Format: "console"},
		Matching: MatchingConfig{
			AmountTolerance:    policy.AmountTolerance,
			DateWindowDays:     policy.DateWindowDays,
			Tier2MinConfidence: policy.Tier2MinConfidence,
			Tier3MinConfidence: policy.Tier3MinConfidence,
			AutoApplyTier1:     policy.AutoApplyTier1,
			AutoApplyTier2:     policy.AutoApplyTier2,
		},
		Gates: GatesConfig{
			MaxMissingFXRatio: 0.05,
			MaxUnknownCashPct: 0.05,
			MaxFreshnessHours: 48,
		},
		Metrics: MetricsConfig{Enabled: false, ListenAddr: ":9109"},
	}
}

// Load reads a YAML config file over the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate ensures the configuration is consistent.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database dsn required for driver postgres")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging level %q", c.Logging.Level)
	}

	if c.Matching.AmountTolerance < 0 {
		return fmt.Errorf("matching amount_tolerance must be >= 0, got %f", c.Matching.AmountTolerance)
	}
	if c.Matching.DateWindowDays < 1 {
		return fmt.Errorf("matching date_window_days must be >= 1, got %d", c.Matching.DateWindowDays)
	}
	if c.Matching.Tier2MinConfidence <= 0 || c.Matching.Tier2MinConfidence > 1 {
		return fmt.Errorf("matching tier2_min_confidence must be in (0,1], got %f", c.Matching.Tier2MinConfidence)
	}
	if c.Matching.Tier3MinConfidence <= 0 || c.Matching.Tier3MinConfidence > c.Matching.Tier2MinConfidence {
		return fmt.Errorf("matching tier3_min_confidence must be in (0, tier2], got %f", c.Matching.Tier3MinConfidence)
	}

	if c.Gates.MaxMissingFXRatio < 0 || c.Gates.MaxMissingFXRatio > 1 {
		return fmt.Errorf("gates max_missing_fx_ratio must be in [0,1], got %f", c.Gates.MaxMissingFXRatio)
	}
	if c.Gates.MaxUnknownCashPct < 0 || c.Gates.MaxUnknownCashPct > 1 {
		return fmt.Errorf("gates max_unknown_cash_pct must be in [0,1], got %f", c.Gates.MaxUnknownCashPct)
	}
	if c.Gates.MaxFreshnessHours <= 0 {
		return fmt.Errorf("gates max_freshness_hours must be positive, got %f", c.Gates.MaxFreshnessHours)
	}
	return nil
}
