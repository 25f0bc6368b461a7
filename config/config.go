// Package config loads orchestrator settings from the environment
// (MIGRATE_ prefix) and an optional YAML config file. Database
// credentials arrive only through configuration; they are never logged,
// and Redact produces the form safe for diagnostic output.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every operator-tunable setting.
type Config struct {
	// DatabaseURL is the target database connection string (required).
	DatabaseURL string `mapstructure:"database_url"`

	// LedgerDriver selects the ledger backend: postgres, sqlite, or
	// mysql (default: postgres).
	LedgerDriver string `mapstructure:"ledger_driver"`

	// LedgerDSN is the ledger connection string. Defaults to
	// DatabaseURL for postgres; sqlite and mysql require it.
	LedgerDSN string `mapstructure:"ledger_dsn"`

	// MigrationsDir is the directory containing one subdirectory per
	// migration (default: ./migrations).
	MigrationsDir string `mapstructure:"migrations_dir"`

	// RedisAddr is the optional backfill progress channel address.
	RedisAddr string `mapstructure:"redis_addr"`

	// MaxActiveConnections is the preflight load ceiling (default: 50).
	MaxActiveConnections int `mapstructure:"max_active_connections"`

	// MinFreeDiskPercent is the preflight disk floor (default: 10).
	MinFreeDiskPercent float64 `mapstructure:"min_free_disk_percent"`

	// DataPath is the mount point checked for disk headroom
	// (default: "/").
	DataPath string `mapstructure:"data_path"`

	// PollInterval is the backfill progress sampling interval
	// (default: 10s).
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// BackfillTimeout bounds backfill jobs unless a migration's
	// manifest overrides it (default: 30m).
	BackfillTimeout time.Duration `mapstructure:"backfill_timeout"`

	// CleanupDwell is the observation window between cutover and
	// cleanup (default: 15m).
	CleanupDwell time.Duration `mapstructure:"cleanup_dwell"`

	// StatementTimeout bounds each artifact invocation except backfill
	// (default: 5m).
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`

	// MetricsAddr enables the Prometheus endpoint when set,
	// e.g. ":9090" (optional).
	MetricsAddr string `mapstructure:"metrics_addr"`

	// Verbose enables debug logging.
	Verbose bool `mapstructure:"verbose"`
}

// Load reads configuration from the environment and, if file is
// non-empty, the given YAML file. Environment values win.
func Load(file string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MIGRATE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("database_url", "")
	v.SetDefault("ledger_driver", "postgres")
	v.SetDefault("ledger_dsn", "")
	v.SetDefault("migrations_dir", "./migrations")
	v.SetDefault("redis_addr", "")
	v.SetDefault("max_active_connections", 50)
	v.SetDefault("min_free_disk_percent", 10.0)
	v.SetDefault("data_path", "/")
	v.SetDefault("poll_interval", 10*time.Second)
	v.SetDefault("backfill_timeout", 30*time.Minute)
	v.SetDefault("cleanup_dwell", 15*time.Minute)
	v.SetDefault("statement_timeout", 5*time.Minute)
	v.SetDefault("metrics_addr", "")
	v.SetDefault("verbose", false)

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse configuration: %w", err)
	}
	if cfg.LedgerDSN == "" && cfg.LedgerDriver == "postgres" {
		cfg.LedgerDSN = cfg.DatabaseURL
	}
	return cfg, nil
}

// Validate checks that required settings are present and coherent.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("database_url is required (MIGRATE_DATABASE_URL)")
	}
	switch c.LedgerDriver {
	case "postgres", "sqlite", "mysql":
	default:
		return fmt.Errorf("ledger_driver must be postgres, sqlite, or mysql (got %q)", c.LedgerDriver)
	}
	if c.LedgerDSN == "" {
		return fmt.Errorf("ledger_dsn is required for the %s ledger driver", c.LedgerDriver)
	}
	return nil
}
