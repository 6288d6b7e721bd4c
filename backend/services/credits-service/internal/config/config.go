package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	libconfig "storyforge/backend/libs/config"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config defines credits service configuration.
type Config struct {
	HTTP struct {
		Port string `yaml:"port" toml:"port" env:"CREDITS_HTTP_PORT"`
	} `yaml:"http" toml:"http"`
	Storage struct {
		Driver      string `yaml:"driver" toml:"driver" env:"CREDITS_STORAGE_DRIVER"`
		DSN         string `yaml:"dsn" toml:"dsn" env:"CREDITS_POSTGRES_DSN"`
		SQLitePath  string `yaml:"sqlite_path" toml:"sqlite_path" env:"CREDITS_SQLITE_PATH"`
		AutoMigrate bool   `yaml:"auto_migrate" toml:"auto_migrate" env:"CREDITS_AUTO_MIGRATE"`
	} `yaml:"storage" toml:"storage"`
	Redis struct {
		Addr     string `yaml:"addr" toml:"addr" env:"CREDITS_REDIS_ADDR"`
		Password string `yaml:"password" toml:"password" env:"CREDITS_REDIS_PASSWORD"`
		DB       int    `yaml:"db" toml:"db" env:"CREDITS_REDIS_DB"`
		Channel  string `yaml:"channel" toml:"channel" env:"CREDITS_REDIS_CHANNEL"`
	} `yaml:"redis" toml:"redis"`
	Ledger struct {
		DefaultTier  string        `yaml:"default_tier" toml:"default_tier" env:"CREDITS_DEFAULT_TIER"`
		CycleMonths  int           `yaml:"cycle_months" toml:"cycle_months" env:"CREDITS_CYCLE_MONTHS"`
		CycleLength  time.Duration `yaml:"cycle_length" toml:"cycle_length" env:"CREDITS_CYCLE_LENGTH"`
		Free         int64         `yaml:"free" toml:"free" env:"CREDITS_TIER_FREE"`
		Starter      int64         `yaml:"starter" toml:"starter" env:"CREDITS_TIER_STARTER"`
		Creator      int64         `yaml:"creator" toml:"creator" env:"CREDITS_TIER_CREATOR"`
		Professional int64         `yaml:"professional" toml:"professional" env:"CREDITS_TIER_PROFESSIONAL"`
	} `yaml:"ledger" toml:"ledger"`
	Sweep struct {
		Interval time.Duration `yaml:"interval" toml:"interval" env:"CREDITS_SWEEP_INTERVAL"`
		MaxAge   time.Duration `yaml:"max_age" toml:"max_age" env:"CREDITS_SWEEP_MAX_AGE"`
		Batch    int           `yaml:"batch" toml:"batch" env:"CREDITS_SWEEP_BATCH"`
	} `yaml:"sweep" toml:"sweep"`
	Auth struct {
		ServiceKeyHash string `yaml:"service_key_hash" toml:"service_key_hash" env:"CREDITS_SERVICE_KEY_HASH"`
	} `yaml:"auth" toml:"auth"`
	WS struct {
		WriteTimeout time.Duration `yaml:"write_timeout" toml:"write_timeout" env:"CREDITS_WS_WRITE_TIMEOUT"`
	} `yaml:"ws" toml:"ws"`
}

// Load configuration from file/env.
func Load() (*Config, error) {
	cfg := Default()
	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config with every optional value filled in.
func Default() *Config {
	cfg := &Config{}
	cfg.HTTP.Port = "8085"
	cfg.Storage.Driver = DriverPostgres
	cfg.Storage.AutoMigrate = true
	cfg.Ledger.DefaultTier = "free"
	cfg.Ledger.CycleMonths = 1
	cfg.Ledger.Free = 5
	cfg.Ledger.Starter = 50
	cfg.Ledger.Creator = 150
	cfg.Ledger.Professional = 500
	cfg.Sweep.Interval = 5 * time.Minute
	cfg.Sweep.MaxAge = 30 * time.Minute
	cfg.Sweep.Batch = 100
	cfg.WS.WriteTimeout = 10 * time.Second
	return cfg
}

// Validate checks required settings for the chosen driver.
func (c *Config) Validate() error {
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	switch c.Storage.Driver {
	case DriverPostgres:
		if strings.TrimSpace(c.Storage.DSN) == "" {
			return errors.New("config: postgres dsn required")
		}
	case DriverSQLite:
		if strings.TrimSpace(c.Storage.SQLitePath) == "" {
			return errors.New("config: sqlite path required")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}
	if c.Ledger.CycleMonths <= 0 && c.Ledger.CycleLength <= 0 {
		return errors.New("config: cycle_months or cycle_length required")
	}
	for name, v := range map[string]int64{
		"free": c.Ledger.Free, "starter": c.Ledger.Starter,
		"creator": c.Ledger.Creator, "professional": c.Ledger.Professional,
	} {
		if v < 0 {
			return fmt.Errorf("config: %s allowance must not be negative", name)
		}
	}
	if c.Sweep.Interval > 0 && c.Sweep.MaxAge <= 0 {
		return errors.New("config: sweep max_age required when sweeping")
	}
	return nil
}

// HTTPAddress returns :port style string.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8085"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}
