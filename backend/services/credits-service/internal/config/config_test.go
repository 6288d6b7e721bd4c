package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithEnv(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("CREDITS_STORAGE_DRIVER", "SQLite")
	t.Setenv("CREDITS_SQLITE_PATH", "/tmp/credits.db")
	t.Setenv("CREDITS_TIER_FREE", "10")
	t.Setenv("CREDITS_SWEEP_INTERVAL", "1m")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, int64(10), cfg.Ledger.Free)
	assert.Equal(t, int64(500), cfg.Ledger.Professional)
	assert.Equal(t, time.Minute, cfg.Sweep.Interval)
	assert.Equal(t, ":8085", cfg.HTTPAddress())
}

func TestValidate(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.Validate(), "postgres without dsn")

	cfg.Storage.Driver = "mongo"
	assert.Error(t, cfg.Validate())

	cfg.Storage.Driver = DriverMemory
	require.NoError(t, cfg.Validate())

	cfg.Ledger.CycleMonths = 0
	assert.Error(t, cfg.Validate())
	cfg.Ledger.CycleLength = 24 * time.Hour
	require.NoError(t, cfg.Validate())

	cfg.Ledger.Starter = -1
	assert.Error(t, cfg.Validate())
}

func TestHTTPAddress(t *testing.T) {
	cfg := &Config{}
	cfg.HTTP.Port = ":9000"
	assert.Equal(t, ":9000", cfg.HTTPAddress())
	cfg.HTTP.Port = "9001"
	assert.Equal(t, ":9001", cfg.HTTPAddress())
}
