package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	HTTP struct {
		Port string `yaml:"port" toml:"port" env:"SAMPLE_HTTP_PORT"`
	} `yaml:"http" toml:"http"`
	Sweep struct {
		Interval time.Duration `yaml:"interval" toml:"interval"`
		Enabled  bool          `yaml:"enabled" toml:"enabled"`
	} `yaml:"sweep" toml:"sweep"`
	Origins []string `yaml:"origins" toml:"origins" env:"SAMPLE_ORIGINS"`
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigYAMLWithEnvOverride(t *testing.T) {
	path := writeFile(t, "svc.yaml", "http:\n  port: \"9000\"\nsweep:\n  interval: 30s\n")
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("SAMPLE_HTTP_PORT", "9100")
	t.Setenv("SWEEP_ENABLED", "true")

	var cfg sample
	require.NoError(t, LoadConfig(&cfg))

	assert.Equal(t, "9100", cfg.HTTP.Port)
	assert.Equal(t, 30*time.Second, cfg.Sweep.Interval)
	assert.True(t, cfg.Sweep.Enabled)
}

func TestLoadConfigTOML(t *testing.T) {
	path := writeFile(t, "svc.toml", "origins = [\"a\", \"b\"]\n[http]\nport = \"7000\"\n")
	t.Setenv("CONFIG_FILE", path)

	var cfg sample
	require.NoError(t, LoadConfig(&cfg))

	assert.Equal(t, "7000", cfg.HTTP.Port)
	assert.Equal(t, []string{"a", "b"}, cfg.Origins)
}

func TestLoadConfigDotEnv(t *testing.T) {
	path := writeFile(t, "local.env", "SAMPLE_ORIGINS=x, y\nSWEEP_INTERVAL=2m\n")
	t.Setenv("DOTENV_FILE", path)
	t.Setenv("CONFIG_FILE", "")
	t.Cleanup(func() {
		os.Unsetenv("SAMPLE_ORIGINS")
		os.Unsetenv("SWEEP_INTERVAL")
	})

	var cfg sample
	require.NoError(t, LoadConfig(&cfg))

	assert.Equal(t, []string{"x", "y"}, cfg.Origins)
	assert.Equal(t, 2*time.Minute, cfg.Sweep.Interval)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("SWEEP_INTERVAL", "soon")

	var cfg sample
	err := LoadConfig(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SWEEP_INTERVAL")
}

func TestLoadConfigRequiresStructPointer(t *testing.T) {
	var cfg sample
	assert.Error(t, LoadConfig(cfg))
	assert.Error(t, LoadConfig(nil))
}
