package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	libconfig "storyforge/backend/libs/config"
)

// Config defines gateway configuration.
type Config struct {
	HTTP struct {
		Port string `yaml:"port" toml:"port" env:"API_GATEWAY_HTTP_PORT"`
		// WriteTimeoutSeconds bounds plain API responses. The events proxy
		// lifts it for upgraded connections.
		WriteTimeoutSeconds    int `yaml:"writeTimeoutSeconds" toml:"writeTimeoutSeconds" env:"API_GATEWAY_WRITE_TIMEOUT"`
		ShutdownTimeoutSeconds int `yaml:"shutdownTimeoutSeconds" toml:"shutdownTimeoutSeconds" env:"API_GATEWAY_SHUTDOWN_TIMEOUT"`
	} `yaml:"http" toml:"http"`
	JWT struct {
		Secret string `yaml:"secret" toml:"secret" env:"API_GATEWAY_JWT_SECRET"`
	} `yaml:"jwt" toml:"jwt"`
	Services struct {
		CreditsURL string `yaml:"creditsUrl" toml:"creditsUrl" env:"CREDITS_SERVICE_URL"`
	} `yaml:"services" toml:"services"`
	HTTPClient struct {
		TimeoutSeconds int `yaml:"timeoutSeconds" toml:"timeoutSeconds" env:"API_GATEWAY_HTTP_TIMEOUT"`
	} `yaml:"httpClient" toml:"httpClient"`
}

// Load configuration via shared helper.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.HTTP.Port = "8080"
	cfg.HTTP.WriteTimeoutSeconds = 15
	cfg.HTTP.ShutdownTimeoutSeconds = 10
	cfg.HTTPClient.TimeoutSeconds = 5
	cfg.Services.CreditsURL = "http://localhost:8085"

	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.JWT.Secret) == "" {
		return nil, errors.New("config: jwt secret required")
	}
	if strings.TrimSpace(cfg.Services.CreditsURL) == "" {
		return nil, errors.New("config: credits service url required")
	}
	return cfg, nil
}

// HTTPAddress returns :port style.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// HTTPTimeout returns http client timeout.
func (c *Config) HTTPTimeout() time.Duration {
	if c.HTTPClient.TimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.HTTPClient.TimeoutSeconds) * time.Second
}

// ServerTimeouts derives listener timeouts. Zero or negative values fall back
// to defaults.
func (c *Config) ServerTimeouts() (write, shutdown time.Duration) {
	write, shutdown = 15*time.Second, 10*time.Second
	if c.HTTP.WriteTimeoutSeconds > 0 {
		write = time.Duration(c.HTTP.WriteTimeoutSeconds) * time.Second
	}
	if c.HTTP.ShutdownTimeoutSeconds > 0 {
		shutdown = time.Duration(c.HTTP.ShutdownTimeoutSeconds) * time.Second
	}
	return write, shutdown
}
