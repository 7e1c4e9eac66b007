package server

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the API server settings. Timeouts are plain seconds in the
// YAML file so operators never deal with duration syntax.
type Config struct {
	Addr               string  `yaml:"addr"`
	RequestTimeoutSecs int     `yaml:"request_timeout_secs"`
	ReadTimeoutSecs    int     `yaml:"read_timeout_secs"`
	WriteTimeoutSecs   int     `yaml:"write_timeout_secs"`
	IdleTimeoutSecs    int     `yaml:"idle_timeout_secs"`
	RateLimitRPS       float64 `yaml:"rate_limit_rps"`
	RateLimitBurst     int     `yaml:"rate_limit_burst"`
	CacheSize          int     `yaml:"cache_size"`
	TopN               int     `yaml:"top_n"`
}

// DefaultConfig returns the local-only defaults used when no config file is
// present.
func DefaultConfig() Config {
	return Config{
		Addr:               "127.0.0.1:8099",
		RequestTimeoutSecs: 10,
		ReadTimeoutSecs:    10,
		WriteTimeoutSecs:   10,
		IdleTimeoutSecs:    60,
		RateLimitRPS:       20,
		RateLimitBurst:     40,
		CacheSize:          32,
		TopN:               12,
	}
}

// LoadConfig reads the server config from path, layered over defaults. A
// missing file is not an error; it just means defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("failed to read server config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse server config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid server config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate ensures the configuration is usable.
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr cannot be empty")
	}
	if c.RequestTimeoutSecs <= 0 {
		return fmt.Errorf("request_timeout_secs must be positive, got %d", c.RequestTimeoutSecs)
	}
	if c.ReadTimeoutSecs <= 0 {
		return fmt.Errorf("read_timeout_secs must be positive, got %d", c.ReadTimeoutSecs)
	}
	if c.WriteTimeoutSecs <= 0 {
		return fmt.Errorf("write_timeout_secs must be positive, got %d", c.WriteTimeoutSecs)
	}
	if c.IdleTimeoutSecs <= 0 {
		return fmt.Errorf("idle_timeout_secs must be positive, got %d", c.IdleTimeoutSecs)
	}
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("rate_limit_rps must be positive, got %f", c.RateLimitRPS)
	}
	if c.RateLimitBurst < 1 {
		return fmt.Errorf("rate_limit_burst must be at least 1, got %d", c.RateLimitBurst)
	}
	if c.CacheSize <= 0 {
		return fmt.Errorf("cache_size must be positive, got %d", c.CacheSize)
	}
	if c.TopN < 0 {
		return fmt.Errorf("top_n cannot be negative, got %d", c.TopN)
	}
	return nil
}

// GetRequestTimeout returns the per-request deadline as a time.Duration.
func (c Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSecs) * time.Second
}

// GetReadTimeout returns the read timeout as a time.Duration.
func (c Config) GetReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSecs) * time.Second
}

// GetWriteTimeout returns the write timeout as a time.Duration.
func (c Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSecs) * time.Second
}

// GetIdleTimeout returns the idle timeout as a time.Duration.
func (c Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSecs) * time.Second
}
