package rules

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the classification thresholds. It is an explicit parameter of
// Classify, never a process-wide default: callers that want the stock
// thresholds pass DefaultConfig().
type Config struct {
	// Site-level thresholds on the weighted loss rate.
	NormalMaxLoss float64 `yaml:"normal_max_loss"`
	WatchMaxLoss  float64 `yaml:"watch_max_loss"`

	// Persistence rule: all of the last SustainedDays daily loss rates at or
	// above SustainedWatchLoss.
	SustainedWatchLoss float64 `yaml:"sustained_watch_loss"`
	SustainedDays      int     `yaml:"sustained_days"`

	// One driver owning at least this share of a site's attributed disposals
	// counts as dominant.
	DominantDriverShare float64 `yaml:"dominant_driver_share"`

	// Trend rule: daily cost leakage strictly rising for the last TrendDays.
	TrendDays int `yaml:"trend_days"`
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		NormalMaxLoss:       0.05,
		WatchMaxLoss:        0.10,
		SustainedWatchLoss:  0.08,
		SustainedDays:       5,
		DominantDriverShare: 0.60,
		TrendDays:           3,
	}
}

// LoadConfig reads thresholds from a YAML file, layered over defaults, so a
// file overriding a single threshold is valid. A missing file is not an
// error; it just means defaults.
func LoadConfig(path string) (Config, error) {
	c := DefaultConfig()
	if path == "" {
		return c, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return c, nil
		}
		return Config{}, fmt.Errorf("failed to read rules config: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return Config{}, fmt.Errorf("failed to parse rules config %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid rules config %s: %w", path, err)
	}
	return c, nil
}

// Validate checks threshold sanity.
func (c Config) Validate() error {
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"normal_max_loss", c.NormalMaxLoss},
		{"watch_max_loss", c.WatchMaxLoss},
		{"sustained_watch_loss", c.SustainedWatchLoss},
		{"dominant_driver_share", c.DominantDriverShare},
	} {
		if f.value < 0 || f.value > 1 {
			return fmt.Errorf("%s must be within [0, 1], got %g", f.name, f.value)
		}
	}
	if c.NormalMaxLoss >= c.WatchMaxLoss {
		return fmt.Errorf("normal_max_loss %g must be below watch_max_loss %g", c.NormalMaxLoss, c.WatchMaxLoss)
	}
	if c.SustainedDays < 1 {
		return fmt.Errorf("sustained_days must be at least 1, got %d", c.SustainedDays)
	}
	if c.TrendDays < 1 {
		return fmt.Errorf("trend_days must be at least 1, got %d", c.TrendDays)
	}
	return nil
}
