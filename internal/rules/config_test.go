package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.InDelta(t, 0.05, cfg.NormalMaxLoss, 1e-9)
	assert.InDelta(t, 0.10, cfg.WatchMaxLoss, 1e-9)
	assert.InDelta(t, 0.08, cfg.SustainedWatchLoss, 1e-9)
	assert.Equal(t, 5, cfg.SustainedDays)
	assert.InDelta(t, 0.60, cfg.DominantDriverShare, 1e-9)
	assert.Equal(t, 3, cfg.TrendDays)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"negative threshold", func(c *Config) { c.NormalMaxLoss = -0.1 }, "normal_max_loss"},
		{"threshold above one", func(c *Config) { c.DominantDriverShare = 1.2 }, "dominant_driver_share"},
		{"inverted loss bands", func(c *Config) { c.NormalMaxLoss = 0.2 }, "must be below watch_max_loss"},
		{"equal loss bands", func(c *Config) { c.NormalMaxLoss = c.WatchMaxLoss }, "must be below watch_max_loss"},
		{"zero sustained window", func(c *Config) { c.SustainedDays = 0 }, "sustained_days"},
		{"zero trend window", func(c *Config) { c.TrendDays = 0 }, "trend_days"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadConfig_PartialOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	doc := "watch_max_loss: 0.15\nsustained_days: 7\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.InDelta(t, 0.15, cfg.WatchMaxLoss, 1e-9)
	assert.Equal(t, 7, cfg.SustainedDays)
	assert.InDelta(t, 0.05, cfg.NormalMaxLoss, 1e-9, "omitted keys keep their defaults")
	assert.Equal(t, 3, cfg.TrendDays)
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	cfg, err = LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfig_RejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	doc := "normal_max_loss: 0.5\nwatch_max_loss: 0.1\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid rules config")
}

func TestLoadConfig_RejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("watch_max_loss: [not a number\n"), 0o644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse rules config")
}
