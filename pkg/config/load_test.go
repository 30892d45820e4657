package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PORT", "")
	cfg := Load(filepath.Join(t.TempDir(), "missing.env"))

	require.Equal(t, Default(), cfg)
	require.Equal(t, []float64{0.001, 0.02, 0.05, 0.10, 0.20, 1.0}, cfg.Tiers)
	require.NoError(t, cfg.Validate())
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("TINYTRIM_TIERS", "0.01, 0.1, 1.0")
	t.Setenv("TINYTRIM_SAMPLE_RATE", "0.5")
	t.Setenv("TINYTRIM_GENERATION_TIME", "30s")
	t.Setenv("TINYTRIM_MAX_HYPOTHESES", "250")
	t.Setenv("TINYTRIM_LOOKBACK_DAYS", "not-a-number")

	cfg := Load(filepath.Join(t.TempDir(), "missing.env"))

	require.Equal(t, []float64{0.01, 0.1, 1.0}, cfg.Tiers)
	require.Equal(t, 0.5, cfg.SampleRate)
	require.Equal(t, 30*time.Second, cfg.GenerationTime)
	require.Equal(t, 250, cfg.MaxHypotheses)
	require.Equal(t, DefaultLookbackDays, cfg.LookbackDays, "invalid values fall back to the default")
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("TINYTRIM_FEED_URL=ws://feed.local/v1/stream\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("TINYTRIM_FEED_URL") })

	cfg := Load(path)
	require.Equal(t, "ws://feed.local/v1/stream", cfg.FeedURL)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   error
	}{
		{"defaults", func(*Config) {}, nil},
		{"zero sample rate", func(c *Config) { c.SampleRate = 0 }, ErrInvalidSampleRate},
		{"sample rate above one", func(c *Config) { c.SampleRate = 1.5 }, ErrInvalidSampleRate},
		{"lookback too long", func(c *Config) { c.LookbackDays = 61 }, ErrInvalidLookbackDays},
		{"fpp of one", func(c *Config) { c.FPPRate = 1 }, ErrInvalidFPPRate},
		{"no tiers", func(c *Config) { c.Tiers = nil }, ErrInvalidTiers},
		{"descending tiers", func(c *Config) { c.Tiers = []float64{0.1, 0.05, 1.0} }, ErrInvalidTiers},
		{"no catch-all", func(c *Config) { c.Tiers = []float64{0.01, 0.5} }, ErrInvalidTiers},
		{"zero generation", func(c *Config) { c.GenerationTime = 0 }, ErrInvalidDuration},
		{"zero capacity", func(c *Config) { c.MaxHypotheses = 0 }, ErrInvalidLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.want)
		})
	}
}
