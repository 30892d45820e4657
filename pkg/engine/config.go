package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/nicktill/tinytrim/pkg/config"
	"github.com/nicktill/tinytrim/pkg/hypothesis"
)

// Configuration errors
var (
	ErrNoTiers           = errors.New("at least one tier is required")
	ErrTiersNotAscending = errors.New("tier confidences must be strictly ascending")
	ErrMissingCatchAll   = errors.New("last tier must be a catch-all (confidence >= 1.0)")
	ErrInvalidConfig     = errors.New("invalid engine configuration")
)

// Config holds the engine parameters.
type Config struct {
	// Tiers are confidence levels, strictest first, ending with the catch-all
	Tiers              []float64
	MaxHypotheses      int
	GenerationTime     time.Duration
	MaxRecommendations int
	Correction         hypothesis.Correction
	MinimumPPS         float64
	SampleRate         float64
	BackendCount       int
	WarmUp             time.Duration
	ReconnectInterval  time.Duration
	DedupTTL           time.Duration
	DedupSize          int
}

// DefaultConfig returns the built-in engine parameters.
func DefaultConfig() Config {
	return Config{
		Tiers:              append([]float64(nil), config.DefaultTiers...),
		MaxHypotheses:      config.DefaultMaxHypotheses,
		GenerationTime:     config.DefaultGenerationTime,
		MaxRecommendations: config.DefaultMaxRecommendations,
		Correction: hypothesis.Correction{
			LookbackDays: config.DefaultLookbackDays,
			FPPRate:      config.DefaultFPPRate,
		},
		MinimumPPS:        config.DefaultMinimumPPS,
		SampleRate:        config.DefaultSampleRate,
		BackendCount:      config.DefaultBackendCount,
		WarmUp:            config.DefaultWarmUp,
		ReconnectInterval: config.DefaultReconnectInterval,
		DedupTTL:          config.DefaultDedupTTL,
		DedupSize:         config.DefaultDedupSize,
	}
}

// FromProcessConfig maps process configuration onto engine parameters.
func FromProcessConfig(c config.Config) Config {
	cfg := DefaultConfig()
	cfg.Tiers = append([]float64(nil), c.Tiers...)
	cfg.MaxHypotheses = c.MaxHypotheses
	cfg.GenerationTime = c.GenerationTime
	cfg.MaxRecommendations = c.MaxRecommendations
	cfg.Correction = hypothesis.Correction{LookbackDays: c.LookbackDays, FPPRate: c.FPPRate}
	cfg.MinimumPPS = c.MinimumPPS
	cfg.SampleRate = c.SampleRate
	cfg.BackendCount = c.BackendCount
	cfg.WarmUp = c.WarmUp
	cfg.ReconnectInterval = c.ReconnectInterval
	cfg.DedupTTL = c.DedupTTL
	return cfg
}

// RankDepth is how deep in a tier's order a match still admits a point.
func (c Config) RankDepth() int { return c.MaxRecommendations }

// Validate checks the tier ladder and numeric parameters.
func (c Config) Validate() error {
	if len(c.Tiers) == 0 {
		return ErrNoTiers
	}
	for i := 1; i < len(c.Tiers); i++ {
		if c.Tiers[i] <= c.Tiers[i-1] {
			return fmt.Errorf("%w: %v", ErrTiersNotAscending, c.Tiers)
		}
	}
	if c.Tiers[len(c.Tiers)-1] < 1.0 {
		return fmt.Errorf("%w: %v", ErrMissingCatchAll, c.Tiers)
	}
	if c.MaxHypotheses <= 0 || c.MaxRecommendations <= 0 || c.DedupSize <= 0 {
		return fmt.Errorf("%w: capacities must be positive", ErrInvalidConfig)
	}
	if c.GenerationTime <= 0 || c.DedupTTL <= 0 || c.ReconnectInterval <= 0 || c.WarmUp < 0 {
		return fmt.Errorf("%w: durations must be positive", ErrInvalidConfig)
	}
	if c.SampleRate <= 0 || c.SampleRate > 1 {
		return fmt.Errorf("%w: sample rate %v", ErrInvalidConfig, c.SampleRate)
	}
	return nil
}
