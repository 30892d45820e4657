package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Validation errors
var (
	ErrInvalidSampleRate   = errors.New("sample rate must be in (0, 1]")
	ErrInvalidLookbackDays = errors.New("lookback days must be in [1, 60]")
	ErrInvalidFPPRate      = errors.New("false positive rate must be in [0, 1)")
	ErrInvalidTiers        = errors.New("tiers must be ascending and end at 1.0 or above")
	ErrInvalidDuration     = errors.New("durations must be positive")
	ErrInvalidLimit        = errors.New("limits must be positive")
)

// Config is the process configuration.
type Config struct {
	Port        string
	MaxMemoryMB int64

	// DataDir holds the badger report archive; empty keeps reports in memory
	DataDir         string
	ReportRetention time.Duration
	XLSXPath        string

	// FeedURL is the websocket feed to dial; empty accepts pushed points only
	FeedURL   string
	FeedToken string

	Tiers              []float64
	MaxHypotheses      int
	GenerationTime     time.Duration
	MaxRecommendations int
	LookbackDays       int
	FPPRate            float64
	MinimumPPS         float64
	SampleRate         float64
	BackendCount       int
	WarmUp             time.Duration
	ReconnectInterval  time.Duration
	DedupTTL           time.Duration
	Separators         string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:               DefaultPort,
		MaxMemoryMB:        DefaultMaxMemoryMB,
		ReportRetention:    DefaultReportRetention,
		Tiers:              append([]float64(nil), DefaultTiers...),
		MaxHypotheses:      DefaultMaxHypotheses,
		GenerationTime:     DefaultGenerationTime,
		MaxRecommendations: DefaultMaxRecommendations,
		LookbackDays:       DefaultLookbackDays,
		FPPRate:            DefaultFPPRate,
		MinimumPPS:         DefaultMinimumPPS,
		SampleRate:         DefaultSampleRate,
		BackendCount:       DefaultBackendCount,
		WarmUp:             DefaultWarmUp,
		ReconnectInterval:  DefaultReconnectInterval,
		DedupTTL:           DefaultDedupTTL,
		Separators:         DefaultSeparators,
	}
}

// Load reads TINYTRIM_* environment variables over the defaults. An optional
// env file (default .env) is loaded first; variables already set win.
func Load(envFiles ...string) Config {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Failed to load env file: %v", err)
	}

	cfg := Default()
	cfg.Port = getEnvString("PORT", cfg.Port)
	cfg.MaxMemoryMB = getEnvInt64("TINYTRIM_MAX_MEMORY_MB", cfg.MaxMemoryMB)
	cfg.DataDir = getEnvString("TINYTRIM_DATA_DIR", cfg.DataDir)
	cfg.ReportRetention = getEnvDuration("TINYTRIM_REPORT_RETENTION", cfg.ReportRetention)
	cfg.XLSXPath = getEnvString("TINYTRIM_XLSX_PATH", cfg.XLSXPath)
	cfg.FeedURL = getEnvString("TINYTRIM_FEED_URL", cfg.FeedURL)
	cfg.FeedToken = getEnvString("TINYTRIM_FEED_TOKEN", cfg.FeedToken)

	cfg.Tiers = getEnvFloats("TINYTRIM_TIERS", cfg.Tiers)
	cfg.MaxHypotheses = int(getEnvInt64("TINYTRIM_MAX_HYPOTHESES", int64(cfg.MaxHypotheses)))
	cfg.GenerationTime = getEnvDuration("TINYTRIM_GENERATION_TIME", cfg.GenerationTime)
	cfg.MaxRecommendations = int(getEnvInt64("TINYTRIM_MAX_RECOMMENDATIONS", int64(cfg.MaxRecommendations)))
	cfg.LookbackDays = int(getEnvInt64("TINYTRIM_LOOKBACK_DAYS", int64(cfg.LookbackDays)))
	cfg.FPPRate = getEnvFloat("TINYTRIM_FPP_RATE", cfg.FPPRate)
	cfg.MinimumPPS = getEnvFloat("TINYTRIM_MINIMUM_PPS", cfg.MinimumPPS)
	cfg.SampleRate = getEnvFloat("TINYTRIM_SAMPLE_RATE", cfg.SampleRate)
	cfg.BackendCount = int(getEnvInt64("TINYTRIM_BACKEND_COUNT", int64(cfg.BackendCount)))
	cfg.WarmUp = getEnvDuration("TINYTRIM_WARM_UP", cfg.WarmUp)
	cfg.ReconnectInterval = getEnvDuration("TINYTRIM_RECONNECT_INTERVAL", cfg.ReconnectInterval)
	cfg.DedupTTL = getEnvDuration("TINYTRIM_DEDUP_TTL", cfg.DedupTTL)
	cfg.Separators = getEnvString("TINYTRIM_SEPARATORS", cfg.Separators)
	return cfg
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if c.SampleRate <= 0 || c.SampleRate > 1 {
		return fmt.Errorf("%w: got %v", ErrInvalidSampleRate, c.SampleRate)
	}
	if c.LookbackDays < 1 || c.LookbackDays > 60 {
		return fmt.Errorf("%w: got %d", ErrInvalidLookbackDays, c.LookbackDays)
	}
	if c.FPPRate < 0 || c.FPPRate >= 1 {
		return fmt.Errorf("%w: got %v", ErrInvalidFPPRate, c.FPPRate)
	}
	if len(c.Tiers) == 0 || c.Tiers[len(c.Tiers)-1] < 1.0 {
		return fmt.Errorf("%w: %v", ErrInvalidTiers, c.Tiers)
	}
	for i := 1; i < len(c.Tiers); i++ {
		if c.Tiers[i] <= c.Tiers[i-1] {
			return fmt.Errorf("%w: %v", ErrInvalidTiers, c.Tiers)
		}
	}
	if c.GenerationTime <= 0 || c.WarmUp < 0 || c.ReconnectInterval <= 0 || c.DedupTTL <= 0 || c.ReportRetention <= 0 {
		return ErrInvalidDuration
	}
	if c.MaxHypotheses <= 0 || c.MaxRecommendations <= 0 || c.BackendCount <= 0 {
		return ErrInvalidLimit
	}
	return nil
}

// getEnvInt64 gets an int64 from environment variable or returns default.
func getEnvInt64(key string, defaultValue int64) int64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			return parsed
		}
		log.Printf("Invalid value for %s: %q, using default %d", key, val, defaultValue)
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
		log.Printf("Invalid value for %s: %q, using default %v", key, val, defaultValue)
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
		log.Printf("Invalid value for %s: %q, using default %v", key, val, defaultValue)
	}
	return defaultValue
}

// getEnvFloats parses a comma separated list such as "0.01,0.1,1.0".
func getEnvFloats(key string, defaultValue []float64) []float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	var out []float64
	for _, field := range strings.Split(val, ",") {
		parsed, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			log.Printf("Invalid value for %s: %q, using default %v", key, val, defaultValue)
			return defaultValue
		}
		out = append(out, parsed)
	}
	return out
}

func getEnvString(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}
