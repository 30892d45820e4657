package config

import "time"

// Server defaults
const (
	DefaultPort          = "8080"
	DefaultMaxMemoryMB   = 48
	DefaultReadTimeout   = 10 * time.Second
	DefaultWriteTimeout  = 10 * time.Second
	ShutdownTimeout      = 30 * time.Second
	HandlerTimeout       = 5 * time.Second
	DefaultReportLimit   = 20
	MaxReportLimit       = 500
	DefaultReportsWindow = 24 * time.Hour
)

// Engine defaults
var DefaultTiers = []float64{0.001, 0.02, 0.05, 0.10, 0.20, 1.0}

const (
	DefaultMaxHypotheses      = 1000
	DefaultGenerationTime     = 60 * time.Second
	DefaultMaxRecommendations = 50
	DefaultLookbackDays       = 7
	DefaultFPPRate            = 0.01
	DefaultMinimumPPS         = 1000
	DefaultSampleRate         = 0.01
	DefaultBackendCount       = 1
	DefaultWarmUp             = 10 * time.Second
	DefaultReconnectInterval  = 10 * time.Second
	DefaultDedupTTL           = 5 * time.Minute
	DefaultDedupSize          = 100000
)

// Generator defaults
const (
	DefaultSeparators       = ".-_="
	DefaultMaxTrackedSeries = 10000
	StalePointAge           = 1 * time.Hour
)

// Report archive defaults
const (
	DefaultReportRetention = 24 * time.Hour
	RetentionInterval      = 1 * time.Hour
	BadgerGCInterval       = 10 * time.Minute
)

// Feed monitor thresholds
const (
	FeedMaxConsecutiveFailures = 3
	FeedSilenceThreshold       = 5 * time.Minute
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 16
	WSChannelBuffer   = 4
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
	WSDialTimeout     = 10 * time.Second
)
