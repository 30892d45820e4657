package engine

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pointsConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tinytrim_points_consumed_total",
		Help: "Points offered to the tier ladder.",
	})

	pointsAdmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tinytrim_points_admitted_total",
		Help: "Points admitted by a tier.",
	}, []string{"tier"})

	hypothesesOffered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tinytrim_hypotheses_offered_total",
		Help: "Hypotheses offered to the engine, by outcome.",
	}, []string{"result"})

	tierSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tinytrim_tier_hypotheses",
		Help: "Live hypotheses per tier.",
	}, []string{"tier"})

	tierBlacklisted = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tinytrim_tier_blacklisted",
		Help: "Rules permanently rejected per tier.",
	}, []string{"tier"})

	tierRecommendations = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tinytrim_tier_recommendations",
		Help: "Recommendations in the latest report per tier.",
	}, []string{"tier"})

	generationsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tinytrim_generations_total",
		Help: "Completed evaluate/test/trim generations.",
	})

	feedReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tinytrim_feed_reconnects_total",
		Help: "Feed reconnect attempts.",
	})
)

// Offer outcomes
const (
	offerAccepted     = "accepted"
	offerDeduplicated = "deduplicated"
	offerLive         = "live"
	offerRefused      = "refused"
	offerIgnored      = "ignored"
)

func tierLabel(confidence float64) string {
	return strconv.FormatFloat(confidence, 'g', -1, 64)
}
