// Package report holds recommendation reports and the collaborators that
// publish them: console printer, websocket hub, spreadsheet writer and
// archive.
package report

import (
	"context"
	"time"
)

// Report is one generation's recommendations across every non catch-all tier.
type Report struct {
	ID          string       `json:"id"`
	Generation  int64        `json:"generation"`
	GeneratedAt time.Time    `json:"generated_at"`
	Tiers       []TierReport `json:"tiers"`
}

// TierReport summarizes one tier and lists its recommendations.
type TierReport struct {
	Confidence float64 `json:"confidence"`

	// ConfidencePercent is the tier's minimum confidence, 100*(1-Confidence)
	ConfidencePercent float64 `json:"confidence_percent"`

	Tracked         int              `json:"tracked"`
	Rejected        int              `json:"rejected"`
	Dropped         int64            `json:"dropped"`
	SavingsPPS      float64          `json:"savings_pps"`
	Recommendations []Recommendation `json:"recommendations"`
}

// Recommendation is a single drop rule with its projected savings.
type Recommendation struct {
	Rank              int           `json:"rank"`
	Description       string        `json:"description"`
	Dimensions        []string      `json:"dimensions"`
	Savings15m        float64       `json:"savings_15m"`
	SavingsLifetime   float64       `json:"savings_lifetime"`
	ConfidencePercent float64       `json:"confidence_percent"`
	TTL               time.Duration `json:"ttl"`
	Age               int           `json:"age"`
}

// Publisher receives each report. Implementations must not retain the report
// after Publish returns unless they copy it.
type Publisher interface {
	Publish(ctx context.Context, r *Report) error
}

// Recommendations flattens every tier's recommendations in tier order.
func (r *Report) Recommendations() []Recommendation {
	var out []Recommendation
	for _, t := range r.Tiers {
		out = append(out, t.Recommendations...)
	}
	return out
}
