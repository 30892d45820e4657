package engine

import (
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/montanaflynn/stats"

	"github.com/nicktill/tinytrim/pkg/hypothesis"
	"github.com/nicktill/tinytrim/pkg/report"
	"github.com/nicktill/tinytrim/pkg/tier"
)

// lifetimeAge is the age past which savings are measured over the whole
// lifetime rather than the current cycle.
const lifetimeAge = 10

func (e *Engine) setFullEvaluation(full bool) {
	for _, t := range e.tiers {
		t.SetFullEvaluation(full)
	}
}

// beginFullEvaluation starts a cycle in which every hypothesis scores every
// point, to get comparable per-hypothesis rates.
func (e *Engine) beginFullEvaluation() {
	for _, t := range e.tiers {
		t.SetFullEvaluation(true)
		t.SortByInstantaneousRate()
		t.ResetInstantaneousRates()
		t.ResetDropped()
	}
}

// beginRankedTesting rebalances the ladder and switches every tier to
// first-match-wins, ordered by the rates measured during full evaluation.
func (e *Engine) beginRankedTesting() {
	e.rebalance()
	for _, t := range e.tiers {
		t.SetFullEvaluation(false)
		t.SortByInstantaneousRate()
		t.ResetInstantaneousRates()
		t.ResetDropped()
	}
}

// trimTiers rebalances again and trims each tier down towards its top performers.
func (e *Engine) trimTiers() {
	e.rebalance()
	for _, t := range e.tiers {
		if removed := t.Trim(e.cfg.MaxRecommendations); removed > 0 {
			log.Printf("Trimmed %d hypotheses from tier %s", removed, tierLabel(t.Confidence()))
		}
	}
}

// rebalance walks the ladder strictest first. Rules proven within the stricter
// neighbour's bound move up one tier; rules exceeding a tier's bound are
// carried into the next tier, where they are rebalanced again in the same pass.
func (e *Engine) rebalance() {
	e.ladderMu.Lock()
	defer e.ladderMu.Unlock()

	var carried []*hypothesis.Hypothesis
	previous := -1.0
	for i, t := range e.tiers {
		for _, h := range carried {
			t.Demote(h)
		}
		res := t.Rebalance(previous)
		if i > 0 {
			for _, h := range res.WithinPreviousBound {
				e.tiers[i-1].Promote(h)
			}
		}
		carried = res.Rejected
		previous = t.Confidence()
	}
	if len(carried) > 0 {
		log.Printf("Discarded %d hypotheses rejected by the catch-all tier", len(carried))
	}
	for _, t := range e.tiers {
		if over := t.OverCapacity(); over > 0 {
			log.Printf("Tier %s is %d over capacity until trimmed", tierLabel(t.Confidence()), over)
		}
	}
}

// ageTiers ages every hypothesis and closes the generation.
func (e *Engine) ageTiers() {
	for _, t := range e.tiers {
		t.IncrementAge()
		label := tierLabel(t.Confidence())
		tierSize.WithLabelValues(label).Set(float64(t.Len()))
		tierBlacklisted.WithLabelValues(label).Set(float64(t.BlacklistLen()))
	}
	e.generation.Add(1)
	generationsCompleted.Inc()
}

// BuildReport extracts recommendations from every tier except the catch-all.
func (e *Engine) BuildReport() *report.Report {
	r := &report.Report{
		ID:          uuid.NewString(),
		Generation:  e.generation.Load(),
		GeneratedAt: e.now(),
	}
	for _, t := range e.tiers {
		if t.IsCatchAll() {
			continue
		}
		tr := e.tierReport(t)
		tierRecommendations.WithLabelValues(tierLabel(t.Confidence())).Set(float64(len(tr.Recommendations)))
		r.Tiers = append(r.Tiers, tr)
	}
	return r
}

func (e *Engine) tierReport(t *tier.Manager) report.TierReport {
	backends := e.BackendCount()
	rate := e.cfg.SampleRate

	type candidate struct {
		h        *hypothesis.Hypothesis
		lifetime bool
		raw      float64
		savings  float64
	}
	hypotheses := t.Hypotheses()
	var candidates []candidate
	for _, h := range hypotheses {
		age := h.Age()
		if age <= 1 {
			continue
		}
		lifetime := age > lifetimeAge
		savings := h.ProjectedSavings(lifetime, backends, rate)
		if savings <= e.cfg.MinimumPPS {
			continue
		}
		candidates = append(candidates, candidate{h: h, lifetime: lifetime, raw: h.RawSavingsRate(lifetime), savings: savings})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].raw > candidates[j].raw
	})
	if len(candidates) > e.cfg.MaxRecommendations {
		candidates = candidates[:e.cfg.MaxRecommendations]
	}

	tr := report.TierReport{
		Confidence:        t.Confidence(),
		ConfidencePercent: (1 - t.Confidence()) * 100,
		Tracked:           len(hypotheses),
		Rejected:          t.BlacklistLen(),
		Dropped:           t.DroppedCount(),
		Recommendations:   make([]report.Recommendation, 0, len(candidates)),
	}

	savings := make(stats.Float64Data, 0, len(candidates))
	for i, c := range candidates {
		savings = append(savings, c.savings)
		tr.Recommendations = append(tr.Recommendations, report.Recommendation{
			Rank:              i + 1,
			Description:       c.h.Description(),
			Dimensions:        c.h.Dimensions(),
			Savings15m:        c.h.ProjectedSavings15m(backends, rate),
			SavingsLifetime:   c.h.ProjectedSavings(true, backends, rate),
			ConfidencePercent: 100 - 100*c.h.ViolationRate(t.Correction()),
			TTL:               time.Duration(c.h.Age()*2) * e.cfg.GenerationTime,
			Age:               c.h.Age(),
		})
	}
	if total, err := stats.Sum(savings); err == nil {
		tr.SavingsPPS = total
	}
	return tr
}
