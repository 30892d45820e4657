// Package hypothesis models candidate elimination rules and their running statistics.
//
// A Hypothesis pairs a Rule (what to drop) with counters measuring how much
// it would save and how often it would have dropped something that mattered.
// Identity comes from the rule parameters alone; two hypotheses built from the
// same rule are interchangeable no matter what they have observed.
//
// Counters are atomic so point ingestion never blocks on a hypothesis.
package hypothesis

import (
	"sync/atomic"
	"time"

	"github.com/nicktill/tinytrim/pkg/meter"
	"github.com/nicktill/tinytrim/pkg/point"
)

// Hypothesis is a rule plus its hit, violation, rate and age statistics.
type Hypothesis struct {
	rule  Rule
	now   meter.Clock
	check checker

	hits       atomic.Int64
	violations atomic.Int64
	age        atomic.Int32

	lifetime *meter.Meter
	instant  atomic.Pointer[meter.Meter]
}

// Option configures a Hypothesis.
type Option func(*Hypothesis)

// WithClock sets the clock used by the rate meters and staleness checks.
func WithClock(now meter.Clock) Option {
	return func(h *Hypothesis) {
		if now != nil {
			h.now = now
		}
	}
}

// New creates a hypothesis for a rule with zeroed statistics.
func New(rule Rule, opts ...Option) *Hypothesis {
	h := &Hypothesis{rule: rule, now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	h.check = rule.newChecker(h.now)
	h.lifetime = meter.New(h.now)
	h.instant.Store(meter.New(h.now))
	return h
}

// OmitExactMetric proposes dropping a metric.
func OmitExactMetric(metric string, opts ...Option) *Hypothesis {
	return New(ExactMetric{Metric: metric}, opts...)
}

// OmitMetricPrefix proposes dropping every metric under a prefix.
func OmitMetricPrefix(prefix string, opts ...Option) *Hypothesis {
	return New(MetricPrefix{Prefix: prefix}, opts...)
}

// OmitTag proposes dropping every series carrying a tag.
func OmitTag(key, value string, opts ...Option) *Hypothesis {
	return New(Tag{Name: key, Value: value}, opts...)
}

// OmitMetricAndTag proposes dropping a metric where it carries a tag.
func OmitMetricAndTag(metric, key, value string, opts ...Option) *Hypothesis {
	return New(MetricAndTag{Metric: metric, TagKey: key, TagValue: value}, opts...)
}

// OmitMetricPrefixAndTag proposes dropping metrics under a prefix where they carry a tag.
func OmitMetricPrefixAndTag(prefix, key, value string, opts ...Option) *Hypothesis {
	return New(MetricPrefixAndTag{Prefix: prefix, TagKey: key, TagValue: value}, opts...)
}

// OmitHostPrefixAndMetric proposes dropping a metric for hosts under a prefix.
func OmitHostPrefixAndMetric(hostPrefix, metric string, opts ...Option) *Hypothesis {
	return New(HostPrefixAndMetric{HostPrefix: hostPrefix, Metric: metric}, opts...)
}

// MetricIsConstant proposes dropping a metric that only ever reports constants.
func MetricIsConstant(metric string, maxTrackedSeries int, opts ...Option) *Hypothesis {
	return New(SeriesConstant{Metric: metric, MaxTrackedSeries: maxTrackedSeries}, opts...)
}

// MetricIsAlwaysOld proposes dropping a metric that only ever reports stale timestamps.
func MetricIsAlwaysOld(metric string, opts ...Option) *Hypothesis {
	return New(SeriesStale{Metric: metric, MaxTrackedSeries: DefaultMaxTrackedSeries}, opts...)
}

// Rule returns the rule under test.
func (h *Hypothesis) Rule() Rule { return h.rule }

// Key returns the identity of the hypothesis.
func (h *Hypothesis) Key() Key { return h.rule.Key() }

// Equal reports whether both hypotheses test the same rule.
func (h *Hypothesis) Equal(other *Hypothesis) bool {
	return other != nil && h.Key() == other.Key()
}

// Description returns the recommendation text, with tracking detail for
// series-tracking rules.
func (h *Hypothesis) Description() string {
	if d, ok := h.check.(interface{ detail() string }); ok {
		return h.rule.Description() + ". " + d.detail()
	}
	return h.rule.Description()
}

// Dimensions returns the namespace coordinates of the rule.
func (h *Hypothesis) Dimensions() []string { return h.rule.Dimensions() }

// Clone returns a fresh hypothesis for the same rule: zero statistics, age 0.
func (h *Hypothesis) Clone() *Hypothesis {
	return New(h.rule, WithClock(h.now))
}

// ProcessPoint evaluates a point and reports whether the rule matched it.
func (h *Hypothesis) ProcessPoint(p *point.Point) bool {
	if !h.rule.Matches(p) {
		return false
	}
	h.lifetime.Mark(1)
	h.instant.Load().Mark(1)

	hit, violation := h.check.observe(p)
	if hit {
		h.hits.Add(1)
		if violation {
			h.violations.Add(1)
		}
	}
	return true
}

// Hits returns how many matched points were counted.
func (h *Hypothesis) Hits() int64 { return h.hits.Load() }

// Violations returns how many counted points falsified the rule.
func (h *Hypothesis) Violations() int64 { return h.violations.Load() }

// RawViolationRate returns violations/hits, or 0 before the first hit.
func (h *Hypothesis) RawViolationRate() float64 {
	hits := h.hits.Load()
	if hits == 0 {
		return 0
	}
	return float64(h.violations.Load()) / float64(hits)
}

// ViolationRate returns the corrected violation rate in [0, 1].
func (h *Hypothesis) ViolationRate(c Correction) float64 {
	return h.check.adjust(h.RawViolationRate(), c)
}

// InstantaneousRate returns matches/sec since the last cycle reset.
func (h *Hypothesis) InstantaneousRate() float64 {
	return h.instant.Load().MeanRate()
}

// RawSavingsRate returns matches/sec over the hypothesis lifetime, or since
// the last cycle reset.
func (h *Hypothesis) RawSavingsRate(lifetime bool) float64 {
	if lifetime {
		return h.lifetime.MeanRate()
	}
	return h.InstantaneousRate()
}

// ProjectedSavings extrapolates the sampled rate to the whole fleet.
func (h *Hypothesis) ProjectedSavings(lifetime bool, backends int, sampleRate float64) float64 {
	return project(h.RawSavingsRate(lifetime), backends, sampleRate)
}

// ProjectedSavings15m projects the lifetime fifteen-minute moving average.
func (h *Hypothesis) ProjectedSavings15m(backends int, sampleRate float64) float64 {
	return project(h.lifetime.Rate15(), backends, sampleRate)
}

func project(rate float64, backends int, sampleRate float64) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return rate * float64(backends) / sampleRate
}

// ResetCycle restarts the instantaneous rate meter. Hits, violations and the
// lifetime meter are kept.
func (h *Hypothesis) ResetCycle() {
	h.instant.Store(meter.New(h.now))
}

// Age returns the number of generations survived.
func (h *Hypothesis) Age() int { return int(h.age.Load()) }

// IncrementAge adds one generation.
func (h *Hypothesis) IncrementAge() { h.age.Add(1) }

// ResetAge sets the age back to zero.
func (h *Hypothesis) ResetAge() { h.age.Store(0) }

// Snapshot is a point-in-time view of a hypothesis.
type Snapshot struct {
	Key               Key      `json:"key"`
	Description       string   `json:"description"`
	Dimensions        []string `json:"dimensions"`
	Hits              int64    `json:"hits"`
	Violations        int64    `json:"violations"`
	ViolationRate     float64  `json:"violation_rate"`
	InstantaneousRate float64  `json:"instantaneous_rate"`
	LifetimeRate      float64  `json:"lifetime_rate"`
	Age               int      `json:"age"`
}

// Snapshot captures the current statistics.
func (h *Hypothesis) Snapshot(c Correction) Snapshot {
	return Snapshot{
		Key:               h.Key(),
		Description:       h.Description(),
		Dimensions:        h.Dimensions(),
		Hits:              h.Hits(),
		Violations:        h.Violations(),
		ViolationRate:     h.ViolationRate(c),
		InstantaneousRate: h.InstantaneousRate(),
		LifetimeRate:      h.RawSavingsRate(true),
		Age:               h.Age(),
	}
}
