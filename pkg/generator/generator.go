// Package generator proposes candidate hypotheses from observed points.
package generator

import (
	"strings"
	"time"

	"github.com/nicktill/tinytrim/pkg/config"
	"github.com/nicktill/tinytrim/pkg/hypothesis"
	"github.com/nicktill/tinytrim/pkg/point"
)

// IgnoredTag is the internal tag carrying the reporting source; it never seeds a rule.
const IgnoredTag = "_wavefront_source"

// Offerer accepts candidate hypotheses (see engine.Engine).
type Offerer interface {
	OfferHypothesis(h *hypothesis.Hypothesis) bool
}

// Generator turns points into candidate hypotheses.
type Generator struct {
	target           Offerer
	separators       string
	maxTrackedSeries int
	staleAfter       time.Duration
	now              func() time.Time
	hypothesisOpts   []hypothesis.Option
}

// Option configures a Generator.
type Option func(*Generator)

// WithSeparators sets the characters that end a metric or host prefix.
func WithSeparators(separators string) Option {
	return func(g *Generator) { g.separators = separators }
}

// WithClock sets the clock used to judge stale points and passed to new hypotheses.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		g.now = now
		g.hypothesisOpts = append(g.hypothesisOpts, hypothesis.WithClock(now))
	}
}

// New creates a generator offering to target.
func New(target Offerer, opts ...Option) *Generator {
	g := &Generator{
		target:           target,
		separators:       config.DefaultSeparators,
		maxTrackedSeries: config.DefaultMaxTrackedSeries,
		staleAfter:       config.StalePointAge,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Observe offers every candidate for p.
func (g *Generator) Observe(p *point.Point) {
	for _, h := range g.Candidates(p) {
		g.target.OfferHypothesis(h)
	}
}

// Candidates lists the hypotheses a point suggests, in offer order.
//
// Every point suggests its metric is constant, and an old point that its
// metric is always stale. Points nobody queried also suggest dropping the
// metric, each of its tags, and every metric or host prefix ending at a
// separator.
func (g *Generator) Candidates(p *point.Point) []*hypothesis.Hypothesis {
	opts := g.hypothesisOpts
	out := []*hypothesis.Hypothesis{
		hypothesis.MetricIsConstant(p.Metric, g.maxTrackedSeries, opts...),
	}
	if p.Time().Before(g.now().Add(-g.staleAfter)) {
		out = append(out, hypothesis.MetricIsAlwaysOld(p.Metric, opts...))
	}
	if p.Accessed {
		return out
	}

	tags := g.tags(p)
	out = append(out, hypothesis.OmitExactMetric(p.Metric, opts...))
	for _, tag := range tags {
		out = append(out,
			hypothesis.OmitTag(tag.Key, tag.Value, opts...),
			hypothesis.OmitMetricAndTag(p.Metric, tag.Key, tag.Value, opts...),
		)
	}
	out = append(out, hypothesis.OmitMetricAndTag(p.Metric, point.SourceTag, p.Host, opts...))

	for _, prefix := range g.prefixes(p.Host) {
		out = append(out, hypothesis.OmitHostPrefixAndMetric(prefix, p.Metric, opts...))
	}
	for _, prefix := range g.prefixes(p.Metric) {
		out = append(out, hypothesis.OmitMetricPrefix(prefix, opts...))
		for _, tag := range tags {
			out = append(out, hypothesis.OmitMetricPrefixAndTag(prefix, tag.Key, tag.Value, opts...))
		}
		out = append(out, hypothesis.OmitMetricPrefixAndTag(prefix, point.SourceTag, p.Host, opts...))
	}
	return out
}

func (g *Generator) tags(p *point.Point) []point.Tag {
	entries := p.Tags.Entries()
	out := entries[:0]
	for _, tag := range entries {
		if tag.Key == IgnoredTag {
			continue
		}
		out = append(out, tag)
	}
	return out
}

// prefixes returns every prefix of s that ends with a separator, shortest first.
func (g *Generator) prefixes(s string) []string {
	var out []string
	for i, c := range s {
		if strings.ContainsRune(g.separators, c) {
			out = append(out, s[:i+len(string(c))])
		}
	}
	return out
}
