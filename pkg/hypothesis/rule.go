package hypothesis

import (
	"fmt"
	"strings"

	"github.com/nicktill/tinytrim/pkg/meter"
	"github.com/nicktill/tinytrim/pkg/point"
)

// Kind names a rule variant.
type Kind string

const (
	KindExactMetric         Kind = "exact_metric"
	KindMetricPrefix        Kind = "metric_prefix"
	KindTag                 Kind = "tag"
	KindMetricAndTag        Kind = "metric_and_tag"
	KindMetricPrefixAndTag  Kind = "metric_prefix_and_tag"
	KindHostPrefixAndMetric Kind = "host_prefix_and_metric"
	KindSeriesConstant      Kind = "series_constant"
	KindSeriesStale         Kind = "series_stale"
)

// Key is the identity of a hypothesis: its kind and rule parameters.
// Runtime statistics never take part in identity.
type Key struct {
	Kind     Kind   `json:"kind"`
	Metric   string `json:"metric,omitempty"`
	Host     string `json:"host,omitempty"`
	TagKey   string `json:"tag_key,omitempty"`
	TagValue string `json:"tag_value,omitempty"`
}

// String renders the key for logs.
func (k Key) String() string {
	parts := []string{string(k.Kind)}
	if k.Metric != "" {
		parts = append(parts, "metric="+k.Metric)
	}
	if k.Host != "" {
		parts = append(parts, "host="+k.Host)
	}
	if k.TagKey != "" {
		parts = append(parts, k.TagKey+"="+k.TagValue)
	}
	return strings.Join(parts, " ")
}

// Rule is a candidate elimination rule. The set of rules is closed: every
// implementation lives in this package.
type Rule interface {
	// Key returns the identity of the rule.
	Key() Key

	// Description is a human readable sentence for recommendation output.
	Description() string

	// Dimensions are the namespace coordinates the rule covers.
	Dimensions() []string

	// Matches reports whether the point falls under the rule.
	Matches(p *point.Point) bool

	newChecker(now meter.Clock) checker
}

// ExactMetric drops a single metric.
type ExactMetric struct {
	Metric string
}

func (r ExactMetric) Key() Key { return Key{Kind: KindExactMetric, Metric: r.Metric} }

func (r ExactMetric) Description() string {
	return fmt.Sprintf("Eliminate the metric: %q", r.Metric)
}

func (r ExactMetric) Dimensions() []string { return []string{r.Metric} }

func (r ExactMetric) Matches(p *point.Point) bool { return p.Metric == r.Metric }

func (r ExactMetric) newChecker(meter.Clock) checker { return usageChecker{} }

// MetricPrefix drops every metric under a prefix.
type MetricPrefix struct {
	Prefix string
}

func (r MetricPrefix) Key() Key { return Key{Kind: KindMetricPrefix, Metric: r.Prefix} }

func (r MetricPrefix) Description() string {
	return fmt.Sprintf("Eliminate all metrics with the prefix %q", r.Prefix)
}

func (r MetricPrefix) Dimensions() []string { return []string{r.Prefix + "*"} }

func (r MetricPrefix) Matches(p *point.Point) bool { return strings.HasPrefix(p.Metric, r.Prefix) }

func (r MetricPrefix) newChecker(meter.Clock) checker { return usageChecker{} }

// Tag drops every series carrying a tag.
type Tag struct {
	Name  string
	Value string
}

func (r Tag) Key() Key { return Key{Kind: KindTag, TagKey: r.Name, TagValue: r.Value} }

func (r Tag) Description() string {
	return fmt.Sprintf("Eliminate all metrics with the tag: %q=%q", r.Name, r.Value)
}

func (r Tag) Dimensions() []string { return []string{r.Name + "=" + r.Value} }

func (r Tag) Matches(p *point.Point) bool { return p.HasTag(r.Name, r.Value) }

func (r Tag) newChecker(meter.Clock) checker { return usageChecker{} }

// MetricAndTag drops one metric where it carries a tag.
type MetricAndTag struct {
	Metric   string
	TagKey   string
	TagValue string
}

func (r MetricAndTag) Key() Key {
	return Key{Kind: KindMetricAndTag, Metric: r.Metric, TagKey: r.TagKey, TagValue: r.TagValue}
}

func (r MetricAndTag) Description() string {
	return fmt.Sprintf("Eliminate metric: %q with the tag: %q=%q", r.Metric, r.TagKey, r.TagValue)
}

func (r MetricAndTag) Dimensions() []string {
	return []string{r.Metric, r.TagKey + "=" + r.TagValue}
}

func (r MetricAndTag) Matches(p *point.Point) bool {
	return p.Metric == r.Metric && p.HasTag(r.TagKey, r.TagValue)
}

func (r MetricAndTag) newChecker(meter.Clock) checker { return usageChecker{} }

// MetricPrefixAndTag drops metrics under a prefix where they carry a tag.
type MetricPrefixAndTag struct {
	Prefix   string
	TagKey   string
	TagValue string
}

func (r MetricPrefixAndTag) Key() Key {
	return Key{Kind: KindMetricPrefixAndTag, Metric: r.Prefix, TagKey: r.TagKey, TagValue: r.TagValue}
}

func (r MetricPrefixAndTag) Description() string {
	return fmt.Sprintf("Eliminate metrics starting with: %q with the tag: %q=%q", r.Prefix, r.TagKey, r.TagValue)
}

func (r MetricPrefixAndTag) Dimensions() []string {
	return []string{r.Prefix + "*", r.TagKey + "=" + r.TagValue}
}

func (r MetricPrefixAndTag) Matches(p *point.Point) bool {
	return strings.HasPrefix(p.Metric, r.Prefix) && p.HasTag(r.TagKey, r.TagValue)
}

func (r MetricPrefixAndTag) newChecker(meter.Clock) checker { return usageChecker{} }

// HostPrefixAndMetric drops one metric for hosts under a prefix.
type HostPrefixAndMetric struct {
	HostPrefix string
	Metric     string
}

func (r HostPrefixAndMetric) Key() Key {
	return Key{Kind: KindHostPrefixAndMetric, Metric: r.Metric, Host: r.HostPrefix}
}

func (r HostPrefixAndMetric) Description() string {
	return fmt.Sprintf("Eliminate unused metric: %q for host prefix: %q", r.Metric, r.HostPrefix)
}

func (r HostPrefixAndMetric) Dimensions() []string {
	return []string{r.Metric, point.SourceTag + "=" + r.HostPrefix + "*"}
}

func (r HostPrefixAndMetric) Matches(p *point.Point) bool {
	return p.Metric == r.Metric && strings.HasPrefix(p.Host, r.HostPrefix)
}

func (r HostPrefixAndMetric) newChecker(meter.Clock) checker { return usageChecker{} }

// SeriesConstant drops a metric whose every series reports a constant value.
type SeriesConstant struct {
	Metric           string
	MaxTrackedSeries int
}

func (r SeriesConstant) Key() Key { return Key{Kind: KindSeriesConstant, Metric: r.Metric} }

func (r SeriesConstant) Description() string {
	return fmt.Sprintf("Eliminate the metric: %q which is always reporting a constant", r.Metric)
}

func (r SeriesConstant) Dimensions() []string { return []string{r.Metric} }

func (r SeriesConstant) Matches(p *point.Point) bool { return p.Metric == r.Metric }

func (r SeriesConstant) newChecker(meter.Clock) checker {
	return newConstantChecker(r.MaxTrackedSeries)
}

// SeriesStale drops a metric whose points always arrive with old timestamps.
type SeriesStale struct {
	Metric           string
	MaxTrackedSeries int
}

func (r SeriesStale) Key() Key { return Key{Kind: KindSeriesStale, Metric: r.Metric} }

func (r SeriesStale) Description() string {
	return fmt.Sprintf("Eliminate the metric: %q which is always reporting more than an hour ago in the past", r.Metric)
}

func (r SeriesStale) Dimensions() []string { return []string{r.Metric} }

func (r SeriesStale) Matches(p *point.Point) bool { return p.Metric == r.Metric }

func (r SeriesStale) newChecker(now meter.Clock) checker {
	return newStaleChecker(r.MaxTrackedSeries, now)
}
