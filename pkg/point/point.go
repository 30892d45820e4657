package point

import (
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// SourceTag is the pseudo tag key that refers to a point's host.
const SourceTag = "source"

// Point is a single sampled data point from the metrics backend.
type Point struct {
	// Accessed reports whether the series was queried within the usage look-back window.
	Accessed bool `json:"accessed"`

	Metric string `json:"metric"`
	Host   string `json:"host"`
	Tags   Tags   `json:"tags,omitempty"`

	// Timestamp in milliseconds since the epoch
	Timestamp int64 `json:"timestamp"`

	Value float64 `json:"value"`
}

// Time returns the point timestamp as a time.Time.
func (p *Point) Time() time.Time {
	return time.UnixMilli(p.Timestamp)
}

// HasTag reports whether the point carries tag k=v. The source key matches the host.
func (p *Point) HasTag(k, v string) bool {
	if k == SourceTag && p.Host == v {
		return true
	}
	return p.Tags.Contains(k, v)
}

// Tags is a multimap of point tag keys to values.
type Tags map[string][]string

// Tag is one key/value entry of a Tags multimap.
type Tag struct {
	Key   string
	Value string
}

// Add appends v to the values of k.
func (t Tags) Add(k, v string) {
	t[k] = append(t[k], v)
}

// Contains reports whether k=v is present.
func (t Tags) Contains(k, v string) bool {
	for _, existing := range t[k] {
		if existing == v {
			return true
		}
	}
	return false
}

// Entries returns every key/value pair sorted by key then value.
func (t Tags) Entries() []Tag {
	entries := make([]Tag, 0, len(t))
	for k, values := range t {
		for _, v := range values {
			entries = append(entries, Tag{Key: k, Value: v})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Key != entries[j].Key {
			return entries[i].Key < entries[j].Key
		}
		return entries[i].Value < entries[j].Value
	})
	return entries
}

// SeriesKey creates a deterministic key for a series (metric + host + sorted tags).
// Pass an empty metric to key only the host and tag set.
func SeriesKey(metric, host string, tags Tags) string {
	var b strings.Builder
	b.WriteString(metric)
	b.WriteString(",source=")
	b.WriteString(host)
	for _, tag := range tags.Entries() {
		b.WriteByte(',')
		b.WriteString(tag.Key)
		b.WriteByte('=')
		b.WriteString(tag.Value)
	}
	return b.String()
}

// SeriesHash hashes a series key with xxhash for cardinality estimation.
func SeriesHash(metric, host string, tags Tags) uint64 {
	return xxhash.Sum64String(SeriesKey(metric, host, tags))
}
