package point

import (
	"errors"
	"fmt"
)

// Validation limits for pushed points
const (
	MaxTagsPerPoint   = 64   // Maximum tag entries per point
	MaxTagKeyLength   = 256  // Maximum tag key length
	MaxTagValueLength = 1024 // Maximum tag value length
	MaxMetricLength   = 1024 // Maximum metric name length
	MaxHostLength     = 1024 // Maximum host length
	MaxPointsPerBatch = 1000 // Maximum points in a single push request
)

var (
	// ErrMetricEmpty is returned when a point has no metric name
	ErrMetricEmpty = errors.New("metric name cannot be empty")

	// ErrMetricTooLong is returned when a metric name is too long
	ErrMetricTooLong = fmt.Errorf("metric name too long (max %d chars)", MaxMetricLength)

	// ErrHostTooLong is returned when a host is too long
	ErrHostTooLong = fmt.Errorf("host too long (max %d chars)", MaxHostLength)

	// ErrTooManyTags is returned when a point carries too many tags
	ErrTooManyTags = fmt.Errorf("too many tags (max %d)", MaxTagsPerPoint)

	// ErrTagKeyTooLong is returned when a tag key is too long
	ErrTagKeyTooLong = fmt.Errorf("tag key too long (max %d chars)", MaxTagKeyLength)

	// ErrTagValueTooLong is returned when a tag value is too long
	ErrTagValueTooLong = fmt.Errorf("tag value too long (max %d chars)", MaxTagValueLength)

	// ErrTooManyPoints is returned when a push request carries too many points
	ErrTooManyPoints = fmt.Errorf("too many points in request (max %d)", MaxPointsPerBatch)
)

// Validate checks a point against the push limits.
func Validate(p *Point) error {
	if p.Metric == "" {
		return ErrMetricEmpty
	}
	if len(p.Metric) > MaxMetricLength {
		return fmt.Errorf("%w: metric has %d chars", ErrMetricTooLong, len(p.Metric))
	}
	if len(p.Host) > MaxHostLength {
		return fmt.Errorf("%w: metric %q", ErrHostTooLong, p.Metric)
	}

	count := 0
	for k, values := range p.Tags {
		if len(k) > MaxTagKeyLength {
			return fmt.Errorf("%w: metric %q", ErrTagKeyTooLong, p.Metric)
		}
		for _, v := range values {
			if len(v) > MaxTagValueLength {
				return fmt.Errorf("%w: value for key %q in metric %q", ErrTagValueTooLong, k, p.Metric)
			}
		}
		count += len(values)
	}
	if count > MaxTagsPerPoint {
		return fmt.Errorf("%w: metric %q has %d tags", ErrTooManyTags, p.Metric, count)
	}

	return nil
}
