package hypothesis

import "math"

// Correction compensates for the usage bloom filter's false positives.
//
// Usage data says whether a series was queried on each of the last
// LookbackDays days; each daily filter misses with probability FPPRate,
// so a series can look unused on every day with probability
// (1 - FPPRate)^LookbackDays of being right. Violation rates that are within
// that expected accuracy are treated as zero.
type Correction struct {
	LookbackDays int
	FPPRate      float64
}

// ExpectedAccuracy returns (1 - FPPRate)^LookbackDays.
func (c Correction) ExpectedAccuracy() float64 {
	return math.Pow(1-c.FPPRate, float64(c.LookbackDays))
}

// Adjust returns the corrected violation rate for a raw violation rate.
func (c Correction) Adjust(raw float64) float64 {
	expected := c.ExpectedAccuracy()
	confidence := 1 - raw
	if confidence >= expected {
		return 0
	}
	return 1 - confidence/expected
}
