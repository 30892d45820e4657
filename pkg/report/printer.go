package report

import (
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"sync"
)

// Printer writes reports in the plain console layout.
type Printer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewPrinter creates a printer writing to w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// Publish prints every tier of the report followed by a blank line.
func (p *Printer) Publish(_ context.Context, r *Report) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, t := range r.Tiers {
		if _, err := fmt.Fprintf(p.w, "Confidence: %s%% / Hypothesis Tracked: %d / Hypothesis Rejected: %d\n",
			FormatNumber(t.ConfidencePercent), t.Tracked, t.Rejected); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(p.w, "Potential Savings: %spps\n", FormatNumber(t.SavingsPPS)); err != nil {
			return err
		}
		for _, rec := range t.Recommendations {
			if _, err := fmt.Fprintf(p.w, "%d. %s (Savings: %spps (15m) / %spps (lifetime) / Confidence: %s%% / TTL: %s)\n",
				rec.Rank, rec.Description, FormatNumber(rec.Savings15m), FormatNumber(rec.SavingsLifetime),
				FormatNumber(rec.ConfidencePercent), rec.TTL); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(p.w); err != nil {
			return err
		}
	}
	return nil
}

// FormatNumber renders v with at most two decimals and no trailing zeros.
func FormatNumber(v float64) string {
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64)
}
