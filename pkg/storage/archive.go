package storage

import (
	"context"
	"fmt"

	"github.com/nicktill/tinytrim/pkg/report"
)

// Archive publishes each report into a Storage backend.
type Archive struct {
	store Storage
}

// NewArchive wraps store as a report publisher.
func NewArchive(store Storage) *Archive {
	return &Archive{store: store}
}

// Publish writes the report to the archive.
func (a *Archive) Publish(ctx context.Context, r *report.Report) error {
	if err := a.store.Write(ctx, r); err != nil {
		return fmt.Errorf("archive report %s: %w", r.ID, err)
	}
	return nil
}
