package server

import (
	"context"
	"errors"
	"log"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/nicktill/tinytrim/pkg/storage"
	"github.com/nicktill/tinytrim/pkg/storage/badger"
)

const (
	retentionMaxRetries = 3
	gcDiscardRatio      = 0.5
)

// retentionBaseDelay is the first retry delay; later retries double it.
var retentionBaseDelay = 30 * time.Second

// RunRetention deletes archived reports older than retention once on start
// and then every interval, until ctx is cancelled.
func RunRetention(ctx context.Context, store storage.Storage, retention, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("Report retention scheduler started (keeps %v, runs every %v)", retention, interval)
	for {
		enforceRetention(ctx, store, retention)

		select {
		case <-ctx.Done():
			log.Println("Stopping report retention scheduler")
			return nil
		case <-ticker.C:
		}
	}
}

// enforceRetention runs one retention pass with exponential backoff retries.
func enforceRetention(ctx context.Context, store storage.Storage, retention time.Duration) {
	for attempt := 0; attempt <= retentionMaxRetries; attempt++ {
		if attempt > 0 {
			delay := retentionBaseDelay * time.Duration(1<<(attempt-1)) // 30s, 60s, 120s
			log.Printf("Retrying report retention in %v (attempt %d/%d)...", delay, attempt+1, retentionMaxRetries+1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}

		start := time.Now()
		removed, err := store.Delete(ctx, start.Add(-retention))
		if err == nil {
			if removed > 0 {
				log.Printf("Deleted %d reports older than %v in %v", removed, retention, time.Since(start).Round(time.Millisecond))
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		log.Printf("Report retention failed (attempt %d/%d): %v", attempt+1, retentionMaxRetries+1, err)
	}

	log.Printf("Report retention failed after %d attempts, will retry on next schedule", retentionMaxRetries+1)
}

// RunBadgerGC runs BadgerDB value log GC every interval to reclaim the space
// freed by retention. Other backends return immediately.
func RunBadgerGC(ctx context.Context, store storage.Storage, interval time.Duration) error {
	badgerStore, ok := store.(*badger.Storage)
	if !ok {
		log.Println("Report archive is not BadgerDB, skipping GC")
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("BadgerDB GC scheduler started (runs every %v)", interval)
	for {
		select {
		case <-ctx.Done():
			log.Println("Stopping BadgerDB GC scheduler")
			return nil
		case <-ticker.C:
			start := time.Now()
			err := badgerStore.RunGC(gcDiscardRatio)
			switch {
			case err == nil:
				log.Printf("GC completed in %v (disk space reclaimed)", time.Since(start).Round(time.Millisecond))
			case errors.Is(err, badgerdb.ErrNoRewrite):
				// nothing to collect
			default:
				log.Printf("BadgerDB GC failed: %v", err)
			}
		}
	}
}
