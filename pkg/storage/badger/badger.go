package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/nicktill/tinytrim/pkg/report"
	"github.com/nicktill/tinytrim/pkg/storage"
)

const keyLen = 16

// Storage implements storage.Storage using BadgerDB (LSM tree)
type Storage struct {
	db *badger.DB
}

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = laptop-friendly defaults)
	MaxMemoryMB int64
}

// New creates a BadgerDB storage backend
func New(cfg Config) (*Storage, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// Reports are small and few; 16 MB memtable unless told otherwise
	memTableSize := int64(16 * 1024 * 1024)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3
	}

	// Block and index caches are unbounded unless set
	blockCacheSize := memTableSize / 2
	indexCacheSize := memTableSize / 4

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(blockCacheSize).
		WithIndexCacheSize(indexCacheSize).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithNumCompactors(1).
		WithValueLogMaxEntries(5000).
		WithValueLogFileSize(64 << 20). // default is 2 GB
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &Storage{db: db}, nil
}

// Write stores a report in BadgerDB
// CRITICAL: Enforces context timeout/cancellation to prevent indefinite blocking
func (s *Storage) Write(ctx context.Context, r *report.Report) error {
	if r == nil {
		return storage.ErrNilReport
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	value, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	key := makeKey(r.GeneratedAt, r.ID)

	done := make(chan error, 1)
	go func() {
		done <- s.db.Update(func(txn *badger.Txn) error {
			if err := txn.Set(key, value); err != nil {
				return fmt.Errorf("failed to write report: %w", err)
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("write operation cancelled: %w", ctx.Err())
	}
}

// Query walks the key space backwards from req.End so results come out
// newest first.
// CRITICAL: Enforces context timeout/cancellation to prevent indefinite blocking
func (s *Storage) Query(ctx context.Context, req storage.QueryRequest) ([]*report.Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type queryResult struct {
		results []*report.Report
		err     error
	}
	done := make(chan queryResult, 1)

	go func() {
		var res queryResult
		startTime := time.Now()

		res.err = s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Reverse = true
			opts.PrefetchSize = 20

			it := txn.NewIterator(opts)
			defer it.Close()

			var iterCount int
			for it.Seek(seekEnd(req.End)); it.Valid(); it.Next() {
				iterCount++
				if iterCount%100 == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}

				item := it.Item()
				ts, ok := parseKey(item.Key())
				if !ok {
					continue
				}
				if ts.Before(req.Start) {
					break
				}

				var r report.Report
				if err := item.Value(func(val []byte) error {
					return json.Unmarshal(val, &r)
				}); err != nil {
					return fmt.Errorf("failed to decode report: %w", err)
				}
				res.results = append(res.results, &r)

				if req.Limit > 0 && len(res.results) >= req.Limit {
					break
				}
			}

			if elapsed := time.Since(startTime); elapsed > 5*time.Second {
				log.Printf("⚠️  Slow report query completed in %v (%d iterations, %d results)", elapsed, iterCount, len(res.results))
			}
			return nil
		})
		done <- res
	}()

	select {
	case res := <-done:
		return res.results, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("query operation cancelled: %w", ctx.Err())
	}
}

// Delete removes reports generated before the cutoff
// CRITICAL: Enforces context timeout/cancellation to prevent indefinite blocking
func (s *Storage) Delete(ctx context.Context, before time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	type deleteResult struct {
		removed int
		err     error
	}
	done := make(chan deleteResult, 1)

	go func() {
		var keys [][]byte
		err := s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false

			it := txn.NewIterator(opts)
			defer it.Close()

			for it.Rewind(); it.Valid(); it.Next() {
				ts, ok := parseKey(it.Item().Key())
				if !ok {
					continue
				}
				if !ts.Before(before) {
					break
				}
				keys = append(keys, it.Item().KeyCopy(nil))
			}
			return nil
		})
		if err != nil || len(keys) == 0 {
			done <- deleteResult{err: err}
			return
		}

		// WriteBatch splits large deletes across transactions
		wb := s.db.NewWriteBatch()
		defer wb.Cancel()
		for _, key := range keys {
			if err := wb.Delete(key); err != nil {
				done <- deleteResult{err: err}
				return
			}
		}
		done <- deleteResult{removed: len(keys), err: wb.Flush()}
	}()

	select {
	case res := <-done:
		return res.removed, res.err
	case <-ctx.Done():
		return 0, fmt.Errorf("delete operation cancelled: %w", ctx.Err())
	}
}

// Close shuts down BadgerDB cleanly
func (s *Storage) Close() error {
	return s.db.Close()
}

// RunGC runs BadgerDB's value log garbage collection
// discardRatio: run GC if this fraction of file can be discarded (0.5 = 50%)
// Returns badger.ErrNoRewrite when there was nothing to collect
func (s *Storage) RunGC(discardRatio float64) error {
	return s.db.RunValueLogGC(discardRatio)
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stats := &storage.Stats{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			ts, ok := parseKey(it.Item().Key())
			if !ok {
				continue
			}
			stats.TotalReports++
			if stats.OldestReport.IsZero() {
				stats.OldestReport = ts
			}
			stats.NewestReport = ts
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	lsmSize, vlogSize := s.db.Size()
	stats.SizeBytes = uint64(lsmSize + vlogSize)
	return stats, nil
}

// makeKey creates a time-ordered key
// Format: [generated_at unix nanos (8 bytes)][xxhash of report ID (8 bytes)]
func makeKey(ts time.Time, id string) []byte {
	key := make([]byte, keyLen)
	binary.BigEndian.PutUint64(key[0:8], uint64(ts.UnixNano()))
	binary.BigEndian.PutUint64(key[8:16], xxhash.Sum64String(id))
	return key
}

// seekEnd is the largest possible key at or before end
func seekEnd(end time.Time) []byte {
	key := make([]byte, keyLen)
	binary.BigEndian.PutUint64(key[0:8], uint64(end.UnixNano()))
	binary.BigEndian.PutUint64(key[8:16], ^uint64(0))
	return key
}

// parseKey extracts the generation time from a storage key
func parseKey(key []byte) (time.Time, bool) {
	if len(key) != keyLen {
		return time.Time{}, false
	}
	return time.Unix(0, int64(binary.BigEndian.Uint64(key[0:8]))), true
}
