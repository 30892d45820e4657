package pushclient

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nicktill/tinytrim/pkg/point"
)

// Config holds configuration for the batcher
type Config struct {
	MaxBatchSize int
	FlushEvery   time.Duration
}

// Batcher buffers points and sends them when full or on a timer
type Batcher struct {
	config    Config
	transport Transport

	points []point.Point
	mu     sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	sends  sync.WaitGroup

	flushing atomic.Bool // at most one background flush in flight
	sent     atomic.Int64
	failed   atomic.Int64
}

// New creates a new batcher
func New(transport Transport, config Config) *Batcher {
	if config.MaxBatchSize <= 0 || config.MaxBatchSize > point.MaxPointsPerBatch {
		config.MaxBatchSize = point.MaxPointsPerBatch
	}
	if config.FlushEvery <= 0 {
		config.FlushEvery = time.Second
	}
	return &Batcher{
		config:    config,
		transport: transport,
		points:    make([]point.Point, 0, config.MaxBatchSize),
		done:      make(chan struct{}),
	}
}

// Start starts the flush loop
func (b *Batcher) Start(ctx context.Context) {
	b.ctx, b.cancel = context.WithCancel(ctx)
	go b.flushLoop()
}

// Add buffers a point, flushing in the background once the batch is full
func (b *Batcher) Add(p point.Point) {
	b.mu.Lock()
	b.points = append(b.points, p)
	shouldFlush := len(b.points) >= b.config.MaxBatchSize
	b.mu.Unlock()

	if shouldFlush && b.flushing.CompareAndSwap(false, true) {
		b.sends.Add(1)
		go func() {
			defer b.sends.Done()
			b.send(context.Background(), b.take())
			b.flushing.Store(false)
		}()
	}
}

// Flush sends all pending points synchronously
func (b *Batcher) Flush(ctx context.Context) error {
	return b.send(ctx, b.take())
}

// Stop stops the flush loop, waits for in-flight sends and flushes what is left
func (b *Batcher) Stop() error {
	if b.cancel != nil {
		b.cancel()
		<-b.done
	}
	b.sends.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return b.Flush(ctx)
}

// Sent returns the number of points delivered.
func (b *Batcher) Sent() int64 { return b.sent.Load() }

// Failed returns the number of points lost to send errors.
func (b *Batcher) Failed() int64 { return b.failed.Load() }

func (b *Batcher) flushLoop() {
	defer close(b.done)

	ticker := time.NewTicker(b.config.FlushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			if b.flushing.CompareAndSwap(false, true) {
				b.send(b.ctx, b.take())
				b.flushing.Store(false)
			}
		}
	}
}

func (b *Batcher) take() []point.Point {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.points) == 0 {
		return nil
	}
	points := make([]point.Point, len(b.points))
	copy(points, b.points)
	b.points = b.points[:0]
	return points
}

func (b *Batcher) send(ctx context.Context, points []point.Point) error {
	if len(points) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := b.transport.Send(ctx, points); err != nil {
		b.failed.Add(int64(len(points)))
		log.Printf("Failed to push %d points: %v", len(points), err)
		return err
	}
	b.sent.Add(int64(len(points)))
	return nil
}
