package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/nicktill/tinytrim/pkg/point"
	"github.com/nicktill/tinytrim/pkg/pushclient"
)

// series is one synthetic metric pattern.
type series struct {
	metric   string
	tags     point.Tags
	accessed func(tick int) bool
	value    func(tick int) float64
	stale    bool
}

// workload is a predictable mix: some metrics are queried, some never are,
// some are constant and some only ever arrive with old timestamps.
var workload = []series{
	{metric: "app.requests.count", tags: point.Tags{"env": {"prod"}},
		accessed: always, value: func(tick int) float64 { return float64(tick % 50) }},
	{metric: "app.cpu.user", tags: point.Tags{"env": {"prod"}},
		accessed: func(tick int) bool { return tick%10 == 0 }, value: noisy},
	{metric: "app.cpu.idle", tags: point.Tags{"env": {"prod"}},
		accessed: never, value: noisy},
	{metric: "app.build.version", tags: point.Tags{"env": {"prod"}},
		accessed: never, value: func(int) float64 { return 42 }},
	{metric: "debug.trace.spans", tags: point.Tags{"env": {"dev"}},
		accessed: never, value: noisy},
	{metric: "debug.gc.pause", tags: point.Tags{"env": {"dev"}},
		accessed: never, value: noisy},
	{metric: "batch.job.last_run", tags: point.Tags{"env": {"prod"}},
		accessed: never, value: noisy, stale: true},
}

func always(int) bool { return true }
func never(int) bool  { return false }

func noisy(int) float64 { return rand.Float64() * 100 }

// runTraffic pushes one point per series per host every interval until ctx
// is cancelled.
func runTraffic(ctx context.Context, b *pushclient.Batcher, hosts int, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("Traffic generator started: %d series x %d hosts every %v", len(workload), hosts, interval)

	for tick := 0; ; tick++ {
		select {
		case <-ctx.Done():
			log.Println("Traffic generator stopped")
			return
		case <-ticker.C:
		}

		now := time.Now()
		for _, s := range workload {
			ts := now
			if s.stale {
				ts = now.Add(-2 * time.Hour)
			}
			for h := 1; h <= hosts; h++ {
				b.Add(point.Point{
					Accessed:  s.accessed(tick),
					Metric:    s.metric,
					Host:      fmt.Sprintf("web-%d", h),
					Tags:      s.tags,
					Timestamp: ts.UnixMilli(),
					Value:     s.value(tick),
				})
			}
		}

		if tick > 0 && tick%60 == 0 {
			log.Printf("Pushed %d points (%d failed)", b.Sent(), b.Failed())
		}
	}
}
