package server

import (
	"log"
	"sync/atomic"

	"github.com/nicktill/tinytrim/pkg/engine"
	"github.com/nicktill/tinytrim/pkg/generator"
	"github.com/nicktill/tinytrim/pkg/point"
	"github.com/nicktill/tinytrim/pkg/server/monitor"
)

// Pipeline routes feed events into the engine. Each point is evaluated by the
// live hypotheses before the generator offers new candidates for it.
type Pipeline struct {
	engine    *engine.Engine
	generator *generator.Generator
	monitor   *monitor.FeedMonitor

	points   atomic.Int64
	admitted atomic.Int64
}

// NewPipeline creates a pipeline feeding eng. The monitor may be nil.
func NewPipeline(eng *engine.Engine, gen *generator.Generator, mon *monitor.FeedMonitor) *Pipeline {
	return &Pipeline{engine: eng, generator: gen, monitor: mon}
}

// OnPoint evaluates p and offers the hypotheses it suggests.
func (p *Pipeline) OnPoint(pt *point.Point) {
	p.points.Add(1)
	if p.engine.ConsumePoint(pt) {
		p.admitted.Add(1)
	}
	p.generator.Observe(pt)
}

// OnBackendCountChanged updates the projection multiplier.
func (p *Pipeline) OnBackendCountChanged(count int) {
	log.Printf("Backend count changed: %d", count)
	p.engine.SetBackendCount(count)
}

// OnConnectivityChanged logs and records feed connectivity.
func (p *Pipeline) OnConnectivityChanged(connected bool, message string) {
	log.Printf("Connectivity changed, connected: %t: %s", connected, message)
	if p.monitor != nil {
		p.monitor.RecordConnectivity(connected, message)
	}
}

// PipelineStats counts points seen by the pipeline.
type PipelineStats struct {
	Points   int64 `json:"points"`
	Admitted int64 `json:"admitted"`
}

// Stats returns point counters since start.
func (p *Pipeline) Stats() PipelineStats {
	return PipelineStats{Points: p.points.Load(), Admitted: p.admitted.Load()}
}
