package server

import (
	"fmt"
	"log"
	"os"

	"github.com/nicktill/tinytrim/pkg/config"
	"github.com/nicktill/tinytrim/pkg/engine"
	"github.com/nicktill/tinytrim/pkg/feed"
	"github.com/nicktill/tinytrim/pkg/generator"
	"github.com/nicktill/tinytrim/pkg/point"
	"github.com/nicktill/tinytrim/pkg/report"
	"github.com/nicktill/tinytrim/pkg/server/monitor"
	"github.com/nicktill/tinytrim/pkg/storage"
	"github.com/nicktill/tinytrim/pkg/storage/badger"
	"github.com/nicktill/tinytrim/pkg/storage/memory"
)

// App holds every long-lived component of the server.
type App struct {
	Config      config.Config
	Engine      *engine.Engine
	Pipeline    *Pipeline
	Store       storage.Storage
	Hub         *report.Hub
	Push        *feed.PushSource
	FeedMonitor *monitor.FeedMonitor
	DiskMonitor *monitor.DiskMonitor
}

// InitializeStorage opens the report archive: badger under DataDir, or memory
// when no DataDir is configured.
func InitializeStorage(cfg config.Config) (storage.Storage, error) {
	if cfg.DataDir == "" {
		log.Println("Report archive kept in memory (set TINYTRIM_DATA_DIR to persist)")
		return memory.New(), nil
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	log.Println("Initializing BadgerDB report archive with Snappy compression...")
	store, err := badger.New(badger.Config{
		Path:        cfg.DataDir,
		MaxMemoryMB: cfg.MaxMemoryMB,
	})
	if err != nil {
		return nil, err
	}
	log.Printf("BadgerDB report archive ready at %s", cfg.DataDir)
	return store, nil
}

// InitializePublishers lists the report sinks: console, websocket hub,
// archive and, when configured, the spreadsheet.
func InitializePublishers(cfg config.Config, store storage.Storage, hub *report.Hub) []report.Publisher {
	publishers := []report.Publisher{
		report.NewPrinter(os.Stdout),
		hub,
		storage.NewArchive(store),
	}
	if cfg.XLSXPath != "" {
		publishers = append(publishers, report.NewXLSXWriter(cfg.XLSXPath))
		log.Printf("Recommendations will be written to %s", cfg.XLSXPath)
	}
	return publishers
}

// sourceSwitch forwards to a listener installed after the source is built,
// since the pipeline needs the engine and the engine needs the source.
type sourceSwitch struct {
	target feed.Listener
}

func (s *sourceSwitch) OnPoint(p *point.Point) { s.target.OnPoint(p) }

func (s *sourceSwitch) OnBackendCountChanged(count int) { s.target.OnBackendCountChanged(count) }

func (s *sourceSwitch) OnConnectivityChanged(connected bool, message string) {
	s.target.OnConnectivityChanged(connected, message)
}

// Initialize wires storage, feed, engine and publishers together.
func Initialize(cfg config.Config) (*App, error) {
	store, err := InitializeStorage(cfg)
	if err != nil {
		return nil, err
	}

	listener := &sourceSwitch{}
	push := feed.NewPushSource(listener)

	var source engine.Source = push
	if cfg.FeedURL != "" {
		source = feed.NewWebSocketSource(cfg.FeedURL, cfg.FeedToken, listener)
		log.Printf("Feed source: websocket %s", cfg.FeedURL)
	} else {
		log.Println("Feed source: push (POST /v1/points)")
	}

	hub := report.NewHub()
	feedMonitor := monitor.NewFeedMonitor()

	eng, err := engine.New(engine.FromProcessConfig(cfg),
		engine.WithSource(source),
		engine.WithPublishers(InitializePublishers(cfg, store, hub)...),
		engine.WithReconnectRecorder(feedMonitor),
	)
	if err != nil {
		store.Close()
		return nil, err
	}

	gen := generator.New(eng, generator.WithSeparators(cfg.Separators))
	pipeline := NewPipeline(eng, gen, feedMonitor)
	listener.target = pipeline

	log.Printf("Engine ready: %d tiers, %d hypotheses per tier, %v generations",
		len(cfg.Tiers), cfg.MaxHypotheses, cfg.GenerationTime)

	return &App{
		Config:      cfg,
		Engine:      eng,
		Pipeline:    pipeline,
		Store:       store,
		Hub:         hub,
		Push:        push,
		FeedMonitor: feedMonitor,
		DiskMonitor: monitor.NewDiskMonitor(cfg.DataDir),
	}, nil
}
