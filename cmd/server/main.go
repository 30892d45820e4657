package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"github.com/nicktill/tinytrim/pkg/config"
	"github.com/nicktill/tinytrim/pkg/server"
)

func main() {
	log.Println("Starting TinyTrim...")

	cfg := config.Load(".env")
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	log.Printf("Configuration: tiers=%v, max hypotheses=%d, generation=%v, sample rate=%g",
		cfg.Tiers, cfg.MaxHypotheses, cfg.GenerationTime, cfg.SampleRate)

	app, err := server.Initialize(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer app.Store.Close()

	router := mux.NewRouter()
	server.SetupRoutes(router, app)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  config.DefaultReadTimeout,
		WriteTimeout: config.DefaultWriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		app.Hub.Run(gctx)
		return nil
	})
	g.Go(func() error { return app.Engine.Run(gctx) })
	g.Go(func() error {
		return server.RunRetention(gctx, app.Store, cfg.ReportRetention, config.RetentionInterval)
	})
	g.Go(func() error { return server.RunBadgerGC(gctx, app.Store, config.BadgerGCInterval) })

	g.Go(func() error {
		log.Printf("Server listening on http://localhost:%s", cfg.Port)
		log.Println("API endpoints:")
		log.Println("   GET  /v1/health                   - Feed and archive health")
		log.Println("   GET  /v1/tiers                    - Tier sizes and counters")
		log.Println("   GET  /v1/tiers/{index}/hypotheses - Live hypotheses in rank order")
		log.Println("   GET  /v1/recommendations          - Latest recommendations")
		log.Println("   GET  /v1/reports                  - Archived reports")
		log.Println("   POST /v1/points                   - Push points")
		log.Println("   GET  /v1/ws                       - Live report stream")
		log.Println("   GET  /metrics                     - Prometheus endpoint")

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutdown signal received, gracefully shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown warning: %v", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Printf("Server stopped with error: %v", err)
		app.Store.Close()
		os.Exit(1)
	}

	log.Println("TinyTrim exited cleanly")
}
