package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nicktill/tinytrim/pkg/pushclient"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Failed to load .env: %v", err)
	}

	endpoint := getEnv("TINYTRIM_ENDPOINT", "http://localhost:8080")
	token := os.Getenv("TINYTRIM_FEED_TOKEN")
	hosts := getEnvInt("TINYTRIM_LOADGEN_HOSTS", 3)
	backends := getEnvInt("TINYTRIM_BACKEND_COUNT", 1)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	transport := pushclient.NewHTTP(endpoint, token)
	if err := transport.SetBackends(ctx, backends); err != nil {
		log.Printf("Failed to set backend count: %v", err)
	}

	batcher := pushclient.New(transport, pushclient.Config{
		MaxBatchSize: 500,
		FlushEvery:   time.Second,
	})
	batcher.Start(ctx)

	log.Printf("Pushing synthetic points to %s", endpoint)
	runTraffic(ctx, batcher, hosts, time.Second)

	if err := batcher.Stop(); err != nil {
		log.Printf("Final flush failed: %v", err)
	}
	log.Printf("Loadgen exited: %d points pushed, %d failed", batcher.Sent(), batcher.Failed())
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
		log.Printf("Invalid value for %s: %q, using default %d", key, v, def)
	}
	return def
}
