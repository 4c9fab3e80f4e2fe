package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/orbas1/gigvora-automatch/internal/api"
	"github.com/orbas1/gigvora-automatch/internal/archive"
	"github.com/orbas1/gigvora-automatch/internal/bootstrap"
	"github.com/orbas1/gigvora-automatch/internal/observability"
)

func main() {
	port := os.Getenv("AUTOMATCH_PORT")
	if port == "" {
		port = "8080"
	}

	shutdown, err := observability.InitTracingFromEnv("automatch-dispatcherd")
	if err != nil {
		log.Fatalf("init tracing: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdown(ctx)
	}()

	engine, err := bootstrap.NewEngineFromEnv()
	if err != nil {
		log.Fatalf("bootstrap engine: %v", err)
	}
	archiver, err := archive.NewExporterFromEnv()
	if err != nil {
		log.Fatalf("bootstrap archive exporter: %v", err)
	}
	server := api.NewServer(engine, archiver)

	sweepSeconds := 60
	if raw := os.Getenv("AUTOMATCH_SWEEP_INTERVAL_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			sweepSeconds = v
		}
	}
	go func() {
		ticker := time.NewTicker(time.Duration(sweepSeconds) * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			expired, err := engine.SweepExpired(context.Background(), time.Now().UTC())
			if err != nil {
				log.Printf("sweep failed: %v", err)
				continue
			}
			if expired > 0 {
				log.Printf("sweep expired %d stale offers", expired)
			}
		}
	}()

	log.Printf("automatch dispatcherd listening on :%s", port)
	if err := http.ListenAndServe(":"+port, server.Handler()); err != nil {
		log.Fatalf("dispatcherd failed: %v", err)
	}
}
