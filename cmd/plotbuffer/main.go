package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vjranagit/plotbuffer/internal/config"
	"github.com/vjranagit/plotbuffer/pkg/api"
	"github.com/vjranagit/plotbuffer/pkg/history"
	"github.com/vjranagit/plotbuffer/pkg/series"
	"github.com/vjranagit/plotbuffer/pkg/types"
)

const (
	version = "0.1.0"
)

func main() {
	fmt.Printf("plotbuffer v%s\n", version)
	fmt.Println("Streaming telemetry buffer for live plotting")
	fmt.Println()

	// Load configuration
	cfg := config.DefaultConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	log.Printf("Configuration loaded:")
	log.Printf("  Listen Address: %s", cfg.Server.ListenAddr)
	log.Printf("  Storage Path: %s", cfg.Storage.Path)
	log.Printf("  Live Series: %s (x=%s, y=%s)", cfg.Series.Key, cfg.Series.XKey, cfg.Series.YKey)

	// Initialize history store
	log.Println("Opening history store...")
	store, err := history.Open(cfg.ToHistoryConfig())
	if err != nil {
		log.Fatalf("Failed to open history store: %v", err)
	}
	cached := history.NewCachedStore(store, cfg.Storage.CacheSize, 5*time.Minute)
	defer cached.Close()

	log.Println("History store opened")

	// Assemble the live series buffer
	buf, err := buildBuffer(cfg, cached)
	if err != nil {
		log.Fatalf("Failed to build series buffer: %v", err)
	}

	// Seed the buffer from history where any exists
	if err := seedBuffer(buf, cached, cfg.Series.Key); err != nil {
		log.Printf("History seed failed: %v", err)
	}

	// Create API server
	log.Println("Starting API server...")
	server := api.NewServer(cfg.Server.ListenAddr, buf, cached, cfg.Series.Key)

	// Start server in goroutine
	go func() {
		log.Printf("API server listening on %s", cfg.Server.ListenAddr)
		if err := server.Start(); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutdown signal received, stopping server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped successfully")
}

// buildBuffer assembles the format registry, metadata, and limit evaluator
// from configuration and constructs the live buffer.
func buildBuffer(cfg *config.Config, fetcher series.Fetcher) (*series.Buffer, error) {
	formats := series.NewFormatRegistry()
	formats.Register(cfg.Series.XKey, series.TimeFormat{Key: cfg.Series.XKey})
	formats.Register(cfg.Series.YKey, series.FloatFormat{
		Key:       cfg.Series.YKey,
		Precision: cfg.Series.Precision,
		Units:     cfg.Series.Units,
	})

	meta := series.MetadataMap{
		cfg.Series.YKey: {Key: cfg.Series.YKey, Units: cfg.Series.Units},
	}

	limits := &series.ThresholdEvaluator{
		WarningLow:   cfg.Series.WarningLow,
		WarningHigh:  cfg.Series.WarningHigh,
		CriticalLow:  cfg.Series.CriticalLow,
		CriticalHigh: cfg.Series.CriticalHigh,
	}

	return series.New(series.Config{
		XKey:     cfg.Series.XKey,
		YKey:     cfg.Series.YKey,
		Formats:  formats,
		Metadata: meta,
		Limits:   limits,
		Fetcher:  fetcher,
		Name:     cfg.Series.Name,
		Color:    cfg.Series.Color,
		Markers:  cfg.Series.Markers,
	})
}

// seedBuffer loads the stored range of the live series into the buffer. The
// generation captured by Load guards against a reset that raced the fetch.
func seedBuffer(buf *series.Buffer, store *history.CachedStore, key string) error {
	bounds, ok := store.Bounds(key)
	if !ok {
		log.Printf("No history for series %q, starting empty", key)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pts, gen, err := buf.Load(ctx, types.LoadOptions{Series: key, Range: bounds})
	if err != nil {
		return err
	}
	if gen != buf.Generation() {
		log.Printf("Buffer reset during load, discarding %d points", len(pts))
		return nil
	}

	buf.Reset(pts)
	log.Printf("Seeded buffer with %d historical points", len(pts))
	return nil
}
