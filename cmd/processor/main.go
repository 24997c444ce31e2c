// Engagestream - Real-Time Engagement Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/engagestream

// Package main is the engagement stream processor.
//
// The processor consumes raw engagement events from Kafka, enriches
// them against the Postgres content catalogue, fans each event out to
// the Redis leaderboard, the BigQuery warehouse and an external HTTP
// endpoint, and commits consumer offsets only after the whole batch
// went through. Delivery is at-least-once: every sink tolerates
// replayed events.
//
// # Modes
//
//	processor            # streaming mode (default)
//	processor backfill --start-date 2026-01-01 --end-date 2026-01-31
//
// Backfill replays historical events from Postgres through the same
// sinks, paged with LIMIT/OFFSET, and exits when the window is
// exhausted.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (ENGAGE_ prefix, e.g. ENGAGE_KAFKA__TOPIC)
//   - Config file (config.yaml, or CONFIG_PATH)
//   - Built-in defaults
//
// # Degraded mode
//
// Postgres, Redis and Kafka are required; a failed connection is fatal
// at startup. The warehouse and the external forwarder degrade instead:
// the processor runs without them and their health shows on /health.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/engagestream/internal/api"
	"github.com/tomtom215/engagestream/internal/config"
	"github.com/tomtom215/engagestream/internal/database"
	"github.com/tomtom215/engagestream/internal/enrich"
	"github.com/tomtom215/engagestream/internal/forwarder"
	"github.com/tomtom215/engagestream/internal/leaderboard"
	"github.com/tomtom215/engagestream/internal/logging"
	"github.com/tomtom215/engagestream/internal/pipeline"
	"github.com/tomtom215/engagestream/internal/supervisor"
	"github.com/tomtom215/engagestream/internal/warehouse"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mode := "stream"
	args := os.Args[1:]
	if len(args) > 0 && args[0] == "backfill" {
		mode = "backfill"
		args = args[1:]
	}

	var runErr error
	switch mode {
	case "stream":
		runErr = runStream(ctx, cfg)
	case "backfill":
		runErr = runBackfill(ctx, cfg, args)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logging.Error().Err(runErr).Str("mode", mode).Msg("Processor exited with error")
		os.Exit(1)
	}
	logging.Info().Str("mode", mode).Msg("Processor stopped")
}

// runStream wires and supervises the streaming pipeline.
func runStream(ctx context.Context, cfg *config.Config) error {
	logging.Info().
		Str("topic", cfg.Kafka.Topic).
		Str("group", cfg.Kafka.GroupID).
		Msg("Starting stream processor")

	pool, err := database.New(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("content store: %w", err)
	}
	defer pool.Close()

	boards, err := leaderboard.New(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("leaderboard store: %w", err)
	}
	defer boards.Close()

	consumer, err := pipeline.NewKafkaConsumer(ctx, cfg.Kafka)
	if err != nil {
		return fmt.Errorf("event log: %w", err)
	}
	defer consumer.Close()

	// These two degrade rather than fail: a missing warehouse or an
	// unreachable endpoint must not take the pipeline down.
	wh := warehouse.New(ctx, cfg.Warehouse)
	fw := forwarder.New(ctx, cfg.External)

	resolver := database.NewResolver(pool, database.DefaultCacheSize)
	stats := pipeline.NewStats()
	sinks := []pipeline.EventSink{boards, wh, fw}

	coordinator := pipeline.NewCoordinator(consumer, enrich.New(resolver), sinks, wh, cfg.Processing, stats)

	server := api.NewServer(boards, stats, wh.Stats, fw.Stats)

	tree := supervisor.NewTree(supervisor.DefaultTreeConfig())
	tree.AddPipelineService(coordinator)
	tree.AddPipelineService(wh)
	tree.AddPipelineService(forwarder.NewHeartbeater(fw))
	tree.AddPipelineService(leaderboard.NewCleaner(boards))
	tree.AddOpsService(supervisor.NewHTTPService(server.NewHTTPServer(cfg.Server), cfg.Server.Timeout))

	logging.Info().
		Str("addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)).
		Msg("Ops server listening")

	return tree.Serve(ctx)
}

// runBackfill replays a historical window through the sinks and exits.
func runBackfill(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("backfill", flag.ExitOnError)
	startDate := fs.String("start-date", "", "replay window start (YYYY-MM-DD, overrides config)")
	endDate := fs.String("end-date", "", "replay window end, inclusive (YYYY-MM-DD, overrides config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *startDate != "" {
		cfg.Backfill.StartDate = *startDate
	}
	if *endDate != "" {
		cfg.Backfill.EndDate = *endDate
	}

	start, end, err := cfg.Backfill.DateRange()
	if err != nil {
		return fmt.Errorf("backfill window: %w", err)
	}

	pool, err := database.New(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("content store: %w", err)
	}
	defer pool.Close()

	boards, err := leaderboard.New(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("leaderboard store: %w", err)
	}
	defer boards.Close()

	wh := warehouse.New(ctx, cfg.Warehouse)
	fw := forwarder.New(ctx, cfg.External)
	sinks := []pipeline.EventSink{boards, wh, fw}

	backfill := pipeline.NewBackfill(pool, sinks, wh, cfg.Backfill, pipeline.NewStats())

	total, err := backfill.Run(ctx, start, end)
	if err != nil {
		return err
	}

	// One final flush so the tail page is not stranded in the buffer.
	if err := wh.Flush(context.Background()); err != nil {
		logging.Error().Err(err).Msg("Final warehouse flush failed")
	}

	logging.Info().Int("events", total).Msg("Backfill finished")
	return nil
}
