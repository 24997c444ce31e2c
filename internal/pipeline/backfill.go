// Engagestream - Real-Time Engagement Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/engagestream

package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/engagestream/internal/config"
	"github.com/tomtom215/engagestream/internal/database"
	"github.com/tomtom215/engagestream/internal/logging"
	"github.com/tomtom215/engagestream/internal/metrics"
)

// Backfill replays historical events from the relational store through
// the same sink fan-out as the streaming path. There are no offsets to
// commit; progress is the page offset, and re-running a window simply
// re-applies the events (at-least-once, as in streaming).
type Backfill struct {
	db       database.Querier
	flusher  Flusher
	cfg      config.BackfillConfig
	dispatch *dispatcher
}

// NewBackfill wires the replay runner.
func NewBackfill(db database.Querier, sinks []EventSink, flusher Flusher, cfg config.BackfillConfig, stats *Stats) *Backfill {
	return &Backfill{
		db:       db,
		flusher:  flusher,
		cfg:      cfg,
		dispatch: &dispatcher{sinks: sinks, workers: cfg.Workers, stats: stats},
	}
}

// Run replays [start, end) page by page and returns the number of events
// dispatched. It stops at the first empty page or when the context is
// cancelled.
func (b *Backfill) Run(ctx context.Context, start, end time.Time) (int, error) {
	logging.Info().
		Time("start", start).
		Time("end", end).
		Int("page_size", b.cfg.BatchSize).
		Msg("Backfill starting")

	total := 0
	for offset := 0; ; offset += b.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		page, err := database.PageEnrichedEvents(ctx, b.db, start, end, b.cfg.BatchSize, offset)
		if err != nil {
			return total, fmt.Errorf("backfill page at offset %d: %w", offset, err)
		}
		if len(page) == 0 {
			break
		}

		b.dispatch.run(ctx, page)

		if b.flusher != nil {
			if err := b.flusher.Flush(ctx); err != nil {
				logging.Error().Err(err).Msg("Warehouse flush failed during backfill")
			}
		}

		total += len(page)
		metrics.BackfillRows.Add(float64(len(page)))
		logging.Info().
			Int("page_events", len(page)).
			Int("total", total).
			Msg("Backfill page complete")

		if b.cfg.PageDelay > 0 {
			select {
			case <-ctx.Done():
				return total, ctx.Err()
			case <-time.After(b.cfg.PageDelay):
			}
		}
	}

	logging.Info().Int("total", total).Msg("Backfill complete")
	return total, nil
}
