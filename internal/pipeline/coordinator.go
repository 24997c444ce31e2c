// Engagestream - Real-Time Engagement Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/engagestream

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/engagestream/internal/config"
	"github.com/tomtom215/engagestream/internal/enrich"
	"github.com/tomtom215/engagestream/internal/logging"
	"github.com/tomtom215/engagestream/internal/metrics"
	"github.com/tomtom215/engagestream/internal/models"
)

// Coordinator drives the consume → enrich → fan-out → commit loop.
// Offsets advance only after a batch has fully dispatched and the
// warehouse flush ran; a fatal enrichment or commit error rewinds the
// consumer to the batch start so delivery stays at-least-once.
type Coordinator struct {
	log      Log
	enricher *enrich.Enricher
	flusher  Flusher
	cfg      config.ProcessingConfig
	stats    *Stats
	dispatch *dispatcher

	buffer    []*Record
	lastBatch time.Time
}

// NewCoordinator wires the streaming loop.
func NewCoordinator(log Log, enricher *enrich.Enricher, sinks []EventSink, flusher Flusher, cfg config.ProcessingConfig, stats *Stats) *Coordinator {
	return &Coordinator{
		log:      log,
		enricher: enricher,
		flusher:  flusher,
		cfg:      cfg,
		stats:    stats,
		dispatch: &dispatcher{sinks: sinks, workers: cfg.Workers, queueSize: cfg.QueueSize, stats: stats},
		buffer:   make([]*Record, 0, cfg.BatchSize),
	}
}

// String names the service for supervisor logs.
func (c *Coordinator) String() string { return "stream-coordinator" }

// Serve runs the streaming loop until the context is cancelled. The
// residual buffer is processed once on the way out so polled records are
// not silently abandoned.
func (c *Coordinator) Serve(ctx context.Context) error {
	c.stats.SetRunning(true)
	defer c.stats.SetRunning(false)

	c.lastBatch = time.Now()

	for {
		if ctx.Err() != nil {
			c.drain()
			return ctx.Err()
		}

		records, err := c.log.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.drain()
				return ctx.Err()
			}
			logging.Error().Err(err).Msg("Poll failed")
			continue
		}

		c.buffer = append(c.buffer, records...)
		c.stats.SetBufferSize(len(c.buffer))

		// Process on size, or on interval elapse even when idle.
		if len(c.buffer) >= c.cfg.BatchSize ||
			(len(c.buffer) > 0 && time.Since(c.lastBatch) >= c.cfg.Interval) {
			if err := c.processBatch(ctx); err != nil {
				logging.Error().Err(err).Msg("Batch aborted; offsets not committed")
			}
		}
	}
}

// drain processes whatever is buffered at shutdown with a fresh context.
func (c *Coordinator) drain() {
	if len(c.buffer) == 0 {
		return
	}

	logging.Info().Int("records", len(c.buffer)).Msg("Draining residual buffer")
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.MaxProcessingTime)
	defer cancel()
	if err := c.processBatch(ctx); err != nil {
		logging.Error().Err(err).Msg("Residual batch failed; it will be re-polled after restart")
	}
}

// processBatch runs one batch through the Enriching → Dispatching →
// Committing phases. Drop errors skip the event; a store failure or a
// commit failure rewinds and aborts without committing.
func (c *Coordinator) processBatch(ctx context.Context) error {
	batch := c.buffer
	c.buffer = c.buffer[len(c.buffer):]
	c.lastBatch = time.Now()
	c.stats.SetBufferSize(0)

	start := time.Now()

	// Enriching.
	events := make([]*models.EnrichedEvent, 0, len(batch))
	for _, rec := range batch {
		e, err := c.enricher.Enrich(ctx, rec.Value)
		if err != nil {
			var drop *enrich.DropError
			if errors.As(err, &drop) {
				c.stats.RecordDropped()
				metrics.RecordDropped(drop.Reason)
				logging.Debug().Err(err).
					Int64("offset", rec.Offset).
					Msg("Event dropped")
				continue
			}

			// Store unavailable: rewind so the whole batch is re-polled.
			if rerr := c.log.Rewind(batch); rerr != nil {
				logging.Error().Err(rerr).Msg("Rewind failed")
			}
			return fmt.Errorf("enrichment aborted at offset %d: %w", rec.Offset, err)
		}
		events = append(events, e)
	}

	// Dispatching, bounded by max_processing_time.
	dispatchCtx, cancel := context.WithTimeout(ctx, c.cfg.MaxProcessingTime)
	c.dispatch.run(dispatchCtx, events)
	cancel()

	// The warehouse retains its buffer on failure; the batch still
	// commits and the rows ride along with the next flush.
	if c.flusher != nil {
		if err := c.flusher.Flush(ctx); err != nil {
			logging.Error().Err(err).Msg("Warehouse flush failed after dispatch")
		}
	}

	// Committing.
	if err := c.log.Commit(ctx); err != nil {
		if rerr := c.log.Rewind(batch); rerr != nil {
			logging.Error().Err(rerr).Msg("Rewind failed")
		}
		return fmt.Errorf("commit failed: %w", err)
	}
	metrics.RecordCommit()
	metrics.RecordBatch(time.Since(start))

	logging.Debug().
		Int("records", len(batch)).
		Int("dispatched", len(events)).
		Dur("took", time.Since(start)).
		Msg("Batch committed")

	return nil
}
