// Engagestream - Real-Time Engagement Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/engagestream

package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/engagestream/internal/logging"
	"github.com/tomtom215/engagestream/internal/metrics"
	"github.com/tomtom215/engagestream/internal/models"
)

// dispatcher fans enriched events out to the sinks with a bounded worker
// pool. Each event's sink writes run in parallel and join at a barrier
// before the event counts as processed; sink errors are isolated per
// sink and never cancel the sibling writes.
type dispatcher struct {
	sinks     []EventSink
	workers   int
	queueSize int
	stats     *Stats
}

// run dispatches the whole slice and blocks until every event has passed
// its barrier. The context bounds the entire phase; events not started
// when it expires are recorded as errors.
func (d *dispatcher) run(ctx context.Context, events []*models.EnrichedEvent) {
	if len(events) == 0 {
		return
	}

	queue := make(chan *models.EnrichedEvent, d.queueSize)

	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for e := range queue {
				d.dispatchOne(ctx, e)
			}
		}()
	}

	for _, e := range events {
		select {
		case queue <- e:
		case <-ctx.Done():
			// Dispatch window expired; count the leftovers.
			d.stats.RecordError()
			logging.Warn().Int64("event_id", e.ID).
				Msg("Dispatch window expired before event started")
		}
	}
	close(queue)
	wg.Wait()
}

// dispatchOne writes one event to every sink in parallel and waits for
// all of them.
func (d *dispatcher) dispatchOne(ctx context.Context, e *models.EnrichedEvent) {
	start := time.Now()

	var wg sync.WaitGroup
	errs := make([]error, len(d.sinks))

	for i, sink := range d.sinks {
		wg.Add(1)
		go func(i int, sink EventSink) {
			defer wg.Done()
			sinkStart := time.Now()
			if err := sink.Process(ctx, e); err != nil {
				errs[i] = err
			}
			metrics.RecordSinkWrite(sink.Name(), time.Since(sinkStart))
		}(i, sink)
	}
	wg.Wait()

	failed := false
	for i, err := range errs {
		if err == nil {
			continue
		}
		failed = true
		d.stats.RecordError()
		logging.Error().Err(err).
			Str("sink", d.sinks[i].Name()).
			Int64("event_id", e.ID).
			Msg("Sink write failed")
	}

	// The event advanced the pipeline even if a sink missed it:
	// at-least-once progress is offset-based, not sink-based.
	if !failed {
		metrics.RecordProcessed(string(e.EventType))
	}
	d.stats.RecordProcessed(time.Since(start))
}
