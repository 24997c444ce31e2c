// Engagestream - Real-Time Engagement Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/engagestream

// Package warehouse buffers enriched events and micro-batches them into
// the columnar warehouse. The buffer flushes on size or age; a failed
// flush retains the rows for the next attempt. Without usable
// credentials the sink degrades to a logging no-op and never aborts
// the pipeline.
package warehouse

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/option"

	"github.com/tomtom215/engagestream/internal/config"
	"github.com/tomtom215/engagestream/internal/logging"
	"github.com/tomtom215/engagestream/internal/metrics"
	"github.com/tomtom215/engagestream/internal/models"
)

// flushTimeout bounds a single age-triggered flush attempt.
const flushTimeout = 30 * time.Second

// inserter is the slice of the BigQuery streaming-insert API the sink
// uses. Tests substitute fakes.
type inserter interface {
	Put(ctx context.Context, src any) error
}

// row adapts a warehouse record to the streaming-insert API. Insert IDs
// are disabled: at-least-once delivery means duplicates are expected and
// accepted downstream.
type row struct {
	rec *models.WarehouseRecord
}

func (r row) Save() (map[string]bigquery.Value, string, error) {
	values := map[string]bigquery.Value{
		"event_id":            r.rec.EventID,
		"content_id":          r.rec.ContentID,
		"user_id":             r.rec.UserID,
		"event_type":          r.rec.EventType,
		"event_timestamp":     r.rec.EventTimestamp,
		"content_slug":        r.rec.ContentSlug,
		"content_title":       r.rec.ContentTitle,
		"content_type":        r.rec.ContentType,
		"processed_timestamp": r.rec.ProcessedTimestamp,
	}
	if r.rec.DurationMS != nil {
		values["duration_ms"] = *r.rec.DurationMS
	}
	if r.rec.EngagementSeconds != nil {
		values["engagement_seconds"] = *r.rec.EngagementSeconds
	}
	if r.rec.EngagementPct != nil {
		values["engagement_pct"] = *r.rec.EngagementPct
	}
	if r.rec.Device != nil {
		values["device"] = *r.rec.Device
	}
	if r.rec.ContentLengthSeconds != nil {
		values["content_length_seconds"] = *r.rec.ContentLengthSeconds
	}
	if r.rec.RawPayload != nil {
		values["raw_payload"] = *r.rec.RawPayload
	}
	return values, bigquery.NoDedupeID, nil
}

// bigqueryInserter wraps the real client inserter.
type bigqueryInserter struct {
	ins *bigquery.Inserter
}

func (b *bigqueryInserter) Put(ctx context.Context, src any) error {
	return b.ins.Put(ctx, src)
}

// Stats is a snapshot of the sink's counters.
type Stats struct {
	BufferSize    int   `json:"buffer_size"`
	RowsFlushed   int64 `json:"rows_flushed"`
	RowsDropped   int64 `json:"rows_dropped"`
	FlushFailures int64 `json:"flush_failures"`
	Degraded      bool  `json:"degraded"`
}

// Sink is the micro-batching warehouse writer.
type Sink struct {
	ins      inserter
	degraded bool

	batchSize   int
	maxBatchAge time.Duration

	mu        sync.Mutex
	buffer    []*models.WarehouseRecord
	lastFlush time.Time

	rowsFlushed   atomic.Int64
	rowsDropped   atomic.Int64
	flushFailures atomic.Int64

	// flushed signals completed flushes; tests block on it.
	flushed chan int
}

// New builds the sink. Missing, unreadable or rejected credentials yield
// a degraded no-op sink and a warning, never an error: the warehouse is
// an optional sink by contract.
func New(ctx context.Context, cfg config.WarehouseConfig) *Sink {
	s := newSink(nil, cfg)

	if cfg.CredentialsPath == "" {
		logging.Warn().Msg("Warehouse sink degraded: no credentials configured")
		s.degraded = true
		return s
	}
	if _, err := os.Stat(cfg.CredentialsPath); err != nil {
		logging.Warn().Err(err).Str("path", cfg.CredentialsPath).
			Msg("Warehouse sink degraded: credentials not readable")
		s.degraded = true
		return s
	}

	client, err := bigquery.NewClient(ctx, cfg.ProjectID, option.WithCredentialsFile(cfg.CredentialsPath))
	if err != nil {
		logging.Warn().Err(err).Msg("Warehouse sink degraded: client creation failed")
		s.degraded = true
		return s
	}

	if err := ensureInfrastructure(ctx, client, cfg); err != nil {
		logging.Warn().Err(err).Msg("Warehouse sink degraded: infrastructure bootstrap failed")
		_ = client.Close()
		s.degraded = true
		return s
	}

	s.ins = &bigqueryInserter{ins: client.Dataset(cfg.DatasetID).Table(cfg.TableID).Inserter()}
	return s
}

// newSink wires the internals; tests inject their own inserter here.
func newSink(ins inserter, cfg config.WarehouseConfig) *Sink {
	return &Sink{
		ins:         ins,
		batchSize:   cfg.BatchSize,
		maxBatchAge: cfg.MaxBatchAge,
		buffer:      make([]*models.WarehouseRecord, 0, cfg.BatchSize),
		lastFlush:   time.Now(),
		flushed:     make(chan int, 16),
	}
}

// Name identifies the sink in logs and metrics.
func (s *Sink) Name() string { return "warehouse" }

// Degraded reports whether the sink is a no-op.
func (s *Sink) Degraded() bool { return s.degraded }

// Process buffers one enriched event, flushing when the buffer reaches
// the batch size.
func (s *Sink) Process(ctx context.Context, e *models.EnrichedEvent) error {
	if s.degraded {
		s.rowsDropped.Add(1)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.buffer = append(s.buffer, models.NewWarehouseRecord(e, time.Now().UTC()))
	metrics.SetWarehouseBuffer(len(s.buffer))

	if len(s.buffer) >= s.batchSize {
		return s.flushLocked(ctx)
	}
	return nil
}

// Flush writes out whatever is buffered. The coordinator calls this at
// the end of every batch.
func (s *Sink) Flush(ctx context.Context) error {
	if s.degraded {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked(ctx)
}

// flushLocked performs the insert with the mutex held. On failure the
// buffer is retained so the rows ride along with the next flush.
func (s *Sink) flushLocked(ctx context.Context) error {
	if len(s.buffer) == 0 {
		return nil
	}

	rows := make([]row, len(s.buffer))
	for i, rec := range s.buffer {
		rows[i] = row{rec: rec}
	}

	start := time.Now()
	if err := s.ins.Put(ctx, rows); err != nil {
		s.flushFailures.Add(1)
		metrics.RecordSinkError("warehouse")
		logging.Error().Err(err).
			Int("rows", len(rows)).
			Msg("Warehouse flush failed; retaining buffer")
		return fmt.Errorf("warehouse flush of %d rows: %w", len(rows), err)
	}

	n := len(s.buffer)
	s.buffer = s.buffer[:0]
	s.lastFlush = time.Now()
	s.rowsFlushed.Add(int64(n))
	metrics.RecordWarehouseFlush(n, time.Since(start))
	metrics.SetWarehouseBuffer(0)

	logging.Debug().Int("rows", n).Dur("took", time.Since(start)).Msg("Warehouse flush complete")

	select {
	case s.flushed <- n:
	default:
	}

	return nil
}

// String names the service for supervisor logs.
func (s *Sink) String() string { return "warehouse-sink" }

// Serve runs the age-based flush loop until the context is cancelled.
// The final flush drains whatever is still buffered at shutdown.
func (s *Sink) Serve(ctx context.Context) error {
	if s.degraded {
		<-ctx.Done()
		return ctx.Err()
	}

	// Half-interval ticks keep the worst-case flush delay near the
	// configured age rather than double it.
	ticker := time.NewTicker(s.maxBatchAge / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
			if err := s.Flush(flushCtx); err != nil {
				logging.Error().Err(err).Msg("Final warehouse flush failed")
			}
			cancel()
			return ctx.Err()
		case <-ticker.C:
			s.mu.Lock()
			due := len(s.buffer) > 0 && time.Since(s.lastFlush) >= s.maxBatchAge
			s.mu.Unlock()
			if !due {
				continue
			}

			flushCtx, cancel := context.WithTimeout(ctx, flushTimeout)
			if err := s.Flush(flushCtx); err != nil {
				logging.Error().Err(err).Msg("Age-triggered warehouse flush failed")
			}
			cancel()
		}
	}
}

// WaitForFlush blocks until a flush completes or the timeout elapses,
// returning the number of rows written. Intended for tests.
func (s *Sink) WaitForFlush(timeout time.Duration) (int, bool) {
	select {
	case n := <-s.flushed:
		return n, true
	case <-time.After(timeout):
		return 0, false
	}
}

// Stats returns a snapshot of the sink counters.
func (s *Sink) Stats() Stats {
	s.mu.Lock()
	size := len(s.buffer)
	s.mu.Unlock()

	return Stats{
		BufferSize:    size,
		RowsFlushed:   s.rowsFlushed.Load(),
		RowsDropped:   s.rowsDropped.Load(),
		FlushFailures: s.flushFailures.Load(),
		Degraded:      s.degraded,
	}
}
