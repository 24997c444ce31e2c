// Engagestream - Real-Time Engagement Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/engagestream

// Package metrics defines the Prometheus instrumentation for the pipeline.
// All metrics are registered with the default registry via promauto and
// exposed on the ops server's /metrics endpoint.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsProcessed counts events that completed sink dispatch, by type.
	EventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engagement_events_processed_total",
		Help: "Events that completed enrichment and sink dispatch",
	}, []string{"event_type"})

	// EventsDropped counts events dropped during enrichment.
	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engagement_events_dropped_total",
		Help: "Events dropped during enrichment (invalid payload or unknown content)",
	}, []string{"reason"})

	// SinkErrors counts per-sink write failures.
	SinkErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engagement_sink_errors_total",
		Help: "Sink write failures by sink name",
	}, []string{"sink"})

	// SinkWriteDuration observes per-event sink write latency.
	SinkWriteDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "engagement_sink_write_duration_seconds",
		Help:    "Per-event sink write latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"sink"})

	// BatchDuration observes end-to-end batch processing latency.
	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "engagement_batch_duration_seconds",
		Help:    "End-to-end processing latency per batch (enrich, dispatch, flush, commit)",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	// OffsetCommits counts successful offset commits.
	OffsetCommits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engagement_offset_commits_total",
		Help: "Successful consumer offset commits",
	})

	// WarehouseBufferSize tracks the current warehouse buffer depth.
	WarehouseBufferSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "engagement_warehouse_buffer_size",
		Help: "Rows currently buffered for the warehouse",
	})

	// WarehouseFlushDuration observes warehouse flush latency.
	WarehouseFlushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "engagement_warehouse_flush_duration_seconds",
		Help:    "Warehouse flush latency",
		Buckets: prometheus.DefBuckets,
	})

	// WarehouseRowsFlushed counts rows successfully flushed to the warehouse.
	WarehouseRowsFlushed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engagement_warehouse_rows_flushed_total",
		Help: "Rows successfully written to the warehouse",
	})

	// ForwarderSent counts events delivered to the external endpoint.
	ForwarderSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engagement_forwarder_sent_total",
		Help: "Events delivered to the external HTTP endpoint",
	})

	// BackfillRows counts rows replayed by the backfill runner.
	BackfillRows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engagement_backfill_rows_total",
		Help: "Historical rows replayed through the sink path",
	})

	// ContentCacheHits counts resolver cache hits.
	ContentCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engagement_content_cache_hits_total",
		Help: "Content resolver cache hits",
	})

	// ContentCacheMisses counts resolver cache misses.
	ContentCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engagement_content_cache_misses_total",
		Help: "Content resolver cache misses (store lookups)",
	})

	// APIRequests counts ops API requests by method, route and status.
	APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engagement_api_requests_total",
		Help: "Ops API requests",
	}, []string{"method", "path", "status"})

	// APIRequestDuration observes ops API request latency.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "engagement_api_request_duration_seconds",
		Help:    "Ops API request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// RecordAPIRequest accounts one ops API request.
func RecordAPIRequest(method, path, status string, d time.Duration) {
	APIRequests.WithLabelValues(method, path, status).Inc()
	APIRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// RecordProcessed increments the processed counter for an event type.
func RecordProcessed(eventType string) {
	EventsProcessed.WithLabelValues(eventType).Inc()
}

// RecordDropped increments the dropped counter for a drop reason.
func RecordDropped(reason string) {
	EventsDropped.WithLabelValues(reason).Inc()
}

// RecordSinkError increments the error counter for a sink.
func RecordSinkError(sink string) {
	SinkErrors.WithLabelValues(sink).Inc()
}

// RecordSinkWrite observes a sink write duration.
func RecordSinkWrite(sink string, d time.Duration) {
	SinkWriteDuration.WithLabelValues(sink).Observe(d.Seconds())
}

// RecordBatch observes one batch's processing duration.
func RecordBatch(d time.Duration) {
	BatchDuration.Observe(d.Seconds())
}

// RecordCommit increments the offset commit counter.
func RecordCommit() {
	OffsetCommits.Inc()
}

// RecordWarehouseFlush observes a flush and the rows it wrote.
func RecordWarehouseFlush(rows int, d time.Duration) {
	WarehouseFlushDuration.Observe(d.Seconds())
	WarehouseRowsFlushed.Add(float64(rows))
}

// SetWarehouseBuffer updates the buffered-rows gauge.
func SetWarehouseBuffer(n int) {
	WarehouseBufferSize.Set(float64(n))
}
