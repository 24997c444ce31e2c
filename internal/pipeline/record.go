// Engagestream - Real-Time Engagement Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/engagestream

// Package pipeline hosts the stream coordinator, the Kafka consumer it
// reads from, and the backfill runner that replays history through the
// same sink fan-out.
package pipeline

import (
	"context"

	"github.com/tomtom215/engagestream/internal/models"
)

// Record is one raw message read from the log.
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
}

// Log is the consumer-side contract with the partitioned event log.
// Offsets advance only on explicit Commit; Rewind moves consumption back
// to the given records so an aborted batch is re-polled.
type Log interface {
	// Poll returns the next records, blocking up to the poll timeout.
	// An empty slice with a nil error means the poll timed out idle.
	Poll(ctx context.Context) ([]*Record, error)

	// Commit marks everything polled so far as processed.
	Commit(ctx context.Context) error

	// Rewind moves the consumer back to re-deliver the given records.
	Rewind(records []*Record) error

	// Close releases the consumer.
	Close()
}

// EventSink consumes enriched events. All three sinks satisfy this.
type EventSink interface {
	Name() string
	Process(ctx context.Context, e *models.EnrichedEvent) error
}

// Flusher is the explicit end-of-batch flush hook (the warehouse sink).
type Flusher interface {
	Flush(ctx context.Context) error
}
