// Engagestream - Real-Time Engagement Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/engagestream

package forwarder

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/engagestream/internal/logging"
)

// heartbeatInterval is how often liveness is reported to the endpoint.
const heartbeatInterval = time.Minute

// heartbeat is the liveness payload POSTed to <url>/heartbeat.
type heartbeat struct {
	Status    string `json:"status"`
	Sent      int64  `json:"events_sent"`
	Errors    int64  `json:"events_errored"`
	Timestamp string `json:"timestamp"`
}

// Heartbeater periodically reports the forwarder's liveness and counters
// to the external endpoint. Runs as a supervised suture service; failures
// are logged and retried on the next tick.
type Heartbeater struct {
	sink     *Sink
	interval time.Duration
}

// NewHeartbeater creates the heartbeat service for a sink.
func NewHeartbeater(sink *Sink) *Heartbeater {
	return &Heartbeater{sink: sink, interval: heartbeatInterval}
}

// String names the service for supervisor logs.
func (h *Heartbeater) String() string { return "forwarder-heartbeat" }

// Serve sends heartbeats until the context is cancelled. A degraded sink
// sleeps instead of beating; the supervisor keeps the service alive so a
// future un-degraded implementation slots in without wiring changes.
func (h *Heartbeater) Serve(ctx context.Context) error {
	if h.sink.degraded {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := h.beat(ctx); err != nil {
				logging.Debug().Err(err).Msg("Heartbeat delivery failed")
			}
		}
	}
}

func (h *Heartbeater) beat(ctx context.Context) error {
	stats := h.sink.Stats()
	body, err := json.Marshal(heartbeat{
		Status:    "alive",
		Sent:      stats.Sent,
		Errors:    stats.Errors,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return h.sink.post(ctx, h.sink.url+"/heartbeat", body, h.sink.timeout)
}
