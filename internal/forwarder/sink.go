// Engagestream - Real-Time Engagement Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/engagestream

// Package forwarder delivers enriched events to the external HTTP
// endpoint: bounded exponential-backoff retries per event, a circuit
// breaker across events, an optional batch endpoint with per-event
// fallback, and a periodic heartbeat. An unreachable endpoint at startup
// degrades the sink to a no-op.
package forwarder

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"

	"github.com/tomtom215/engagestream/internal/config"
	"github.com/tomtom215/engagestream/internal/logging"
	"github.com/tomtom215/engagestream/internal/metrics"
	"github.com/tomtom215/engagestream/internal/models"
)

// Retry policy: exponential with multiplier 2, clamped to [4s, 10s].
// Attempt 2 waits 4s and attempt 3 waits 8s.
const (
	retryMinWait = 4 * time.Second
	retryMaxWait = 10 * time.Second

	probeTimeout = 5 * time.Second
)

// batchPayload is the envelope for the optional batch endpoint.
type batchPayload struct {
	Events     []*models.ExternalPayload `json:"events"`
	BatchID    string                    `json:"batch_id"`
	EventCount int                       `json:"event_count"`
}

// Stats is a snapshot of the forwarder counters.
type Stats struct {
	Sent     int64 `json:"sent"`
	Errors   int64 `json:"errors"`
	Skipped  int64 `json:"skipped"`
	Degraded bool  `json:"degraded"`
}

// Sink posts enriched events to the external endpoint.
type Sink struct {
	url      string
	headers  map[string]string
	client   *http.Client
	timeout  time.Duration
	breaker  *gobreaker.CircuitBreaker[struct{}]
	attempts int
	degraded bool

	// minWait/maxWait are the policy constants; tests shrink them.
	minWait time.Duration
	maxWait time.Duration

	sent    atomic.Int64
	errors  atomic.Int64
	skipped atomic.Int64
}

// New builds the sink and probes the endpoint. Any HTTP response proves
// reachability; only a transport failure (or an empty URL) degrades the
// sink. Degradation is logged, never fatal.
func New(ctx context.Context, cfg config.ExternalConfig) *Sink {
	s := &Sink{
		url:      cfg.URL,
		headers:  cfg.Headers,
		// Timeouts ride on per-request contexts so the batch path can
		// double them; the client itself stays unbounded.
		client:   &http.Client{},
		timeout:  cfg.Timeout,
		attempts: cfg.RetryAttempts,
		minWait:  retryMinWait,
		maxWait:  retryMaxWait,
		breaker: gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:     "forwarder",
			Interval: time.Minute,
			Timeout:  30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}

	if cfg.URL == "" {
		logging.Warn().Msg("Forwarder degraded: no endpoint configured")
		s.degraded = true
		return s
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, cfg.URL, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("Forwarder degraded: invalid endpoint URL")
		s.degraded = true
		return s
	}
	resp, err := s.client.Do(req)
	if err != nil {
		logging.Warn().Err(err).Str("url", cfg.URL).
			Msg("Forwarder degraded: endpoint unreachable")
		s.degraded = true
		return s
	}
	_ = resp.Body.Close()

	logging.Info().Str("url", cfg.URL).Msg("Forwarder connected")
	return s
}

// Name identifies the sink in logs and metrics.
func (s *Sink) Name() string { return "external" }

// Degraded reports whether the sink is a no-op.
func (s *Sink) Degraded() bool { return s.degraded }

// Process delivers one enriched event, retrying transient failures up to
// the configured attempt count. The error is reported to the caller but
// only ever counted there; per-event failures never abort a batch.
func (s *Sink) Process(ctx context.Context, e *models.EnrichedEvent) error {
	if s.degraded {
		s.skipped.Add(1)
		return nil
	}

	body, err := json.Marshal(models.NewExternalPayload(e))
	if err != nil {
		s.errors.Add(1)
		return fmt.Errorf("marshal payload for event %d: %w", e.ID, err)
	}

	if err := s.postWithRetry(ctx, s.url, body, s.timeout); err != nil {
		s.errors.Add(1)
		metrics.RecordSinkError("external")
		return fmt.Errorf("forward event %d: %w", e.ID, err)
	}

	s.sent.Add(1)
	metrics.ForwarderSent.Inc()
	return nil
}

// SendBatch posts all events to the batch endpoint with a doubled
// timeout. On any batch failure it falls back to per-event sends.
func (s *Sink) SendBatch(ctx context.Context, events []*models.EnrichedEvent) error {
	if s.degraded || len(events) == 0 {
		s.skipped.Add(int64(len(events)))
		return nil
	}

	payloads := make([]*models.ExternalPayload, len(events))
	for i, e := range events {
		payloads[i] = models.NewExternalPayload(e)
	}
	body, err := json.Marshal(batchPayload{
		Events:     payloads,
		BatchID:    uuid.NewString(),
		EventCount: len(payloads),
	})
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	if err := s.post(ctx, s.url+"/batch", body, 2*s.timeout); err == nil {
		s.sent.Add(int64(len(events)))
		metrics.ForwarderSent.Add(float64(len(events)))
		return nil
	}

	logging.Warn().Int("events", len(events)).
		Msg("Batch endpoint failed; falling back to per-event sends")

	var firstErr error
	for _, e := range events {
		if err := s.Process(ctx, e); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// postWithRetry wraps post in the backoff policy and circuit breaker.
func (s *Sink) postWithRetry(ctx context.Context, url string, body []byte, timeout time.Duration) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.minWait
	policy.MaxInterval = s.maxWait
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0

	attempt := func() error {
		_, err := s.breaker.Execute(func() (struct{}, error) {
			return struct{}{}, s.post(ctx, url, body, timeout)
		})
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			// No point hammering an open breaker.
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.Retry(attempt,
		backoff.WithContext(backoff.WithMaxRetries(policy, uint64(s.attempts-1)), ctx))
}

// post performs one POST. 2xx (202 included) is success; anything else
// is an error eligible for retry.
func (s *Sink) post(ctx context.Context, url string, body []byte, timeout time.Duration) error {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// Stats returns a snapshot of the forwarder counters.
func (s *Sink) Stats() Stats {
	return Stats{
		Sent:     s.sent.Load(),
		Errors:   s.errors.Load(),
		Skipped:  s.skipped.Load(),
		Degraded: s.degraded,
	}
}
