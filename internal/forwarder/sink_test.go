// Engagestream - Real-Time Engagement Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/engagestream

package forwarder

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/engagestream/internal/config"
	"github.com/tomtom215/engagestream/internal/models"
)

func ptrInt64(v int64) *int64 { return &v }

func testEnriched(id int64) *models.EnrichedEvent {
	raw := &models.RawEvent{
		ID:         id,
		ContentID:  uuid.New(),
		UserID:     uuid.New(),
		EventType:  models.EventPlay,
		EventTS:    time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		DurationMS: ptrInt64(30000),
	}
	content := &models.Content{
		ID:            raw.ContentID,
		Slug:          "p1",
		Title:         "Episode One",
		ContentType:   models.ContentPodcast,
		LengthSeconds: ptrInt64(600),
	}
	return models.NewEnrichedEvent(raw, content)
}

// newTestSink builds a sink against a test server with waits shrunk so
// retry tests finish in milliseconds.
func newTestSink(t *testing.T, url string) *Sink {
	t.Helper()
	s := New(context.Background(), config.ExternalConfig{
		URL:           url,
		Timeout:       2 * time.Second,
		RetryAttempts: 3,
	})
	s.minWait = time.Millisecond
	s.maxWait = 4 * time.Millisecond
	return s
}

func TestProcessPostsEnvelope(t *testing.T) {
	var got models.ExternalPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			return // init probe
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := newTestSink(t, srv.URL)
	if s.Degraded() {
		t.Fatal("sink degraded against a live server")
	}

	e := testEnriched(42)
	if err := s.Process(context.Background(), e); err != nil {
		t.Fatalf("Process() failed: %v", err)
	}

	if got.EventID != 42 {
		t.Errorf("envelope event_id = %d, want 42", got.EventID)
	}
	if got.EventType != "play" {
		t.Errorf("envelope event_type = %q, want play", got.EventType)
	}
	if got.Metadata.ContentTitle != "Episode One" {
		t.Errorf("envelope metadata title = %q", got.Metadata.ContentTitle)
	}
	if got.Metadata.EngagementSeconds == nil || *got.Metadata.EngagementSeconds != 30.0 {
		t.Errorf("envelope engagement_seconds = %v, want 30.0", got.Metadata.EngagementSeconds)
	}

	if st := s.Stats(); st.Sent != 1 || st.Errors != 0 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestProcessRetriesThenSucceeds(t *testing.T) {
	var posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			return
		}
		if posts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := newTestSink(t, srv.URL)
	if err := s.Process(context.Background(), testEnriched(1)); err != nil {
		t.Fatalf("Process() failed after retries: %v", err)
	}
	if posts.Load() != 3 {
		t.Errorf("posts = %d, want 3 (two retries)", posts.Load())
	}
}

func TestProcessGivesUpAfterAttempts(t *testing.T) {
	var posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			return
		}
		posts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := newTestSink(t, srv.URL)
	if err := s.Process(context.Background(), testEnriched(1)); err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if posts.Load() != 3 {
		t.Errorf("posts = %d, want exactly 3 attempts", posts.Load())
	}
	if st := s.Stats(); st.Errors != 1 {
		t.Errorf("Errors = %d, want 1", st.Errors)
	}
}

func TestDefaultRetryPolicyValues(t *testing.T) {
	// The production policy waits 4s then 8s, never more than 10s.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	defer srv.Close()

	s := New(context.Background(), config.ExternalConfig{
		URL:           srv.URL,
		Timeout:       30 * time.Second,
		RetryAttempts: 3,
	})

	if s.minWait != 4*time.Second {
		t.Errorf("minWait = %v, want 4s", s.minWait)
	}
	if s.maxWait != 10*time.Second {
		t.Errorf("maxWait = %v, want 10s", s.maxWait)
	}
	if s.attempts != 3 {
		t.Errorf("attempts = %d, want 3", s.attempts)
	}
}

func TestSendBatchUsesBatchEndpoint(t *testing.T) {
	var batches atomic.Int32
	var singles atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
		case r.URL.Path == "/batch":
			var payload batchPayload
			body, _ := io.ReadAll(r.Body)
			if err := json.Unmarshal(body, &payload); err != nil {
				t.Errorf("batch payload not JSON: %v", err)
			}
			if payload.EventCount != 2 || len(payload.Events) != 2 {
				t.Errorf("batch payload = %d/%d events", payload.EventCount, len(payload.Events))
			}
			if payload.BatchID == "" {
				t.Error("batch id missing")
			}
			batches.Add(1)
		default:
			singles.Add(1)
		}
	}))
	defer srv.Close()

	s := newTestSink(t, srv.URL)
	events := []*models.EnrichedEvent{testEnriched(1), testEnriched(2)}
	if err := s.SendBatch(context.Background(), events); err != nil {
		t.Fatalf("SendBatch() failed: %v", err)
	}

	if batches.Load() != 1 {
		t.Errorf("batch posts = %d, want 1", batches.Load())
	}
	if singles.Load() != 0 {
		t.Errorf("single posts = %d, want 0", singles.Load())
	}
	if st := s.Stats(); st.Sent != 2 {
		t.Errorf("Sent = %d, want 2", st.Sent)
	}
}

func TestSendBatchFallsBackPerEvent(t *testing.T) {
	var singles atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
		case r.URL.Path == "/batch":
			w.WriteHeader(http.StatusNotImplemented)
		default:
			singles.Add(1)
		}
	}))
	defer srv.Close()

	s := newTestSink(t, srv.URL)
	events := []*models.EnrichedEvent{testEnriched(1), testEnriched(2), testEnriched(3)}
	if err := s.SendBatch(context.Background(), events); err != nil {
		t.Fatalf("SendBatch() fallback failed: %v", err)
	}

	if singles.Load() != 3 {
		t.Errorf("single posts = %d, want 3", singles.Load())
	}
}

func TestDegradedInitIsNoOp(t *testing.T) {
	// Endpoint that refuses connections: start a server and close it.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	s := New(context.Background(), config.ExternalConfig{
		URL:           url,
		Timeout:       time.Second,
		RetryAttempts: 3,
	})
	if !s.Degraded() {
		t.Fatal("sink must degrade when the endpoint is unreachable")
	}

	if err := s.Process(context.Background(), testEnriched(1)); err != nil {
		t.Fatalf("degraded Process() returned error: %v", err)
	}
	if st := s.Stats(); st.Skipped != 1 || st.Sent != 0 {
		t.Errorf("Stats() = %+v, want 1 skipped", st)
	}
}

func TestErrorStatusStillProvesReachability(t *testing.T) {
	// A 500 from the probe means the endpoint exists; do not degrade.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := New(context.Background(), config.ExternalConfig{
		URL:           srv.URL,
		Timeout:       time.Second,
		RetryAttempts: 1,
	})
	if s.Degraded() {
		t.Fatal("HTTP error status must not degrade the sink")
	}
}

func TestHeartbeatPayload(t *testing.T) {
	var beats atomic.Int32
	var got heartbeat
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/heartbeat" {
			body, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(body, &got)
			beats.Add(1)
		}
	}))
	defer srv.Close()

	s := newTestSink(t, srv.URL)
	h := NewHeartbeater(s)
	h.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = h.Serve(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for beats.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("no heartbeat observed")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	if got.Status != "alive" {
		t.Errorf("heartbeat status = %q, want alive", got.Status)
	}
	if got.Timestamp == "" {
		t.Error("heartbeat timestamp missing")
	}
}
