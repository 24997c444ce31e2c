// Engagestream - Real-Time Engagement Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/engagestream

package supervisor

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"
)

// fakeHTTPServer blocks in ListenAndServe until Shutdown is called.
type fakeHTTPServer struct {
	startErr  error
	stopped   chan struct{}
	shutdowns atomic.Int64
}

func newFakeHTTPServer() *fakeHTTPServer {
	return &fakeHTTPServer{stopped: make(chan struct{})}
}

func (s *fakeHTTPServer) ListenAndServe() error {
	if s.startErr != nil {
		return s.startErr
	}
	<-s.stopped
	return http.ErrServerClosed
}

func (s *fakeHTTPServer) Shutdown(context.Context) error {
	s.shutdowns.Add(1)
	close(s.stopped)
	return nil
}

func TestHTTPServiceGracefulShutdown(t *testing.T) {
	srv := newFakeHTTPServer()
	svc := NewHTTPService(srv, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	// Give the server goroutine a moment to start, then stop it.
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve() did not return after cancellation")
	}

	if srv.shutdowns.Load() != 1 {
		t.Errorf("shutdowns = %d, want 1", srv.shutdowns.Load())
	}
}

func TestHTTPServiceStartFailure(t *testing.T) {
	srv := newFakeHTTPServer()
	srv.startErr = errors.New("address already in use")
	svc := NewHTTPService(srv, time.Second)

	if err := svc.Serve(context.Background()); err == nil {
		t.Fatal("expected start failure to propagate")
	}
}

func TestTreeSupervisesServices(t *testing.T) {
	tree := NewTree(DefaultTreeConfig())

	served := make(chan struct{})
	var once atomic.Bool
	tree.AddPipelineService(serviceFunc(func(ctx context.Context) error {
		if once.CompareAndSwap(false, true) {
			close(served)
		}
		<-ctx.Done()
		return ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	select {
	case <-served:
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline service never started")
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("tree did not stop after cancellation")
	}
}

// serviceFunc adapts a function to suture.Service.
type serviceFunc func(ctx context.Context) error

func (f serviceFunc) Serve(ctx context.Context) error { return f(ctx) }

func (f serviceFunc) String() string { return "test-service" }
