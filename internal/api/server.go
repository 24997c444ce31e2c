// Engagestream - Real-Time Engagement Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/engagestream

package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/engagestream/internal/config"
	"github.com/tomtom215/engagestream/internal/forwarder"
	"github.com/tomtom215/engagestream/internal/leaderboard"
	"github.com/tomtom215/engagestream/internal/middleware"
	"github.com/tomtom215/engagestream/internal/pipeline"
	"github.com/tomtom215/engagestream/internal/warehouse"
)

// Boards is the read side of the leaderboard store.
type Boards interface {
	TopN(ctx context.Context, limit int) ([]leaderboard.ContentRank, error)
	ContentStats(ctx context.Context, contentID string) (*leaderboard.StatsView, error)
	RecentEvents(ctx context.Context, contentID string, n int) ([]leaderboard.StreamEvent, error)
	Healthy(ctx context.Context) bool
}

// Server answers the ops endpoints. The sink stats funcs are nil when
// the corresponding sink is not running.
type Server struct {
	router         chi.Router
	boards         Boards
	stats          *pipeline.Stats
	warehouseStats func() warehouse.Stats
	externalStats  func() forwarder.Stats
}

// NewServer builds the router.
func NewServer(boards Boards, stats *pipeline.Stats, warehouseStats func() warehouse.Stats, externalStats func() forwarder.Stats) *Server {
	s := &Server{
		boards:         boards,
		stats:          stats,
		warehouseStats: warehouseStats,
		externalStats:  externalStats,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Observe)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/top-content", s.handleTopContent)
		r.Get("/content/{contentID}/stats", s.handleContentStats)
		r.Get("/content/{contentID}/events", s.handleContentEvents)
		r.Get("/processor/stats", s.handleProcessorStats)
	})

	s.router = r
	return s
}

// Handler exposes the router for the HTTP server and for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// NewHTTPServer binds the router to the configured listen address.
func (s *Server) NewHTTPServer(cfg config.ServerConfig) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	}
}
