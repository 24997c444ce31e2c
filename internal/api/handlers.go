// Engagestream - Real-Time Engagement Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/engagestream

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/engagestream/internal/forwarder"
	"github.com/tomtom215/engagestream/internal/logging"
	"github.com/tomtom215/engagestream/internal/pipeline"
	"github.com/tomtom215/engagestream/internal/warehouse"
)

const (
	defaultTopLimit   = 10
	maxTopLimit       = 100
	defaultEventCount = 20
	maxEventCount     = 100
)

// healthView is the /health answer. Degraded sinks show up in checks
// but never fail the endpoint; only a dead leaderboard store does.
type healthView struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	status := "ok"
	httpStatus := http.StatusOK

	if s.boards.Healthy(r.Context()) {
		checks["leaderboard"] = "ok"
	} else {
		checks["leaderboard"] = "unreachable"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	if s.warehouseStats != nil {
		checks["warehouse"] = "ok"
		if s.warehouseStats().Degraded {
			checks["warehouse"] = "degraded"
			if status == "ok" {
				status = "degraded"
			}
		}
	}
	if s.externalStats != nil {
		checks["external"] = "ok"
		if s.externalStats().Degraded {
			checks["external"] = "degraded"
			if status == "ok" {
				status = "degraded"
			}
		}
	}

	if s.stats != nil {
		if s.stats.Snapshot().Running {
			checks["processor"] = "running"
		} else {
			checks["processor"] = "stopped"
		}
	}

	writeJSON(w, httpStatus, APIResponse{
		Success: httpStatus == http.StatusOK,
		Data: healthView{
			Status:    status,
			Timestamp: time.Now().UTC(),
			Checks:    checks,
		},
	})
}

func (s *Server) handleTopContent(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultTopLimit, maxTopLimit)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}

	ranks, err := s.boards.TopN(r.Context(), limit)
	if err != nil {
		logging.Error().Err(err).Msg("Top content query failed")
		writeError(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "leaderboard store unavailable")
		return
	}

	writeData(w, ranks)
}

func (s *Server) handleContentStats(w http.ResponseWriter, r *http.Request) {
	contentID := chi.URLParam(r, "contentID")

	view, err := s.boards.ContentStats(r.Context(), contentID)
	if err != nil {
		logging.Error().Err(err).Str("content_id", contentID).Msg("Content stats query failed")
		writeError(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "leaderboard store unavailable")
		return
	}

	writeData(w, view)
}

func (s *Server) handleContentEvents(w http.ResponseWriter, r *http.Request) {
	contentID := chi.URLParam(r, "contentID")

	count, err := queryInt(r, "count", defaultEventCount, maxEventCount)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}

	events, err := s.boards.RecentEvents(r.Context(), contentID, count)
	if err != nil {
		logging.Error().Err(err).Str("content_id", contentID).Msg("Recent events query failed")
		writeError(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "leaderboard store unavailable")
		return
	}

	writeData(w, events)
}

// processorView combines the coordinator counters with per-sink stats.
type processorView struct {
	Pipeline  pipeline.Snapshot `json:"pipeline"`
	Warehouse *warehouse.Stats  `json:"warehouse,omitempty"`
	External  *forwarder.Stats  `json:"external,omitempty"`
}

func (s *Server) handleProcessorStats(w http.ResponseWriter, r *http.Request) {
	view := processorView{Pipeline: s.stats.Snapshot()}

	if s.warehouseStats != nil {
		st := s.warehouseStats()
		view.Warehouse = &st
	}
	if s.externalStats != nil {
		st := s.externalStats()
		view.External = &st
	}

	writeData(w, view)
}

// queryInt parses a bounded positive integer query parameter.
func queryInt(r *http.Request, name string, def, max int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, &paramError{name: name, raw: raw}
	}
	if n > max {
		n = max
	}
	return n, nil
}

type paramError struct {
	name string
	raw  string
}

func (e *paramError) Error() string {
	return "invalid " + e.name + " parameter: " + e.raw
}
