// Engagestream - Real-Time Engagement Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/engagestream

package pipeline

import (
	"sync"
	"time"
)

// statsWindow is how many recent per-event durations feed the rolling
// average.
const statsWindow = 1000

// Stats tracks the coordinator's processing counters. A single Stats
// value is shared between the coordinator (writer) and the ops API
// (reader) under its mutex.
type Stats struct {
	mu             sync.Mutex
	processedCount int64
	errorCount     int64
	droppedCount   int64
	durations      [statsWindow]time.Duration
	durationCount  int
	durationNext   int
	lastProcessed  time.Time
	bufferSize     int
	running        bool
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	ProcessedCount  int64     `json:"processed_count"`
	ErrorCount      int64     `json:"error_count"`
	DroppedCount    int64     `json:"dropped_count"`
	AvgProcessingMS float64   `json:"avg_processing_time_ms"`
	LastProcessed   time.Time `json:"last_processed"`
	BufferSize      int       `json:"buffer_size"`
	Running         bool      `json:"running"`
}

// NewStats creates an empty counter set.
func NewStats() *Stats {
	return &Stats{}
}

// RecordProcessed accounts one successfully dispatched event and its
// processing duration.
func (s *Stats) RecordProcessed(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.processedCount++
	s.lastProcessed = time.Now()

	s.durations[s.durationNext] = d
	s.durationNext = (s.durationNext + 1) % statsWindow
	if s.durationCount < statsWindow {
		s.durationCount++
	}
}

// RecordError accounts one sink write failure.
func (s *Stats) RecordError() {
	s.mu.Lock()
	s.errorCount++
	s.mu.Unlock()
}

// RecordDropped accounts one dropped event.
func (s *Stats) RecordDropped() {
	s.mu.Lock()
	s.droppedCount++
	s.mu.Unlock()
}

// SetBufferSize publishes the coordinator's current buffer depth.
func (s *Stats) SetBufferSize(n int) {
	s.mu.Lock()
	s.bufferSize = n
	s.mu.Unlock()
}

// SetRunning publishes the coordinator's run state.
func (s *Stats) SetRunning(running bool) {
	s.mu.Lock()
	s.running = running
	s.mu.Unlock()
}

// Snapshot returns a copy of the counters with the rolling average over
// the last processed events.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	var avg float64
	if s.durationCount > 0 {
		var total time.Duration
		for i := 0; i < s.durationCount; i++ {
			total += s.durations[i]
		}
		avg = float64(total.Microseconds()) / float64(s.durationCount) / 1000
	}

	return Snapshot{
		ProcessedCount:  s.processedCount,
		ErrorCount:      s.errorCount,
		DroppedCount:    s.droppedCount,
		AvgProcessingMS: avg,
		LastProcessed:   s.lastProcessed,
		BufferSize:      s.bufferSize,
		Running:         s.running,
	}
}
