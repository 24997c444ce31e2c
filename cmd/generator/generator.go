// Engagestream - Real-Time Engagement Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/engagestream

package main

import (
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/engagestream/internal/models"
)

var devices = []string{"ios", "android", "web", "tv"}

var eventTypes = []models.EventType{
	models.EventPlay,
	models.EventPause,
	models.EventFinish,
	models.EventClick,
}

// generator synthesizes plausible raw events against a real content
// catalogue, capped per UTC day.
type generator struct {
	catalogue []*models.Content
	users     []uuid.UUID
	rng       *rand.Rand

	perBatch  int
	dailyCap  int
	nextID    int64
	sentToday int
	today     time.Time
}

func newGenerator(catalogue []*models.Content, perBatch, dailyCap int, seed int64) *generator {
	rng := rand.New(rand.NewSource(seed))

	// A small stable user population so unique-user counters move
	// realistically instead of every event being a new user.
	users := make([]uuid.UUID, 50)
	for i := range users {
		users[i] = uuid.New()
	}

	return &generator{
		catalogue: catalogue,
		users:     users,
		rng:       rng,
		perBatch:  perBatch,
		dailyCap:  dailyCap,
		nextID:    1,
	}
}

// emit produces up to perBatch events for the tick at now. It returns
// nil once the daily cap is reached; the counter resets at UTC
// midnight.
func (g *generator) emit(now time.Time) []*models.RawEvent {
	day := now.UTC().Truncate(24 * time.Hour)
	if !day.Equal(g.today) {
		g.today = day
		g.sentToday = 0
	}

	remaining := g.dailyCap - g.sentToday
	if remaining <= 0 {
		return nil
	}

	n := g.perBatch
	if n > remaining {
		n = remaining
	}

	events := make([]*models.RawEvent, 0, n)
	for i := 0; i < n; i++ {
		events = append(events, g.event(now))
	}
	g.sentToday += n
	return events
}

func (g *generator) event(now time.Time) *models.RawEvent {
	content := g.catalogue[g.rng.Intn(len(g.catalogue))]
	eventType := eventTypes[g.rng.Intn(len(eventTypes))]
	device := devices[g.rng.Intn(len(devices))]

	e := &models.RawEvent{
		ID:        g.nextID,
		ContentID: content.ID,
		UserID:    g.users[g.rng.Intn(len(g.users))],
		EventType: eventType,
		EventTS:   now.UTC(),
		Device:    &device,
		RawPayload: map[string]any{
			"source": "generator",
			"slug":   content.Slug,
		},
	}
	g.nextID++

	if eventType.RequiresDuration() {
		// Watch anywhere from 5s up to the content length, or up to
		// 30 minutes when the length is unknown.
		maxMS := int64(30 * 60 * 1000)
		if content.LengthSeconds != nil && *content.LengthSeconds > 5 {
			maxMS = *content.LengthSeconds * 1000
		}
		duration := 5000 + g.rng.Int63n(maxMS-4999)
		e.DurationMS = &duration
	}

	return e
}
