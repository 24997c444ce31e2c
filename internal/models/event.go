// Engagestream - Real-Time Engagement Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/engagestream

// Package models defines the event and content types flowing through the
// pipeline, their validation rules, and the derived-metric construction.
package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType identifies a user interaction with content.
type EventType string

// Valid event types.
const (
	EventPlay   EventType = "play"
	EventPause  EventType = "pause"
	EventFinish EventType = "finish"
	EventClick  EventType = "click"
)

// Valid reports whether the event type is a known member of the enum.
func (t EventType) Valid() bool {
	switch t {
	case EventPlay, EventPause, EventFinish, EventClick:
		return true
	default:
		return false
	}
}

// RequiresDuration reports whether duration_ms is mandatory for this type.
// Playback events carry a duration; clicks may omit it.
func (t EventType) RequiresDuration() bool {
	switch t {
	case EventPlay, EventPause, EventFinish:
		return true
	default:
		return false
	}
}

// ContentType identifies the kind of content an event refers to.
type ContentType string

// Known content types. Unknown values pass through untouched; only the
// event type enum is enforced.
const (
	ContentPodcast    ContentType = "podcast"
	ContentNewsletter ContentType = "newsletter"
	ContentVideo      ContentType = "video"
)

// ValidationError describes a rejected raw event field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

// RawEvent is a single engagement event as read from the log or from the
// relational event table.
type RawEvent struct {
	ID         int64          `json:"id"`
	ContentID  uuid.UUID      `json:"content_id"`
	UserID     uuid.UUID      `json:"user_id"`
	EventType  EventType      `json:"event_type"`
	EventTS    time.Time      `json:"event_ts"`
	DurationMS *int64         `json:"duration_ms,omitempty"`
	Device     *string        `json:"device,omitempty"`
	RawPayload map[string]any `json:"raw_payload,omitempty"`
}

// Validate enforces the raw event schema: the event type enum, the
// conditional duration rule, and non-zero identifiers.
func (e *RawEvent) Validate() error {
	if !e.EventType.Valid() {
		return &ValidationError{Field: "event_type", Message: fmt.Sprintf("unknown type %q", e.EventType)}
	}
	if e.ContentID == uuid.Nil {
		return &ValidationError{Field: "content_id", Message: "missing or zero"}
	}
	if e.UserID == uuid.Nil {
		return &ValidationError{Field: "user_id", Message: "missing or zero"}
	}
	if e.EventTS.IsZero() {
		return &ValidationError{Field: "event_ts", Message: "missing"}
	}
	if e.EventType.RequiresDuration() && e.DurationMS == nil {
		return &ValidationError{Field: "duration_ms", Message: fmt.Sprintf("required for event_type %q", e.EventType)}
	}
	if e.DurationMS != nil && *e.DurationMS < 0 {
		return &ValidationError{Field: "duration_ms", Message: "must be >= 0"}
	}
	return nil
}

// Content is the slow-changing metadata record for a piece of content.
type Content struct {
	ID            uuid.UUID   `json:"id"`
	Slug          string      `json:"slug"`
	Title         string      `json:"title"`
	ContentType   ContentType `json:"content_type"`
	LengthSeconds *int64      `json:"length_seconds,omitempty"`
	PublishTS     time.Time   `json:"publish_ts"`
}
