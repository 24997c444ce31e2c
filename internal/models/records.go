// Engagestream - Real-Time Engagement Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/engagestream

package models

import (
	"time"

	"github.com/goccy/go-json"
)

// WarehouseRecord is the flattened, warehouse-shaped row for one enriched
// event. Derived decimals are serialised to float64 here; the compute
// domain stays decimal.
type WarehouseRecord struct {
	EventID              int64
	ContentID            string
	UserID               string
	EventType            string
	EventTimestamp       time.Time
	DurationMS           *int64
	EngagementSeconds    *float64
	EngagementPct        *float64
	Device               *string
	ContentSlug          string
	ContentTitle         string
	ContentType          string
	ContentLengthSeconds *int64
	RawPayload           *string
	ProcessedTimestamp   time.Time
}

// NewWarehouseRecord flattens an enriched event into a warehouse row.
// The raw payload map is serialised to a JSON string for the JSON column.
func NewWarehouseRecord(e *EnrichedEvent, now time.Time) *WarehouseRecord {
	r := &WarehouseRecord{
		EventID:              e.ID,
		ContentID:            e.ContentID.String(),
		UserID:               e.UserID.String(),
		EventType:            string(e.EventType),
		EventTimestamp:       e.EventTS,
		DurationMS:           e.DurationMS,
		EngagementSeconds:    e.EngagementSecondsFloat(),
		EngagementPct:        e.EngagementPctFloat(),
		Device:               e.Device,
		ContentSlug:          e.Content.Slug,
		ContentTitle:         e.Content.Title,
		ContentType:          string(e.Content.ContentType),
		ContentLengthSeconds: e.Content.LengthSeconds,
		ProcessedTimestamp:   now,
	}

	if len(e.RawPayload) > 0 {
		if b, err := json.Marshal(e.RawPayload); err == nil {
			s := string(b)
			r.RawPayload = &s
		}
	}

	return r
}

// ExternalPayload is the JSON envelope POSTed to the external endpoint
// for a single event.
type ExternalPayload struct {
	EventID   int64            `json:"event_id"`
	ContentID string           `json:"content_id"`
	UserID    string           `json:"user_id"`
	EventType string           `json:"event_type"`
	Timestamp string           `json:"timestamp"`
	Metadata  ExternalMetadata `json:"metadata"`
}

// ExternalMetadata carries the enrichment results inside the envelope.
type ExternalMetadata struct {
	ContentTitle      string         `json:"content_title"`
	ContentType       string         `json:"content_type"`
	Device            *string        `json:"device,omitempty"`
	EngagementSeconds *float64       `json:"engagement_seconds,omitempty"`
	EngagementPct     *float64       `json:"engagement_pct,omitempty"`
	RawPayload        map[string]any `json:"raw_payload,omitempty"`
}

// NewExternalPayload builds the outbound envelope for an enriched event.
func NewExternalPayload(e *EnrichedEvent) *ExternalPayload {
	return &ExternalPayload{
		EventID:   e.ID,
		ContentID: e.ContentID.String(),
		UserID:    e.UserID.String(),
		EventType: string(e.EventType),
		Timestamp: e.EventTS.UTC().Format(time.RFC3339),
		Metadata: ExternalMetadata{
			ContentTitle:      e.Content.Title,
			ContentType:       string(e.Content.ContentType),
			Device:            e.Device,
			EngagementSeconds: e.EngagementSecondsFloat(),
			EngagementPct:     e.EngagementPctFloat(),
			RawPayload:        e.RawPayload,
		},
	}
}
