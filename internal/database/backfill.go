// Engagestream - Real-Time Engagement Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/engagestream

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/engagestream/internal/models"
)

// The inner join skips events whose content row is gone; such orphans
// could never construct an enriched event and are dropped in streaming
// mode too. Ordering by (event_ts, id) makes paging deterministic.
const pageEventsQuery = `
SELECT
	e.id, e.content_id, e.user_id, e.event_type, e.event_ts,
	e.duration_ms, e.device, e.raw_payload,
	c.id, c.slug, c.title, c.content_type, c.length_seconds, c.publish_ts
FROM engagement_events e
JOIN content c ON c.id = e.content_id
WHERE e.event_ts >= $1 AND e.event_ts < $2
ORDER BY e.event_ts, e.id
LIMIT $3 OFFSET $4`

// PageEnrichedEvents reads one page of historical events joined with their
// content metadata and constructs enriched events. An empty page means the
// replay window is exhausted.
func PageEnrichedEvents(ctx context.Context, db Querier, start, end time.Time, limit, offset int) ([]*models.EnrichedEvent, error) {
	rows, err := db.Query(ctx, pageEventsQuery, start, end, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("page events: %w", err)
	}
	defer rows.Close()

	events := make([]*models.EnrichedEvent, 0, limit)
	for rows.Next() {
		raw := &models.RawEvent{}
		content := &models.Content{}
		err := rows.Scan(
			&raw.ID,
			&raw.ContentID,
			&raw.UserID,
			&raw.EventType,
			&raw.EventTS,
			&raw.DurationMS,
			&raw.Device,
			&raw.RawPayload,
			&content.ID,
			&content.Slug,
			&content.Title,
			&content.ContentType,
			&content.LengthSeconds,
			&content.PublishTS,
		)
		if err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		events = append(events, models.NewEnrichedEvent(raw, content))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event rows: %w", err)
	}

	return events, nil
}

// ListContent returns the full content catalogue. The load generator uses
// it to publish events referencing real content rows.
func ListContent(ctx context.Context, db Querier) ([]*models.Content, error) {
	rows, err := db.Query(ctx, `SELECT id, slug, title, content_type, length_seconds, publish_ts FROM content`)
	if err != nil {
		return nil, fmt.Errorf("list content: %w", err)
	}
	defer rows.Close()

	var catalogue []*models.Content
	for rows.Next() {
		c := &models.Content{}
		if err := rows.Scan(&c.ID, &c.Slug, &c.Title, &c.ContentType, &c.LengthSeconds, &c.PublishTS); err != nil {
			return nil, fmt.Errorf("scan content row: %w", err)
		}
		catalogue = append(catalogue, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate content rows: %w", err)
	}

	return catalogue, nil
}
