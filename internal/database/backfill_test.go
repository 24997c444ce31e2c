// Engagestream - Real-Time Engagement Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/engagestream

package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tomtom215/engagestream/internal/models"
)

// joinedRow is one row of the engagement_events ⋈ content page query.
type joinedRow struct {
	raw     models.RawEvent
	content models.Content
}

// fakeRows serves canned joined rows through the pgx.Rows interface.
type fakeRows struct {
	rows []joinedRow
	idx  int
	err  error
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	return r.idx < len(r.rows)
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.idx]
	r.idx++

	*dest[0].(*int64) = row.raw.ID
	*dest[1].(*uuid.UUID) = row.raw.ContentID
	*dest[2].(*uuid.UUID) = row.raw.UserID
	*dest[3].(*models.EventType) = row.raw.EventType
	*dest[4].(*time.Time) = row.raw.EventTS
	*dest[5].(**int64) = row.raw.DurationMS
	*dest[6].(**string) = row.raw.Device
	*dest[7].(*map[string]any) = row.raw.RawPayload
	*dest[8].(*uuid.UUID) = row.content.ID
	*dest[9].(*string) = row.content.Slug
	*dest[10].(*string) = row.content.Title
	*dest[11].(*models.ContentType) = row.content.ContentType
	*dest[12].(**int64) = row.content.LengthSeconds
	*dest[13].(*time.Time) = row.content.PublishTS
	return nil
}

// pagingQuerier slices a canned row set by the LIMIT/OFFSET arguments.
type pagingQuerier struct {
	rows     []joinedRow
	failWith error
}

func (q *pagingQuerier) Query(_ context.Context, _ string, args ...any) (pgx.Rows, error) {
	if q.failWith != nil {
		return nil, q.failWith
	}

	limit := args[2].(int)
	offset := args[3].(int)

	if offset >= len(q.rows) {
		return &fakeRows{}, nil
	}
	end := offset + limit
	if end > len(q.rows) {
		end = len(q.rows)
	}
	return &fakeRows{rows: q.rows[offset:end]}, nil
}

func (q *pagingQuerier) QueryRow(context.Context, string, ...any) pgx.Row {
	return &fakeRow{scan: func(...any) error { return errors.New("not implemented") }}
}

func makeJoinedRows(n int) []joinedRow {
	contentID := uuid.New()
	length := int64(300)
	content := models.Content{
		ID:            contentID,
		Slug:          "v1",
		Title:         "First Video",
		ContentType:   models.ContentVideo,
		LengthSeconds: &length,
	}

	rows := make([]joinedRow, 0, n)
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		d := int64(60000)
		rows = append(rows, joinedRow{
			raw: models.RawEvent{
				ID:         int64(i + 1),
				ContentID:  contentID,
				UserID:     uuid.New(),
				EventType:  models.EventFinish,
				EventTS:    base.Add(time.Duration(i) * time.Minute),
				DurationMS: &d,
			},
			content: content,
		})
	}
	return rows
}

func TestPageEnrichedEvents(t *testing.T) {
	q := &pagingQuerier{rows: makeJoinedRows(5)}
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)

	page, err := PageEnrichedEvents(context.Background(), q, start, end, 3, 0)
	if err != nil {
		t.Fatalf("PageEnrichedEvents() failed: %v", err)
	}
	if len(page) != 3 {
		t.Fatalf("page size = %d, want 3", len(page))
	}

	// Rows arrive enriched: derived metrics computed from the join.
	first := page[0]
	if first.ID != 1 {
		t.Errorf("first event id = %d, want 1", first.ID)
	}
	if first.EngagementSeconds == nil || first.EngagementSeconds.String() != "60" {
		t.Errorf("EngagementSeconds = %v, want 60", first.EngagementSeconds)
	}
	if first.EngagementPct == nil || first.EngagementPct.String() != "20" {
		t.Errorf("EngagementPct = %v, want 20", first.EngagementPct)
	}

	// Second page picks up where the first left off.
	page2, err := PageEnrichedEvents(context.Background(), q, start, end, 3, 3)
	if err != nil {
		t.Fatalf("second page failed: %v", err)
	}
	if len(page2) != 2 {
		t.Fatalf("second page size = %d, want 2", len(page2))
	}
	if page2[0].ID != 4 {
		t.Errorf("second page first id = %d, want 4", page2[0].ID)
	}

	// Exhausted window yields an empty page, not an error.
	page3, err := PageEnrichedEvents(context.Background(), q, start, end, 3, 5)
	if err != nil {
		t.Fatalf("empty page failed: %v", err)
	}
	if len(page3) != 0 {
		t.Errorf("expected empty page, got %d rows", len(page3))
	}
}

func TestPageEnrichedEventsStoreError(t *testing.T) {
	q := &pagingQuerier{failWith: errors.New("connection reset")}

	_, err := PageEnrichedEvents(context.Background(), q, time.Now().Add(-time.Hour), time.Now(), 10, 0)
	if err == nil {
		t.Fatal("expected store error to propagate")
	}
}
