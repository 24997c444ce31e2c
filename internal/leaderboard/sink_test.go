// Engagestream - Real-Time Engagement Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/engagestream

package leaderboard

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tomtom215/engagestream/internal/config"
	"github.com/tomtom215/engagestream/internal/models"
)

func newTestSink(t *testing.T) (*Sink, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := config.RedisConfig{
		URL:           "redis://" + srv.Addr(),
		MaxConns:      5,
		WindowMinutes: 10,
		TopContentKey: "top_content_last_10min",
		TTL:           15 * time.Minute,
	}
	return NewWithClient(client, cfg), srv
}

func ptrInt64(v int64) *int64 { return &v }

func enrichedEvent(t models.EventType, contentID, userID uuid.UUID, durationMS *int64, length *int64) *models.EnrichedEvent {
	raw := &models.RawEvent{
		ID:         time.Now().UnixNano(),
		ContentID:  contentID,
		UserID:     userID,
		EventType:  t,
		EventTS:    time.Now().UTC(),
		DurationMS: durationMS,
	}
	content := &models.Content{
		ID:            contentID,
		Slug:          "v1",
		Title:         "First Video",
		ContentType:   models.ContentVideo,
		LengthSeconds: length,
	}
	return models.NewEnrichedEvent(raw, content)
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestScoreFinishWithEngagement(t *testing.T) {
	// finish at 20% engagement: 3.0 × 1.20 = 3.60
	e := enrichedEvent(models.EventFinish, uuid.New(), uuid.New(), ptrInt64(60000), ptrInt64(300))
	if got := Score(e); !approxEqual(got, 3.60) {
		t.Errorf("Score() = %v, want 3.60", got)
	}
}

func TestScoreClickWithoutEngagement(t *testing.T) {
	// click with no engagement: base 0.3, multiplier 1
	e := enrichedEvent(models.EventClick, uuid.New(), uuid.New(), nil, nil)
	if got := Score(e); !approxEqual(got, 0.3) {
		t.Errorf("Score() = %v, want 0.3", got)
	}
}

func TestScoreMultiplierCapped(t *testing.T) {
	// 400s against 100s content: pct 400, bonus capped at 1.0 → play 1.0 × 2
	e := enrichedEvent(models.EventPlay, uuid.New(), uuid.New(), ptrInt64(400000), ptrInt64(100))
	if got := Score(e); !approxEqual(got, 2.0) {
		t.Errorf("Score() = %v, want 2.0", got)
	}
}

func TestProcessWritesAllKeyGroups(t *testing.T) {
	sink, srv := newTestSink(t)
	contentID := uuid.New()
	userID := uuid.New()

	device := "ios"
	raw := &models.RawEvent{
		ID:         1,
		ContentID:  contentID,
		UserID:     userID,
		EventType:  models.EventFinish,
		EventTS:    time.Now().UTC(),
		DurationMS: ptrInt64(60000),
		Device:     &device,
	}
	content := &models.Content{
		ID:            contentID,
		Slug:          "v1",
		Title:         "First Video",
		ContentType:   models.ContentVideo,
		LengthSeconds: ptrInt64(300),
	}
	e := models.NewEnrichedEvent(raw, content)
	if err := sink.Process(context.Background(), e); err != nil {
		t.Fatalf("Process() failed: %v", err)
	}

	id := contentID.String()

	if !srv.Exists("recent_events:" + id) {
		t.Error("recent-events stream missing")
	}

	// The stream summary carries the engagement fields and the device.
	events, err := sink.RecentEvents(context.Background(), id, 1)
	if err != nil || len(events) != 1 {
		t.Fatalf("RecentEvents() = %d events, err %v", len(events), err)
	}
	fields := events[0].Fields
	if fields["engagement_seconds"] != "60" {
		t.Errorf("stream engagement_seconds = %q, want 60", fields["engagement_seconds"])
	}
	if fields["engagement_pct"] != "20" {
		t.Errorf("stream engagement_pct = %q, want 20", fields["engagement_pct"])
	}
	if fields["device"] != "ios" {
		t.Errorf("stream device = %q, want ios", fields["device"])
	}
	if got := srv.HGet("content_stats:"+id, "total_events"); got != "1" {
		t.Errorf("total_events = %q, want 1", got)
	}
	isMember, err := sink.client.SIsMember(context.Background(), "content_stats:"+id+":users", userID.String()).Result()
	if err != nil || !isMember {
		t.Errorf("user missing from unique-users set (member=%v, err=%v)", isMember, err)
	}
	if !srv.Exists("content_window:" + id + ":10min") {
		t.Error("window zset missing")
	}

	score, err := sink.client.ZScore(context.Background(), sink.topKey, id).Result()
	if err != nil {
		t.Fatalf("scoreboard entry missing: %v", err)
	}
	if !approxEqual(score, 3.60) {
		t.Errorf("scoreboard score = %v, want 3.60", score)
	}
	if got := srv.HGet("content_meta:"+id, "slug"); got != "v1" {
		t.Errorf("content_meta slug = %q, want v1", got)
	}

	// TTLs are set on every group.
	if srv.TTL("content_stats:"+id) <= 0 {
		t.Error("stats key has no TTL")
	}
	if srv.TTL("recent_events:"+id) <= 0 {
		t.Error("stream key has no TTL")
	}
}

func TestProcessZeroScoreSkipsScoreboard(t *testing.T) {
	sink, srv := newTestSink(t)
	contentID := uuid.New()

	// Force a zero base with an unscored type on an already-enriched
	// value (decode-time validation would reject it upstream).
	e := enrichedEvent(models.EventClick, contentID, uuid.New(), nil, nil)
	e.EventType = models.EventType("impression")
	if err := sink.Process(context.Background(), e); err != nil {
		t.Fatalf("Process() failed: %v", err)
	}

	if srv.Exists(sink.topKey) {
		t.Error("scoreboard updated for zero-score event")
	}
	if srv.Exists("content_meta:" + contentID.String()) {
		t.Error("metadata written for zero-score event")
	}
	if got := srv.HGet("content_stats:"+contentID.String(), "total_events"); got != "1" {
		t.Errorf("total_events = %q, want 1 (counters are unconditional)", got)
	}
}

func TestProcessAccumulates(t *testing.T) {
	sink, _ := newTestSink(t)
	contentID := uuid.New()
	userID := uuid.New()
	ctx := context.Background()

	// The same event applied twice counts twice: at-least-once delivery
	// surfaces as double counting here.
	e := enrichedEvent(models.EventFinish, contentID, userID, ptrInt64(60000), ptrInt64(300))
	for i := 0; i < 2; i++ {
		if err := sink.Process(ctx, e); err != nil {
			t.Fatalf("Process() failed: %v", err)
		}
	}

	stats, err := sink.ContentStats(ctx, contentID.String())
	if err != nil {
		t.Fatalf("ContentStats() failed: %v", err)
	}
	if stats.Stats.TotalEvents != 2 {
		t.Errorf("TotalEvents = %d, want 2", stats.Stats.TotalEvents)
	}
	if !approxEqual(stats.Stats.TotalEngagementSeconds, 120.0) {
		t.Errorf("TotalEngagementSeconds = %v, want 120", stats.Stats.TotalEngagementSeconds)
	}
	// Same user both times.
	if stats.UniqueUsers != 1 {
		t.Errorf("UniqueUsers = %d, want 1", stats.UniqueUsers)
	}

	score, _ := sink.client.ZScore(ctx, sink.topKey, contentID.String()).Result()
	if !approxEqual(score, 7.20) {
		t.Errorf("accumulated score = %v, want 7.20", score)
	}
}

func TestTopNOrdering(t *testing.T) {
	sink, _ := newTestSink(t)
	ctx := context.Background()

	contentA := uuid.New()
	contentB := uuid.New()

	// A: 10 finishes at 100% engagement → 10 × 3.0 × 2 = 60.0
	for i := 0; i < 10; i++ {
		e := enrichedEvent(models.EventFinish, contentA, uuid.New(), ptrInt64(300000), ptrInt64(300))
		if err := sink.Process(ctx, e); err != nil {
			t.Fatalf("Process(A) failed: %v", err)
		}
	}
	// B: 5 plays at 0% engagement → 5 × 1.0 = 5.0
	for i := 0; i < 5; i++ {
		e := enrichedEvent(models.EventPlay, contentB, uuid.New(), ptrInt64(0), ptrInt64(300))
		if err := sink.Process(ctx, e); err != nil {
			t.Fatalf("Process(B) failed: %v", err)
		}
	}

	ranks, err := sink.TopN(ctx, 2)
	if err != nil {
		t.Fatalf("TopN() failed: %v", err)
	}
	if len(ranks) != 2 {
		t.Fatalf("TopN() returned %d rows, want 2", len(ranks))
	}

	if ranks[0].ContentID != contentA.String() {
		t.Errorf("rank 1 = %s, want content A", ranks[0].ContentID)
	}
	if !approxEqual(ranks[0].Score, 60.0) {
		t.Errorf("rank 1 score = %v, want 60.0", ranks[0].Score)
	}
	if ranks[1].ContentID != contentB.String() {
		t.Errorf("rank 2 = %s, want content B", ranks[1].ContentID)
	}
	if !approxEqual(ranks[1].Score, 5.0) {
		t.Errorf("rank 2 score = %v, want 5.0", ranks[1].Score)
	}

	if ranks[0].UniqueUsers != 10 {
		t.Errorf("rank 1 unique users = %d, want 10", ranks[0].UniqueUsers)
	}
	if ranks[0].Metadata["slug"] != "v1" {
		t.Errorf("rank 1 metadata slug = %q", ranks[0].Metadata["slug"])
	}
}

func TestRecentEventsNewestFirst(t *testing.T) {
	sink, _ := newTestSink(t)
	ctx := context.Background()
	contentID := uuid.New()

	for i := 0; i < 5; i++ {
		e := enrichedEvent(models.EventPlay, contentID, uuid.New(), ptrInt64(int64(i)*1000), ptrInt64(300))
		e.ID = int64(i + 1)
		if err := sink.Process(ctx, e); err != nil {
			t.Fatalf("Process() failed: %v", err)
		}
	}

	events, err := sink.RecentEvents(ctx, contentID.String(), 3)
	if err != nil {
		t.Fatalf("RecentEvents() failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("RecentEvents() returned %d, want 3", len(events))
	}
	if events[0].Fields["event_id"] != "5" {
		t.Errorf("newest event_id = %q, want 5", events[0].Fields["event_id"])
	}
}

func TestWindowTrimsOldEntries(t *testing.T) {
	sink, srv := newTestSink(t)
	ctx := context.Background()
	contentID := uuid.New()

	wkey := sink.windowKey(contentID.String())

	// Seed a stale member well outside the window.
	stale := time.Now().Add(-30 * time.Minute).Unix()
	if _, err := srv.ZAdd(wkey, float64(stale), "999:"+time.Now().Format("20060102")); err != nil {
		t.Fatalf("seed stale member: %v", err)
	}

	e := enrichedEvent(models.EventPlay, contentID, uuid.New(), ptrInt64(1000), ptrInt64(300))
	if err := sink.Process(ctx, e); err != nil {
		t.Fatalf("Process() failed: %v", err)
	}

	n, err := sink.client.ZCard(ctx, wkey).Result()
	if err != nil {
		t.Fatalf("ZCard failed: %v", err)
	}
	if n != 1 {
		t.Errorf("window size = %d, want 1 (stale entry trimmed)", n)
	}
}

func TestCleanupRemovesEmptyKeys(t *testing.T) {
	sink, srv := newTestSink(t)
	ctx := context.Background()

	// An all-stale window set should be trimmed away and deleted.
	staleKey := "content_window:" + uuid.NewString() + ":10min"
	stale := time.Now().Add(-time.Hour).Unix()
	if _, err := srv.ZAdd(staleKey, float64(stale), "1:1"); err != nil {
		t.Fatalf("seed stale window: %v", err)
	}

	// A live window set must survive.
	liveID := uuid.New()
	e := enrichedEvent(models.EventPlay, liveID, uuid.New(), ptrInt64(1000), ptrInt64(300))
	if err := sink.Process(ctx, e); err != nil {
		t.Fatalf("Process() failed: %v", err)
	}

	if err := sink.Cleanup(ctx); err != nil {
		t.Fatalf("Cleanup() failed: %v", err)
	}

	if srv.Exists(staleKey) {
		t.Error("stale window key not deleted")
	}
	if !srv.Exists(sink.windowKey(liveID.String())) {
		t.Error("live window key deleted")
	}
	if !srv.Exists("recent_events:" + liveID.String()) {
		t.Error("live stream deleted")
	}
}
