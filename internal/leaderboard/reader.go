// Engagestream - Real-Time Engagement Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/engagestream

package leaderboard

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// ContentRank is one scoreboard row with its composite view.
type ContentRank struct {
	ContentID   string            `json:"content_id"`
	Score       float64           `json:"score"`
	Metadata    map[string]string `json:"metadata"`
	Stats       ContentCounters   `json:"stats"`
	UniqueUsers int64             `json:"unique_users"`
}

// ContentCounters are the cumulative per-content counters.
type ContentCounters struct {
	TotalEvents            int64   `json:"total_events"`
	TotalEngagementSeconds float64 `json:"total_engagement_seconds"`
}

// StatsView is the full per-content stats answer.
type StatsView struct {
	ContentID    string          `json:"content_id"`
	Stats        ContentCounters `json:"stats"`
	UniqueUsers  int64           `json:"unique_users"`
	WindowEvents int64           `json:"window_events"`
}

// StreamEvent is one recent-events stream entry.
type StreamEvent struct {
	ID     string            `json:"id"`
	Fields map[string]string `json:"fields"`
}

// TopN returns the highest-scored content ids with metadata, counters
// and unique-user counts attached.
func (s *Sink) TopN(ctx context.Context, limit int) ([]ContentRank, error) {
	entries, err := s.client.ZRevRangeWithScores(ctx, s.topKey, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read scoreboard: %w", err)
	}

	ranks := make([]ContentRank, 0, len(entries))
	for _, entry := range entries {
		contentID, _ := entry.Member.(string)

		meta, err := s.client.HGetAll(ctx, metaKey(contentID)).Result()
		if err != nil {
			return nil, fmt.Errorf("read metadata for %s: %w", contentID, err)
		}
		counters, users, err := s.readCounters(ctx, contentID)
		if err != nil {
			return nil, err
		}

		ranks = append(ranks, ContentRank{
			ContentID:   contentID,
			Score:       entry.Score,
			Metadata:    meta,
			Stats:       counters,
			UniqueUsers: users,
		})
	}

	return ranks, nil
}

// ContentStats returns counters, unique users, and the live window size
// for one content id.
func (s *Sink) ContentStats(ctx context.Context, contentID string) (*StatsView, error) {
	counters, users, err := s.readCounters(ctx, contentID)
	if err != nil {
		return nil, err
	}

	windowEvents, err := s.client.ZCard(ctx, s.windowKey(contentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read window for %s: %w", contentID, err)
	}

	return &StatsView{
		ContentID:    contentID,
		Stats:        counters,
		UniqueUsers:  users,
		WindowEvents: windowEvents,
	}, nil
}

// RecentEvents returns the last n stream entries for a content id,
// newest first.
func (s *Sink) RecentEvents(ctx context.Context, contentID string, n int) ([]StreamEvent, error) {
	messages, err := s.client.XRevRangeN(ctx, streamKey(contentID), "+", "-", int64(n)).Result()
	if err != nil {
		return nil, fmt.Errorf("read stream for %s: %w", contentID, err)
	}

	events := make([]StreamEvent, 0, len(messages))
	for _, msg := range messages {
		fields := make(map[string]string, len(msg.Values))
		for k, v := range msg.Values {
			fields[k] = fmt.Sprint(v)
		}
		events = append(events, StreamEvent{ID: msg.ID, Fields: fields})
	}

	return events, nil
}

func (s *Sink) readCounters(ctx context.Context, contentID string) (ContentCounters, int64, error) {
	var counters ContentCounters

	raw, err := s.client.HGetAll(ctx, statsKey(contentID)).Result()
	if err != nil {
		return counters, 0, fmt.Errorf("read counters for %s: %w", contentID, err)
	}
	if v, ok := raw["total_events"]; ok {
		counters.TotalEvents, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, ok := raw["total_engagement_seconds"]; ok {
		counters.TotalEngagementSeconds, _ = strconv.ParseFloat(v, 64)
	}

	users, err := s.client.SCard(ctx, usersKey(contentID)).Result()
	if err != nil && err != redis.Nil {
		return counters, 0, fmt.Errorf("count users for %s: %w", contentID, err)
	}

	return counters, users, nil
}
