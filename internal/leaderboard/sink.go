// Engagestream - Real-Time Engagement Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/engagestream

// Package leaderboard maintains the real-time aggregates in Redis: a
// recent-events stream, cumulative per-content counters with unique-user
// sets, a sliding activity window, and the windowed top-N scoreboard.
// Writes are approximate by design; a failed update is logged and never
// blocks offset commit.
package leaderboard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tomtom215/engagestream/internal/config"
	"github.com/tomtom215/engagestream/internal/logging"
	"github.com/tomtom215/engagestream/internal/models"
)

// streamMaxLen caps each recent-events stream.
const streamMaxLen = 1000

// streamTTL expires idle recent-events streams.
const streamTTL = time.Hour

// Sink writes per-event aggregates to the Redis leaderboard keys.
type Sink struct {
	client        redis.UniversalClient
	ttl           time.Duration
	windowMinutes int
	topKey        string
}

// New connects to Redis and verifies connectivity. A failure here is
// fatal to startup: the pipeline is not useful without its primary
// real-time sink.
func New(ctx context.Context, cfg config.RedisConfig) (*Sink, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.PoolSize = cfg.MaxConns

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	logging.Info().
		Int("window_minutes", cfg.WindowMinutes).
		Str("top_key", cfg.TopContentKey).
		Msg("Leaderboard sink connected")

	return NewWithClient(client, cfg), nil
}

// NewWithClient wraps an existing client. Tests use this with miniredis.
func NewWithClient(client redis.UniversalClient, cfg config.RedisConfig) *Sink {
	return &Sink{
		client:        client,
		ttl:           cfg.TTL,
		windowMinutes: cfg.WindowMinutes,
		topKey:        cfg.TopContentKey,
	}
}

// Key layouts. The window suffix carries the configured width so a
// reconfigured window does not inherit stale members.
func streamKey(contentID string) string { return "recent_events:" + contentID }
func statsKey(contentID string) string  { return "content_stats:" + contentID }
func usersKey(contentID string) string  { return "content_stats:" + contentID + ":users" }
func metaKey(contentID string) string   { return "content_meta:" + contentID }

func (s *Sink) windowKey(contentID string) string {
	return fmt.Sprintf("content_window:%s:%dmin", contentID, s.windowMinutes)
}

// Name identifies the sink in logs and metrics.
func (s *Sink) Name() string { return "leaderboard" }

// Process applies all four write groups for one enriched event in a
// single pipelined round trip.
func (s *Sink) Process(ctx context.Context, e *models.EnrichedEvent) error {
	now := time.Now()
	contentID := e.ContentID.String()
	score := Score(e)

	pipe := s.client.TxPipeline()

	// 1. Recent-events stream: capped, expiring summary of activity.
	streamValues := map[string]any{
		"event_id":   e.ID,
		"user_id":    e.UserID.String(),
		"event_type": string(e.EventType),
		"timestamp":  e.EventTS.UTC().Format(time.RFC3339),
	}
	if es := e.EngagementSecondsFloat(); es != nil {
		streamValues["engagement_seconds"] = *es
	}
	if pct := e.EngagementPctFloat(); pct != nil {
		streamValues["engagement_pct"] = *pct
	}
	if e.Device != nil {
		streamValues["device"] = *e.Device
	}
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(contentID),
		MaxLen: streamMaxLen,
		Approx: true,
		Values: streamValues,
	})
	pipe.Expire(ctx, streamKey(contentID), streamTTL)

	// 2. Cumulative counters and unique users.
	pipe.HIncrBy(ctx, statsKey(contentID), "total_events", 1)
	if es := e.EngagementSecondsFloat(); es != nil {
		pipe.HIncrByFloat(ctx, statsKey(contentID), "total_engagement_seconds", *es)
	}
	pipe.SAdd(ctx, usersKey(contentID), e.UserID.String())
	pipe.Expire(ctx, statsKey(contentID), s.ttl)
	pipe.Expire(ctx, usersKey(contentID), s.ttl)

	// 3. Sliding activity window, trimmed by score (the event time).
	// event_id keeps members unique when timestamps collide.
	wkey := s.windowKey(contentID)
	cutoff := now.Unix() - int64(s.windowMinutes)*60
	pipe.ZAdd(ctx, wkey, redis.Z{
		Score:  float64(now.Unix()),
		Member: fmt.Sprintf("%d:%d", e.ID, now.Unix()),
	})
	pipe.ZRemRangeByScore(ctx, wkey, "-inf", fmt.Sprintf("(%d", cutoff))
	pipe.Expire(ctx, wkey, s.ttl)

	// 4. Top-N scoreboard and the metadata cache that backs its reads.
	if score > 0 {
		pipe.ZIncrBy(ctx, s.topKey, score, contentID)
		pipe.HSet(ctx, metaKey(contentID), map[string]any{
			"slug":         e.Content.Slug,
			"title":        e.Content.Title,
			"content_type": string(e.Content.ContentType),
			"last_updated": now.UTC().Format(time.RFC3339),
		})
		pipe.Expire(ctx, s.topKey, s.ttl)
		pipe.Expire(ctx, metaKey(contentID), s.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("leaderboard update for event %d: %w", e.ID, err)
	}

	return nil
}

// Healthy reports whether the store answers a ping.
func (s *Sink) Healthy(ctx context.Context) bool {
	return s.client.Ping(ctx).Err() == nil
}

// Close releases the client.
func (s *Sink) Close() error {
	return s.client.Close()
}
