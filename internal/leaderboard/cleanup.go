// Engagestream - Real-Time Engagement Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/engagestream

package leaderboard

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/engagestream/internal/logging"
)

// cleanupInterval is how often the background sweep runs.
const cleanupInterval = 5 * time.Minute

// Cleaner is the background sweep over leaderboard keys: it trims window
// sets to the cutoff and deletes keys left empty. Runs as a supervised
// suture service.
type Cleaner struct {
	sink     *Sink
	interval time.Duration
}

// NewCleaner creates the sweep service for a sink.
func NewCleaner(sink *Sink) *Cleaner {
	return &Cleaner{sink: sink, interval: cleanupInterval}
}

// String names the service for supervisor logs.
func (c *Cleaner) String() string { return "leaderboard-cleaner" }

// Serve runs the sweep until the context is cancelled.
func (c *Cleaner) Serve(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.sink.Cleanup(ctx); err != nil {
				logging.Error().Err(err).Msg("Leaderboard cleanup failed")
			}
		}
	}
}

// Cleanup performs one sweep: trim every window set to the cutoff, then
// delete window sets and recent-event streams that ended up empty.
// Hashes and sets vanish on their own when their TTL fires or their last
// member is removed; streams and trimmed zsets need the explicit pass.
func (s *Sink) Cleanup(ctx context.Context) error {
	cutoff := time.Now().Unix() - int64(s.windowMinutes)*60

	trimmed, removed := 0, 0

	err := s.scanKeys(ctx, fmt.Sprintf("content_window:*:%dmin", s.windowMinutes), func(key string) error {
		if err := s.client.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("(%d", cutoff)).Err(); err != nil {
			return err
		}
		trimmed++

		n, err := s.client.ZCard(ctx, key).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			if err := s.client.Del(ctx, key).Err(); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sweep window keys: %w", err)
	}

	err = s.scanKeys(ctx, "recent_events:*", func(key string) error {
		n, err := s.client.XLen(ctx, key).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			if err := s.client.Del(ctx, key).Err(); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sweep streams: %w", err)
	}

	logging.Debug().
		Int("windows_trimmed", trimmed).
		Int("keys_removed", removed).
		Msg("Leaderboard cleanup pass complete")

	return nil
}

// scanKeys iterates keys matching pattern without blocking the store.
func (s *Sink) scanKeys(ctx context.Context, pattern string, fn func(key string) error) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return err
		}
		for _, key := range keys {
			if err := fn(key); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
