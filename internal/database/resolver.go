// Engagestream - Real-Time Engagement Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/engagestream

package database

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/tomtom215/engagestream/internal/metrics"
	"github.com/tomtom215/engagestream/internal/models"
)

// ErrContentNotFound marks a lookup for a content id that does not exist.
// Callers treat it as non-fatal (the event is dropped); any other error
// means the store is unavailable and the batch must be retried.
var ErrContentNotFound = errors.New("content not found")

// DefaultCacheSize bounds the resolver cache. Content is slow-changing,
// so stale entries within minutes are acceptable and eviction order does
// not matter.
const DefaultCacheSize = 10000

const resolveQuery = `
SELECT id, slug, title, content_type, length_seconds, publish_ts
FROM content
WHERE id = $1`

// Resolver looks up content metadata by primary key with a bounded
// in-memory cache in front of the store.
type Resolver struct {
	db      Querier
	mu      sync.RWMutex
	cache   map[string]*models.Content
	maxSize int
}

// NewResolver creates a Resolver. maxSize <= 0 selects DefaultCacheSize.
func NewResolver(db Querier, maxSize int) *Resolver {
	if maxSize <= 0 {
		maxSize = DefaultCacheSize
	}
	return &Resolver{
		db:      db,
		cache:   make(map[string]*models.Content),
		maxSize: maxSize,
	}
}

// Resolve returns the content metadata for the given id.
// Returns ErrContentNotFound for unknown ids; other errors indicate the
// store is unavailable.
func (r *Resolver) Resolve(ctx context.Context, id string) (*models.Content, error) {
	r.mu.RLock()
	content, ok := r.cache[id]
	r.mu.RUnlock()
	if ok {
		metrics.ContentCacheHits.Inc()
		return content, nil
	}
	metrics.ContentCacheMisses.Inc()

	content = &models.Content{}
	err := r.db.QueryRow(ctx, resolveQuery, id).Scan(
		&content.ID,
		&content.Slug,
		&content.Title,
		&content.ContentType,
		&content.LengthSeconds,
		&content.PublishTS,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("content %s: %w", id, ErrContentNotFound)
		}
		return nil, fmt.Errorf("query content %s: %w", id, err)
	}

	r.mu.Lock()
	if len(r.cache) >= r.maxSize {
		// Evict an arbitrary entry to stay bounded.
		for k := range r.cache {
			delete(r.cache, k)
			break
		}
	}
	r.cache[id] = content
	r.mu.Unlock()

	return content, nil
}

// CacheSize returns the number of cached entries.
func (r *Resolver) CacheSize() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}
