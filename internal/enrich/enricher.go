// Engagestream - Real-Time Engagement Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/engagestream

// Package enrich turns raw log payloads into enriched events: strict
// decode, schema validation, content lookup, and derived-metric
// construction. Invalid or orphaned events produce a DropError; store
// failures propagate and are fatal to the current batch.
package enrich

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/tomtom215/engagestream/internal/database"
	"github.com/tomtom215/engagestream/internal/models"
)

// Drop reasons, used as metric labels.
const (
	ReasonInvalid = "invalid"
	ReasonOrphan  = "orphan"
)

// DropError marks an event that must be skipped without aborting the
// batch: a malformed payload or a reference to unknown content.
type DropError struct {
	Reason string
	Cause  error
}

func (e *DropError) Error() string {
	return fmt.Sprintf("event dropped (%s): %v", e.Reason, e.Cause)
}

func (e *DropError) Unwrap() error {
	return e.Cause
}

// IsDrop reports whether err is a non-fatal drop.
func IsDrop(err error) bool {
	var d *DropError
	return errors.As(err, &d)
}

// ContentResolver looks up content metadata by id.
type ContentResolver interface {
	Resolve(ctx context.Context, id string) (*models.Content, error)
}

// Enricher validates and enriches raw event payloads.
type Enricher struct {
	resolver ContentResolver
}

// New creates an Enricher backed by the given resolver.
func New(resolver ContentResolver) *Enricher {
	return &Enricher{resolver: resolver}
}

// Enrich decodes and validates a raw payload, resolves its content, and
// constructs the enriched event. The error is either a *DropError
// (skip the event) or a store error (abort the batch).
func (e *Enricher) Enrich(ctx context.Context, payload []byte) (*models.EnrichedEvent, error) {
	var raw models.RawEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, &DropError{Reason: ReasonInvalid, Cause: fmt.Errorf("decode: %w", err)}
	}

	if err := raw.Validate(); err != nil {
		return nil, &DropError{Reason: ReasonInvalid, Cause: err}
	}

	content, err := e.resolver.Resolve(ctx, raw.ContentID.String())
	if err != nil {
		if errors.Is(err, database.ErrContentNotFound) {
			return nil, &DropError{Reason: ReasonOrphan, Cause: err}
		}
		return nil, fmt.Errorf("content lookup for event %d: %w", raw.ID, err)
	}

	return models.NewEnrichedEvent(&raw, content), nil
}

// EnrichRaw runs validation and enrichment on an already-decoded event.
// The backfill path uses this to share the drop semantics with the
// streaming path.
func (e *Enricher) EnrichRaw(ctx context.Context, raw *models.RawEvent) (*models.EnrichedEvent, error) {
	if err := raw.Validate(); err != nil {
		return nil, &DropError{Reason: ReasonInvalid, Cause: err}
	}

	content, err := e.resolver.Resolve(ctx, raw.ContentID.String())
	if err != nil {
		if errors.Is(err, database.ErrContentNotFound) {
			return nil, &DropError{Reason: ReasonOrphan, Cause: err}
		}
		return nil, fmt.Errorf("content lookup for event %d: %w", raw.ID, err)
	}

	return models.NewEnrichedEvent(raw, content), nil
}
