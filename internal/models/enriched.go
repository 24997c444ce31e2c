// Engagestream - Real-Time Engagement Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/engagestream

package models

import (
	"github.com/shopspring/decimal"
)

// EnrichedEvent is a raw event joined with its content metadata and the
// derived engagement metrics. Construct it only through NewEnrichedEvent;
// treat the value as immutable afterwards. The derived fields are computed
// once, at construction, and never recomputed downstream.
type EnrichedEvent struct {
	RawEvent
	Content Content

	// EngagementSeconds is duration_ms/1000 rounded to two decimals,
	// half away from zero. Nil when duration_ms is absent.
	EngagementSeconds *decimal.Decimal

	// EngagementPct is engagement_seconds/length_seconds*100 rounded to
	// two decimals. Nil unless EngagementSeconds is present and the
	// content has length_seconds > 0.
	EngagementPct *decimal.Decimal
}

var (
	thousand = decimal.NewFromInt(1000)
	hundred  = decimal.NewFromInt(100)
)

// NewEnrichedEvent joins a validated raw event with its content metadata
// and computes the derived metrics with decimal arithmetic.
func NewEnrichedEvent(raw *RawEvent, content *Content) *EnrichedEvent {
	e := &EnrichedEvent{
		RawEvent: *raw,
		Content:  *content,
	}

	if raw.DurationMS != nil {
		es := decimal.NewFromInt(*raw.DurationMS).Div(thousand).Round(2)
		e.EngagementSeconds = &es

		if content.LengthSeconds != nil && *content.LengthSeconds > 0 {
			pct := es.Div(decimal.NewFromInt(*content.LengthSeconds)).Mul(hundred).Round(2)
			e.EngagementPct = &pct
		}
	}

	return e
}

// EngagementSecondsFloat returns the derived seconds as a float64 for
// serialisation. Nil when absent.
func (e *EnrichedEvent) EngagementSecondsFloat() *float64 {
	return decimalToFloat(e.EngagementSeconds)
}

// EngagementPctFloat returns the derived percentage as a float64 for
// serialisation. Nil when absent.
func (e *EnrichedEvent) EngagementPctFloat() *float64 {
	return decimalToFloat(e.EngagementPct)
}

func decimalToFloat(d *decimal.Decimal) *float64 {
	if d == nil {
		return nil
	}
	f, _ := d.Float64()
	return &f
}
