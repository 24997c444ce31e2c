// Engagestream - Real-Time Engagement Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/engagestream

package leaderboard

import (
	"github.com/tomtom215/engagestream/internal/models"
)

// baseScores weights each event type's contribution to the scoreboard.
var baseScores = map[models.EventType]float64{
	models.EventPlay:   1.0,
	models.EventPause:  0.5,
	models.EventFinish: 3.0,
	models.EventClick:  0.3,
}

// Score computes the scoreboard delta for one event:
//
//	score = base × (1 + min(engagement_pct/100, 1.0))
//
// The multiplier is 1 when the percentage is absent. A zero score means
// no scoreboard update.
func Score(e *models.EnrichedEvent) float64 {
	base, ok := baseScores[e.EventType]
	if !ok || base == 0 {
		return 0
	}

	multiplier := 1.0
	if pct := e.EngagementPctFloat(); pct != nil {
		bonus := *pct / 100
		if bonus > 1.0 {
			bonus = 1.0
		}
		multiplier = 1 + bonus
	}

	return base * multiplier
}
