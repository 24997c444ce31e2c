// Engagestream - Real-Time Engagement Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/engagestream

package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// backfillDateLayout is the accepted format for backfill date bounds.
const backfillDateLayout = "2006-01-02"

// Validate checks struct tags and cross-field constraints.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := c.Backfill.validateDates(); err != nil {
		return err
	}

	// The warehouse sink degrades without credentials, but a credentials
	// path without a project id can never produce a usable client.
	if c.Warehouse.CredentialsPath != "" && c.Warehouse.ProjectID == "" {
		return fmt.Errorf("warehouse.credentials_path is set but warehouse.project_id is empty")
	}

	return nil
}

// validateDates checks the optional backfill window bounds.
func (b *BackfillConfig) validateDates() error {
	var start, end time.Time
	var err error

	if b.StartDate != "" {
		start, err = time.Parse(backfillDateLayout, b.StartDate)
		if err != nil {
			return fmt.Errorf("backfill.start_date %q is not YYYY-MM-DD: %w", b.StartDate, err)
		}
	}
	if b.EndDate != "" {
		end, err = time.Parse(backfillDateLayout, b.EndDate)
		if err != nil {
			return fmt.Errorf("backfill.end_date %q is not YYYY-MM-DD: %w", b.EndDate, err)
		}
	}
	if b.StartDate != "" && b.EndDate != "" && end.Before(start) {
		return fmt.Errorf("backfill.end_date %s precedes backfill.start_date %s", b.EndDate, b.StartDate)
	}

	return nil
}

// DateRange returns the parsed backfill window. The end bound is advanced
// by one day so the configured end date is inclusive.
func (b *BackfillConfig) DateRange() (start, end time.Time, err error) {
	if b.StartDate == "" || b.EndDate == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("backfill requires both start_date and end_date")
	}
	start, err = time.Parse(backfillDateLayout, b.StartDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start_date: %w", err)
	}
	end, err = time.Parse(backfillDateLayout, b.EndDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end_date: %w", err)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end_date %s precedes start_date %s", b.EndDate, b.StartDate)
	}
	return start, end.AddDate(0, 0, 1), nil
}
