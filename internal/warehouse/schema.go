// Engagestream - Real-Time Engagement Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/engagestream

package warehouse

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"

	"github.com/tomtom215/engagestream/internal/config"
	"github.com/tomtom215/engagestream/internal/logging"
)

// tableSchema is the warehouse row layout. Required columns come from
// the raw event and the content join; nullable ones are conditionally
// derived or optional at the source.
var tableSchema = bigquery.Schema{
	{Name: "event_id", Type: bigquery.IntegerFieldType, Required: true},
	{Name: "content_id", Type: bigquery.StringFieldType, Required: true},
	{Name: "user_id", Type: bigquery.StringFieldType, Required: true},
	{Name: "event_type", Type: bigquery.StringFieldType, Required: true},
	{Name: "event_timestamp", Type: bigquery.TimestampFieldType, Required: true},
	{Name: "duration_ms", Type: bigquery.IntegerFieldType},
	{Name: "engagement_seconds", Type: bigquery.FloatFieldType},
	{Name: "engagement_pct", Type: bigquery.FloatFieldType},
	{Name: "device", Type: bigquery.StringFieldType},
	{Name: "content_slug", Type: bigquery.StringFieldType, Required: true},
	{Name: "content_title", Type: bigquery.StringFieldType, Required: true},
	{Name: "content_type", Type: bigquery.StringFieldType, Required: true},
	{Name: "content_length_seconds", Type: bigquery.IntegerFieldType},
	{Name: "raw_payload", Type: bigquery.JSONFieldType},
	{Name: "processed_timestamp", Type: bigquery.TimestampFieldType, Required: true},
}

const dailySummaryView = `
CREATE OR REPLACE VIEW ` + "`%s.%s.daily_engagement_summary`" + ` AS
SELECT
  DATE(event_timestamp) AS date,
  content_type,
  COUNT(*) AS total_events,
  COUNT(DISTINCT user_id) AS unique_users,
  COUNT(DISTINCT content_id) AS unique_content,
  ROUND(SUM(engagement_seconds), 2) AS total_engagement_seconds,
  ROUND(AVG(engagement_pct), 2) AS avg_engagement_pct
FROM ` + "`%s.%s.%s`" + `
GROUP BY date, content_type`

const hourlyTrendsView = `
CREATE OR REPLACE VIEW ` + "`%s.%s.hourly_engagement_trends`" + ` AS
SELECT
  TIMESTAMP_TRUNC(event_timestamp, HOUR) AS hour,
  content_type,
  event_type,
  COUNT(*) AS event_count,
  COUNT(DISTINCT user_id) AS unique_users,
  ROUND(SUM(engagement_seconds), 2) AS total_engagement_seconds
FROM ` + "`%s.%s.%s`" + `
WHERE event_timestamp >= TIMESTAMP_SUB(CURRENT_TIMESTAMP(), INTERVAL 7 DAY)
GROUP BY hour, content_type, event_type`

// ensureInfrastructure creates the dataset, the partitioned and clustered
// events table, and the two analytics views. Every step is idempotent so
// restarts are safe.
func ensureInfrastructure(ctx context.Context, client *bigquery.Client, cfg config.WarehouseConfig) error {
	dataset := client.Dataset(cfg.DatasetID)
	err := dataset.Create(ctx, &bigquery.DatasetMetadata{Location: cfg.Location})
	if err != nil && !isAlreadyExists(err) {
		return fmt.Errorf("create dataset %s: %w", cfg.DatasetID, err)
	}

	table := dataset.Table(cfg.TableID)
	err = table.Create(ctx, &bigquery.TableMetadata{
		Schema: tableSchema,
		TimePartitioning: &bigquery.TimePartitioning{
			Type:  bigquery.DayPartitioningType,
			Field: "event_timestamp",
		},
		Clustering: &bigquery.Clustering{
			Fields: []string{"content_type", "event_type", "content_id"},
		},
	})
	if err != nil && !isAlreadyExists(err) {
		return fmt.Errorf("create table %s: %w", cfg.TableID, err)
	}

	for _, view := range []string{
		fmt.Sprintf(dailySummaryView, cfg.ProjectID, cfg.DatasetID, cfg.ProjectID, cfg.DatasetID, cfg.TableID),
		fmt.Sprintf(hourlyTrendsView, cfg.ProjectID, cfg.DatasetID, cfg.ProjectID, cfg.DatasetID, cfg.TableID),
	} {
		job, err := client.Query(view).Run(ctx)
		if err != nil {
			return fmt.Errorf("create view: %w", err)
		}
		status, err := job.Wait(ctx)
		if err != nil {
			return fmt.Errorf("wait for view creation: %w", err)
		}
		if status.Err() != nil {
			return fmt.Errorf("view creation failed: %w", status.Err())
		}
	}

	logging.Info().
		Str("dataset", cfg.DatasetID).
		Str("table", cfg.TableID).
		Msg("Warehouse infrastructure ready")

	return nil
}

// isAlreadyExists detects the duplicate-resource error from idempotent
// create calls.
func isAlreadyExists(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == 409
}
