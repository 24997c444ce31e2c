// Engagestream - Real-Time Engagement Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/engagestream

// Package database provides the relational-store access layer: the pgx
// connection pool, the content resolver with its bounded cache, and the
// backfill paging query.
package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tomtom215/engagestream/internal/config"
	"github.com/tomtom215/engagestream/internal/logging"
)

// Querier is the subset of pgxpool.Pool the queries in this package use.
// Tests substitute fakes; production code passes the pool.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// New opens a pgx connection pool against the relational store and
// verifies connectivity. A failure here is fatal to startup: the pipeline
// cannot enrich without the content table.
func New(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	poolCfg.MaxConns = int32(cfg.PoolSize + cfg.MaxOverflow)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logging.Info().
		Int32("max_conns", poolCfg.MaxConns).
		Msg("Database pool ready")

	return pool, nil
}
