// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// ConnectOptions control the initial connection attempt.
type ConnectOptions struct {
	MaxConns     int32
	Attempts     uint64
	InitialDelay time.Duration
}

// DefaultConnectOptions retry for roughly half a minute, which covers a
// database container that is still starting.
var DefaultConnectOptions = ConnectOptions{
	MaxConns:     10,
	Attempts:     6,
	InitialDelay: 500 * time.Millisecond,
}

// Connect opens a pgx pool for dsn and waits until the database answers a
// ping, retrying with exponential backoff.
func Connect(ctx context.Context, dsn string, opts ConnectOptions, logger *slog.Logger) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").Wrap(err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").Wrap(err)
	}

	backoff := retry.WithMaxRetries(opts.Attempts, retry.NewExponential(opts.InitialDelay))
	attempt := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := pool.Ping(ctx); err != nil {
			logger.WarnContext(ctx, "database not ready", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.Code("DB_CONNECT_FAILED").
			With("host", cfg.ConnConfig.Host).
			With("attempts", attempt).
			Wrap(err)
	}
	return pool, nil
}
