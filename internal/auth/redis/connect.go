// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package redis

import (
	"context"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// ConnectOptions control the initial connection attempt.
type ConnectOptions struct {
	Attempts     uint64
	InitialDelay time.Duration
}

// DefaultConnectOptions matches the database startup retry window.
var DefaultConnectOptions = ConnectOptions{
	Attempts:     6,
	InitialDelay: 500 * time.Millisecond,
}

// Connect creates a client for a redis:// or rediss:// URL and waits until
// the server answers PING.
func Connect(ctx context.Context, url string, opts ConnectOptions, logger *slog.Logger) (*goredis.Client, error) {
	opt, err := goredis.ParseURL(url)
	if err != nil {
		return nil, oops.Code("REDIS_CONFIG_INVALID").Wrap(err)
	}
	client := goredis.NewClient(opt)

	backoff := retry.WithMaxRetries(opts.Attempts, retry.NewExponential(opts.InitialDelay))
	attempt := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := client.Ping(ctx).Err(); err != nil {
			logger.WarnContext(ctx, "redis not ready", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		_ = client.Close() //nolint:errcheck // connect error takes precedence
		return nil, oops.Code("REDIS_CONNECT_FAILED").
			With("addr", opt.Addr).
			With("attempts", attempt).
			Wrap(err)
	}
	return client, nil
}
