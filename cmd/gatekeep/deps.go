// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package main

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"

	goredis "github.com/redis/go-redis/v9"

	"github.com/gatekeep/gatekeep/internal/auth/postgres"
	authredis "github.com/gatekeep/gatekeep/internal/auth/redis"
	"github.com/gatekeep/gatekeep/internal/config"
	"github.com/gatekeep/gatekeep/internal/observability"
	"github.com/gatekeep/gatekeep/internal/store"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// ConfigLoader builds the configuration.
	// Default: config.Load
	ConfigLoader func(opts config.LoadOptions) (*config.Config, error)

	// PoolFactory opens the PostgreSQL pool.
	// Default: store.Connect
	PoolFactory func(ctx context.Context, dsn string, maxConns int32, logger *slog.Logger) (Pool, error)

	// RedisFactory opens the Redis client.
	// Default: authredis.Connect
	RedisFactory func(ctx context.Context, url string, logger *slog.Logger) (*goredis.Client, error)

	// MigratorFactory creates a schema migrator.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (Migrator, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer with auth metrics
	ObservabilityServerFactory func(addr string, checks map[string]observability.Check) ObservabilityServer

	// ListenerFactory creates the HTTP listener.
	// Default: net.Listen
	ListenerFactory func(network, address string) (net.Listener, error)

	// LogOutput receives log lines.
	// Default: os.Stderr
	LogOutput io.Writer
}

// MigrateDeps contains injectable dependencies for the migrate command.
type MigrateDeps struct {
	// ConfigLoader builds the configuration.
	// Default: config.Load
	ConfigLoader func(opts config.LoadOptions) (*config.Config, error)

	// MigratorFactory creates a schema migrator.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (Migrator, error)
}

// Pool is the subset of *pgxpool.Pool used by serve.
type Pool interface {
	postgres.DB
	Close()
}

// Migrator interface wraps the methods used from store.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Version() (version uint, dirty bool, err error)
	Force(version int) error
	Pending() ([]uint, error)
	Close() error
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

func defaultMigrator(databaseURL string) (Migrator, error) {
	m, err := store.NewMigrator(databaseURL)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	out := ServeDeps{}
	if d != nil {
		out = *d
	}
	if out.ConfigLoader == nil {
		out.ConfigLoader = config.Load
	}
	if out.PoolFactory == nil {
		out.PoolFactory = func(ctx context.Context, dsn string, maxConns int32, logger *slog.Logger) (Pool, error) {
			opts := store.DefaultConnectOptions
			opts.MaxConns = maxConns
			pool, err := store.Connect(ctx, dsn, opts, logger)
			if err != nil {
				return nil, err
			}
			return pool, nil
		}
	}
	if out.RedisFactory == nil {
		out.RedisFactory = func(ctx context.Context, url string, logger *slog.Logger) (*goredis.Client, error) {
			return authredis.Connect(ctx, url, authredis.DefaultConnectOptions, logger)
		}
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = defaultMigrator
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = newObservabilityServer
	}
	if out.ListenerFactory == nil {
		out.ListenerFactory = net.Listen
	}
	if out.LogOutput == nil {
		out.LogOutput = os.Stderr
	}
	return &out
}

func (d *MigrateDeps) withDefaults() *MigrateDeps {
	out := MigrateDeps{}
	if d != nil {
		out = *d
	}
	if out.ConfigLoader == nil {
		out.ConfigLoader = config.Load
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = defaultMigrator
	}
	return &out
}
