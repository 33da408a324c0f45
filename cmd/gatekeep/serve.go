// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/securecookie"
	"github.com/hibiken/asynq"
	goredis "github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/gatekeep/gatekeep/internal/auth"
	"github.com/gatekeep/gatekeep/internal/auth/postgres"
	authredis "github.com/gatekeep/gatekeep/internal/auth/redis"
	"github.com/gatekeep/gatekeep/internal/config"
	"github.com/gatekeep/gatekeep/internal/logging"
	"github.com/gatekeep/gatekeep/internal/mail"
	"github.com/gatekeep/gatekeep/internal/observability"
	"github.com/gatekeep/gatekeep/internal/web"
)

// Default values for serve command flags. The authoritative defaults live
// in config.Defaults; these only document the flags.
const (
	defaultAddr        = ":4000"
	defaultMetricsAddr = "127.0.0.1:9100"
	defaultLogFormat   = "json"
	defaultLogLevel    = "info"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd(deps *ServeDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API with its PostgreSQL user store, Redis session
store and mail delivery. Runs until SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd, deps.withDefaults())
		},
	}

	cmd.Flags().String("addr", defaultAddr, "HTTP listen address")
	cmd.Flags().String("metrics-addr", defaultMetricsAddr, "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("log-format", defaultLogFormat, "log format (json or text)")
	cmd.Flags().String("log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	cmd.Flags().Bool("auto-migrate", false, "apply pending migrations before serving")
	cmd.Flags().String("mail-mode", config.MailModeQueue, "mail delivery mode (queue or direct)")

	return cmd
}

// runServe wires the service from configuration and serves until ctx ends.
func runServe(ctx context.Context, cmd *cobra.Command, deps *ServeDeps) error {
	cfg, err := deps.ConfigLoader(loadOptions(cmd.Flags()))
	if err != nil {
		return err
	}

	logger := logging.Setup("gatekeep", version, cfg.Log.Format, cfg.Log.Level, deps.LogOutput)
	slog.SetDefault(logger)
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	logger.Info("starting gatekeep",
		"env", cfg.Env,
		"http_addr", cfg.HTTP.Addr,
		"mail_mode", cfg.Mail.Mode,
	)

	if cfg.Database.AutoMigrate {
		if err := migrateUp(deps.MigratorFactory, cfg.Database.URL, logger); err != nil {
			return err
		}
	}

	pool, err := deps.PoolFactory(ctx, cfg.Database.URL, cfg.Database.MaxConns, logger)
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.Info("connected to database")

	rdb, err := deps.RedisFactory(ctx, cfg.Redis.URL, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := rdb.Close(); closeErr != nil {
			logger.Debug("error closing redis client", "error", closeErr)
		}
	}()
	logger.Info("connected to redis")

	notifier, stopMail, err := buildNotifier(cfg, logger)
	if err != nil {
		return err
	}
	defer stopMail()

	users := postgres.NewUserRepository(pool)
	svc, err := buildService(cfg, users, rdb, notifier, logger)
	if err != nil {
		return err
	}

	cookies, err := buildCookieCodec(cfg, logger)
	if err != nil {
		return err
	}

	router := web.NewRouter(web.RouterConfig{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Logger:         logger,
	}, web.NewHandler(svc, cookies, logger))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var obsServer ObservabilityServer
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, map[string]observability.Check{
			"postgres": users.Ping,
			"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
	}

	listener, err := deps.ListenerFactory("tcp", cfg.HTTP.Addr)
	if err != nil {
		stopObservability(obsServer, logger)
		return oops.Code("HTTP_LISTEN_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
	}

	httpServer := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errChan := make(chan error, 1)
	go func() {
		if serveErr := httpServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errChan <- serveErr
		}
	}()

	cmd.Println("gatekeep started")
	logger.Info("http server listening", "addr", listener.Addr().String())

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errChan:
		serveErr = oops.Code("HTTP_SERVE_FAILED").Wrap(err)
	}

	logger.Info("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error stopping http server", "error", err)
	}
	stopObservability(obsServer, logger)

	logger.Info("shutdown complete")
	return serveErr
}

func buildService(cfg *config.Config, users auth.UserRepository, rdb goredis.Cmdable, notifier auth.Notifier, logger *slog.Logger) (*auth.Service, error) {
	sessions, err := auth.NewSessionManager(
		authredis.NewSessionStore(rdb, cfg.Session.KeyPrefix, ""),
		cfg.Session.MaxAge,
	)
	if err != nil {
		return nil, err
	}
	resets, err := auth.NewResetTokenService(
		authredis.NewResetTokenStore(rdb, cfg.Reset.KeyPrefix),
		cfg.Reset.TTL,
	)
	if err != nil {
		return nil, err
	}

	return auth.NewService(auth.Dependencies{
		Users:    users,
		Hasher:   auth.NewArgon2idHasher(),
		Sessions: sessions,
		Resets:   resets,
		Notifier: notifier,
		Logger:   logger,
	}, auth.Options{
		Validator:             auth.Validator{Aggregate: cfg.Auth.AggregateErrors},
		OpTimeout:             cfg.Auth.OpTimeout,
		ResetURLBase:          cfg.Reset.URLBase,
		ConcealUnknownEmail:   cfg.Reset.ConcealUnknown,
		RevokeSessionsOnReset: cfg.Reset.RevokeSessions,
	})
}

func buildSender(cfg *config.Config, logger *slog.Logger) (mail.Sender, error) {
	if cfg.Mail.Transport == config.MailTransportLog {
		return mail.NewLogSender(logger), nil
	}
	sender, err := mail.NewSMTPSender(mail.SMTPConfig{
		Host:     cfg.Mail.SMTP.Host,
		Port:     cfg.Mail.SMTP.Port,
		Username: cfg.Mail.SMTP.Username,
		Password: cfg.Mail.SMTP.Password,
		From:     cfg.Mail.SMTP.From,
	})
	if err != nil {
		return nil, err
	}
	return sender, nil
}

// buildNotifier returns the notifier for the configured mail mode and a
// func that releases its resources.
func buildNotifier(cfg *config.Config, logger *slog.Logger) (auth.Notifier, func(), error) {
	sender, err := buildSender(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Mail.Mode == config.MailModeDirect {
		return mail.NewDirectNotifier(sender), func() {}, nil
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.Redis.URL)
	if err != nil {
		return nil, nil, oops.Code("MAIL_INVALID_CONFIG").With("field", "redis.url").Wrap(err)
	}
	worker, err := mail.NewWorker(redisOpt, mail.WorkerConfig{
		Concurrency: cfg.Mail.Concurrency,
		Queue:       cfg.Mail.Queue,
	}, sender, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := worker.Start(); err != nil {
		return nil, nil, err
	}

	client := asynq.NewClient(redisOpt)
	stop := func() {
		if err := client.Close(); err != nil {
			logger.Debug("error closing mail queue client", "error", err)
		}
		worker.Shutdown()
	}
	return mail.NewQueueNotifier(client, cfg.Mail.Queue, cfg.Mail.MaxRetry), stop, nil
}

// buildCookieCodec signs cookies with the configured secret. Without one
// (development only) a random key is generated, so sessions do not survive
// a restart.
func buildCookieCodec(cfg *config.Config, logger *slog.Logger) (*web.CookieCodec, error) {
	hashKey := []byte(cfg.Session.Secret)
	if len(hashKey) == 0 {
		logger.Warn("session.secret not set, using an ephemeral cookie key")
		hashKey = securecookie.GenerateRandomKey(32)
		if hashKey == nil {
			return nil, oops.Code("COOKIE_KEY_GENERATE_FAILED").Errorf("failed to generate cookie key")
		}
	}
	return web.NewCookieCodec(hashKey, []byte(cfg.Session.EncryptionKey), web.CookieConfig{
		Name:   cfg.Session.CookieName,
		Domain: cfg.Session.CookieDomain,
		Secure: cfg.Secure(),
		MaxAge: int(cfg.Session.MaxAge / time.Second),
	})
}

func newObservabilityServer(addr string, checks map[string]observability.Check) ObservabilityServer {
	return observability.NewServer(addr, checks, auth.RegisterMetrics)
}

func stopObservability(server ObservabilityServer, logger *slog.Logger) {
	if server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		logger.Warn("error stopping observability server", "error", err)
	}
}

// monitorServerErrors cancels ctx when a background server fails.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, name string) {
	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			slog.Error("server failed", "server", name, "error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}
