// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package mail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/samber/oops"

	"github.com/gatekeep/gatekeep/pkg/errutil"
)

// WorkerConfig sizes the asynq server.
type WorkerConfig struct {
	Concurrency int
	Queue       string
}

// Worker drains the mail queue into a Sender.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	sender Sender
	logger *slog.Logger
}

// NewWorker creates a Worker consuming from the Redis instance at opt.
func NewWorker(opt asynq.RedisConnOpt, cfg WorkerConfig, sender Sender, logger *slog.Logger) (*Worker, error) {
	if sender == nil {
		return nil, oops.Code("MAIL_INVALID_CONFIG").Errorf("sender is required")
	}
	if logger == nil {
		return nil, oops.Code("MAIL_INVALID_CONFIG").Errorf("logger is required")
	}
	if cfg.Queue == "" {
		cfg.Queue = DefaultQueue
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}

	w := &Worker{
		sender: sender,
		logger: logger,
		mux:    asynq.NewServeMux(),
	}
	w.server = asynq.NewServer(opt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      map[string]int{cfg.Queue: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			errutil.LogError(ctx, logger, "mail delivery failed",
				oops.With("task", task.Type()).
					With("retry", retried).
					With("max_retry", maxRetry).
					Wrap(err))
		}),
	})
	w.mux.HandleFunc(TaskTypeSend, w.HandleSend)
	return w, nil
}

// Start runs the asynq server in the background.
func (w *Worker) Start() error {
	if err := w.server.Start(w.mux); err != nil {
		return oops.Code("MAIL_WORKER_START_FAILED").Wrap(err)
	}
	w.logger.Info("mail worker started")
	return nil
}

// Shutdown stops fetching tasks and waits for in-flight deliveries.
func (w *Worker) Shutdown() {
	w.server.Shutdown()
	w.logger.Info("mail worker stopped")
}

// HandleSend delivers one mail:send task. Undecodable payloads are not
// retried.
func (w *Worker) HandleSend(ctx context.Context, task *asynq.Task) error {
	var msg Message
	if err := json.Unmarshal(task.Payload(), &msg); err != nil {
		return fmt.Errorf("decode mail payload: %w: %w", err, asynq.SkipRetry)
	}
	if err := msg.validate(); err != nil {
		return errors.Join(err, asynq.SkipRetry)
	}
	if err := w.sender.Deliver(ctx, msg); err != nil {
		return oops.Code("MAIL_DELIVER_FAILED").Wrap(err)
	}
	w.logger.InfoContext(ctx, "mail delivered", "subject", msg.Subject)
	return nil
}
