// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package mail

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"
	"github.com/samber/oops"

	"github.com/gatekeep/gatekeep/internal/auth"
)

// Queue settings.
const (
	TaskTypeSend    = "mail:send"
	DefaultQueue    = "mail"
	DefaultMaxRetry = 5
)

// Enqueuer is the subset of *asynq.Client used by QueueNotifier.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueNotifier is an auth.Notifier that enqueues a task and returns once
// the queue has accepted it. Delivery and retries happen in a Worker.
type QueueNotifier struct {
	client   Enqueuer
	queue    string
	maxRetry int
}

// NewQueueNotifier creates a QueueNotifier. An empty queue selects
// DefaultQueue and a negative maxRetry selects DefaultMaxRetry.
func NewQueueNotifier(client Enqueuer, queue string, maxRetry int) *QueueNotifier {
	if queue == "" {
		queue = DefaultQueue
	}
	if maxRetry < 0 {
		maxRetry = DefaultMaxRetry
	}
	return &QueueNotifier{client: client, queue: queue, maxRetry: maxRetry}
}

// NewSendTask builds the task that carries msg.
func NewSendTask(msg Message) (*asynq.Task, error) {
	if err := msg.validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, oops.Code("MAIL_ENCODE_FAILED").Wrap(err)
	}
	return asynq.NewTask(TaskTypeSend, payload), nil
}

// Send enqueues the message.
func (n *QueueNotifier) Send(ctx context.Context, to, subject, html string) error {
	task, err := NewSendTask(Message{To: to, Subject: subject, HTML: html})
	if err != nil {
		return err
	}
	if _, err := n.client.EnqueueContext(ctx, task, asynq.Queue(n.queue), asynq.MaxRetry(n.maxRetry)); err != nil {
		return oops.Code("MAIL_ENQUEUE_FAILED").With("queue", n.queue).Wrap(err)
	}
	return nil
}

var _ auth.Notifier = (*QueueNotifier)(nil)
