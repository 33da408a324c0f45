// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

// Package mail delivers auth notifications by email, either inline or
// through an asynq queue drained by a Worker.
package mail

import (
	"context"

	"github.com/samber/oops"

	"github.com/gatekeep/gatekeep/internal/auth"
)

// Message is one outgoing email with an HTML body.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

func (m Message) validate() error {
	if m.To == "" {
		return oops.Code("MAIL_INVALID_MESSAGE").Errorf("recipient is required")
	}
	return nil
}

// Sender delivers a message over some transport.
type Sender interface {
	Deliver(ctx context.Context, msg Message) error
}

// DirectNotifier is an auth.Notifier that delivers synchronously.
type DirectNotifier struct {
	sender Sender
}

// NewDirectNotifier creates a DirectNotifier.
func NewDirectNotifier(sender Sender) *DirectNotifier {
	return &DirectNotifier{sender: sender}
}

// Send delivers the message before returning.
func (n *DirectNotifier) Send(ctx context.Context, to, subject, html string) error {
	msg := Message{To: to, Subject: subject, HTML: html}
	if err := msg.validate(); err != nil {
		return err
	}
	return n.sender.Deliver(ctx, msg)
}

var _ auth.Notifier = (*DirectNotifier)(nil)
