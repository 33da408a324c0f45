// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"bytes"
	"context"
	"html/template"
	"net/url"
	"strings"

	"github.com/samber/oops"
)

// Notifier delivers a message to a user's email address. Delivery and retry
// semantics belong to the implementation.
type Notifier interface {
	Send(ctx context.Context, to, subject, html string) error
}

// ResetEmailSubject is the subject line of password reset messages.
const ResetEmailSubject = "Change your password"

var resetEmailTemplate = template.Must(template.New("reset").Parse(
	`<p>A password change was requested for your account.</p>` +
		`<p><a href="{{.Link}}">reset password</a></p>` +
		`<p>This link expires in {{.Minutes}} minutes. If you did not ask for it, ignore this email.</p>`,
))

// ResetLink joins the reset page base URL and a token.
func ResetLink(base, token string) string {
	return strings.TrimRight(base, "/") + "/" + url.PathEscape(token)
}

// RenderResetEmail renders the HTML body of a password reset message.
func RenderResetEmail(link string, minutes int) (string, error) {
	var buf bytes.Buffer
	err := resetEmailTemplate.Execute(&buf, struct {
		Link    string
		Minutes int
	}{Link: link, Minutes: minutes})
	if err != nil {
		return "", oops.Code("RESET_EMAIL_RENDER_FAILED").Wrap(err)
	}
	return buf.String(), nil
}
