// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateUsername is returned by a UserRepository when the username
// unique constraint rejects a write.
var ErrDuplicateUsername = errors.New("username already exists")

// ErrDuplicateEmail is returned by a UserRepository when the email unique
// constraint rejects a write.
var ErrDuplicateEmail = errors.New("email already exists")

// ErrUnavailable is the coarse failure the Service returns when a dependency
// fails. The underlying error is logged, never returned.
var ErrUnavailable = errors.New("authentication service unavailable")

// Field names used in FieldError values.
const (
	FieldUsername    = "username"
	FieldEmail       = "email"
	FieldPassword    = "password"
	FieldNewPassword = "newPassword"
	FieldToken       = "token"
	FieldUser        = "User"
)

// Messages used in FieldError values.
const (
	MsgUsernameTaken    = "username is already taken"
	MsgEmailTaken       = "email is already taken"
	MsgInvalidEmail     = "invalid email"
	MsgUsernameTooShort = "username must be > 5"
	MsgPasswordTooShort = "password must be > 5"
	MsgUsernameNotFound = "username not found"
	MsgPasswordWrong    = "password incorrect"
	MsgAlreadyLoggedIn  = "User already logged in"
	MsgTokenInvalid     = "reset token invalid or expired"
	MsgUserGone         = "user no longer exists"
)

// FieldError is a validation or business-rule failure keyed by the
// offending field. It is returned to callers as data.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error implements error so a FieldError can be logged or wrapped.
func (e FieldError) Error() string {
	return e.Field + ": " + e.Message
}
