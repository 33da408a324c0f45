// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

// Package auth implements the authentication and session lifecycle engine.
//
// # Domain Types
//
//   - User - the storage record, including the password hash
//   - UserView - the outward projection of a User, built with NewUserView
//   - FieldError - a validation or business-rule failure returned as data
//   - SessionContext - the caller's session state for one request
//
// # Components
//
//   - Validator - field constraints for usernames, passwords and emails
//   - PasswordHasher - argon2id hashing and verification
//   - SessionManager - opaque session id to user id mapping over a SessionStore
//   - ResetTokenService - single-use, time-boxed reset tokens over a ResetTokenStore
//   - Service - the register, login, logout, me and password reset use cases
//
// Storage adapters live in the postgres and redis subpackages. The Service
// never returns infrastructure detail to its caller: store and notifier
// failures are logged and surfaced as ErrUnavailable, false, or nil.
package auth
