// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/samber/oops"
)

// Session configuration.
const (
	SessionIDBytes       = 32                   // 32 bytes = 64 hex chars
	DefaultSessionMaxAge = 365 * 24 * time.Hour // 1 year, matches the cookie lifetime
)

// SessionContext carries one request's session state into a use case and
// records what the transport must do with the session cookie afterwards.
// A zero SessionContext represents an anonymous caller.
type SessionContext struct {
	// ID is the session id presented by the caller, or "" if none.
	ID string

	issued  string
	cleared bool
}

// NewSessionContext returns a SessionContext for the presented session id.
func NewSessionContext(id string) *SessionContext {
	return &SessionContext{ID: id}
}

// Issued returns the session id the transport must hand to the client.
func (sc *SessionContext) Issued() (string, bool) {
	return sc.issued, sc.issued != ""
}

// Cleared reports whether the transport must clear the session cookie.
func (sc *SessionContext) Cleared() bool {
	return sc.cleared
}

func (sc *SessionContext) issue(id string) {
	sc.ID = id
	sc.issued = id
	sc.cleared = false
}

func (sc *SessionContext) clear() {
	sc.ID = ""
	sc.issued = ""
	sc.cleared = true
}

// SessionStore is the shared backing store for sessions, keyed by session id.
type SessionStore interface {
	// Save binds id to userID with the given expiry.
	Save(ctx context.Context, id string, userID int64, ttl time.Duration) error

	// Load returns the user id bound to id, or ErrNotFound (wrapped).
	Load(ctx context.Context, id string) (int64, error)

	// Delete removes the session. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error

	// DeleteByUser removes every session bound to userID.
	DeleteByUser(ctx context.Context, userID int64) error
}

// GenerateSessionID creates a cryptographically random session id.
func GenerateSessionID() (string, error) {
	b := make([]byte, SessionIDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", oops.Code("SESSION_ID_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			With("requested_bytes", SessionIDBytes).
			Wrap(err)
	}
	return hex.EncodeToString(b), nil
}

// SessionManager maps opaque session ids to user ids.
type SessionManager struct {
	store  SessionStore
	maxAge time.Duration
}

// NewSessionManager creates a SessionManager. A non-positive maxAge selects
// DefaultSessionMaxAge.
func NewSessionManager(store SessionStore, maxAge time.Duration) (*SessionManager, error) {
	if store == nil {
		return nil, oops.Code("SESSION_INVALID_CONFIG").Errorf("session store is required")
	}
	if maxAge <= 0 {
		maxAge = DefaultSessionMaxAge
	}
	return &SessionManager{store: store, maxAge: maxAge}, nil
}

// MaxAge returns the lifetime of new sessions.
func (m *SessionManager) MaxAge() time.Duration {
	return m.maxAge
}

// Create starts a session for userID and returns its id.
func (m *SessionManager) Create(ctx context.Context, userID int64) (string, error) {
	id, err := GenerateSessionID()
	if err != nil {
		return "", err
	}
	if err := m.store.Save(ctx, id, userID, m.maxAge); err != nil {
		return "", oops.Code("SESSION_CREATE_FAILED").
			With("user_id", userID).
			Wrap(err)
	}
	return id, nil
}

// Resolve returns the user id bound to id. ok is false when id is empty,
// unknown or expired.
func (m *SessionManager) Resolve(ctx context.Context, id string) (userID int64, ok bool, err error) {
	if id == "" {
		return 0, false, nil
	}
	userID, err = m.store.Load(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, oops.Code("SESSION_RESOLVE_FAILED").Wrap(err)
	}
	return userID, true, nil
}

// Destroy ends the session with the given id.
func (m *SessionManager) Destroy(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := m.store.Delete(ctx, id); err != nil {
		return oops.Code("SESSION_DESTROY_FAILED").Wrap(err)
	}
	return nil
}

// DestroyAllForUser ends every session bound to userID.
func (m *SessionManager) DestroyAllForUser(ctx context.Context, userID int64) error {
	if err := m.store.DeleteByUser(ctx, userID); err != nil {
		return oops.Code("SESSION_DESTROY_FAILED").
			With("user_id", userID).
			Wrap(err)
	}
	return nil
}
