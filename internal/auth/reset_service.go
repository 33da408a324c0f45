// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"context"
	"errors"
	"time"

	"github.com/samber/oops"
)

// ResetTokenService issues and consumes single-use password reset tokens.
type ResetTokenService struct {
	store ResetTokenStore
	ttl   time.Duration
}

// NewResetTokenService creates a ResetTokenService. A non-positive ttl
// selects ResetTokenExpiry.
func NewResetTokenService(store ResetTokenStore, ttl time.Duration) (*ResetTokenService, error) {
	if store == nil {
		return nil, oops.Code("RESET_INVALID_CONFIG").Errorf("reset token store is required")
	}
	if ttl <= 0 {
		ttl = ResetTokenExpiry
	}
	return &ResetTokenService{store: store, ttl: ttl}, nil
}

// TTL returns the lifetime of issued tokens.
func (s *ResetTokenService) TTL() time.Duration {
	return s.ttl
}

// Issue generates a token bound to userID and stores it.
func (s *ResetTokenService) Issue(ctx context.Context, userID int64) (string, error) {
	token, err := GenerateResetToken()
	if err != nil {
		return "", err
	}
	if err := s.store.Put(ctx, token, userID, s.ttl); err != nil {
		return "", oops.Code("RESET_ISSUE_FAILED").
			With("user_id", userID).
			Wrap(err)
	}
	return token, nil
}

// Consume resolves and invalidates a token in one step. ok is false when
// the token is empty, unknown, already used or expired.
func (s *ResetTokenService) Consume(ctx context.Context, token string) (userID int64, ok bool, err error) {
	if token == "" {
		return 0, false, nil
	}
	userID, err = s.store.Take(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, oops.Code("RESET_CONSUME_FAILED").Wrap(err)
	}
	return userID, true, nil
}

// Revoke invalidates a token that was issued but never delivered.
func (s *ResetTokenService) Revoke(ctx context.Context, token string) error {
	if err := s.store.Delete(ctx, token); err != nil {
		return oops.Code("RESET_REVOKE_FAILED").Wrap(err)
	}
	return nil
}
