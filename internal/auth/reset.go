// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/samber/oops"
)

// Reset token configuration.
const (
	ResetTokenBytes  = 16        // 128 bits = 32 hex chars
	ResetTokenExpiry = time.Hour // 1 hour expiry
)

// GenerateResetToken creates an unguessable reset token.
func GenerateResetToken() (string, error) {
	b := make([]byte, ResetTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", oops.Code("RESET_TOKEN_GENERATE_FAILED").Wrap(err)
	}
	return hex.EncodeToString(b), nil
}

// ResetTokenStore is the ephemeral store for reset tokens. Expired entries
// must be unreachable; implementations rely on the backing store's TTL.
type ResetTokenStore interface {
	// Put maps token to userID for ttl.
	Put(ctx context.Context, token string, userID int64, ttl time.Duration) error

	// Take atomically reads and deletes the token's user id. Returns
	// ErrNotFound (wrapped) when the token is unknown or expired.
	Take(ctx context.Context, token string) (int64, error)

	// Delete removes a token without reading it.
	Delete(ctx context.Context, token string) error
}
