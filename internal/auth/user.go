// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"context"
	"time"
)

// User is the identity record as persisted by a UserRepository.
// PasswordHash must never leave the process; use NewUserView for any
// outward representation.
type User struct {
	ID           int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Username     string
	Email        *string
	PasswordHash string
}

// EmailAddress returns the user's email, or "" when none is set.
func (u *User) EmailAddress() string {
	if u.Email == nil {
		return ""
	}
	return *u.Email
}

// UserView is the API-facing projection of a User. It has no password field.
type UserView struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
}

// NewUserView maps a storage record to its outward view.
// Returns nil for a nil user.
func NewUserView(u *User) *UserView {
	if u == nil {
		return nil
	}
	return &UserView{
		ID:        u.ID,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
		Username:  u.Username,
		Email:     u.EmailAddress(),
	}
}

// UserRepository is the user directory. Username and email uniqueness is
// enforced by the implementation's storage constraints, not by callers.
type UserRepository interface {
	// Create persists a new user and fills in ID, CreatedAt and UpdatedAt.
	// Returns ErrDuplicateUsername or ErrDuplicateEmail (wrapped) when a
	// unique constraint rejects the insert.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID. Returns ErrNotFound (wrapped) if absent.
	GetByID(ctx context.Context, id int64) (*User, error)

	// GetByUsername retrieves a user by exact, case-sensitive username.
	GetByUsername(ctx context.Context, username string) (*User, error)

	// GetByEmail retrieves a user by email.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// UpdatePassword replaces the password hash and refreshes UpdatedAt,
	// returning the new UpdatedAt.
	UpdatePassword(ctx context.Context, id int64, passwordHash string) (time.Time, error)
}
