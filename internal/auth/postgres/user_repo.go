// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

// Package postgres implements the auth user directory on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/gatekeep/gatekeep/internal/auth"
)

// Unique constraint names from the users migration.
const (
	usernameConstraint = "users_username_key"
	emailConstraint    = "users_email_key"
)

// DB is the subset of *pgxpool.Pool used by UserRepository.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// UserRepository implements auth.UserRepository using PostgreSQL.
type UserRepository struct {
	db DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db DB) *UserRepository {
	return &UserRepository{db: db}
}

const selectUser = `SELECT id, created_at, updated_at, username, email, password_hash FROM users`

// Create inserts the user and fills in the storage-assigned fields.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO users (username, email, password_hash)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at
	`, user.Username, user.Email, user.PasswordHash).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		switch pgErr.ConstraintName {
		case usernameConstraint:
			return oops.Code("USER_DUPLICATE").
				With("username", user.Username).
				Wrap(auth.ErrDuplicateUsername)
		case emailConstraint:
			return oops.Code("USER_DUPLICATE").
				With("username", user.Username).
				Wrap(auth.ErrDuplicateEmail)
		}
	}
	return oops.Code("USER_CREATE_FAILED").
		With("operation", "insert user").
		With("username", user.Username).
		Wrap(err)
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*auth.User, error) {
	user, err := scanUser(r.db.QueryRow(ctx, selectUser+` WHERE id = $1`, id))
	if err != nil {
		return nil, lookupError(err, "id", id)
	}
	return user, nil
}

// GetByUsername retrieves a user by exact username.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*auth.User, error) {
	user, err := scanUser(r.db.QueryRow(ctx, selectUser+` WHERE username = $1`, username))
	if err != nil {
		return nil, lookupError(err, "username", username)
	}
	return user, nil
}

// GetByEmail retrieves a user by exact email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	user, err := scanUser(r.db.QueryRow(ctx, selectUser+` WHERE email = $1`, email))
	if err != nil {
		return nil, lookupError(err, "email", email)
	}
	return user, nil
}

// UpdatePassword replaces the password hash and bumps updated_at.
func (r *UserRepository) UpdatePassword(ctx context.Context, id int64, passwordHash string) (time.Time, error) {
	var updatedAt time.Time
	err := r.db.QueryRow(ctx, `
		UPDATE users SET password_hash = $2, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, id, passwordHash).Scan(&updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, oops.Code("USER_NOT_FOUND").With("id", id).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return time.Time{}, oops.Code("USER_UPDATE_PASSWORD_FAILED").With("id", id).Wrap(err)
	}
	return updatedAt, nil
}

// Ping checks database connectivity.
func (r *UserRepository) Ping(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		return oops.Code("DB_PING_FAILED").Wrap(err)
	}
	return nil
}

func scanUser(row pgx.Row) (*auth.User, error) {
	var u auth.User
	if err := row.Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt, &u.Username, &u.Email, &u.PasswordHash); err != nil {
		return nil, err
	}
	return &u, nil
}

func lookupError(err error, key string, value any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return oops.Code("USER_NOT_FOUND").With(key, value).Wrap(auth.ErrNotFound)
	}
	return oops.Code("USER_LOOKUP_FAILED").With(key, value).Wrap(err)
}

var _ auth.UserRepository = (*UserRepository)(nil)
