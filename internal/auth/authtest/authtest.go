// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

// Package authtest provides in-memory implementations of the auth storage
// and delivery interfaces for use in tests.
package authtest

import (
	"context"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/gatekeep/gatekeep/internal/auth"
)

// FastHasher returns an argon2id hasher with minimal costs.
func FastHasher() *auth.Argon2idHasher {
	return auth.NewArgon2idHasherWithParams(auth.Argon2Params{
		Time:    1,
		Memory:  64,
		Threads: 1,
		SaltLen: 16,
		KeyLen:  32,
	})
}

// Users is an in-memory auth.UserRepository. IDs start at 1.
type Users struct {
	mu     sync.Mutex
	byID   map[int64]auth.User
	nextID int64

	// Now supplies timestamps. Defaults to time.Now.
	Now func() time.Time
	// Err, when set, is returned by every method.
	Err error
}

// NewUsers creates an empty Users.
func NewUsers() *Users {
	return &Users{byID: make(map[int64]auth.User), nextID: 1, Now: time.Now}
}

func (u *Users) Create(_ context.Context, user *auth.User) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.Err != nil {
		return u.Err
	}
	for _, existing := range u.byID {
		if existing.Username == user.Username {
			return oops.With("username", user.Username).Wrap(auth.ErrDuplicateUsername)
		}
	}
	for _, existing := range u.byID {
		if user.Email != nil && existing.Email != nil && *existing.Email == *user.Email {
			return oops.With("email", *user.Email).Wrap(auth.ErrDuplicateEmail)
		}
	}
	now := u.Now().UTC()
	user.ID = u.nextID
	user.CreatedAt = now
	user.UpdatedAt = now
	u.nextID++
	u.byID[user.ID] = copyUser(user)
	return nil
}

func (u *Users) GetByID(_ context.Context, id int64) (*auth.User, error) {
	return u.find(func(user auth.User) bool { return user.ID == id })
}

func (u *Users) GetByUsername(_ context.Context, username string) (*auth.User, error) {
	return u.find(func(user auth.User) bool { return user.Username == username })
}

func (u *Users) GetByEmail(_ context.Context, email string) (*auth.User, error) {
	return u.find(func(user auth.User) bool { return user.Email != nil && *user.Email == email })
}

func (u *Users) UpdatePassword(_ context.Context, id int64, hash string) (time.Time, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.Err != nil {
		return time.Time{}, u.Err
	}
	user, ok := u.byID[id]
	if !ok {
		return time.Time{}, oops.With("user_id", id).Wrap(auth.ErrNotFound)
	}
	user.PasswordHash = hash
	user.UpdatedAt = u.Now().UTC()
	u.byID[id] = user
	return user.UpdatedAt, nil
}

// Remove deletes a user, simulating removal outside the auth flows.
func (u *Users) Remove(id int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.byID, id)
}

// Len returns the number of stored users.
func (u *Users) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.byID)
}

func (u *Users) find(match func(auth.User) bool) (*auth.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.Err != nil {
		return nil, u.Err
	}
	for _, user := range u.byID {
		if match(user) {
			found := copyUser(&user)
			return &found, nil
		}
	}
	return nil, auth.ErrNotFound
}

func copyUser(user *auth.User) auth.User {
	c := *user
	if user.Email != nil {
		email := *user.Email
		c.Email = &email
	}
	return c
}

type entry struct {
	userID int64
	ttl    time.Duration
}

// Sessions is an in-memory auth.SessionStore that records expiries
// instead of enforcing them.
type Sessions struct {
	mu   sync.Mutex
	data map[string]entry

	// Err, when set, is returned by every method.
	Err error
}

// NewSessions creates an empty Sessions.
func NewSessions() *Sessions {
	return &Sessions{data: make(map[string]entry)}
}

func (s *Sessions) Save(_ context.Context, id string, userID int64, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.data[id] = entry{userID: userID, ttl: ttl}
	return nil
}

func (s *Sessions) Load(_ context.Context, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	e, ok := s.data[id]
	if !ok {
		return 0, auth.ErrNotFound
	}
	return e.userID, nil
}

func (s *Sessions) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	delete(s.data, id)
	return nil
}

func (s *Sessions) DeleteByUser(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	for id, e := range s.data {
		if e.userID == userID {
			delete(s.data, id)
		}
	}
	return nil
}

// TTL returns the expiry a session was saved with.
func (s *Sessions) TTL(id string) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[id]
	return e.ttl, ok
}

// Expire drops a session as if its TTL had elapsed.
func (s *Sessions) Expire(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, id)
}

// Len returns the number of live sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// Resets is an in-memory auth.ResetTokenStore.
type Resets struct {
	mu   sync.Mutex
	data map[string]entry

	// Err, when set, is returned by every method.
	Err error
}

// NewResets creates an empty Resets.
func NewResets() *Resets {
	return &Resets{data: make(map[string]entry)}
}

func (r *Resets) Put(_ context.Context, token string, userID int64, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.data[token] = entry{userID: userID, ttl: ttl}
	return nil
}

func (r *Resets) Take(_ context.Context, token string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return 0, r.Err
	}
	e, ok := r.data[token]
	if !ok {
		return 0, auth.ErrNotFound
	}
	delete(r.data, token)
	return e.userID, nil
}

func (r *Resets) Delete(_ context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	delete(r.data, token)
	return nil
}

// Tokens returns the live tokens.
func (r *Resets) Tokens() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	tokens := make([]string, 0, len(r.data))
	for token := range r.data {
		tokens = append(tokens, token)
	}
	return tokens
}

// TTL returns the expiry a token was stored with.
func (r *Resets) TTL(token string) (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.data[token]
	return e.ttl, ok
}

// Expire drops a token as if its TTL had elapsed.
func (r *Resets) Expire(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.data, token)
}

// Message is one notification captured by Outbox.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Outbox is an auth.Notifier that records messages.
type Outbox struct {
	mu       sync.Mutex
	messages []Message

	// Err, when set, is returned by Send and nothing is recorded.
	Err error
}

func (o *Outbox) Send(_ context.Context, to, subject, html string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Err != nil {
		return o.Err
	}
	o.messages = append(o.messages, Message{To: to, Subject: subject, HTML: html})
	return nil
}

// Messages returns a copy of the recorded messages.
func (o *Outbox) Messages() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Message(nil), o.messages...)
}

var (
	_ auth.UserRepository  = (*Users)(nil)
	_ auth.SessionStore    = (*Sessions)(nil)
	_ auth.ResetTokenStore = (*Resets)(nil)
	_ auth.Notifier        = (*Outbox)(nil)
)
