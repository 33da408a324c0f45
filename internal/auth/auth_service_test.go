// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/gatekeep/gatekeep/internal/auth"
	"github.com/gatekeep/gatekeep/internal/auth/authtest"
	"github.com/gatekeep/gatekeep/internal/auth/mocks"
)

const resetBase = "http://localhost:3000/change-password"

type fixture struct {
	svc      *auth.Service
	users    *authtest.Users
	sessions *authtest.Sessions
	resets   *authtest.Resets
	outbox   *authtest.Outbox
}

func newFixture(t *testing.T, opts auth.Options) *fixture {
	t.Helper()
	f := &fixture{
		users:    authtest.NewUsers(),
		sessions: authtest.NewSessions(),
		resets:   authtest.NewResets(),
		outbox:   &authtest.Outbox{},
	}
	sessions, err := auth.NewSessionManager(f.sessions, 0)
	require.NoError(t, err)
	resets, err := auth.NewResetTokenService(f.resets, 0)
	require.NoError(t, err)
	if opts.ResetURLBase == "" {
		opts.ResetURLBase = resetBase
	}
	f.svc, err = auth.NewService(auth.Dependencies{
		Users:    f.users,
		Hasher:   authtest.FastHasher(),
		Sessions: sessions,
		Resets:   resets,
		Notifier: f.outbox,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, opts)
	require.NoError(t, err)
	return f
}

// register creates alice1 and returns the session context.
func (f *fixture) register(t *testing.T) *auth.SessionContext {
	t.Helper()
	sc := auth.NewSessionContext("")
	resp, err := f.svc.Register(context.Background(), sc, auth.RegisterInput{
		Username: "alice1",
		Email:    "alice@example.com",
		Password: "secret1",
	})
	require.NoError(t, err)
	require.Empty(t, resp.Errors)
	return sc
}

func (f *fixture) boundUser(t *testing.T, sessionID string) (int64, bool) {
	t.Helper()
	userID, err := f.sessions.Load(context.Background(), sessionID)
	if errors.Is(err, auth.ErrNotFound) {
		return 0, false
	}
	require.NoError(t, err)
	return userID, true
}

func TestNewService_MissingDependencies(t *testing.T) {
	full := func() auth.Dependencies {
		sessions, _ := auth.NewSessionManager(authtest.NewSessions(), 0)
		resets, _ := auth.NewResetTokenService(authtest.NewResets(), 0)
		return auth.Dependencies{
			Users:    authtest.NewUsers(),
			Hasher:   authtest.FastHasher(),
			Sessions: sessions,
			Resets:   resets,
			Notifier: &authtest.Outbox{},
			Logger:   slog.Default(),
		}
	}

	tests := []struct {
		name        string
		mutate      func(*auth.Dependencies)
		expectError string
	}{
		{"nil users", func(d *auth.Dependencies) { d.Users = nil }, "user repository is required"},
		{"nil hasher", func(d *auth.Dependencies) { d.Hasher = nil }, "password hasher is required"},
		{"nil sessions", func(d *auth.Dependencies) { d.Sessions = nil }, "session manager is required"},
		{"nil resets", func(d *auth.Dependencies) { d.Resets = nil }, "reset token service is required"},
		{"nil notifier", func(d *auth.Dependencies) { d.Notifier = nil }, "notifier is required"},
		{"nil logger", func(d *auth.Dependencies) { d.Logger = nil }, "logger is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := full()
			tt.mutate(&deps)
			svc, err := auth.NewService(deps, auth.Options{})
			require.Error(t, err)
			assert.Nil(t, svc)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestService_RegisterLoginScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, auth.Options{})

	sc := auth.NewSessionContext("")
	resp, err := f.svc.Register(ctx, sc, auth.RegisterInput{
		Username: "alice1",
		Email:    "alice@example.com",
		Password: "secret1",
	})
	require.NoError(t, err)
	require.Empty(t, resp.Errors)
	require.NotNil(t, resp.User)
	assert.Equal(t, int64(1), resp.User.ID)
	assert.Equal(t, "alice1", resp.User.Username)
	assert.Equal(t, "alice@example.com", resp.User.Email)

	sessionID, issued := sc.Issued()
	require.True(t, issued)
	userID, ok := f.boundUser(t, sessionID)
	require.True(t, ok)
	assert.Equal(t, int64(1), userID)

	resp, err = f.svc.Login(ctx, sc, auth.LoginInput{Username: "alice1", Password: "wrong"})
	require.NoError(t, err)
	assert.Equal(t, []auth.FieldError{{Field: "password", Message: "password incorrect"}}, resp.Errors)
	assert.Nil(t, resp.User)

	resp, err = f.svc.Login(ctx, sc, auth.LoginInput{Username: "alice1", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, []auth.FieldError{{Field: "User", Message: "User already logged in"}}, resp.Errors)
	require.NotNil(t, resp.User)
	assert.Equal(t, int64(1), resp.User.ID)

	// The existing session is left untouched.
	assert.Equal(t, sessionID, sc.ID)
	assert.Equal(t, 1, f.sessions.Len())
}

func TestService_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("stores argon2id hash, never plaintext", func(t *testing.T) {
		f := newFixture(t, auth.Options{})
		f.register(t)

		user, err := f.users.GetByUsername(ctx, "alice1")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(user.PasswordHash, "$argon2id$"))
		assert.NotContains(t, user.PasswordHash, "secret1")
	})

	t.Run("session ttl matches cookie max age", func(t *testing.T) {
		f := newFixture(t, auth.Options{})
		sc := f.register(t)
		ttl, ok := f.sessions.TTL(sc.ID)
		require.True(t, ok)
		assert.Equal(t, auth.DefaultSessionMaxAge, ttl)
	})

	t.Run("replaces a presented session", func(t *testing.T) {
		f := newFixture(t, auth.Options{})
		sc := f.register(t)
		old := sc.ID

		resp, err := f.svc.Register(ctx, sc, auth.RegisterInput{
			Username: "bobby1",
			Email:    "bob@example.com",
			Password: "secret2",
		})
		require.NoError(t, err)
		require.Empty(t, resp.Errors)

		_, ok := f.boundUser(t, old)
		assert.False(t, ok, "previous session is destroyed")
		id, issued := sc.Issued()
		require.True(t, issued)
		assert.NotEqual(t, old, id)
		userID, ok := f.boundUser(t, id)
		require.True(t, ok)
		assert.Equal(t, resp.User.ID, userID)
		assert.Equal(t, 1, f.sessions.Len())
	})

	t.Run("duplicate username creates no record", func(t *testing.T) {
		f := newFixture(t, auth.Options{})
		f.register(t)

		resp, err := f.svc.Register(ctx, auth.NewSessionContext(""), auth.RegisterInput{
			Username: "alice1",
			Email:    "other@example.com",
			Password: "secret2",
		})
		require.NoError(t, err)
		assert.Equal(t, []auth.FieldError{{Field: auth.FieldUsername, Message: auth.MsgUsernameTaken}}, resp.Errors)
		assert.Nil(t, resp.User)
		assert.Equal(t, 1, f.users.Len())
	})

	t.Run("duplicate email", func(t *testing.T) {
		f := newFixture(t, auth.Options{})
		f.register(t)

		resp, err := f.svc.Register(ctx, auth.NewSessionContext(""), auth.RegisterInput{
			Username: "bobby1",
			Email:    "alice@example.com",
			Password: "secret2",
		})
		require.NoError(t, err)
		assert.Equal(t, []auth.FieldError{{Field: auth.FieldEmail, Message: auth.MsgEmailTaken}}, resp.Errors)
	})

	t.Run("validation failure issues no session", func(t *testing.T) {
		f := newFixture(t, auth.Options{})
		sc := auth.NewSessionContext("")

		resp, err := f.svc.Register(ctx, sc, auth.RegisterInput{Username: "bob", Password: "secret1"})
		require.NoError(t, err)
		assert.Equal(t, []auth.FieldError{{Field: auth.FieldUsername, Message: auth.MsgUsernameTooShort}}, resp.Errors)
		_, issued := sc.Issued()
		assert.False(t, issued)
		assert.Equal(t, 0, f.users.Len())
	})

	t.Run("aggregate validation", func(t *testing.T) {
		f := newFixture(t, auth.Options{Validator: auth.Validator{Aggregate: true}})

		resp, err := f.svc.Register(ctx, auth.NewSessionContext(""), auth.RegisterInput{
			Username: "bob", Email: "bad", Password: "123",
		})
		require.NoError(t, err)
		assert.Len(t, resp.Errors, 3)
	})

	t.Run("register without email", func(t *testing.T) {
		f := newFixture(t, auth.Options{})
		resp, err := f.svc.Register(ctx, auth.NewSessionContext(""), auth.RegisterInput{
			Username: "noemail", Password: "secret1",
		})
		require.NoError(t, err)
		require.NotNil(t, resp.User)
		assert.Empty(t, resp.User.Email)
	})

	t.Run("session store down still creates user", func(t *testing.T) {
		f := newFixture(t, auth.Options{})
		f.sessions.Err = errors.New("redis down")
		sc := auth.NewSessionContext("")

		resp, err := f.svc.Register(ctx, sc, auth.RegisterInput{Username: "alice1", Password: "secret1"})
		require.NoError(t, err)
		require.NotNil(t, resp.User)
		_, issued := sc.Issued()
		assert.False(t, issued)
	})

	t.Run("user store down is unavailable", func(t *testing.T) {
		f := newFixture(t, auth.Options{})
		f.users.Err = errors.New("connection refused")

		resp, err := f.svc.Register(ctx, auth.NewSessionContext(""), auth.RegisterInput{
			Username: "alice1", Password: "secret1",
		})
		assert.Nil(t, resp)
		assert.ErrorIs(t, err, auth.ErrUnavailable)
		assert.NotContains(t, err.Error(), "connection refused")
	})
}

func TestService_Register_ConstraintRace(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		err    error
		expect auth.FieldError
	}{
		{"username constraint", auth.ErrDuplicateUsername, auth.FieldError{Field: auth.FieldUsername, Message: auth.MsgUsernameTaken}},
		{"email constraint", auth.ErrDuplicateEmail, auth.FieldError{Field: auth.FieldEmail, Message: auth.MsgEmailTaken}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users := mocks.NewMockUserRepository(t)
			users.On("GetByUsername", mock.Anything, "alice1").Return(nil, auth.ErrNotFound)
			users.On("GetByEmail", mock.Anything, "alice@example.com").Return(nil, auth.ErrNotFound)
			users.On("Create", mock.Anything, mock.AnythingOfType("*auth.User")).Return(tt.err)

			sessions, err := auth.NewSessionManager(mocks.NewMockSessionStore(t), 0)
			require.NoError(t, err)
			resets, err := auth.NewResetTokenService(mocks.NewMockResetTokenStore(t), 0)
			require.NoError(t, err)
			svc, err := auth.NewService(auth.Dependencies{
				Users:    users,
				Hasher:   authtest.FastHasher(),
				Sessions: sessions,
				Resets:   resets,
				Notifier: mocks.NewMockNotifier(t),
				Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
			}, auth.Options{})
			require.NoError(t, err)

			sc := auth.NewSessionContext("")
			resp, err := svc.Register(ctx, sc, auth.RegisterInput{
				Username: "alice1", Email: "alice@example.com", Password: "secret1",
			})
			require.NoError(t, err)
			assert.Equal(t, []auth.FieldError{tt.expect}, resp.Errors)
			_, issued := sc.Issued()
			assert.False(t, issued)
		})
	}
}

func TestService_Register_ConcurrentSameUsername(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, auth.Options{})

	const n = 8
	var wg sync.WaitGroup
	results := make([]*auth.UserResponse, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := f.svc.Register(ctx, auth.NewSessionContext(""), auth.RegisterInput{
				Username: "racer1", Password: "secret1",
			})
			assert.NoError(t, err)
			results[i] = resp
		}()
	}
	wg.Wait()

	created := 0
	for _, resp := range results {
		if resp != nil && resp.User != nil {
			created++
			continue
		}
		require.NotNil(t, resp)
		assert.Equal(t, []auth.FieldError{{Field: auth.FieldUsername, Message: auth.MsgUsernameTaken}}, resp.Errors)
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, f.users.Len())
}

func TestService_Login(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown username", func(t *testing.T) {
		f := newFixture(t, auth.Options{})
		resp, err := f.svc.Login(ctx, auth.NewSessionContext(""), auth.LoginInput{Username: "ghost1", Password: "secret1"})
		require.NoError(t, err)
		assert.Equal(t, []auth.FieldError{{Field: auth.FieldUsername, Message: auth.MsgUsernameNotFound}}, resp.Errors)
	})

	t.Run("fresh login binds a new session", func(t *testing.T) {
		f := newFixture(t, auth.Options{})
		f.register(t)

		sc := auth.NewSessionContext("")
		resp, err := f.svc.Login(ctx, sc, auth.LoginInput{Username: "alice1", Password: "secret1"})
		require.NoError(t, err)
		assert.Empty(t, resp.Errors)
		require.NotNil(t, resp.User)

		id, issued := sc.Issued()
		require.True(t, issued)
		userID, ok := f.boundUser(t, id)
		require.True(t, ok)
		assert.Equal(t, resp.User.ID, userID)
	})

	t.Run("stale session is replaced", func(t *testing.T) {
		f := newFixture(t, auth.Options{})
		f.register(t)

		sc := auth.NewSessionContext("expired-session")
		resp, err := f.svc.Login(ctx, sc, auth.LoginInput{Username: "alice1", Password: "secret1"})
		require.NoError(t, err)
		assert.Empty(t, resp.Errors)
		id, issued := sc.Issued()
		require.True(t, issued)
		assert.NotEqual(t, "expired-session", id)
	})

	t.Run("session of another user is destroyed", func(t *testing.T) {
		f := newFixture(t, auth.Options{})
		f.register(t)
		bob := auth.NewSessionContext("")
		_, err := f.svc.Register(ctx, bob, auth.RegisterInput{Username: "bobby1", Password: "secret2"})
		require.NoError(t, err)
		bobSession := bob.ID

		resp, err := f.svc.Login(ctx, bob, auth.LoginInput{Username: "alice1", Password: "secret1"})
		require.NoError(t, err)
		assert.Empty(t, resp.Errors)

		_, ok := f.boundUser(t, bobSession)
		assert.False(t, ok)
		userID, ok := f.boundUser(t, bob.ID)
		require.True(t, ok)
		assert.Equal(t, int64(1), userID)
	})

	t.Run("corrupt stored hash is unavailable", func(t *testing.T) {
		f := newFixture(t, auth.Options{})
		require.NoError(t, f.users.Create(ctx, &auth.User{Username: "broken", PasswordHash: "garbage"}))

		resp, err := f.svc.Login(ctx, auth.NewSessionContext(""), auth.LoginInput{Username: "broken", Password: "secret1"})
		assert.Nil(t, resp)
		assert.ErrorIs(t, err, auth.ErrUnavailable)
	})

	t.Run("session store down is unavailable", func(t *testing.T) {
		f := newFixture(t, auth.Options{})
		f.register(t)
		f.sessions.Err = errors.New("redis down")

		resp, err := f.svc.Login(ctx, auth.NewSessionContext(""), auth.LoginInput{Username: "alice1", Password: "secret1"})
		assert.Nil(t, resp)
		assert.ErrorIs(t, err, auth.ErrUnavailable)
	})
}

func TestService_Logout(t *testing.T) {
	ctx := context.Background()

	t.Run("destroys session and clears cookie", func(t *testing.T) {
		f := newFixture(t, auth.Options{})
		sc := f.register(t)
		id := sc.ID

		assert.True(t, f.svc.Logout(ctx, sc))
		assert.True(t, sc.Cleared())
		_, ok := f.boundUser(t, id)
		assert.False(t, ok)
		assert.Nil(t, f.svc.Me(ctx, auth.NewSessionContext(id)))
	})

	t.Run("anonymous logout succeeds", func(t *testing.T) {
		f := newFixture(t, auth.Options{})
		sc := auth.NewSessionContext("")
		assert.True(t, f.svc.Logout(ctx, sc))
		assert.True(t, sc.Cleared())
	})

	t.Run("destroy failure still clears cookie", func(t *testing.T) {
		f := newFixture(t, auth.Options{})
		sc := f.register(t)
		f.sessions.Err = errors.New("redis down")

		assert.False(t, f.svc.Logout(ctx, sc))
		assert.True(t, sc.Cleared())
	})
}

func TestService_Me(t *testing.T) {
	ctx := context.Background()

	t.Run("returns bound user", func(t *testing.T) {
		f := newFixture(t, auth.Options{})
		sc := f.register(t)

		view := f.svc.Me(ctx, auth.NewSessionContext(sc.ID))
		require.NotNil(t, view)
		assert.Equal(t, "alice1", view.Username)
	})

	t.Run("no session", func(t *testing.T) {
		f := newFixture(t, auth.Options{})
		assert.Nil(t, f.svc.Me(ctx, auth.NewSessionContext("")))
	})

	t.Run("deleted user", func(t *testing.T) {
		f := newFixture(t, auth.Options{})
		sc := f.register(t)
		f.users.Remove(1)
		assert.Nil(t, f.svc.Me(ctx, auth.NewSessionContext(sc.ID)))
	})

	t.Run("store down fails closed", func(t *testing.T) {
		f := newFixture(t, auth.Options{})
		sc := f.register(t)
		f.sessions.Err = errors.New("redis down")
		assert.Nil(t, f.svc.Me(ctx, auth.NewSessionContext(sc.ID)))
	})
}

func TestService_RequestPasswordReset(t *testing.T) {
	ctx := context.Background()

	t.Run("stores token and mails link", func(t *testing.T) {
		f := newFixture(t, auth.Options{})
		f.register(t)

		assert.True(t, f.svc.RequestPasswordReset(ctx, "alice@example.com"))

		tokens := f.resets.Tokens()
		require.Len(t, tokens, 1)
		ttl, ok := f.resets.TTL(tokens[0])
		require.True(t, ok)
		assert.LessOrEqual(t, ttl, time.Hour)

		userID, err := f.resets.Take(ctx, tokens[0])
		require.NoError(t, err)
		assert.Equal(t, int64(1), userID)

		msgs := f.outbox.Messages()
		require.Len(t, msgs, 1)
		assert.Equal(t, "alice@example.com", msgs[0].To)
		assert.Equal(t, auth.ResetEmailSubject, msgs[0].Subject)
		assert.Contains(t, msgs[0].HTML, resetBase+"/"+tokens[0])
	})

	t.Run("unknown email reports false", func(t *testing.T) {
		f := newFixture(t, auth.Options{})
		assert.False(t, f.svc.RequestPasswordReset(ctx, "nobody@example.com"))
		assert.Empty(t, f.outbox.Messages())
	})

	t.Run("unknown email concealed", func(t *testing.T) {
		f := newFixture(t, auth.Options{ConcealUnknownEmail: true})
		assert.True(t, f.svc.RequestPasswordReset(ctx, "nobody@example.com"))
		assert.Empty(t, f.resets.Tokens())
		assert.Empty(t, f.outbox.Messages())
	})

	t.Run("notifier failure revokes token", func(t *testing.T) {
		f := newFixture(t, auth.Options{})
		f.register(t)
		f.outbox.Err = errors.New("smtp down")

		assert.False(t, f.svc.RequestPasswordReset(ctx, "alice@example.com"))
		assert.Empty(t, f.resets.Tokens())
	})

	t.Run("token store failure", func(t *testing.T) {
		f := newFixture(t, auth.Options{})
		f.register(t)
		f.resets.Err = errors.New("redis down")

		assert.False(t, f.svc.RequestPasswordReset(ctx, "alice@example.com"))
		assert.Empty(t, f.outbox.Messages())
	})
}

func TestService_ConsumeReset(t *testing.T) {
	ctx := context.Background()

	issue := func(t *testing.T, f *fixture) string {
		t.Helper()
		require.True(t, f.svc.RequestPasswordReset(ctx, "alice@example.com"))
		tokens := f.resets.Tokens()
		require.Len(t, tokens, 1)
		return tokens[0]
	}

	t.Run("changes password, revokes sessions and logs in", func(t *testing.T) {
		f := newFixture(t, auth.Options{RevokeSessionsOnReset: true})
		old := f.register(t)
		token := issue(t, f)

		sc := auth.NewSessionContext("")
		resp, err := f.svc.ConsumeReset(ctx, sc, token, "secret2")
		require.NoError(t, err)
		assert.Empty(t, resp.Errors)
		require.NotNil(t, resp.User)
		assert.Equal(t, int64(1), resp.User.ID)

		_, ok := f.boundUser(t, old.ID)
		assert.False(t, ok, "sessions from before the reset are revoked")
		id, issued := sc.Issued()
		require.True(t, issued)
		userID, ok := f.boundUser(t, id)
		require.True(t, ok)
		assert.Equal(t, int64(1), userID)

		login, err := f.svc.Login(ctx, auth.NewSessionContext(""), auth.LoginInput{Username: "alice1", Password: "secret1"})
		require.NoError(t, err)
		assert.Equal(t, []auth.FieldError{{Field: auth.FieldPassword, Message: auth.MsgPasswordWrong}}, login.Errors)

		login, err = f.svc.Login(ctx, auth.NewSessionContext(""), auth.LoginInput{Username: "alice1", Password: "secret2"})
		require.NoError(t, err)
		assert.Empty(t, login.Errors)
	})

	t.Run("second use is rejected", func(t *testing.T) {
		f := newFixture(t, auth.Options{})
		f.register(t)
		token := issue(t, f)

		_, err := f.svc.ConsumeReset(ctx, auth.NewSessionContext(""), token, "secret2")
		require.NoError(t, err)

		resp, err := f.svc.ConsumeReset(ctx, auth.NewSessionContext(""), token, "secret3")
		require.NoError(t, err)
		assert.Equal(t, []auth.FieldError{{Field: auth.FieldToken, Message: auth.MsgTokenInvalid}}, resp.Errors)
	})

	t.Run("sessions kept without revocation", func(t *testing.T) {
		f := newFixture(t, auth.Options{})
		old := f.register(t)
		token := issue(t, f)

		_, err := f.svc.ConsumeReset(ctx, auth.NewSessionContext(""), token, "secret2")
		require.NoError(t, err)
		_, ok := f.boundUser(t, old.ID)
		assert.True(t, ok)
	})

	t.Run("short password burns the token", func(t *testing.T) {
		f := newFixture(t, auth.Options{})
		f.register(t)
		token := issue(t, f)

		resp, err := f.svc.ConsumeReset(ctx, auth.NewSessionContext(""), token, "short")
		require.NoError(t, err)
		assert.Equal(t, []auth.FieldError{{Field: auth.FieldNewPassword, Message: auth.MsgPasswordTooShort}}, resp.Errors)
		assert.Nil(t, resp.User)
		assert.Empty(t, f.resets.Tokens())

		sc := auth.NewSessionContext("")
		resp, err = f.svc.ConsumeReset(ctx, sc, token, "secret2")
		require.NoError(t, err)
		assert.Equal(t, []auth.FieldError{{Field: auth.FieldToken, Message: auth.MsgTokenInvalid}}, resp.Errors)
		assert.Nil(t, resp.User)
		_, issued := sc.Issued()
		assert.False(t, issued)

		login, err := f.svc.Login(ctx, auth.NewSessionContext(""), auth.LoginInput{Username: "alice1", Password: "secret1"})
		require.NoError(t, err)
		assert.Empty(t, login.Errors, "password unchanged")
	})

	t.Run("expired token", func(t *testing.T) {
		f := newFixture(t, auth.Options{})
		f.register(t)
		token := issue(t, f)
		f.resets.Expire(token)

		resp, err := f.svc.ConsumeReset(ctx, auth.NewSessionContext(""), token, "secret2")
		require.NoError(t, err)
		assert.Equal(t, []auth.FieldError{{Field: auth.FieldToken, Message: auth.MsgTokenInvalid}}, resp.Errors)
	})

	t.Run("user deleted after issue", func(t *testing.T) {
		f := newFixture(t, auth.Options{})
		f.register(t)
		token := issue(t, f)
		f.users.Remove(1)

		resp, err := f.svc.ConsumeReset(ctx, auth.NewSessionContext(""), token, "secret2")
		require.NoError(t, err)
		assert.Equal(t, []auth.FieldError{{Field: auth.FieldToken, Message: auth.MsgUserGone}}, resp.Errors)
	})

	t.Run("concurrent consumers, one winner", func(t *testing.T) {
		f := newFixture(t, auth.Options{})
		f.register(t)
		token := issue(t, f)

		const n = 6
		var wg sync.WaitGroup
		var mu sync.Mutex
		winners := 0
		for range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				resp, err := f.svc.ConsumeReset(ctx, auth.NewSessionContext(""), token, "secret2")
				if assert.NoError(t, err) && resp.User != nil {
					mu.Lock()
					winners++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, winners)
	})
}

func TestService_OpTimeout(t *testing.T) {
	users := mocks.NewMockUserRepository(t)
	users.On("GetByUsername", mock.Anything, "alice1").
		Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			deadline, ok := ctx.Deadline()
			assert.True(t, ok)
			assert.WithinDuration(t, time.Now().Add(50*time.Millisecond), deadline, 50*time.Millisecond)
			<-ctx.Done()
		}).
		Return(nil, context.DeadlineExceeded)

	sessions, err := auth.NewSessionManager(authtest.NewSessions(), 0)
	require.NoError(t, err)
	resets, err := auth.NewResetTokenService(authtest.NewResets(), 0)
	require.NoError(t, err)
	svc, err := auth.NewService(auth.Dependencies{
		Users:    users,
		Hasher:   authtest.FastHasher(),
		Sessions: sessions,
		Resets:   resets,
		Notifier: &authtest.Outbox{},
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, auth.Options{OpTimeout: 50 * time.Millisecond})
	require.NoError(t, err)

	resp, err := svc.Login(context.Background(), auth.NewSessionContext(""), auth.LoginInput{Username: "alice1", Password: "secret1"})
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, auth.ErrUnavailable)
}
