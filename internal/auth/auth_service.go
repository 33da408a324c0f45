// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/gatekeep/gatekeep/pkg/errutil"
)

// DefaultOpTimeout bounds every store and notifier call made by the Service.
const DefaultOpTimeout = 3 * time.Second

var tracer = otel.Tracer("github.com/gatekeep/gatekeep/internal/auth")

// RegisterInput is the input of Service.Register. Email is optional.
type RegisterInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginInput is the input of Service.Login.
type LoginInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// UserResponse is the result of the user-returning use cases. Errors and
// User may both be set: Login reports an already-logged-in caller that way.
type UserResponse struct {
	Errors []FieldError `json:"errors,omitempty"`
	User   *UserView    `json:"user,omitempty"`
}

func rejected(errs ...FieldError) *UserResponse {
	return &UserResponse{Errors: errs}
}

// Dependencies are the collaborators of a Service. All are required.
type Dependencies struct {
	Users    UserRepository
	Hasher   PasswordHasher
	Sessions *SessionManager
	Resets   *ResetTokenService
	Notifier Notifier
	Logger   *slog.Logger
}

// Options tune Service behaviour.
type Options struct {
	// Validator selects first-error or aggregate validation.
	Validator Validator

	// OpTimeout bounds each dependency call. Zero selects DefaultOpTimeout.
	OpTimeout time.Duration

	// ResetURLBase is the page the reset token is appended to.
	ResetURLBase string

	// ConcealUnknownEmail makes RequestPasswordReset report true for unknown
	// addresses so the response does not reveal which emails are registered.
	ConcealUnknownEmail bool

	// RevokeSessionsOnReset ends every session of a user whose password was
	// reset with a token.
	RevokeSessionsOnReset bool
}

// Service orchestrates the authentication use cases.
type Service struct {
	users    UserRepository
	hasher   PasswordHasher
	sessions *SessionManager
	resets   *ResetTokenService
	notifier Notifier
	logger   *slog.Logger
	opts     Options
}

// NewService creates a Service, validating its dependencies.
func NewService(deps Dependencies, opts Options) (*Service, error) {
	switch {
	case deps.Users == nil:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("user repository is required")
	case deps.Hasher == nil:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("password hasher is required")
	case deps.Sessions == nil:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("session manager is required")
	case deps.Resets == nil:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("reset token service is required")
	case deps.Notifier == nil:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("notifier is required")
	case deps.Logger == nil:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("logger is required")
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = DefaultOpTimeout
	}
	return &Service{
		users:    deps.Users,
		hasher:   deps.Hasher,
		sessions: deps.Sessions,
		resets:   deps.Resets,
		notifier: deps.Notifier,
		logger:   deps.Logger,
		opts:     opts,
	}, nil
}

// Register creates a user and logs them in.
func (s *Service) Register(ctx context.Context, sc *SessionContext, in RegisterInput) (*UserResponse, error) {
	ctx, span := tracer.Start(ctx, "auth."+OpRegister)
	defer span.End()
	start := time.Now()

	resp, err := s.register(ctx, sc, in)

	finish(span, OpRegister, responseOutcome(resp, err), start)
	return resp, err
}

func (s *Service) register(ctx context.Context, sc *SessionContext, in RegisterInput) (*UserResponse, error) {
	// Fast path only; the unique constraints decide on insert.
	existing, err := s.userByUsername(ctx, in.Username)
	if err != nil {
		return nil, s.unavailable(ctx, "lookup username", err)
	}
	if existing != nil {
		return rejected(FieldError{Field: FieldUsername, Message: MsgUsernameTaken}), nil
	}

	if in.Email != "" {
		existing, err = s.userByEmail(ctx, in.Email)
		if err != nil {
			return nil, s.unavailable(ctx, "lookup email", err)
		}
		if existing != nil {
			return rejected(FieldError{Field: FieldEmail, Message: MsgEmailTaken}), nil
		}
	}

	if errs := s.opts.Validator.Registration(in); len(errs) > 0 {
		return rejected(errs...), nil
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, s.unavailable(ctx, "hash password", err)
	}

	user := &User{Username: in.Username, PasswordHash: hash}
	if in.Email != "" {
		email := in.Email
		user.Email = &email
	}

	cctx, cancel := s.bounded(ctx)
	err = s.users.Create(cctx, user)
	cancel()
	switch {
	case errors.Is(err, ErrDuplicateUsername):
		return rejected(FieldError{Field: FieldUsername, Message: MsgUsernameTaken}), nil
	case errors.Is(err, ErrDuplicateEmail):
		return rejected(FieldError{Field: FieldEmail, Message: MsgEmailTaken}), nil
	case err != nil:
		return nil, s.unavailable(ctx, "create user", err)
	}

	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID)

	// The new session replaces whatever the caller presented.
	if sc.ID != "" {
		if _, ok := s.resolve(ctx, sc.ID); ok {
			s.destroyQuietly(ctx, sc.ID)
		}
	}

	// The account exists at this point; a session failure leaves the caller
	// anonymous but still reports the created user.
	s.startSession(ctx, sc, user.ID)

	return &UserResponse{User: NewUserView(user)}, nil
}

// Login verifies credentials and binds a new session to the user.
func (s *Service) Login(ctx context.Context, sc *SessionContext, in LoginInput) (*UserResponse, error) {
	ctx, span := tracer.Start(ctx, "auth."+OpLogin)
	defer span.End()
	start := time.Now()

	resp, err := s.login(ctx, sc, in)

	finish(span, OpLogin, responseOutcome(resp, err), start)
	return resp, err
}

func (s *Service) login(ctx context.Context, sc *SessionContext, in LoginInput) (*UserResponse, error) {
	user, err := s.userByUsername(ctx, in.Username)
	if err != nil {
		return nil, s.unavailable(ctx, "lookup username", err)
	}
	if user == nil {
		return rejected(FieldError{Field: FieldUsername, Message: MsgUsernameNotFound}), nil
	}

	valid, err := s.hasher.Verify(in.Password, user.PasswordHash)
	if err != nil {
		return nil, s.unavailable(ctx, "verify password", oops.With("user_id", user.ID).Wrap(err))
	}
	if !valid {
		return rejected(FieldError{Field: FieldPassword, Message: MsgPasswordWrong}), nil
	}

	if sc.ID != "" {
		current, ok := s.resolve(ctx, sc.ID)
		if ok && current == user.ID {
			return &UserResponse{
				Errors: []FieldError{{Field: FieldUser, Message: MsgAlreadyLoggedIn}},
				User:   NewUserView(user),
			}, nil
		}
		// The presented session belongs to someone else or is stale; it is
		// replaced below, so drop it rather than leave it resolvable.
		if ok {
			s.destroyQuietly(ctx, sc.ID)
		}
	}

	cctx, cancel := s.bounded(ctx)
	id, err := s.sessions.Create(cctx, user.ID)
	cancel()
	if err != nil {
		return nil, s.unavailable(ctx, "create session", err)
	}
	sc.issue(id)

	return &UserResponse{User: NewUserView(user)}, nil
}

// Logout destroys the caller's session. The cookie is cleared regardless of
// the outcome; false reports that the server-side session may still exist.
func (s *Service) Logout(ctx context.Context, sc *SessionContext) bool {
	ctx, span := tracer.Start(ctx, "auth."+OpLogout)
	defer span.End()
	start := time.Now()

	id := sc.ID
	sc.clear()

	ok := true
	if id != "" {
		cctx, cancel := s.bounded(ctx)
		if err := s.sessions.Destroy(cctx, id); err != nil {
			errutil.LogError(ctx, s.logger, "session destroy failed", err)
			ok = false
		}
		cancel()
	}

	finish(span, OpLogout, boolOutcome(ok), start)
	return ok
}

// Me returns the user bound to the caller's session, or nil when there is
// none. Store failures are treated as anonymous.
func (s *Service) Me(ctx context.Context, sc *SessionContext) *UserView {
	ctx, span := tracer.Start(ctx, "auth."+OpMe)
	defer span.End()
	start := time.Now()

	view := s.me(ctx, sc)

	outcome := OutcomeSuccess
	if view == nil {
		outcome = OutcomeRejected
	}
	finish(span, OpMe, outcome, start)
	return view
}

func (s *Service) me(ctx context.Context, sc *SessionContext) *UserView {
	userID, ok := s.resolve(ctx, sc.ID)
	if !ok {
		return nil
	}

	cctx, cancel := s.bounded(ctx)
	defer cancel()
	user, err := s.users.GetByID(cctx, userID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			errutil.LogError(ctx, s.logger, "me: user lookup failed", err)
		}
		return nil
	}
	return NewUserView(user)
}

// RequestPasswordReset issues a reset token for the account registered
// under email and sends the reset link to it.
//
// For an unknown email it returns false, or true when ConcealUnknownEmail
// is set. Any store, rendering or delivery failure returns false.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) bool {
	ctx, span := tracer.Start(ctx, "auth."+OpRequestReset)
	defer span.End()
	start := time.Now()

	ok := s.requestPasswordReset(ctx, email)

	finish(span, OpRequestReset, boolOutcome(ok), start)
	return ok
}

func (s *Service) requestPasswordReset(ctx context.Context, email string) bool {
	if email == "" {
		return s.opts.ConcealUnknownEmail
	}
	user, err := s.userByEmail(ctx, email)
	if err != nil {
		errutil.LogError(ctx, s.logger, "password reset: email lookup failed", err)
		return false
	}
	if user == nil {
		return s.opts.ConcealUnknownEmail
	}

	cctx, cancel := s.bounded(ctx)
	token, err := s.resets.Issue(cctx, user.ID)
	cancel()
	if err != nil {
		errutil.LogError(ctx, s.logger, "password reset: token issue failed", err)
		return false
	}

	body, err := RenderResetEmail(ResetLink(s.opts.ResetURLBase, token), int(s.resets.TTL().Minutes()))
	if err != nil {
		errutil.LogError(ctx, s.logger, "password reset: render failed", err)
		s.revokeQuietly(ctx, token)
		return false
	}

	cctx, cancel = s.bounded(ctx)
	err = s.notifier.Send(cctx, user.EmailAddress(), ResetEmailSubject, body)
	cancel()
	if err != nil {
		errutil.LogError(ctx, s.logger, "password reset: notify failed",
			oops.With("user_id", user.ID).Wrap(err))
		s.revokeQuietly(ctx, token)
		return false
	}

	s.logger.InfoContext(ctx, "password reset requested", "user_id", user.ID)
	return true
}

// ConsumeReset sets a new password using a reset token, then logs the
// caller in as that user.
//
// The token is consumed before the password is validated; a rejected
// password still spends it.
func (s *Service) ConsumeReset(ctx context.Context, sc *SessionContext, token, newPassword string) (*UserResponse, error) {
	ctx, span := tracer.Start(ctx, "auth."+OpConsumeReset)
	defer span.End()
	start := time.Now()

	resp, err := s.consumeReset(ctx, sc, token, newPassword)

	finish(span, OpConsumeReset, responseOutcome(resp, err), start)
	return resp, err
}

func (s *Service) consumeReset(ctx context.Context, sc *SessionContext, token, newPassword string) (*UserResponse, error) {
	// Tokens are single use: a consumed token is gone even when the new
	// password is rejected below.
	cctx, cancel := s.bounded(ctx)
	userID, ok, err := s.resets.Consume(cctx, token)
	cancel()
	if err != nil {
		return nil, s.unavailable(ctx, "consume reset token", err)
	}
	if !ok {
		return rejected(FieldError{Field: FieldToken, Message: MsgTokenInvalid}), nil
	}

	if errs := s.opts.Validator.NewPassword(newPassword); len(errs) > 0 {
		return rejected(errs...), nil
	}

	cctx, cancel = s.bounded(ctx)
	user, err := s.users.GetByID(cctx, userID)
	cancel()
	if errors.Is(err, ErrNotFound) {
		return rejected(FieldError{Field: FieldToken, Message: MsgUserGone}), nil
	}
	if err != nil {
		return nil, s.unavailable(ctx, "lookup reset user", err)
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return nil, s.unavailable(ctx, "hash password", err)
	}

	cctx, cancel = s.bounded(ctx)
	updatedAt, err := s.users.UpdatePassword(cctx, userID, hash)
	cancel()
	if errors.Is(err, ErrNotFound) {
		return rejected(FieldError{Field: FieldToken, Message: MsgUserGone}), nil
	}
	if err != nil {
		return nil, s.unavailable(ctx, "update password", err)
	}
	user.PasswordHash = hash
	user.UpdatedAt = updatedAt

	if s.opts.RevokeSessionsOnReset {
		cctx, cancel = s.bounded(ctx)
		if err := s.sessions.DestroyAllForUser(cctx, userID); err != nil {
			errutil.LogError(ctx, s.logger, "password reset: session revocation failed", err)
		}
		cancel()
	}

	s.logger.InfoContext(ctx, "password reset completed", "user_id", userID)
	s.startSession(ctx, sc, userID)

	return &UserResponse{User: NewUserView(user)}, nil
}

// userByUsername returns (nil, nil) when the username is unknown.
func (s *Service) userByUsername(ctx context.Context, username string) (*User, error) {
	cctx, cancel := s.bounded(ctx)
	defer cancel()
	user, err := s.users.GetByUsername(cctx, username)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return user, err
}

// userByEmail returns (nil, nil) when the email is unknown.
func (s *Service) userByEmail(ctx context.Context, email string) (*User, error) {
	cctx, cancel := s.bounded(ctx)
	defer cancel()
	user, err := s.users.GetByEmail(cctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return user, err
}

// resolve fails closed: a store error reads as no session.
func (s *Service) resolve(ctx context.Context, id string) (int64, bool) {
	cctx, cancel := s.bounded(ctx)
	defer cancel()
	userID, ok, err := s.sessions.Resolve(cctx, id)
	if err != nil {
		errutil.LogError(ctx, s.logger, "session resolve failed", err)
		return 0, false
	}
	return userID, ok
}

func (s *Service) startSession(ctx context.Context, sc *SessionContext, userID int64) {
	cctx, cancel := s.bounded(ctx)
	defer cancel()
	id, err := s.sessions.Create(cctx, userID)
	if err != nil {
		errutil.LogError(ctx, s.logger, "session create failed", err)
		return
	}
	sc.issue(id)
}

func (s *Service) destroyQuietly(ctx context.Context, id string) {
	cctx, cancel := s.bounded(ctx)
	defer cancel()
	if err := s.sessions.Destroy(cctx, id); err != nil {
		errutil.LogError(ctx, s.logger, "stale session destroy failed", err)
	}
}

func (s *Service) revokeQuietly(ctx context.Context, token string) {
	cctx, cancel := s.bounded(ctx)
	defer cancel()
	if err := s.resets.Revoke(cctx, token); err != nil {
		errutil.LogError(ctx, s.logger, "reset token revoke failed", err)
	}
}

func (s *Service) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opts.OpTimeout)
}

// unavailable logs err with the failing step and returns the coarse error.
func (s *Service) unavailable(ctx context.Context, step string, err error) error {
	errutil.LogError(ctx, s.logger, "auth dependency failed", oops.With("step", step).Wrap(err))
	return ErrUnavailable
}

func finish(span trace.Span, op, outcome string, start time.Time) {
	span.SetAttributes(attribute.String("auth.outcome", outcome))
	recordOperation(op, outcome, time.Since(start))
}
