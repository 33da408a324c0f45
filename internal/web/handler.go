// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

// Package web exposes the auth use cases over HTTP with gin.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gatekeep/gatekeep/internal/auth"
	"github.com/gatekeep/gatekeep/pkg/errutil"
)

// Authenticator is the use case surface served over HTTP.
// *auth.Service implements it.
type Authenticator interface {
	Register(ctx context.Context, sc *auth.SessionContext, in auth.RegisterInput) (*auth.UserResponse, error)
	Login(ctx context.Context, sc *auth.SessionContext, in auth.LoginInput) (*auth.UserResponse, error)
	Logout(ctx context.Context, sc *auth.SessionContext) bool
	Me(ctx context.Context, sc *auth.SessionContext) *auth.UserView
	RequestPasswordReset(ctx context.Context, email string) bool
	ConsumeReset(ctx context.Context, sc *auth.SessionContext, token, newPassword string) (*auth.UserResponse, error)
}

var _ Authenticator = (*auth.Service)(nil)

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type changePasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

// Handler serves the /auth routes.
type Handler struct {
	auth    Authenticator
	cookies *CookieCodec
	logger  *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(a Authenticator, cookies *CookieCodec, logger *slog.Logger) *Handler {
	return &Handler{auth: a, cookies: cookies, logger: logger}
}

// Routes registers the auth endpoints on r.
func (h *Handler) Routes(r gin.IRouter) {
	g := r.Group("/auth")
	g.POST("/register", h.register)
	g.POST("/login", h.login)
	g.POST("/logout", h.logout)
	g.GET("/me", h.me)
	g.POST("/forgot-password", h.forgotPassword)
	g.POST("/change-password", h.changePassword)
}

func (h *Handler) register(c *gin.Context) {
	var in auth.RegisterInput
	if !bind(c, &in) {
		return
	}
	sc := h.session(c)
	resp, err := h.auth.Register(c.Request.Context(), sc, in)
	h.respond(c, sc, resp, err)
}

func (h *Handler) login(c *gin.Context) {
	var in auth.LoginInput
	if !bind(c, &in) {
		return
	}
	sc := h.session(c)
	resp, err := h.auth.Login(c.Request.Context(), sc, in)
	h.respond(c, sc, resp, err)
}

func (h *Handler) logout(c *gin.Context) {
	sc := h.session(c)
	ok := h.auth.Logout(c.Request.Context(), sc)
	h.apply(c, sc)
	c.JSON(http.StatusOK, gin.H{"ok": ok})
}

func (h *Handler) me(c *gin.Context) {
	view := h.auth.Me(c.Request.Context(), h.session(c))
	c.JSON(http.StatusOK, gin.H{"user": view})
}

func (h *Handler) forgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if !bind(c, &req) {
		return
	}
	ok := h.auth.RequestPasswordReset(c.Request.Context(), req.Email)
	c.JSON(http.StatusOK, gin.H{"ok": ok})
}

func (h *Handler) changePassword(c *gin.Context) {
	var req changePasswordRequest
	if !bind(c, &req) {
		return
	}
	sc := h.session(c)
	resp, err := h.auth.ConsumeReset(c.Request.Context(), sc, req.Token, req.NewPassword)
	h.respond(c, sc, resp, err)
}

func (h *Handler) session(c *gin.Context) *auth.SessionContext {
	return auth.NewSessionContext(h.cookies.Read(c.Request))
}

// apply mirrors the use case's session outcome onto the cookie.
func (h *Handler) apply(c *gin.Context, sc *auth.SessionContext) {
	if id, ok := sc.Issued(); ok {
		if err := h.cookies.Write(c, id); err != nil {
			errutil.LogError(c.Request.Context(), h.logger, "session cookie write failed", err)
		}
		return
	}
	if sc.Cleared() {
		h.cookies.Clear(c)
	}
}

func (h *Handler) respond(c *gin.Context, sc *auth.SessionContext, resp *auth.UserResponse, err error) {
	if err != nil {
		if errors.Is(err, auth.ErrUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"code":    "UNAVAILABLE",
				"message": "service temporarily unavailable",
			})
			return
		}
		errutil.LogError(c.Request.Context(), h.logger, "unexpected auth error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL",
			"message": "internal error",
		})
		return
	}
	h.apply(c, sc)
	c.JSON(http.StatusOK, resp)
}

func bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "request body must be a JSON object",
		})
		return false
	}
	return true
}
