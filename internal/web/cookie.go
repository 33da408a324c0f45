// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package web

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/securecookie"
	"github.com/samber/oops"
)

// DefaultCookieName is the session cookie name used when none is configured.
const DefaultCookieName = "qid"

// CookieConfig controls the attributes of the session cookie.
type CookieConfig struct {
	Name   string
	Domain string
	Path   string
	Secure bool
	// MaxAge is the cookie lifetime in seconds.
	MaxAge int
}

// CookieCodec signs (and optionally encrypts) the session id stored in the
// session cookie. The cookie is always HttpOnly with SameSite=Lax.
type CookieCodec struct {
	cfg   CookieConfig
	codec *securecookie.SecureCookie
}

// NewCookieCodec creates a CookieCodec. hashKey authenticates the cookie
// value and must be at least 32 bytes. blockKey enables AES encryption when
// set and must be 16, 24 or 32 bytes.
func NewCookieCodec(hashKey, blockKey []byte, cfg CookieConfig) (*CookieCodec, error) {
	if len(hashKey) < 32 {
		return nil, oops.Code("COOKIE_INVALID_CONFIG").
			With("hash_key_len", len(hashKey)).
			Errorf("cookie hash key must be at least 32 bytes")
	}
	switch len(blockKey) {
	case 0, 16, 24, 32:
	default:
		return nil, oops.Code("COOKIE_INVALID_CONFIG").
			With("block_key_len", len(blockKey)).
			Errorf("cookie block key must be 16, 24 or 32 bytes")
	}
	if cfg.MaxAge < 0 {
		return nil, oops.Code("COOKIE_INVALID_CONFIG").
			With("max_age", cfg.MaxAge).
			Errorf("cookie max age must not be negative")
	}
	if cfg.Name == "" {
		cfg.Name = DefaultCookieName
	}
	if cfg.Path == "" {
		cfg.Path = "/"
	}

	if len(blockKey) == 0 {
		blockKey = nil
	}
	codec := securecookie.New(hashKey, blockKey)
	codec.MaxAge(cfg.MaxAge)

	return &CookieCodec{cfg: cfg, codec: codec}, nil
}

// Name returns the cookie name.
func (cc *CookieCodec) Name() string {
	return cc.cfg.Name
}

// Read returns the session id carried by the request, or "" when the cookie
// is absent, tampered with or expired.
func (cc *CookieCodec) Read(r *http.Request) string {
	cookie, err := r.Cookie(cc.cfg.Name)
	if err != nil || cookie.Value == "" {
		return ""
	}
	var id string
	if err := cc.codec.Decode(cc.cfg.Name, cookie.Value, &id); err != nil {
		return ""
	}
	return id
}

// Write sets the session cookie to the signed session id.
func (cc *CookieCodec) Write(c *gin.Context, id string) error {
	value, err := cc.codec.Encode(cc.cfg.Name, id)
	if err != nil {
		return oops.Code("COOKIE_ENCODE_FAILED").Wrap(err)
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(cc.cfg.Name, value, cc.cfg.MaxAge, cc.cfg.Path, cc.cfg.Domain, cc.cfg.Secure, true)
	return nil
}

// Clear expires the session cookie on the client.
func (cc *CookieCodec) Clear(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(cc.cfg.Name, "", -1, cc.cfg.Path, cc.cfg.Domain, cc.cfg.Secure, true)
}
