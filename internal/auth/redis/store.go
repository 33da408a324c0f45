// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

// Package redis implements the auth session and reset token stores on Redis.
// GETDEL is used for single-use reads, so Redis 6.2 or later is required.
package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/gatekeep/gatekeep/internal/auth"
)

// Default key prefixes.
const (
	DefaultSessionPrefix   = "sess:"
	DefaultUserIndexPrefix = "user_sessions:"
	DefaultResetPrefix     = "forget-password:"
)

// SessionStore implements auth.SessionStore. Each session is a string key
// holding the user id; a per-user set indexes the user's session ids so
// they can be revoked together.
type SessionStore struct {
	rdb         goredis.Cmdable
	prefix      string
	indexPrefix string
}

// NewSessionStore creates a SessionStore. Empty prefixes select the defaults.
func NewSessionStore(rdb goredis.Cmdable, prefix, indexPrefix string) *SessionStore {
	if prefix == "" {
		prefix = DefaultSessionPrefix
	}
	if indexPrefix == "" {
		indexPrefix = DefaultUserIndexPrefix
	}
	return &SessionStore{rdb: rdb, prefix: prefix, indexPrefix: indexPrefix}
}

// Save binds id to userID for ttl and adds it to the user's index. The
// index expiry is pushed out to the newest session's ttl.
func (s *SessionStore) Save(ctx context.Context, id string, userID int64, ttl time.Duration) error {
	index := s.indexKey(userID)
	_, err := s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, s.key(id), userID, ttl)
		pipe.SAdd(ctx, index, id)
		pipe.Expire(ctx, index, ttl)
		return nil
	})
	if err != nil {
		return oops.Code("REDIS_SESSION_SAVE_FAILED").With("user_id", userID).Wrap(err)
	}
	return nil
}

// Load returns the user id bound to id.
func (s *SessionStore) Load(ctx context.Context, id string) (int64, error) {
	userID, err := s.rdb.Get(ctx, s.key(id)).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, auth.ErrNotFound
	}
	if err != nil {
		return 0, oops.Code("REDIS_SESSION_LOAD_FAILED").Wrap(err)
	}
	return userID, nil
}

// Delete removes the session and its index entry.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	raw, err := s.rdb.GetDel(ctx, s.key(id)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil
	}
	if err != nil {
		return oops.Code("REDIS_SESSION_DELETE_FAILED").Wrap(err)
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		// The session itself is gone; a corrupt value only leaves a
		// dangling index member that expires with the index.
		return nil //nolint:nilerr // session already deleted
	}
	if err := s.rdb.SRem(ctx, s.indexKey(userID), id).Err(); err != nil {
		return oops.Code("REDIS_SESSION_DELETE_FAILED").With("user_id", userID).Wrap(err)
	}
	return nil
}

// deleteByUserScript removes the index in KEYS[1] and every session it
// lists. ARGV[1] is the session key prefix.
var deleteByUserScript = goredis.NewScript(`
local ids = redis.call('SMEMBERS', KEYS[1])
for _, id in ipairs(ids) do
	redis.call('DEL', ARGV[1] .. id)
end
redis.call('DEL', KEYS[1])
return #ids
`)

// DeleteByUser removes every indexed session of userID in one script, so a
// session saved concurrently is either removed or left fully indexed.
func (s *SessionStore) DeleteByUser(ctx context.Context, userID int64) error {
	err := deleteByUserScript.Run(ctx, s.rdb, []string{s.indexKey(userID)}, s.prefix).Err()
	if err != nil {
		return oops.Code("REDIS_SESSION_DELETE_FAILED").With("user_id", userID).Wrap(err)
	}
	return nil
}

func (s *SessionStore) key(id string) string {
	return s.prefix + id
}

func (s *SessionStore) indexKey(userID int64) string {
	return s.indexPrefix + strconv.FormatInt(userID, 10)
}

// ResetTokenStore implements auth.ResetTokenStore with expiring keys.
type ResetTokenStore struct {
	rdb    goredis.Cmdable
	prefix string
}

// NewResetTokenStore creates a ResetTokenStore. An empty prefix selects
// DefaultResetPrefix.
func NewResetTokenStore(rdb goredis.Cmdable, prefix string) *ResetTokenStore {
	if prefix == "" {
		prefix = DefaultResetPrefix
	}
	return &ResetTokenStore{rdb: rdb, prefix: prefix}
}

// Put stores token for userID with the given ttl.
func (s *ResetTokenStore) Put(ctx context.Context, token string, userID int64, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, s.prefix+token, userID, ttl).Err(); err != nil {
		return oops.Code("REDIS_RESET_PUT_FAILED").With("user_id", userID).Wrap(err)
	}
	return nil
}

// Take reads and deletes the token in one GETDEL.
func (s *ResetTokenStore) Take(ctx context.Context, token string) (int64, error) {
	userID, err := s.rdb.GetDel(ctx, s.prefix+token).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, auth.ErrNotFound
	}
	if err != nil {
		return 0, oops.Code("REDIS_RESET_TAKE_FAILED").Wrap(err)
	}
	return userID, nil
}

// Delete removes the token.
func (s *ResetTokenStore) Delete(ctx context.Context, token string) error {
	if err := s.rdb.Del(ctx, s.prefix+token).Err(); err != nil {
		return oops.Code("REDIS_RESET_DELETE_FAILED").Wrap(err)
	}
	return nil
}

var (
	_ auth.SessionStore    = (*SessionStore)(nil)
	_ auth.ResetTokenStore = (*ResetTokenStore)(nil)
)
