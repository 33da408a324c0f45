// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

// Package config loads gatekeep configuration from defaults, a YAML file,
// the environment and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"io/fs"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes environment overrides. A double underscore separates
// nesting levels: GATEKEEP_DATABASE__URL sets database.url.
const EnvPrefix = "GATEKEEP_"

// Environments.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Mail delivery modes.
const (
	MailModeQueue  = "queue"
	MailModeDirect = "direct"
)

// Mail transports.
const (
	MailTransportSMTP = "smtp"
	MailTransportLog  = "log"
)

// Config is the complete service configuration.
type Config struct {
	Env      string         `koanf:"env"`
	HTTP     HTTPConfig     `koanf:"http"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Log      LogConfig      `koanf:"log"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`
	Session  SessionConfig  `koanf:"session"`
	Reset    ResetConfig    `koanf:"reset"`
	Auth     AuthConfig     `koanf:"auth"`
	Mail     MailConfig     `koanf:"mail"`
}

// HTTPConfig configures the public API listener.
type HTTPConfig struct {
	Addr            string        `koanf:"addr"`
	AllowedOrigins  []string      `koanf:"allowed_origins"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// MetricsConfig configures the observability listener. An empty Addr
// disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// LogConfig configures slog output.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// DatabaseConfig configures the PostgreSQL pool.
type DatabaseConfig struct {
	URL         string `koanf:"url"`
	MaxConns    int32  `koanf:"max_conns"`
	AutoMigrate bool   `koanf:"auto_migrate"`
}

// RedisConfig configures the Redis client shared by sessions, reset
// tokens and the mail queue.
type RedisConfig struct {
	URL string `koanf:"url"`
}

// SessionConfig configures sessions and the session cookie.
type SessionConfig struct {
	// Secret signs the session cookie. At least 32 bytes.
	Secret string `koanf:"secret"`
	// EncryptionKey optionally encrypts the cookie. 16, 24 or 32 bytes.
	EncryptionKey string        `koanf:"encryption_key"`
	CookieName    string        `koanf:"cookie_name"`
	CookieDomain  string        `koanf:"cookie_domain"`
	MaxAge        time.Duration `koanf:"max_age"`
	KeyPrefix     string        `koanf:"key_prefix"`
}

// ResetConfig configures password reset tokens and links.
type ResetConfig struct {
	TTL            time.Duration `koanf:"ttl"`
	URLBase        string        `koanf:"url_base"`
	KeyPrefix      string        `koanf:"key_prefix"`
	ConcealUnknown bool          `koanf:"conceal_unknown_email"`
	RevokeSessions bool          `koanf:"revoke_sessions"`
}

// AuthConfig tunes the auth use cases.
type AuthConfig struct {
	OpTimeout       time.Duration `koanf:"op_timeout"`
	AggregateErrors bool          `koanf:"aggregate_errors"`
}

// MailConfig configures notification delivery.
type MailConfig struct {
	Mode        string     `koanf:"mode"`
	Transport   string     `koanf:"transport"`
	Queue       string     `koanf:"queue"`
	MaxRetry    int        `koanf:"max_retry"`
	Concurrency int        `koanf:"concurrency"`
	SMTP        SMTPConfig `koanf:"smtp"`
}

// SMTPConfig configures the SMTP transport.
type SMTPConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	From     string `koanf:"from"`
}

// Secure reports whether cookies must carry the Secure attribute.
func (c *Config) Secure() bool {
	return c.Env == EnvProduction
}

// Defaults returns the built-in configuration values.
func Defaults() map[string]any {
	return map[string]any{
		"env":                         EnvDevelopment,
		"http.addr":                   ":4000",
		"http.allowed_origins":        []string{"http://localhost:3000"},
		"http.shutdown_timeout":       "10s",
		"metrics.addr":                "127.0.0.1:9100",
		"log.format":                  "json",
		"log.level":                   "info",
		"database.url":                "",
		"database.max_conns":          10,
		"database.auto_migrate":       false,
		"redis.url":                   "redis://localhost:6379/0",
		"session.secret":              "",
		"session.encryption_key":      "",
		"session.cookie_name":         "qid",
		"session.cookie_domain":       "",
		"session.max_age":             "8760h",
		"session.key_prefix":          "sess:",
		"reset.ttl":                   "1h",
		"reset.url_base":              "http://localhost:3000/change-password",
		"reset.key_prefix":            "forget-password:",
		"reset.conceal_unknown_email": false,
		"reset.revoke_sessions":       true,
		"auth.op_timeout":             "3s",
		"auth.aggregate_errors":       false,
		"mail.mode":                   MailModeQueue,
		"mail.transport":              MailTransportLog,
		"mail.queue":                  "mail",
		"mail.max_retry":              5,
		"mail.concurrency":            4,
		"mail.smtp.host":              "",
		"mail.smtp.port":              587,
		"mail.smtp.username":          "",
		"mail.smtp.password":          "",
		"mail.smtp.from":              "",
	}
}

// wellKnownEnv maps conventional unprefixed variables to config keys.
var wellKnownEnv = map[string]string{
	"DATABASE_URL":   "database.url",
	"REDIS_URL":      "redis.url",
	"SESSION_SECRET": "session.secret",
	"CORS_ORIGIN":    "http.allowed_origins",
}

// FlagKeys maps command-line flag names to config keys.
var FlagKeys = map[string]string{
	"addr":         "http.addr",
	"metrics-addr": "metrics.addr",
	"log-format":   "log.format",
	"log-level":    "log.level",
	"auto-migrate": "database.auto_migrate",
	"mail-mode":    "mail.mode",
}

// LoadOptions selects the configuration sources.
type LoadOptions struct {
	// File is an optional YAML config file.
	File string
	// EnvFile is a dotenv file loaded into the process environment when it
	// exists. Variables already set are not overridden.
	EnvFile string
	// Flags are applied last. Only flags named in FlagKeys and changed on
	// the command line take effect.
	Flags *pflag.FlagSet
}

// Load builds and validates a Config.
func Load(opts LoadOptions) (*Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("env_file", opts.EnvFile).Wrap(err)
		}
	}

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "defaults").Wrap(err)
	}
	if err := k.Load(confmap.Provider(wellKnown(), "."), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "environment").Wrap(err)
	}
	if opts.File != "" {
		if err := k.Load(file.Provider(opts.File), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", opts.File).Wrap(err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "environment").Wrap(err)
	}
	if opts.Flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(opts.Flags, ".", k, flagKey(opts.Flags)), nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "unmarshal").Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func wellKnown() map[string]any {
	out := make(map[string]any)
	for name, key := range wellKnownEnv {
		v, ok := os.LookupEnv(name)
		if !ok || v == "" {
			continue
		}
		if key == "http.allowed_origins" {
			out[key] = strings.Split(v, ",")
			continue
		}
		out[key] = v
	}
	return out
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

func flagKey(flags *pflag.FlagSet) func(*pflag.Flag) (string, any) {
	return func(f *pflag.Flag) (string, any) {
		key, ok := FlagKeys[f.Name]
		if !ok {
			return "", nil
		}
		return key, posflag.FlagVal(flags, f)
	}
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	invalid := func(field string, format string, args ...any) error {
		return oops.Code("CONFIG_INVALID").With("field", field).Errorf(format, args...)
	}

	if c.Env != EnvDevelopment && c.Env != EnvProduction {
		return invalid("env", "env must be %q or %q, got %q", EnvDevelopment, EnvProduction, c.Env)
	}
	if c.HTTP.Addr == "" {
		return invalid("http.addr", "http.addr is required")
	}
	for _, origin := range c.HTTP.AllowedOrigins {
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return invalid("http.allowed_origins", "allowed origin %q must be an absolute URL", origin)
		}
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return invalid("log.format", "log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(c.Log.Level)) {
		return invalid("log.level", "log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	if c.Database.URL == "" {
		return invalid("database.url", "database.url is required (set DATABASE_URL)")
	}
	if c.Database.MaxConns <= 0 {
		return invalid("database.max_conns", "database.max_conns must be positive")
	}
	if c.Redis.URL == "" {
		return invalid("redis.url", "redis.url is required (set REDIS_URL)")
	}
	if err := c.validateSession(); err != nil {
		return err
	}
	if c.Reset.TTL <= 0 {
		return invalid("reset.ttl", "reset.ttl must be positive")
	}
	if u, err := url.Parse(c.Reset.URLBase); err != nil || u.Scheme == "" || u.Host == "" {
		return invalid("reset.url_base", "reset.url_base must be an absolute URL")
	}
	if c.Auth.OpTimeout <= 0 {
		return invalid("auth.op_timeout", "auth.op_timeout must be positive")
	}
	return c.validateMail()
}

func (c *Config) validateSession() error {
	s := c.Session
	if s.Secret == "" && c.Env == EnvProduction {
		return oops.Code("CONFIG_INVALID").With("field", "session.secret").
			Errorf("session.secret is required in production")
	}
	if s.Secret != "" && len(s.Secret) < 32 {
		return oops.Code("CONFIG_INVALID").With("field", "session.secret").
			Errorf("session.secret must be at least 32 bytes")
	}
	switch len(s.EncryptionKey) {
	case 0, 16, 24, 32:
	default:
		return oops.Code("CONFIG_INVALID").With("field", "session.encryption_key").
			Errorf("session.encryption_key must be 16, 24 or 32 bytes")
	}
	if s.MaxAge <= 0 {
		return oops.Code("CONFIG_INVALID").With("field", "session.max_age").
			Errorf("session.max_age must be positive")
	}
	return nil
}

func (c *Config) validateMail() error {
	m := c.Mail
	if m.Mode != MailModeQueue && m.Mode != MailModeDirect {
		return oops.Code("CONFIG_INVALID").With("field", "mail.mode").
			Errorf("mail.mode must be %q or %q, got %q", MailModeQueue, MailModeDirect, m.Mode)
	}
	switch m.Transport {
	case MailTransportLog:
	case MailTransportSMTP:
		if m.SMTP.Host == "" || m.SMTP.From == "" {
			return oops.Code("CONFIG_INVALID").With("field", "mail.smtp").
				Errorf("mail.smtp.host and mail.smtp.from are required for the smtp transport")
		}
	default:
		return oops.Code("CONFIG_INVALID").With("field", "mail.transport").
			Errorf("mail.transport must be %q or %q, got %q", MailTransportSMTP, MailTransportLog, m.Transport)
	}
	if m.Mode == MailModeQueue && m.Concurrency <= 0 {
		return oops.Code("CONFIG_INVALID").With("field", "mail.concurrency").
			Errorf("mail.concurrency must be positive")
	}
	return nil
}
