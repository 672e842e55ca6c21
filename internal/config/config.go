// Package config loads server configuration from an optional YAML file and
// environment variables.
//
// PRECEDENCE (lowest to highest):
//
//	Default() → YAML file (--config) → environment variables
//
// Env vars win so a container can override one setting without shipping a
// new file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	Auth     AuthConfig     `yaml:"auth"`
	Contact  ContactConfig  `yaml:"contact"`
	SMTP     SMTPConfig     `yaml:"smtp"`

	// Warnings collects non-fatal problems found while loading. The caller
	// logs them once the logger exists.
	Warnings []string `yaml:"-"`
}

type ServerConfig struct {
	Port               int      `yaml:"port"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`

	// CookieSecure marks session cookies Secure. Turn it on behind HTTPS.
	CookieSecure bool `yaml:"cookie_secure"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret"`
	SessionTTL time.Duration `yaml:"session_ttl"`

	GoogleClientID     string `yaml:"google_client_id"`
	GoogleClientSecret string `yaml:"google_client_secret"`
	GoogleCallbackURL  string `yaml:"google_callback_url"`

	// AdminEmails get the admin role the first time their account is
	// materialized. Stored trimmed and lower-cased.
	AdminEmails []string `yaml:"admin_emails"`
}

type ContactConfig struct {
	// AdminEmail receives a notification for every contact message.
	AdminEmail    string `yaml:"admin_email"`
	RatePerMinute int    `yaml:"rate_per_minute"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// Enabled reports whether enough is configured to actually send mail.
func (s SMTPConfig) Enabled() bool {
	return s.Host != ""
}

// GoogleEnabled reports whether Google sign-in can be offered.
func (a AuthConfig) GoogleEnabled() bool {
	return a.GoogleClientID != "" && a.GoogleClientSecret != ""
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Port: 8080},
		Database: DatabaseConfig{Path: "data/reviewly.db"},
		Log:      LogConfig{Level: "info"},
		Auth: AuthConfig{
			SessionTTL: 30 * 24 * time.Hour,
		},
		Contact: ContactConfig{RatePerMinute: 5},
		SMTP:    SMTPConfig{Port: 587},
	}
}

// Load builds the configuration. path may be empty, in which case only the
// defaults and the environment are used. A named file that does not exist
// is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	cfg.Auth.AdminEmails = normalizeEmails(cfg.Auth.AdminEmails)
	if cfg.Auth.GoogleCallbackURL == "" {
		cfg.Auth.GoogleCallbackURL = fmt.Sprintf("http://localhost:%d/auth/google/callback", cfg.Server.Port)
	}
	if cfg.SMTP.From == "" {
		cfg.SMTP.From = cfg.SMTP.User
	}

	if !cfg.Auth.GoogleEnabled() {
		cfg.Warnings = append(cfg.Warnings, "GOOGLE_CLIENT_ID/GOOGLE_CLIENT_SECRET not set: sign-in is disabled")
	}
	if len(cfg.Auth.AdminEmails) == 0 {
		cfg.Warnings = append(cfg.Warnings, "ADMIN_EMAILS is empty: nobody will be bootstrapped as admin")
	}
	if !cfg.SMTP.Enabled() {
		cfg.Warnings = append(cfg.Warnings, "SMTP_HOST not set: contact notifications are only logged")
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s=%q is not an integer", key, v))
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s=%q is not a boolean", key, v))
				return
			}
			*dst = b
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = splitList(v)
		}
	}

	num("PORT", &c.Server.Port)
	list("CORS_ALLOWED_ORIGINS", &c.Server.CORSAllowedOrigins)
	flag("COOKIE_SECURE", &c.Server.CookieSecure)
	str("DB_PATH", &c.Database.Path)
	str("LOG_LEVEL", &c.Log.Level)

	str("JWT_SECRET", &c.Auth.JWTSecret)
	if v, ok := os.LookupEnv("SESSION_TTL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: SESSION_TTL=%q: %w", v, err))
		} else {
			c.Auth.SessionTTL = d
		}
	}
	str("GOOGLE_CLIENT_ID", &c.Auth.GoogleClientID)
	str("GOOGLE_CLIENT_SECRET", &c.Auth.GoogleClientSecret)
	str("GOOGLE_CALLBACK_URL", &c.Auth.GoogleCallbackURL)
	list("ADMIN_EMAILS", &c.Auth.AdminEmails)

	str("ADMIN_EMAIL", &c.Contact.AdminEmail)
	num("CONTACT_RATE_PER_MIN", &c.Contact.RatePerMinute)

	str("SMTP_HOST", &c.SMTP.Host)
	num("SMTP_PORT", &c.SMTP.Port)
	str("SMTP_USER", &c.SMTP.User)
	str("SMTP_PASS", &c.SMTP.Password)
	str("SMTP_PASSWORD", &c.SMTP.Password) // preferred spelling wins
	str("SMTP_FROM", &c.SMTP.From)

	return errors.Join(errs...)
}

// Validate checks the settings the server cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Server.Port))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database path is required"))
	}
	if len(c.Auth.JWTSecret) < 16 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 16 characters"))
	}
	if c.Auth.SessionTTL <= 0 {
		errs = append(errs, fmt.Errorf("session TTL must be positive, got %s", c.Auth.SessionTTL))
	}
	if c.Contact.RatePerMinute <= 0 {
		errs = append(errs, fmt.Errorf("contact rate must be positive, got %d", c.Contact.RatePerMinute))
	}
	if c.SMTP.Enabled() && c.Contact.AdminEmail == "" {
		errs = append(errs, errors.New("ADMIN_EMAIL is required when SMTP is configured"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// SlogLevel maps the configured level to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// normalizeEmails trims, lower-cases and de-duplicates.
func normalizeEmails(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, e := range in {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}
