/*
config.go - Server configuration

PURPOSE:
  Collects every setting of cmd/server in one struct. Values come from an
  optional .env file, then the process environment, then defaults.
  Command-line flags in cmd/server override the result.

KEYS:
  PORT                   HTTP port (8080)
  DB_DRIVER              sqlite3 | sqlite | postgres | memory (sqlite3)
  DB_DSN                 data source name (ledger.db)
  JWT_SECRET             HS256 secret; empty enables X-User-ID header auth
  LOG_LEVEL              debug | info | warn | error (info)
  LANGUAGE               notification language, pt | en (pt)
  OUTBOX_SWEEP_INTERVAL  how often pending notifications are retried (1m)
  OUTBOX_GRACE           minimum age before a sweep retries an entry (30s)
  OUTBOX_MAX_ATTEMPTS    deliveries before an entry is FAILED (5)
  MAX_COMMIT_ATTEMPTS    optimistic commit retries per operation (8)
  CORS_ORIGINS           comma separated allowed origins (*)
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Drivers accepted in DB_DRIVER.
var Drivers = []string{"sqlite3", "sqlite", "postgres", "memory"}

// Config holds all server configuration.
type Config struct {
	Port      int
	DBDriver  string
	DBDSN     string
	JWTSecret string
	LogLevel  string
	Language  string

	OutboxSweepInterval time.Duration
	OutboxGrace         time.Duration
	OutboxMaxAttempts   int
	MaxCommitAttempts   int

	CORSOrigins []string
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Port:                8080,
		DBDriver:            "sqlite3",
		DBDSN:               "ledger.db",
		LogLevel:            "info",
		Language:            "pt",
		OutboxSweepInterval: time.Minute,
		OutboxGrace:         30 * time.Second,
		OutboxMaxAttempts:   5,
		MaxCommitAttempts:   8,
		CORSOrigins:         []string{"*"},
	}
}

// Load reads the given .env files (".env" when none are named) and then the
// environment. Missing .env files are not an error.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from a lookup function such as os.LookupEnv.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	r := reader{lookup: lookup}

	cfg.Port = r.getInt("PORT", cfg.Port)
	cfg.DBDriver = r.getString("DB_DRIVER", cfg.DBDriver)
	cfg.DBDSN = r.getString("DB_DSN", cfg.DBDSN)
	cfg.JWTSecret = r.getString("JWT_SECRET", cfg.JWTSecret)
	cfg.LogLevel = r.getString("LOG_LEVEL", cfg.LogLevel)
	cfg.Language = r.getString("LANGUAGE", cfg.Language)
	cfg.OutboxSweepInterval = r.getDuration("OUTBOX_SWEEP_INTERVAL", cfg.OutboxSweepInterval)
	cfg.OutboxGrace = r.getDuration("OUTBOX_GRACE", cfg.OutboxGrace)
	cfg.OutboxMaxAttempts = r.getInt("OUTBOX_MAX_ATTEMPTS", cfg.OutboxMaxAttempts)
	cfg.MaxCommitAttempts = r.getInt("MAX_COMMIT_ATTEMPTS", cfg.MaxCommitAttempts)
	if v, ok := r.lookup("CORS_ORIGINS"); ok && strings.TrimSpace(v) != "" {
		cfg.CORSOrigins = splitList(v)
	}

	if len(r.errs) > 0 {
		return Config{}, errors.Join(r.errs...)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges and enumerations.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT: %d out of range", c.Port))
	}
	if !slices.Contains(Drivers, c.DBDriver) {
		errs = append(errs, fmt.Errorf("DB_DRIVER: %q is not one of %s", c.DBDriver, strings.Join(Drivers, ", ")))
	}
	if c.DBDriver != "memory" && c.DBDSN == "" {
		errs = append(errs, errors.New("DB_DSN: required"))
	}
	if c.OutboxSweepInterval <= 0 {
		errs = append(errs, errors.New("OUTBOX_SWEEP_INTERVAL: must be positive"))
	}
	if c.OutboxGrace < 0 {
		errs = append(errs, errors.New("OUTBOX_GRACE: must not be negative"))
	}
	if c.OutboxMaxAttempts < 1 {
		errs = append(errs, errors.New("OUTBOX_MAX_ATTEMPTS: must be at least 1"))
	}
	if c.MaxCommitAttempts < 1 {
		errs = append(errs, errors.New("MAX_COMMIT_ATTEMPTS: must be at least 1"))
	}
	return errors.Join(errs...)
}

// DevAuth reports whether actors are taken from the X-User-ID header.
func (c Config) DevAuth() bool {
	return c.JWTSecret == ""
}

// =============================================================================
// HELPERS
// =============================================================================

type reader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (r *reader) getString(key, def string) string {
	if v, ok := r.lookup(key); ok {
		return strings.TrimSpace(v)
	}
	return def
}

func (r *reader) getInt(key string, def int) int {
	v, ok := r.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %q is not an integer", key, v))
		return def
	}
	return n
}

func (r *reader) getDuration(key string, def time.Duration) time.Duration {
	v, ok := r.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
