// Package config loads queuecore's environment-driven configuration,
// generalized from join-service/internal/config.Load: getEnv/getInt/
// getDuration helpers over os.Getenv, godotenv.Load() for local .env
// files, and validator rules checked once in Load. An unset or unparseable
// numeric/duration variable falls back to its default; only the loaded
// values that fail a validator rule make Load return an error.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Backend selects which storage.Adapter implementation the host wires up.
type Backend string

const (
	BackendPostgres Backend = "postgres"
	BackendSQLite   Backend = "sqlite"
)

// Config is every knob a queuecore host needs: which backend to talk to,
// how aggressively dispatchers claim and reap, and how leases are timed.
type Config struct {
	AppEnv  string  `validate:"required"`
	Backend Backend `validate:"required,oneof=postgres sqlite"`

	// Postgres
	PostgresDSN     string `validate:"required_if=Backend postgres"`
	PostgresMaxConn int    `validate:"required_if=Backend postgres,omitempty,gt=0"`

	// SQLite
	SQLitePath string `validate:"required_if=Backend sqlite"`

	// Work-queue tuning (component B, spec.md §4.B)
	ClaimBatchSize  int           `validate:"gt=0"`
	PollInterval    time.Duration `validate:"gt=0"`
	ReapInterval    time.Duration `validate:"gt=0"`
	DefaultLease    time.Duration `validate:"gt=0"`
	MaxAttempts     int           `validate:"gt=0"`
	BackoffBaseSec  int           `validate:"gt=0"`
	BackoffCapSec   int           `validate:"gtfield=BackoffBaseSec"`

	// Lease manager tuning (component C, spec.md §4.C)
	LeaseDuration     time.Duration `validate:"gt=0"`
	LeaseRenewPercent float64       `validate:"gt=0,lt=1"`

	// Scheduler tuning (component F, spec.md §4.F)
	MaterializeLookahead time.Duration `validate:"gt=0"`
	MaterializeInterval  time.Duration `validate:"gt=0"`

	LogLevel  string
	LogFormat string
}

var validate = validator.New()

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:               getEnv("APP_ENV", "dev"),
		Backend:              Backend(getEnv("QUEUECORE_BACKEND", "postgres")),
		PostgresDSN:          getEnv("DATABASE_URL", ""),
		PostgresMaxConn:      getInt("POSTGRES_MAX_CONNS", 10),
		SQLitePath:           getEnv("SQLITE_PATH", ""),
		ClaimBatchSize:       getInt("CLAIM_BATCH_SIZE", 20),
		PollInterval:         getDuration("POLL_INTERVAL", 500*time.Millisecond),
		ReapInterval:         getDuration("REAP_INTERVAL", 30*time.Second),
		DefaultLease:         getDuration("DEFAULT_LEASE", 30*time.Second),
		MaxAttempts:          getInt("MAX_ATTEMPTS", 12),
		BackoffBaseSec:       getInt("BACKOFF_BASE_SECONDS", 5),
		BackoffCapSec:        getInt("BACKOFF_CAP_SECONDS", 1800),
		LeaseDuration:        getDuration("LEASE_DURATION", 15*time.Second),
		LeaseRenewPercent:    getFloat("LEASE_RENEW_PERCENT", 0.5),
		MaterializeLookahead: getDuration("MATERIALIZE_LOOKAHEAD", 5*time.Minute),
		MaterializeInterval:  getDuration("MATERIALIZE_INTERVAL", time.Minute),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogFormat:            getEnv("LOG_FORMAT", "console"),
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func getEnv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getInt(k string, def int) int {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getFloat(k string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getDuration(k string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
