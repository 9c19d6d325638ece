package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"library_lending/pkg/database"
	"library_lending/pkg/lending"
)

type Config struct {
	Port        string
	LogFormat   string
	LogLevel    slog.Level
	CORSOrigins []string

	Database database.Config

	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	IdempotencyTTL     time.Duration
	IdempotencyLockTTL time.Duration
	BreakerMaxFailures int
	BreakerCooldown    time.Duration

	Policy        lending.Policy
	SweepInterval time.Duration
}

// LoadEnv reads .env style files into the environment. Missing files are
// skipped and variables already set win.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load builds the configuration from the environment. Every malformed value
// is reported, not only the first.
func Load() (Config, error) {
	p := &parser{}

	cfg := Config{
		Port:        getEnv("PORT", "8080"),
		LogFormat:   getEnv("LOG_FORMAT", "json"),
		LogLevel:    p.level("LOG_LEVEL", slog.LevelInfo),
		CORSOrigins: list(getEnv("CORS_ORIGINS", "*")),

		Database: database.Config{
			Host:            getEnv("DB_HOST", "postgres"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "program"),
			Password:        getEnv("DB_PASSWORD", "test"),
			Name:            getEnv("DB_NAME", "lending"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    p.int("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    p.int("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: p.duration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnectAttempts: p.int("DB_CONNECT_ATTEMPTS", 10),
			ConnectBackoff:  p.duration("DB_CONNECT_BACKOFF", 5*time.Second),
		},

		RedisAddr:          getEnv("REDIS_ADDR", ""),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		RedisDB:            p.int("REDIS_DB", 0),
		IdempotencyTTL:     p.duration("IDEMPOTENCY_TTL", 24*time.Hour),
		IdempotencyLockTTL: p.duration("IDEMPOTENCY_LOCK_TTL", 30*time.Second),
		BreakerMaxFailures: p.int("REDIS_BREAKER_MAX_FAILURES", 5),
		BreakerCooldown:    p.duration("REDIS_BREAKER_COOLDOWN", 30*time.Second),

		Policy: lending.Policy{
			MaxBorrowLimit:   p.int("MAX_BORROW_LIMIT", lending.DefaultMaxBorrowLimit),
			LoanPeriodDays:   p.int("LOAN_PERIOD_DAYS", lending.DefaultLoanPeriodDays),
			FinePerDay:       p.decimal("FINE_PER_DAY", lending.DefaultFinePerDay),
			OverdueThreshold: p.int("OVERDUE_THRESHOLD", lending.DefaultOverdueThreshold),
		},
		SweepInterval: p.duration("SWEEP_INTERVAL", time.Hour),
	}

	if err := cfg.Policy.Validate(); err != nil {
		p.errs = append(p.errs, err)
	}
	if cfg.SweepInterval <= 0 {
		p.errs = append(p.errs, fmt.Errorf("SWEEP_INTERVAL must be positive, got %s", cfg.SweepInterval))
	}
	return cfg, errors.Join(p.errs...)
}

// NewLogger returns a JSON logger unless format is "text".
func NewLogger(w io.Writer, format string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func list(csv string) []string {
	var out []string
	for _, s := range strings.Split(csv, ",") {
		if t := strings.TrimSpace(s); t != "" {
			out = append(out, t)
		}
	}
	return out
}

type parser struct {
	errs []error
}

func (p *parser) int(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return v
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return v
}

func (p *parser) decimal(key string, def decimal.Decimal) decimal.Decimal {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return v
}

func (p *parser) level(key string, def slog.Level) slog.Level {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(raw)); err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return lvl
}
