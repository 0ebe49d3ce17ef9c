// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends.
const (
	BackendDynamoDB = "dynamodb"
	BackendBadger   = "badger"
)

// Tables names the DynamoDB tables.
type Tables struct {
	Items         string
	Users         string
	Counters      string
	ExchangeCache string
	Transactions  string
}

// Mailgun holds the email delivery settings.
type Mailgun struct {
	Domain        string
	APIKey        string
	From          string
	RatePerSecond float64
}

// Config is the configuration shared by every binary.
type Config struct {
	StorageBackend      string
	BadgerPath          string
	Tables              Tables
	SQSQueueURL         string
	Mailgun             Mailgun
	JWTSecret           string
	HTTPPort            string
	CORSAllowedOrigins  []string
	CounterBatchSize    int
	MaxOpenTransactions int
	LedgerLease         time.Duration
	DefaultCategories   []string
	LogLevel            slog.Level
}

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using environment variables")
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv and validates it.
func FromEnv(getenv func(string) string) (*Config, error) {
	r := reader{getenv: getenv}
	cfg := &Config{
		StorageBackend: r.str("STORAGE_BACKEND", BackendDynamoDB),
		BadgerPath:     getenv("BADGER_PATH"),
		Tables: Tables{
			Items:         getenv("DYNAMODB_ITEMS_TABLE_NAME"),
			Users:         getenv("DYNAMODB_USERS_TABLE_NAME"),
			Counters:      getenv("DYNAMODB_COUNTERS_TABLE_NAME"),
			ExchangeCache: getenv("DYNAMODB_EXCHANGE_CACHE_TABLE_NAME"),
			Transactions:  getenv("DYNAMODB_TRANSACTIONS_TABLE_NAME"),
		},
		SQSQueueURL: getenv("SQS_QUEUE_URL"),
		Mailgun: Mailgun{
			Domain:        getenv("MAILGUN_DOMAIN"),
			APIKey:        getenv("MAILGUN_API_KEY"),
			From:          getenv("MAILGUN_FROM"),
			RatePerSecond: r.float("MAILGUN_RATE_PER_SECOND", 5),
		},
		JWTSecret:           getenv("JWT_SECRET"),
		HTTPPort:            r.str("HTTP_PORT", "8080"),
		CORSAllowedOrigins:  list(r.str("CORS_ALLOWED_ORIGINS", "*")),
		CounterBatchSize:    r.int("COUNTER_BATCH_SIZE", 20),
		MaxOpenTransactions: r.int("MAX_OPEN_TRANSACTIONS", 2),
		LedgerLease:         r.duration("LEDGER_LEASE", 2*time.Minute),
		DefaultCategories:   list(getenv("DEFAULT_CATEGORIES")),
		LogLevel:            r.level("LOG_LEVEL"),
	}
	if err := errors.Join(r.errs...); err != nil {
		return nil, err
	}
	return cfg, cfg.validate()
}

// RequireTables fails unless every DynamoDB table name is set. Only the
// binaries that open the DynamoDB store call it.
func (c *Config) RequireTables() error {
	t := c.Tables
	if t.Items == "" || t.Users == "" || t.Counters == "" || t.ExchangeCache == "" || t.Transactions == "" {
		return errors.New("one or more DynamoDB table name environment variables are not set")
	}
	return nil
}

func (c *Config) validate() error {
	if c.StorageBackend != BackendDynamoDB && c.StorageBackend != BackendBadger {
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}
	if c.CounterBatchSize < 1 || c.CounterBatchSize > 100 {
		return fmt.Errorf("COUNTER_BATCH_SIZE must be between 1 and 100, got %d", c.CounterBatchSize)
	}
	if c.MaxOpenTransactions < 1 {
		return fmt.Errorf("MAX_OPEN_TRANSACTIONS must be positive, got %d", c.MaxOpenTransactions)
	}
	if c.LedgerLease <= 0 {
		return fmt.Errorf("LEDGER_LEASE must be positive, got %s", c.LedgerLease)
	}
	return nil
}

type reader struct {
	getenv func(string) string
	errs   []error
}

func (r *reader) str(key, def string) string {
	if v := strings.TrimSpace(r.getenv(key)); v != "" {
		return v
	}
	return def
}

func (r *reader) int(key string, def int) int {
	v := r.getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (r *reader) float(key string, def float64) float64 {
	v := r.getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return f
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := r.getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func (r *reader) level(key string) slog.Level {
	var lvl slog.Level
	v := r.getenv(key)
	if v == "" {
		return slog.LevelInfo
	}
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return slog.LevelInfo
	}
	return lvl
}

func list(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
