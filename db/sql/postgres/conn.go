package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
)

var ErrMissingDSN = errors.New("postgres: DSN is required")

// Options configures the lib/pq pool and the start-up ping.
type Options struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// PingAttempts bounds how often Connect pings before giving up. The
	// database often starts alongside the API and needs a moment.
	PingAttempts int
	PingInterval time.Duration
	Logger       *slog.Logger
}

type Option func(*Options)

func defaultOptions() Options {
	return Options{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		PingAttempts:    5,
		PingInterval:    time.Second,
		Logger:          slog.Default(),
	}
}

func WithDSN(dsn string) Option {
	return func(o *Options) {
		if dsn != "" {
			o.DSN = dsn
		}
	}
}

func WithMaxOpenConns(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxOpenConns = n
		}
	}
}

// WithMaxIdleConns sets the idle pool size. Zero disables idle connections.
func WithMaxIdleConns(n int) Option {
	return func(o *Options) {
		if n >= 0 {
			o.MaxIdleConns = n
		}
	}
}

func WithConnMaxLifetime(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.ConnMaxLifetime = d
		}
	}
}

// WithPingRetry sets how many pings Connect attempts and the pause between
// them.
func WithPingRetry(attempts int, interval time.Duration) Option {
	return func(o *Options) {
		if attempts > 0 {
			o.PingAttempts = attempts
		}
		if interval > 0 {
			o.PingInterval = interval
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}

// Connect opens the pool and pings until the server answers, the attempts
// run out or ctx is done.
func Connect(ctx context.Context, opts ...Option) (*sql.DB, error) {
	cfg := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.DSN == "" {
		return nil, ErrMissingDSN
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := ping(ctx, db, cfg); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func ping(ctx context.Context, db *sql.DB, cfg Options) error {
	var err error
	for attempt := 1; attempt <= cfg.PingAttempts; attempt++ {
		if err = db.PingContext(ctx); err == nil {
			return nil
		}
		if attempt == cfg.PingAttempts {
			break
		}
		cfg.Logger.Warn("postgres not ready", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres: ping: %w", ctx.Err())
		case <-time.After(cfg.PingInterval):
		}
	}
	return fmt.Errorf("postgres: ping: %w", err)
}
