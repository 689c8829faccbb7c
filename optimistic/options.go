package optimistic

import (
	"log/slog"
	"time"
)

type config struct {
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// Option customises a Store.
type Option func(*config)

func defaultConfig() config {
	return config{now: time.Now, logger: slog.Default()}
}

// WithTTL discards the snapshot at Load when more than d has passed since the
// first item was added. Zero disables expiry.
func WithTTL(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithNowFunc injects a clock.
func WithNowFunc(fn func() time.Time) Option {
	return func(c *config) {
		if fn != nil {
			c.now = fn
		}
	}
}

// WithLogger sets the logger for rollback and persistence diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}
