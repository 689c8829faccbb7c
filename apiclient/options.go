package apiclient

import (
	"context"
	"log/slog"
	"time"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

type options struct {
	credentials Credentials
	observer    SignOutObserver
	logger      *slog.Logger
	sleep       SleepFunc
}

// Option customises a Client.
type Option func(*options)

func defaultOptions() options {
	return options{
		logger: slog.Default(),
		sleep:  sleepContext,
	}
}

// WithCredentials sets the token source. Without one every call is a guest call.
func WithCredentials(c Credentials) Option {
	return func(o *options) { o.credentials = c }
}

// WithSignOutObserver registers the observer told about sign-out events.
func WithSignOutObserver(obs SignOutObserver) Option {
	return func(o *options) { o.observer = obs }
}

// WithLogger sets the logger used for retry and failure diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithSleepFunc replaces the backoff wait, mainly for tests.
func WithSleepFunc(fn SleepFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.sleep = fn
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CallOption customises a single call.
type CallOption func(*callConfig)

type callConfig struct {
	requireAuth bool
	resource    string
	query       map[string]string
}

// RequireAuth fails the call with ErrUnauthenticated when no credential is held.
func RequireAuth() CallOption {
	return func(c *callConfig) { c.requireAuth = true }
}

// Resource names the entity in NotFoundError messages.
func Resource(name string) CallOption {
	return func(c *callConfig) { c.resource = name }
}

// Query adds query parameters. Later calls override earlier keys.
func Query(params map[string]string) CallOption {
	return func(c *callConfig) {
		if len(params) == 0 {
			return
		}
		if c.query == nil {
			c.query = make(map[string]string, len(params))
		}
		for k, v := range params {
			c.query[k] = v
		}
	}
}

func newCallConfig(opts []CallOption) callConfig {
	var cfg callConfig
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}
