package httpx

import (
	"math"
	"strconv"
	"time"

	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

// RateLimitConfig throttles requests per client identifier. Rejected
// requests get 429 with a Retry-After header in whole seconds.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate; Burst the bucket size.
	RequestsPerSecond float64
	Burst             int
	// RetryAfter is advertised to throttled clients; zero derives it from the rate.
	RetryAfter time.Duration
	// ExpiresIn drops idle visitors from the limiter's memory store.
	ExpiresIn  time.Duration
	Identifier func(Context) (string, error)
	Skipper    func(Context) bool
}

func (c RateLimitConfig) retryAfterSeconds() int {
	if c.RetryAfter > 0 {
		return int(math.Ceil(c.RetryAfter.Seconds()))
	}
	if c.RequestsPerSecond <= 0 {
		return 1
	}
	return int(math.Max(1, math.Ceil(1/c.RequestsPerSecond)))
}

// RateLimitMiddleware builds echo's token-bucket limiter from cfg.
func RateLimitMiddleware(cfg RateLimitConfig) MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(cfg.RequestsPerSecond),
		Burst:     cfg.Burst,
		ExpiresIn: cfg.ExpiresIn,
	})
	retryAfter := strconv.Itoa(cfg.retryAfterSeconds())

	identifier := cfg.Identifier
	if identifier == nil {
		identifier = func(c Context) (string, error) { return c.RealIP(), nil }
	}

	lc := middleware.RateLimiterConfig{
		Store:               store,
		IdentifierExtractor: identifier,
		ErrorHandler: func(c Context, err error) error {
			return HTTPError(StatusForbidden, "rate limiter identifier unavailable")
		},
		DenyHandler: func(c Context, _ string, _ error) error {
			c.Response().Header().Set("Retry-After", retryAfter)
			return c.JSON(StatusTooManyRequests, ErrorBody{Error: "too many requests"})
		},
	}
	if cfg.Skipper != nil {
		lc.Skipper = cfg.Skipper
	}
	return middleware.RateLimiterWithConfig(lc)
}
