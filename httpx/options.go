package httpx

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4/middleware"
)

// HTTPErrorHandler is a function that handles errors during request processing.
type HTTPErrorHandler func(error, Context)

type ServerOptions struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// Middlewares replaces the default recover, request id and request
	// logging stack when non-nil.
	Middlewares  []MiddlewareFunc
	ErrorHandler HTTPErrorHandler
	CORS         *middleware.CORSConfig
	RateLimit    *RateLimitConfig
	Logger       *slog.Logger
}

type ServerOption func(*ServerOptions)

func defaultServerOptions() ServerOptions {
	return ServerOptions{
		Address:         ":8080",
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		ShutdownTimeout: 5 * time.Second,
		ErrorHandler:    defaultHTTPErrorHandler,
		Logger:          slog.Default(),
	}
}

func WithAddress(addr string) ServerOption {
	return func(o *ServerOptions) {
		if addr != "" {
			o.Address = addr
		}
	}
}

func WithTimeouts(read, write time.Duration) ServerOption {
	return func(o *ServerOptions) {
		if read > 0 {
			o.ReadTimeout = read
		}
		if write > 0 {
			o.WriteTimeout = write
		}
	}
}

// WithShutdownTimeout bounds how long Start waits for in-flight requests
// after its context is cancelled.
func WithShutdownTimeout(d time.Duration) ServerOption {
	return func(o *ServerOptions) {
		if d > 0 {
			o.ShutdownTimeout = d
		}
	}
}

func WithMiddlewares(mw ...MiddlewareFunc) ServerOption {
	return func(o *ServerOptions) {
		if len(mw) > 0 {
			o.Middlewares = append([]MiddlewareFunc{}, mw...)
		}
	}
}

func WithErrorHandler(handler HTTPErrorHandler) ServerOption {
	return func(o *ServerOptions) {
		if handler != nil {
			o.ErrorHandler = handler
		}
	}
}

// WithCORS enables CORS middleware using the provided configuration; if cfg is nil, the default config is used.
func WithCORS(cfg *middleware.CORSConfig) ServerOption {
	return func(o *ServerOptions) {
		if cfg == nil {
			def := middleware.DefaultCORSConfig
			o.CORS = &def
			return
		}
		o.CORS = cfg
	}
}

// WithRateLimit enables per-client throttling with 429 + Retry-After responses.
func WithRateLimit(cfg RateLimitConfig) ServerOption {
	return func(o *ServerOptions) {
		if cfg.RequestsPerSecond > 0 {
			o.RateLimit = &cfg
		}
	}
}

// WithLogger sets the logger for request logs and server lifecycle events.
func WithLogger(l *slog.Logger) ServerOption {
	return func(o *ServerOptions) {
		if l != nil {
			o.Logger = l
		}
	}
}

type ClientOptions struct {
	BaseURL   string
	Timeout   time.Duration
	Headers   map[string]string
	UserAgent string
}

type ClientOption func(*ClientOptions)

func defaultClientOptions() ClientOptions {
	return ClientOptions{
		Timeout:   10 * time.Second,
		Headers:   map[string]string{"Content-Type": "application/json", "Accept": "application/json"},
		UserAgent: "rakh-shop",
	}
}

func WithBaseURL(url string) ClientOption {
	return func(o *ClientOptions) {
		if url != "" {
			o.BaseURL = url
		}
	}
}

func WithClientTimeout(d time.Duration) ClientOption {
	return func(o *ClientOptions) {
		if d > 0 {
			o.Timeout = d
		}
	}
}

// WithHeaders adds headers sent on every request.
func WithHeaders(headers map[string]string) ClientOption {
	return func(o *ClientOptions) {
		for k, v := range headers {
			o.Headers[k] = v
		}
	}
}

func WithUserAgent(ua string) ClientOption {
	return func(o *ClientOptions) {
		if ua != "" {
			o.UserAgent = ua
		}
	}
}
