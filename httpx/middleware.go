package httpx

import (
	"log/slog"
	"net/http"

	"github.com/adeilh/rakh-shop/auth"
	"github.com/labstack/echo/v4/middleware"
)

// RecoverMiddleware turns handler panics into 500 responses.
func RecoverMiddleware() MiddlewareFunc { return middleware.Recover() }

// RequestIDMiddleware assigns an X-Request-ID to every request that lacks one.
func RequestIDMiddleware() MiddlewareFunc { return middleware.RequestID() }

// CORSMiddleware builds a CORS middleware from the provided config; nil uses defaults.
func CORSMiddleware(cfg *middleware.CORSConfig) MiddlewareFunc {
	if cfg == nil {
		return middleware.CORSWithConfig(middleware.DefaultCORSConfig)
	}
	return middleware.CORSWithConfig(*cfg)
}

// RequestLogger logs one line per request. Server errors log at error level
// and throttled requests at warn. The customer is included once the auth
// middleware has verified a token.
func RequestLogger(logger *slog.Logger) MiddlewareFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c Context, v middleware.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("ip", v.RemoteIP),
			}
			if v.RequestID != "" {
				attrs = append(attrs, slog.String("request_id", v.RequestID))
			}
			if id, ok := auth.CustomerID(c.Request().Context()); ok {
				attrs = append(attrs, slog.String("customer", id))
			}
			level := slog.LevelInfo
			switch {
			case v.Status >= StatusInternalError:
				level = slog.LevelError
			case v.Status == StatusTooManyRequests:
				level = slog.LevelWarn
			}
			if v.Error != nil && level != slog.LevelInfo {
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			logger.LogAttrs(c.Request().Context(), level, "request", attrs...)
			return nil
		},
	})
}

// AuthMiddleware bridges the net/http auth middleware into echo. The verified
// request, carrying the token in its context, replaces the echo request so
// handlers and RequestLogger see it. Errors from downstream handlers are
// propagated to the server's error handler.
func AuthMiddleware(mw *auth.Middleware) MiddlewareFunc {
	if mw == nil {
		return func(next HandlerFunc) HandlerFunc {
			return func(c Context) error {
				return HTTPError(StatusUnauthorized, "auth middleware missing")
			}
		}
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(c Context) error {
			var nextErr error
			downstream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				c.SetRequest(r)
				nextErr = next(c)
			})
			mw.Handler(downstream).ServeHTTP(c.Response(), c.Request())
			return nextErr
		}
	}
}
