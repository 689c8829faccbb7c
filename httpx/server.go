package httpx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

type Server struct {
	app      *App
	address  string
	timeouts [2]time.Duration
	shutdown time.Duration
	logger   *slog.Logger
}

// RouteRegistrar mounts routes on the server's App.
type RouteRegistrar func(*App)

// NewServer builds an echo server. Middleware runs in this order: the
// configured stack, CORS, then the rate limiter.
func NewServer(opts ...ServerOption) *Server {
	cfg := defaultServerOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = echo.HTTPErrorHandler(cfg.ErrorHandler)

	stack := cfg.Middlewares
	if stack == nil {
		stack = []MiddlewareFunc{RecoverMiddleware(), RequestIDMiddleware(), RequestLogger(cfg.Logger)}
	}
	e.Use(stack...)
	if cfg.CORS != nil {
		e.Use(CORSMiddleware(cfg.CORS))
	}
	if cfg.RateLimit != nil {
		e.Use(RateLimitMiddleware(*cfg.RateLimit))
	}

	return &Server{
		app:      &App{e},
		address:  cfg.Address,
		timeouts: [2]time.Duration{cfg.ReadTimeout, cfg.WriteTimeout},
		shutdown: cfg.ShutdownTimeout,
		logger:   cfg.Logger,
	}
}

func (s *Server) RegisterRoutes(reg RouteRegistrar) {
	if reg != nil {
		reg(s.app)
	}
}

func (s *Server) Handler() http.Handler {
	return s.app.e
}

// Start listens on the configured address and serves until ctx is
// cancelled, then shuts down gracefully and returns ctx.Err(). A bind
// failure is returned before any request is served.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("httpx: listen %s: %w", s.address, err)
	}
	srv := &http.Server{
		Handler:      s.app.e,
		ReadTimeout:  s.timeouts[0],
		WriteTimeout: s.timeouts[1],
		ErrorLog:     slog.NewLogLogger(s.logger.Handler(), slog.LevelError),
	}
	s.logger.Info("http server started", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdown)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("http server shutdown incomplete", "error", err)
		}
		s.logger.Info("http server stopped")
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}
