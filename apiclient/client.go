// Package apiclient talks to the storefront REST API. It classifies failures
// into typed errors, retries rate-limited calls with capped exponential
// backoff, and collapses concurrent identical GETs into one network call.
package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/adeilh/rakh-shop/httpx"
)

const (
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries     = 3
	baseRetryDelay = time.Second
)

// Client is safe for concurrent use.
type Client struct {
	http     *httpx.Client
	creds    Credentials
	observer SignOutObserver
	logger   *slog.Logger
	sleep    SleepFunc
	inflight singleflight.Group
}

// New wraps transport. transport's base URL is the remote authority.
func New(transport *httpx.Client, opts ...Option) *Client {
	cfg := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if transport == nil {
		transport = httpx.NewClient()
	}
	return &Client{
		http:     transport,
		creds:    cfg.credentials,
		observer: cfg.observer,
		logger:   cfg.logger,
		sleep:    cfg.sleep,
	}
}

// Authenticated reports whether a credential is currently held.
func (c *Client) Authenticated(ctx context.Context) bool {
	_, ok := c.token(ctx)
	return ok
}

// Get fetches path into out. Concurrent calls with the same fingerprint share
// one network call and receive the same result. A caller whose ctx ends stops
// waiting without cancelling the shared call for the others.
func (c *Client) Get(ctx context.Context, path string, out any, opts ...CallOption) error {
	cfg := newCallConfig(opts)
	token, err := c.precondition(ctx, cfg)
	if err != nil {
		return err
	}

	key := fingerprint(http.MethodGet, c.http.BaseURL(), path, cfg.query, token)
	shared := context.WithoutCancel(ctx)
	ch := c.inflight.DoChan(key, func() (any, error) {
		return c.send(shared, http.MethodGet, path, nil, token, cfg)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return res.Err
		}
		if res.Shared {
			c.logger.Debug("apiclient: shared in-flight response", "path", path)
		}
		return decode(http.MethodGet, path, res.Val.([]byte), out)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Post sends body to path and decodes the response into out when non-nil.
func (c *Client) Post(ctx context.Context, path string, body, out any, opts ...CallOption) error {
	return c.mutate(ctx, http.MethodPost, path, body, out, opts)
}

// Put replaces the resource at path.
func (c *Client) Put(ctx context.Context, path string, body, out any, opts ...CallOption) error {
	return c.mutate(ctx, http.MethodPut, path, body, out, opts)
}

// Patch partially updates the resource at path. Patch calls are never retried.
func (c *Client) Patch(ctx context.Context, path string, body, out any, opts ...CallOption) error {
	return c.mutate(ctx, http.MethodPatch, path, body, out, opts)
}

// Delete removes the resource at path.
func (c *Client) Delete(ctx context.Context, path string, out any, opts ...CallOption) error {
	return c.mutate(ctx, http.MethodDelete, path, nil, out, opts)
}

func (c *Client) mutate(ctx context.Context, method, path string, body, out any, opts []CallOption) error {
	cfg := newCallConfig(opts)
	token, err := c.precondition(ctx, cfg)
	if err != nil {
		return err
	}
	raw, err := c.send(ctx, method, path, body, token, cfg)
	if err != nil {
		return err
	}
	return decode(method, path, raw, out)
}

func (c *Client) precondition(ctx context.Context, cfg callConfig) (string, error) {
	token, ok := c.token(ctx)
	if cfg.requireAuth && !ok {
		c.signOut(ctx)
		return "", ErrUnauthenticated
	}
	return token, nil
}

func (c *Client) token(ctx context.Context) (string, bool) {
	if c.creds == nil {
		return "", false
	}
	return c.creds.Token(ctx)
}

// send performs the request, retrying rate-limited attempts for retryable
// methods. It returns the raw body of the first 2xx response.
func (c *Client) send(ctx context.Context, method, path string, body any, token string, cfg callConfig) ([]byte, error) {
	reqOpts := []httpx.RequestOption{httpx.WithQuery(cfg.query)}
	if token != "" {
		reqOpts = append(reqOpts, httpx.WithBearer(token))
	}

	var (
		firstRetryAfter time.Duration
		limitedBefore   bool
	)
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		c.logger.Debug("apiclient request", "method", method, "path", path, "attempt", attempt)
		resp, err := c.http.Execute(ctx, method, path, body, reqOpts...)
		if err != nil {
			c.logger.Warn("apiclient transport failure", "method", method, "path", path, "error", err)
			return nil, fmt.Errorf("apiclient: %s %s: %w", method, path, err)
		}
		if resp.IsSuccess() {
			return resp.Body(), nil
		}

		err = c.classify(ctx, resp, path, token, cfg)
		var limited *RateLimitedError
		if errors.As(err, &limited) && !limitedBefore {
			firstRetryAfter, limitedBefore = limited.RetryAfter, true
		}
		if limited == nil || !retryable(method) || attempt >= MaxRetries {
			if limited != nil {
				// The caller is told the wait the server first asked for.
				limited.RetryAfter = firstRetryAfter
				c.logger.Warn("apiclient rate limited, giving up",
					"method", method,
					"path", path,
					"attempt", attempt,
					"retryAfter", limited.RetryAfter,
				)
			}
			return nil, err
		}

		delay := backoff(attempt, limited.RetryAfter)
		c.logger.Debug("apiclient rate limited, retrying",
			"method", method,
			"path", path,
			"attempt", attempt,
			"delay", delay,
		)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (c *Client) classify(ctx context.Context, resp *httpx.Response, path, token string, cfg callConfig) error {
	status := resp.StatusCode()
	msg := responseMessage(resp.Body(), status)
	switch status {
	case http.StatusNotFound:
		resource := cfg.resource
		if resource == "" {
			resource = path
		}
		return &NotFoundError{Resource: resource}
	case http.StatusTooManyRequests:
		return &RateLimitedError{Message: msg, RetryAfter: parseRetryAfter(resp.Header().Get("Retry-After"))}
	case http.StatusUnauthorized:
		if token != "" && c.creds != nil {
			if err := c.creds.Clear(ctx); err != nil {
				c.logger.Warn("apiclient: failed to clear credentials", "error", err)
			}
		}
		c.signOut(ctx)
		return fmt.Errorf("%w: %s", ErrUnauthenticated, msg)
	default:
		return &APIError{Status: status, Message: msg}
	}
}

func (c *Client) signOut(ctx context.Context) {
	if c.observer == nil {
		return
	}
	c.observer.SignedOut(ctx, ReturnPath(ctx))
}

func retryable(method string) bool {
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete:
		return true
	default:
		return false
	}
}

// backoff returns min(1s * 2^attempt, retryAfter).
func backoff(attempt int, retryAfter time.Duration) time.Duration {
	delay := baseRetryDelay << uint(attempt)
	if retryAfter < delay {
		return retryAfter
	}
	return delay
}

func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return DefaultRetryAfter
	}
	return time.Duration(secs) * time.Second
}

func responseMessage(body []byte, status int) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" && len(text) <= 512 {
		return text
	}
	return http.StatusText(status)
}

func decode(method, path string, raw []byte, out any) error {
	if out == nil {
		return nil
	}
	if len(raw) == 0 {
		return &ValidationError{Method: method, Path: path, Err: errors.New("empty body")}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &ValidationError{Method: method, Path: path, Err: err}
	}
	if v, ok := out.(Validator); ok {
		if err := v.Validate(); err != nil {
			return &ValidationError{Method: method, Path: path, Err: err}
		}
	}
	return nil
}
