package httpx

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
)

// Response is the transport response returned by Client.
type Response = resty.Response

// Client is a JSON HTTP client rooted at a base URL.
type Client struct {
	resty *resty.Client
}

func NewClient(opts ...ClientOption) *Client {
	cfg := defaultClientOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	rc := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeaders(cfg.Headers).
		SetHeader("User-Agent", cfg.UserAgent)
	if cfg.BaseURL != "" {
		rc.SetBaseURL(strings.TrimRight(cfg.BaseURL, "/"))
	}
	return &Client{resty: rc}
}

// BaseURL reports the configured base URL.
func (c *Client) BaseURL() string { return c.resty.BaseURL }

type RequestOption func(*resty.Request)

// WithRequestHeaders sets headers on one request.
func WithRequestHeaders(headers map[string]string) RequestOption {
	return func(r *resty.Request) {
		if len(headers) > 0 {
			r.SetHeaders(headers)
		}
	}
}

// WithQuery sets query parameters on the request. Empty values are dropped.
func WithQuery(params map[string]string) RequestOption {
	return func(r *resty.Request) {
		for k, v := range params {
			if v != "" {
				r.SetQueryParam(k, v)
			}
		}
	}
}

// WithBearer injects an Authorization header using the provided bearer token.
func WithBearer(token string) RequestOption {
	return func(r *resty.Request) {
		token = strings.TrimSpace(token)
		if token != "" {
			r.SetAuthToken(token)
		}
	}
}

// StatusError is returned by Do for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Code, e.Body)
}

// Execute sends one request and returns the raw response. Non-2xx statuses
// are not errors here; only transport failures are.
func (c *Client) Execute(ctx context.Context, method, path string, body any, opts ...RequestOption) (*Response, error) {
	req := c.resty.R().SetContext(ctx)
	for _, opt := range opts {
		if opt != nil {
			opt(req)
		}
	}
	if body != nil {
		req.SetBody(body)
	}
	return req.Execute(method, path)
}

// Do sends one request, decodes a 2xx JSON body into result when result is
// non-nil, and reports any other status as a *StatusError.
func (c *Client) Do(ctx context.Context, method, path string, body, result any, opts ...RequestOption) (*Response, error) {
	if result != nil {
		opts = append(append([]RequestOption(nil), opts...), func(r *resty.Request) { r.SetResult(result) })
	}
	resp, err := c.Execute(ctx, method, path, body, opts...)
	if err != nil {
		return resp, err
	}
	if resp.IsError() {
		return resp, &StatusError{Code: resp.StatusCode(), Body: strings.TrimSpace(resp.String())}
	}
	return resp, nil
}
