package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

var (
	ErrTokenNotFound     = errors.New("auth: token not found")
	ErrTokenInvalidInput = errors.New("auth: invalid token source")
)

type TokenExtractor func(*http.Request) (string, error)

type MiddlewareSkipper func(*http.Request) bool

type MiddlewareErrorHandler func(http.ResponseWriter, *http.Request, error)

type MiddlewareOption func(*Middleware)

// Middleware verifies bearer tokens and stores the parsed token in the
// request context for handlers to read with TokenFromContext or CustomerID.
type Middleware struct {
	parser       TokenParser
	extractor    TokenExtractor
	skipper      MiddlewareSkipper
	errorHandler MiddlewareErrorHandler
}

// NewMiddleware builds a middleware that reads the Authorization header and
// renders failures with JSONErrorHandler unless overridden.
func NewMiddleware(parser TokenParser, opts ...MiddlewareOption) (*Middleware, error) {
	if parser == nil {
		return nil, errors.New("auth: middleware requires a token parser")
	}
	m := &Middleware{
		parser:       parser,
		extractor:    BearerTokenExtractor(),
		skipper:      func(*http.Request) bool { return false },
		errorHandler: JSONErrorHandler,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

func WithTokenExtractor(extractor TokenExtractor) MiddlewareOption {
	return func(m *Middleware) {
		if extractor != nil {
			m.extractor = extractor
		}
	}
}

// WithSkipper lets matching requests through unauthenticated.
func WithSkipper(skipper MiddlewareSkipper) MiddlewareOption {
	return func(m *Middleware) {
		if skipper != nil {
			m.skipper = skipper
		}
	}
}

func WithErrorHandler(handler MiddlewareErrorHandler) MiddlewareOption {
	return func(m *Middleware) {
		if handler != nil {
			m.errorHandler = handler
		}
	}
}

func (m *Middleware) Handler(next http.Handler) http.Handler {
	if next == nil {
		next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipper(r) {
			next.ServeHTTP(w, r)
			return
		}
		raw, err := m.extractor(r)
		if err != nil {
			m.errorHandler(w, r, err)
			return
		}
		token, err := m.parser.ParseToken(r.Context(), raw)
		if err != nil {
			m.errorHandler(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), tokenContextKey{}, token)))
	})
}

type tokenContextKey struct{}

func TokenFromContext(ctx context.Context) (JWTToken, bool) {
	if ctx == nil {
		return nil, false
	}
	token, ok := ctx.Value(tokenContextKey{}).(JWTToken)
	return token, ok
}

// BearerTokenExtractor reads "Authorization: Bearer <token>". The scheme is
// matched case-insensitively.
func BearerTokenExtractor() TokenExtractor {
	return func(r *http.Request) (string, error) {
		header := r.Header.Get("Authorization")
		if header == "" {
			return "", ErrTokenNotFound
		}
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return "", ErrTokenInvalidInput
		}
		token = strings.TrimSpace(token)
		if token == "" {
			return "", ErrTokenInvalidInput
		}
		return token, nil
	}
}

// JSONErrorHandler renders auth failures as {"error": msg} with a
// WWW-Authenticate challenge. Signature and claim failures share one
// message so callers cannot tell which check failed.
func JSONErrorHandler(w http.ResponseWriter, _ *http.Request, err error) {
	status := http.StatusUnauthorized
	msg := "unauthorized"
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
		msg = err.Error()
	case errors.Is(err, ErrTokenNotFound):
		msg = "missing bearer token"
	case errors.Is(err, ErrTokenInvalidInput):
		msg = "malformed authorization header"
	case errors.Is(err, ErrJWTExpired):
		msg = "token expired"
	case errors.Is(err, ErrJWTRevoked):
		msg = "token revoked"
	}
	w.Header().Set("Content-Type", "application/json")
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="storefront"`)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
