package api

import (
	"errors"

	"github.com/adeilh/rakh-shop/auth"
	"github.com/adeilh/rakh-shop/httpx"
)

// Prefix is where the API routes are mounted.
const Prefix = "/api"

// NewServer wires h behind bearer authentication verified by tokens. Server
// options such as the address and rate limit are passed through.
func NewServer(h *Handler, tokens auth.TokenParser, opts ...httpx.ServerOption) (*httpx.Server, error) {
	if h == nil {
		return nil, errors.New("api: handler is required")
	}
	mw, err := auth.NewMiddleware(tokens)
	if err != nil {
		return nil, err
	}
	srv := httpx.NewServer(opts...)
	srv.RegisterRoutes(h.Routes(Prefix, httpx.AuthMiddleware(mw)))
	return srv, nil
}
