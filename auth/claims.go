// Package auth mints and verifies the storefront's HMAC-signed bearer tokens
// and guards HTTP handlers with them.
package auth

import (
	"context"
	"slices"
	"strings"
	"time"
)

// JWTClaims models the payload embedded inside a signed JWT.
type JWTClaims struct {
	ID        string
	Subject   string
	Issuer    string
	Audience  []string
	IssuedAt  time.Time
	ExpiresAt time.Time
	NotBefore time.Time
	Scopes    []string
}

// HasScope reports whether scope was granted to the token.
func (c JWTClaims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

// hasAudience reports whether any of want is among the token's audiences.
func (c JWTClaims) hasAudience(want []string) bool {
	for _, a := range want {
		if slices.Contains(c.Audience, a) {
			return true
		}
	}
	return false
}

// JWTOptions fills claims the caller left empty when minting.
type JWTOptions struct {
	Issuer   string
	Audience []string
	TTL      time.Duration
}

// JWTToken exposes immutable information about a minted JWT.
type JWTToken interface {
	Raw() string
	Claims() JWTClaims
	IssuedAt() time.Time
	ExpiresAt() time.Time
}

// JWTTokenProvider issues, validates, and revokes JWTs.
type JWTTokenProvider interface {
	Issue(ctx context.Context, claims JWTClaims, opts JWTOptions) (JWTToken, error)
	Parse(ctx context.Context, raw string) (JWTToken, error)
	Revoke(ctx context.Context, tokenID string) error
}

// TokenParser verifies a raw bearer token.
type TokenParser interface {
	ParseToken(ctx context.Context, raw string) (JWTToken, error)
}

type jwtToken struct {
	raw    string
	claims JWTClaims
}

func (t jwtToken) Raw() string          { return t.raw }
func (t jwtToken) Claims() JWTClaims    { return t.claims }
func (t jwtToken) IssuedAt() time.Time  { return t.claims.IssuedAt }
func (t jwtToken) ExpiresAt() time.Time { return t.claims.ExpiresAt }

type jwtHeader struct {
	Algorithm string `json:"alg"`
	Type      string `json:"typ"`
}

// jwtPayload is the registered-claims wire form. Scopes travel as one
// space-separated "scope" string.
type jwtPayload struct {
	ID        string   `json:"jti,omitempty"`
	Subject   string   `json:"sub,omitempty"`
	Issuer    string   `json:"iss,omitempty"`
	Audience  []string `json:"aud,omitempty"`
	IssuedAt  int64    `json:"iat,omitempty"`
	ExpiresAt int64    `json:"exp,omitempty"`
	NotBefore int64    `json:"nbf,omitempty"`
	Scope     string   `json:"scope,omitempty"`
}

func (c JWTClaims) payload() jwtPayload {
	return jwtPayload{
		ID:        c.ID,
		Subject:   c.Subject,
		Issuer:    c.Issuer,
		Audience:  slices.Clone(c.Audience),
		IssuedAt:  unixOrZero(c.IssuedAt),
		ExpiresAt: unixOrZero(c.ExpiresAt),
		NotBefore: unixOrZero(c.NotBefore),
		Scope:     strings.Join(c.Scopes, " "),
	}
}

func (p jwtPayload) claims() JWTClaims {
	return JWTClaims{
		ID:        p.ID,
		Subject:   p.Subject,
		Issuer:    p.Issuer,
		Audience:  slices.Clone(p.Audience),
		IssuedAt:  timeFromUnix(p.IssuedAt),
		ExpiresAt: timeFromUnix(p.ExpiresAt),
		NotBefore: timeFromUnix(p.NotBefore),
		Scopes:    strings.Fields(p.Scope),
	}
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeFromUnix(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(v, 0).UTC()
}
