package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// ShopperIssuer is stamped on every shopper token.
	ShopperIssuer = "rakh-shop"
	// ShopperAudience is the audience the storefront API accepts.
	ShopperAudience = "storefront"
	// ScopeShop grants access to the caller's likes and cart.
	ScopeShop = "shop"

	defaultShopperTTL = 30 * 24 * time.Hour
)

var ErrNotShopper = errors.New("auth: token is not a shopper token")

// ShopperTokens mints and verifies bearer tokens that identify a customer.
// The customer ID is carried as the token subject.
type ShopperTokens struct {
	provider JWTTokenProvider
	ttl      time.Duration
}

// NewShopperTokens wraps provider. A non-positive ttl uses 30 days.
func NewShopperTokens(provider JWTTokenProvider, ttl time.Duration) (*ShopperTokens, error) {
	if provider == nil {
		return nil, errors.New("auth: shopper tokens require a provider")
	}
	if ttl <= 0 {
		ttl = defaultShopperTTL
	}
	return &ShopperTokens{provider: provider, ttl: ttl}, nil
}

// Issue mints a token for customerID.
func (s *ShopperTokens) Issue(ctx context.Context, customerID string) (JWTToken, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, fmt.Errorf("%w: empty customer id", ErrJWTInvalidClaims)
	}
	return s.provider.Issue(ctx, JWTClaims{
		Subject: customerID,
		Scopes:  []string{ScopeShop},
	}, JWTOptions{
		Issuer:   ShopperIssuer,
		Audience: []string{ShopperAudience},
		TTL:      s.ttl,
	})
}

// ParseToken verifies raw and checks it was minted for the storefront.
func (s *ShopperTokens) ParseToken(ctx context.Context, raw string) (JWTToken, error) {
	token, err := s.provider.Parse(ctx, raw)
	if err != nil {
		return nil, err
	}
	claims := token.Claims()
	if claims.Subject == "" || !claims.HasScope(ScopeShop) || !claims.hasAudience([]string{ShopperAudience}) {
		return nil, ErrNotShopper
	}
	return token, nil
}

// Revoke invalidates a previously issued shopper token.
func (s *ShopperTokens) Revoke(ctx context.Context, tokenID string) error {
	return s.provider.Revoke(ctx, tokenID)
}

// CustomerID returns the customer bound to the request's verified token.
func CustomerID(ctx context.Context) (string, bool) {
	token, ok := TokenFromContext(ctx)
	if !ok || token == nil {
		return "", false
	}
	sub := token.Claims().Subject
	return sub, sub != ""
}
