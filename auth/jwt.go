package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/adeilh/rakh-shop/cache"
)

var (
	ErrJWTInvalidFormat     = errors.New("auth: invalid jwt format")
	ErrJWTInvalidSignature  = errors.New("auth: invalid jwt signature")
	ErrJWTUnsupportedAlgo   = errors.New("auth: unsupported jwt algorithm")
	ErrJWTExpired           = errors.New("auth: jwt expired")
	ErrJWTNotYetValid       = errors.New("auth: jwt not yet valid")
	ErrJWTRevoked           = errors.New("auth: jwt revoked")
	ErrJWTInvalidClaims     = errors.New("auth: invalid jwt claims")
	ErrJWTMissingSigningKey = errors.New("auth: missing signing key")
	ErrJWTWeakSigningKey    = errors.New("auth: signing key too short")
	ErrJWTInvalidIssuer     = errors.New("auth: invalid jwt issuer")
	ErrJWTInvalidAudience   = errors.New("auth: invalid jwt audience")
)

// MinSecretLength is the HS256 secret size enforced by WithStrictSecret.
const MinSecretLength = 32

const (
	signingAlgorithm = "HS256"
	defaultLeeway    = 30 * time.Second
)

// HMACJWTProvider signs and verifies HS256 tokens. Issued token ids go to a
// ledger so tokens can be revoked before they expire.
type HMACJWTProvider struct {
	secret   []byte
	leeway   time.Duration
	now      func() time.Time
	ledger   *tokenLedger
	issuer   string
	audience []string
}

// ProviderOption customises an HMACJWTProvider.
type ProviderOption func(*providerConfig)

type providerConfig struct {
	leeway   time.Duration
	now      func() time.Time
	store    cache.Store
	prefix   string
	issuer   string
	audience []string
	strict   bool
}

// WithLeeway overrides the default 30s tolerance on exp and nbf.
func WithLeeway(d time.Duration) ProviderOption {
	return func(cfg *providerConfig) { cfg.leeway = max(d, 0) }
}

// WithProviderNowFunc injects a deterministic clock.
func WithProviderNowFunc(fn func() time.Time) ProviderOption {
	return func(cfg *providerConfig) {
		if fn != nil {
			cfg.now = fn
		}
	}
}

// WithTokenStore records issued tokens under prefix in store. Tokens then
// verify only while their record exists.
func WithTokenStore(store cache.Store, prefix string) ProviderOption {
	return func(cfg *providerConfig) {
		cfg.store = store
		cfg.prefix = prefix
	}
}

// WithRequiredIssuer rejects tokens from any other issuer.
func WithRequiredIssuer(issuer string) ProviderOption {
	return func(cfg *providerConfig) { cfg.issuer = issuer }
}

// WithRequiredAudience rejects tokens naming none of audience.
func WithRequiredAudience(audience ...string) ProviderOption {
	return func(cfg *providerConfig) { cfg.audience = slices.Clone(audience) }
}

// WithStrictSecret rejects secrets shorter than MinSecretLength.
func WithStrictSecret() ProviderOption {
	return func(cfg *providerConfig) { cfg.strict = true }
}

func NewHMACJWTProvider(secret []byte, opts ...ProviderOption) (*HMACJWTProvider, error) {
	if len(secret) == 0 {
		return nil, ErrJWTMissingSigningKey
	}
	cfg := providerConfig{leeway: defaultLeeway, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.strict && len(secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: need at least %d bytes", ErrJWTWeakSigningKey, MinSecretLength)
	}
	return &HMACJWTProvider{
		secret:   slices.Clone(secret),
		leeway:   cfg.leeway,
		now:      cfg.now,
		ledger:   newTokenLedger(cfg.store, cfg.prefix),
		issuer:   cfg.issuer,
		audience: cfg.audience,
	}, nil
}

func (p *HMACJWTProvider) Issue(ctx context.Context, claims JWTClaims, opts JWTOptions) (JWTToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := p.prepareClaims(claims, opts)
	if err != nil {
		return nil, err
	}

	header, err := encodeSegment(jwtHeader{Algorithm: signingAlgorithm, Type: "JWT"})
	if err != nil {
		return nil, err
	}
	payload, err := encodeSegment(c.payload())
	if err != nil {
		return nil, err
	}
	input := header + "." + payload
	raw := input + "." + p.sign(input)

	// Keep the record through the leeway window so an accepted token is never
	// reported as revoked.
	var ttl time.Duration
	if !c.ExpiresAt.IsZero() {
		ttl = c.ExpiresAt.Add(p.leeway).Sub(p.now())
		if ttl <= 0 {
			return jwtToken{raw: raw, claims: c}, nil
		}
	}
	if err := p.ledger.record(ctx, c.ID, raw, ttl); err != nil {
		return nil, err
	}
	return jwtToken{raw: raw, claims: c}, nil
}

// Parse verifies signature, timing, issuer, audience and revocation, in
// that order.
func (p *HMACJWTProvider) Parse(ctx context.Context, raw string) (JWTToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, ErrJWTInvalidFormat
	}

	var header jwtHeader
	if err := decodeSegment(parts[0], &header); err != nil {
		return nil, ErrJWTInvalidFormat
	}
	if header.Algorithm != signingAlgorithm {
		return nil, ErrJWTUnsupportedAlgo
	}
	if err := p.verify(parts[0]+"."+parts[1], parts[2]); err != nil {
		return nil, err
	}

	var payload jwtPayload
	if err := decodeSegment(parts[1], &payload); err != nil {
		return nil, ErrJWTInvalidFormat
	}
	claims := payload.claims()
	if err := p.validate(claims); err != nil {
		return nil, err
	}
	if err := p.ledger.check(ctx, claims.ID); err != nil {
		return nil, err
	}
	return jwtToken{raw: raw, claims: claims}, nil
}

// ParseToken satisfies TokenParser so the provider can back Middleware directly.
func (p *HMACJWTProvider) ParseToken(ctx context.Context, raw string) (JWTToken, error) {
	return p.Parse(ctx, raw)
}

func (p *HMACJWTProvider) Revoke(ctx context.Context, tokenID string) error {
	return p.ledger.revoke(ctx, tokenID)
}

func (p *HMACJWTProvider) prepareClaims(claims JWTClaims, opts JWTOptions) (JWTClaims, error) {
	if opts.TTL < 0 {
		return JWTClaims{}, fmt.Errorf("%w: negative ttl", ErrJWTInvalidClaims)
	}
	c := claims
	c.Audience = slices.Clone(claims.Audience)
	c.Scopes = slices.Clone(claims.Scopes)

	if c.ID == "" {
		id, err := randomID()
		if err != nil {
			return JWTClaims{}, err
		}
		c.ID = id
	}
	if c.IssuedAt.IsZero() {
		c.IssuedAt = p.now()
	}
	if c.ExpiresAt.IsZero() && opts.TTL > 0 {
		c.ExpiresAt = c.IssuedAt.Add(opts.TTL)
	}
	if !c.ExpiresAt.IsZero() && c.ExpiresAt.Before(c.IssuedAt) {
		return JWTClaims{}, fmt.Errorf("%w: expires before issued", ErrJWTInvalidClaims)
	}
	if c.NotBefore.IsZero() {
		c.NotBefore = c.IssuedAt
	}
	if c.Issuer == "" {
		c.Issuer = opts.Issuer
	}
	if len(c.Audience) == 0 {
		c.Audience = slices.Clone(opts.Audience)
	}
	return c, nil
}

func (p *HMACJWTProvider) validate(c JWTClaims) error {
	now := p.now()
	switch {
	case !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt.Add(p.leeway)):
		return ErrJWTExpired
	case !c.NotBefore.IsZero() && now.Add(p.leeway).Before(c.NotBefore):
		return ErrJWTNotYetValid
	case p.issuer != "" && c.Issuer != p.issuer:
		return ErrJWTInvalidIssuer
	case len(p.audience) > 0 && !c.hasAudience(p.audience):
		return ErrJWTInvalidAudience
	}
	return nil
}

func (p *HMACJWTProvider) mac(input string) []byte {
	m := hmac.New(sha256.New, p.secret)
	m.Write([]byte(input))
	return m.Sum(nil)
}

func (p *HMACJWTProvider) sign(input string) string {
	return base64.RawURLEncoding.EncodeToString(p.mac(input))
}

func (p *HMACJWTProvider) verify(input, signature string) error {
	provided, err := base64.RawURLEncoding.DecodeString(signature)
	if err != nil || !hmac.Equal(provided, p.mac(input)) {
		return ErrJWTInvalidSignature
	}
	return nil
}

func encodeSegment(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

func decodeSegment(segment string, dest any) error {
	data, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

func randomID() (string, error) {
	buf := make([]byte, 18)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
