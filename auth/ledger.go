package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/adeilh/rakh-shop/cache"
)

const defaultLedgerPrefix = "jwt"

// tokenLedger tracks issued token ids. With a store, an id missing from it
// counts as revoked, so a revocation made by one process is seen by every
// process sharing the store. Without a store only revocations made through
// this ledger are known.
type tokenLedger struct {
	store   cache.Store
	prefix  string
	revoked sync.Map
}

func newTokenLedger(store cache.Store, prefix string) *tokenLedger {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultLedgerPrefix
	}
	return &tokenLedger{store: store, prefix: prefix}
}

func (l *tokenLedger) key(id string) string {
	return l.prefix + ":" + id
}

// record stores raw under id until ttl passes. A zero ttl keeps the record
// until it is revoked.
func (l *tokenLedger) record(ctx context.Context, id, raw string, ttl time.Duration) error {
	if l.store == nil || ttl < 0 {
		return nil
	}
	if id == "" {
		return ErrJWTInvalidClaims
	}
	if err := l.store.Set(ctx, l.key(id), []byte(raw), ttl); err != nil {
		return fmt.Errorf("auth: record token: %w", err)
	}
	return nil
}

// check returns ErrJWTRevoked for revoked or unknown ids.
func (l *tokenLedger) check(ctx context.Context, id string) error {
	if _, ok := l.revoked.Load(id); ok {
		return ErrJWTRevoked
	}
	if l.store == nil {
		return nil
	}
	if id == "" {
		return ErrJWTInvalidClaims
	}
	_, err := l.store.Get(ctx, l.key(id))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, cache.ErrNotFound):
		return ErrJWTRevoked
	default:
		return fmt.Errorf("auth: check token: %w", err)
	}
}

// revoke forgets id. Revoking an unknown id is not an error.
func (l *tokenLedger) revoke(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty token id", ErrJWTInvalidClaims)
	}
	l.revoked.Store(id, struct{}{})
	if l.store == nil {
		return nil
	}
	return cache.IgnoreNotFound(l.store.Delete(ctx, l.key(id)))
}
