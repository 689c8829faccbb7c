package apiclient

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/adeilh/rakh-shop/cache"
)

// DefaultTokenKey is where StoredCredentials keeps the bearer token.
const DefaultTokenKey = "auth:token"

// Credentials holds the bearer token presented to the remote authority.
type Credentials interface {
	Token(ctx context.Context) (string, bool)
	Clear(ctx context.Context) error
}

// StoredCredentials persists the bearer token in a cache.Store so it
// survives restarts. Reads are served from memory after the first load.
type StoredCredentials struct {
	store cache.Store
	key   string

	mu     sync.Mutex
	loaded bool
	token  string
}

// NewStoredCredentials returns credentials backed by store under key. An empty
// key uses DefaultTokenKey.
func NewStoredCredentials(store cache.Store, key string) *StoredCredentials {
	if strings.TrimSpace(key) == "" {
		key = DefaultTokenKey
	}
	return &StoredCredentials{store: store, key: key}
}

// Token returns the held token, loading it from the store on first use.
func (s *StoredCredentials) Token(ctx context.Context) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		raw, err := s.store.Get(ctx, s.key)
		if err != nil {
			if !errors.Is(err, cache.ErrNotFound) {
				return "", false
			}
			raw = nil
		}
		s.token = strings.TrimSpace(string(raw))
		s.loaded = true
	}
	return s.token, s.token != ""
}

// Set stores token, replacing any previous one.
func (s *StoredCredentials) Set(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return s.Clear(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Set(ctx, s.key, []byte(token), 0); err != nil {
		return err
	}
	s.token = token
	s.loaded = true
	return nil
}

// Clear forgets the token. Clearing absent credentials is not an error.
func (s *StoredCredentials) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.loaded = true
	return cache.IgnoreNotFound(s.store.Delete(ctx, s.key))
}
