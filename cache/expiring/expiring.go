// Package expiring layers per-entry expiry over any cache.Store. Entries are
// stored as a small JSON envelope so expiry is decided by this package rather
// than by the backend, which keeps behaviour identical on bbolt, memory and
// Redis. Expired or malformed entries are purged when read.
package expiring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/adeilh/rakh-shop/cache"
)

// Entry is the persisted envelope. ExpiresAt is always after WrittenAt.
type Entry struct {
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	WrittenAt time.Time       `json:"writtenAt"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

func (e Entry) valid() bool {
	return len(e.Payload) > 0 && !e.WrittenAt.IsZero() && e.ExpiresAt.After(e.WrittenAt)
}

// Cache stores JSON payloads under a namespace with a per-entry TTL.
type Cache struct {
	store     cache.Store
	namespace string
	now       func() time.Time
	logger    *slog.Logger
}

type Option func(*Cache)

// WithNamespace prefixes every key; defaults to "cache".
func WithNamespace(ns string) Option {
	return func(c *Cache) {
		if ns = strings.TrimSpace(ns); ns != "" {
			c.namespace = ns
		}
	}
}

func WithNowFunc(fn func() time.Time) Option {
	return func(c *Cache) {
		if fn != nil {
			c.now = fn
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New wraps store. The store must not be nil.
func New(store cache.Store, opts ...Option) *Cache {
	c := &Cache{
		store:     store,
		namespace: "cache",
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *Cache) key(k string) string {
	return c.namespace + ":" + k
}

// Set stores payload so that it is readable until now+ttl, replacing any
// previous entry. It only fails if payload cannot be encoded or the store
// rejects the write.
func (c *Cache) Set(ctx context.Context, key string, payload any, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("expiring: ttl must be positive, got %s", ttl)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("expiring: encode %q: %w", key, err)
	}
	now := c.now()
	data, err := json.Marshal(Entry{
		Key:       key,
		Payload:   raw,
		WrittenAt: now,
		ExpiresAt: now.Add(ttl),
	})
	if err != nil {
		return fmt.Errorf("expiring: encode envelope %q: %w", key, err)
	}
	return c.store.Set(ctx, c.key(key), data, 0)
}

// Get decodes the payload for key into dest and reports whether it was
// present and fresh. Store failures, expired entries and malformed entries
// all read as absent; the latter two are deleted.
func (c *Cache) Get(ctx context.Context, key string, dest any) bool {
	data, err := c.store.Get(ctx, c.key(key))
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			c.logger.Warn("cache read failed", "key", key, "error", err)
		}
		return false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil || !entry.valid() {
		c.logger.Debug("purging malformed cache entry", "key", key)
		c.purge(ctx, key)
		return false
	}
	if c.now().After(entry.ExpiresAt) {
		c.purge(ctx, key)
		return false
	}
	if err := json.Unmarshal(entry.Payload, dest); err != nil {
		c.logger.Debug("purging undecodable cache payload", "key", key, "error", err)
		c.purge(ctx, key)
		return false
	}
	return true
}

// Clear removes key. Clearing a missing key is not an error.
func (c *Cache) Clear(ctx context.Context, key string) error {
	return cache.IgnoreNotFound(c.store.Delete(ctx, c.key(key)))
}

// ErrNotScannable is returned by ClearAll when the backing store cannot
// enumerate keys.
var ErrNotScannable = errors.New("expiring: store cannot list keys")

// ClearAll removes every entry in the namespace, fresh or not, and returns how
// many were removed.
func (c *Cache) ClearAll(ctx context.Context) (int, error) {
	scanner, ok := c.store.(cache.Scanner)
	if !ok {
		return 0, ErrNotScannable
	}
	keys, err := scanner.Keys(ctx, c.namespace+":")
	if err != nil {
		return 0, fmt.Errorf("expiring: clear all: %w", err)
	}
	for i, full := range keys {
		if err := cache.IgnoreNotFound(c.store.Delete(ctx, full)); err != nil {
			return i, fmt.Errorf("expiring: clear all: %w", err)
		}
	}
	return len(keys), nil
}

// Sweep deletes every expired or malformed entry in the namespace and
// returns how many were removed. Stores that cannot enumerate keys are left
// to lazy expiry.
func (c *Cache) Sweep(ctx context.Context) (int, error) {
	scanner, ok := c.store.(cache.Scanner)
	if !ok {
		return 0, nil
	}
	keys, err := scanner.Keys(ctx, c.namespace+":")
	if err != nil {
		return 0, fmt.Errorf("expiring: sweep: %w", err)
	}

	removed := 0
	now := c.now()
	for _, full := range keys {
		data, err := c.store.Get(ctx, full)
		if err != nil {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(data, &entry); err == nil && entry.valid() && !now.After(entry.ExpiresAt) {
			continue
		}
		if err := cache.IgnoreNotFound(c.store.Delete(ctx, full)); err != nil {
			return removed, fmt.Errorf("expiring: sweep delete: %w", err)
		}
		removed++
	}
	if removed > 0 {
		c.logger.Info("swept expired cache entries", "namespace", c.namespace, "removed", removed)
	}
	return removed, nil
}

func (c *Cache) purge(ctx context.Context, key string) {
	if err := c.Clear(ctx, key); err != nil {
		c.logger.Warn("cache purge failed", "key", key, "error", err)
	}
}
