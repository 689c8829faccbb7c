package cache

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("cache: key not found")

// Store represents a simple TTL-based byte store. It backs the client's
// durable local storage (bbolt, memory) as well as the API's response cache
// (Redis). A ttl of zero means the entry never expires on its own.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Scanner is implemented by stores able to enumerate their keys.
type Scanner interface {
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// IgnoreNotFound returns nil for ErrNotFound so idempotent deletes read cleanly.
func IgnoreNotFound(err error) error {
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
