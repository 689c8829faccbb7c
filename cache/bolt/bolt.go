// Package bolt implements cache.Store on top of a bbolt database file. It is
// the client's durable local storage: liked items, the cart snapshot, the
// bearer token and expiring catalog entries all survive restarts here.
package bolt

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/adeilh/rakh-shop/cache"
	bolt "go.etcd.io/bbolt"
)

var bucketKV = []byte("kv")

// expiry header: 8 bytes of unix nanos, zero means no TTL
const headerLen = 8

var errCorrupt = errors.New("bolt: corrupt record")

// Store implements cache.Store and cache.Scanner using bbolt.
type Store struct {
	db  *bolt.DB
	now func() time.Time

	// hot-path reads promoted on access. gen counts completed writes so a
	// read that raced a write never promotes what it saw.
	mu  sync.RWMutex
	hot map[string][]byte
	gen uint64
}

// Open creates dir if needed and opens (or creates) the database file inside it.
func Open(dir string, opts ...Option) (*Store, error) {
	cfg := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("bolt: create dir: %w", err)
	}

	db, err := bolt.Open(filepath.Join(dir, cfg.FileName), 0o600, &bolt.Options{Timeout: cfg.LockTimeout})
	if err != nil {
		return nil, fmt.Errorf("bolt: open: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketKV)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("bolt: create bucket: %w", err)
	}

	return &Store{db: db, now: cfg.Now, hot: make(map[string][]byte)}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	raw, ok := s.hot[key]
	gen := s.gen
	s.mu.RUnlock()

	if !ok {
		err := s.db.View(func(tx *bolt.Tx) error {
			if v := tx.Bucket(bucketKV).Get([]byte(key)); v != nil {
				raw = make([]byte, len(v))
				copy(raw, v)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("bolt: get: %w", err)
		}
		if raw == nil {
			return nil, cache.ErrNotFound
		}
		s.promote(key, raw, gen)
	}

	value, exp, err := decode(raw)
	if err != nil || (!exp.IsZero() && s.now().After(exp)) {
		_ = s.Delete(ctx, key)
		return nil, cache.ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var exp time.Time
	if ttl > 0 {
		exp = s.now().Add(ttl)
	}
	raw := encode(value, exp)

	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKV).Put([]byte(key), raw)
	})
	if err != nil {
		return fmt.Errorf("bolt: set: %w", err)
	}
	s.mu.Lock()
	s.hot[key] = raw
	s.gen++
	s.mu.Unlock()
	return nil
}

// promote caches raw read from disk unless a write completed since the
// read started or the key is already hot.
func (s *Store) promote(key string, raw []byte, readGen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != readGen {
		return
	}
	if _, ok := s.hot[key]; !ok {
		s.hot[key] = raw
	}
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	found := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKV)
		if b.Get([]byte(key)) == nil {
			return nil
		}
		found = true
		return b.Delete([]byte(key))
	})
	s.mu.Lock()
	delete(s.hot, key)
	s.gen++
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("bolt: delete: %w", err)
	}
	if !found {
		return cache.ErrNotFound
	}
	return nil
}

// Keys lists stored keys with the given prefix using a cursor seek.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketKV).Cursor()
		for k, _ := c.Seek([]byte(prefix)); k != nil && strings.HasPrefix(string(k), prefix); k, _ = c.Next() {
			keys = append(keys, string(k))
		}
		return nil
	})
	return keys, err
}

func encode(value []byte, exp time.Time) []byte {
	raw := make([]byte, headerLen+len(value))
	if !exp.IsZero() {
		binary.BigEndian.PutUint64(raw[:headerLen], uint64(exp.UnixNano()))
	}
	copy(raw[headerLen:], value)
	return raw
}

func decode(raw []byte) ([]byte, time.Time, error) {
	if len(raw) < headerLen {
		return nil, time.Time{}, errCorrupt
	}
	var exp time.Time
	if n := binary.BigEndian.Uint64(raw[:headerLen]); n != 0 {
		exp = time.Unix(0, int64(n))
	}
	return raw[headerLen:], exp, nil
}
