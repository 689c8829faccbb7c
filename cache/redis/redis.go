// Package redis is a small RESP client implementing cache.Store. It covers
// the handful of commands the storefront needs: GET, SET with PX, DEL and SCAN.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adeilh/rakh-shop/cache"
)

// Store implements cache.Store and cache.Scanner over the Redis RESP
// protocol. The storefront API uses it to cache catalog responses and to
// remember issued JWT ids.
type Store struct {
	cfg  config
	pool chan *conn
}

// NewStore builds a store for the server at addr. Connections are opened
// lazily. An empty addr means the local default port.
func NewStore(addr string, opts ...Option) *Store {
	cfg := defaultConfig(addr)
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return &Store{cfg: cfg, pool: make(chan *conn, cfg.poolSize)}
}

// Close closes idle pooled connections. Connections in use are closed when
// they are released into a full pool.
func (s *Store) Close() error {
	for {
		select {
		case c := <-s.pool:
			_ = c.Close()
		default:
			return nil
		}
	}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	reply, err := s.do(ctx, "GET", key)
	if err != nil {
		return nil, err
	}
	switch v := reply.(type) {
	case nil:
		return nil, cache.ErrNotFound
	case []byte:
		return v, nil
	default:
		return nil, fmt.Errorf("redis: unexpected GET reply %T", reply)
	}
}

// Set stores value. A positive ttl is sent as PX and rounded up to 1ms.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	args := []string{"SET", key, string(value)}
	if ttl > 0 {
		args = append(args, "PX", strconv.FormatInt(max(ttl.Milliseconds(), 1), 10))
	}
	reply, err := s.do(ctx, args...)
	if err != nil {
		return err
	}
	if !isOK(reply) {
		return fmt.Errorf("redis: SET failed: %v", reply)
	}
	return nil
}

// Delete removes key, returning cache.ErrNotFound when nothing was deleted.
func (s *Store) Delete(ctx context.Context, key string) error {
	reply, err := s.do(ctx, "DEL", key)
	if err != nil {
		return err
	}
	n, ok := reply.(int64)
	switch {
	case !ok:
		return fmt.Errorf("redis: DEL failed: %v", reply)
	case n == 0:
		return cache.ErrNotFound
	}
	return nil
}

// Keys walks the keyspace with SCAN MATCH prefix* and returns every match.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	count := strconv.Itoa(s.cfg.scanCount)
	pattern := escapeGlob(prefix) + "*"
	cursor := "0"
	for {
		reply, err := s.do(ctx, "SCAN", cursor, "MATCH", pattern, "COUNT", count)
		if err != nil {
			return nil, err
		}
		next, batch, err := scanReply(reply)
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		if next == "0" {
			return keys, nil
		}
		cursor = next
	}
}

func scanReply(reply any) (string, []string, error) {
	parts, ok := reply.([]any)
	if !ok || len(parts) != 2 {
		return "", nil, fmt.Errorf("redis: unexpected SCAN reply %v", reply)
	}
	cursor, ok := parts[0].([]byte)
	if !ok {
		return "", nil, fmt.Errorf("redis: unexpected SCAN cursor %T", parts[0])
	}
	items, _ := parts[1].([]any)
	keys := make([]string, 0, len(items))
	for _, item := range items {
		if b, ok := item.([]byte); ok {
			keys = append(keys, string(b))
		}
	}
	return string(cursor), keys, nil
}

// do runs one command on a pooled connection. A connection that failed
// anywhere other than a server error reply is discarded.
func (s *Store) do(ctx context.Context, args ...string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	reply, err := c.roundTrip(ctx, s.cfg, args...)
	s.release(c, err != nil && !isServerError(err))
	return reply, err
}

func isOK(reply any) bool {
	msg, ok := reply.(string)
	return ok && strings.EqualFold(msg, "OK")
}

func escapeGlob(s string) string {
	r := strings.NewReplacer(`\`, `\\`, "*", `\*`, "?", `\?`, "[", `\[`, "]", `\]`)
	return r.Replace(s)
}
