package redis

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/adeilh/rakh-shop/internal/testutil/dockertest"
)

func TestStoreAgainstRedisContainer(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}
	if err := dockertest.Redis.Setup(); err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = dockertest.Redis.Teardown() })

	store := NewStore(dockertest.Redis.Addr())

	const workers = 16
	var wg sync.WaitGroup
	errCh := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			key := fmt.Sprintf("it:%d:%d", worker, time.Now().UnixNano())
			if err := store.Set(ctx, key, []byte(key), time.Second); err != nil {
				errCh <- fmt.Errorf("worker %d set: %w", worker, err)
				return
			}
			got, err := store.Get(ctx, key)
			if err != nil {
				errCh <- fmt.Errorf("worker %d get: %w", worker, err)
				return
			}
			if string(got) != key {
				errCh <- fmt.Errorf("worker %d mismatch: %q", worker, got)
			}
		}(w)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Error(err)
	}

	keys, err := store.Keys(context.Background(), "it:")
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if len(keys) < workers {
		t.Fatalf("Keys() returned %d keys, want at least %d", len(keys), workers)
	}
}
