package redis

import (
	"context"
	"errors"
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/adeilh/rakh-shop/cache"
)

func newFakeStore(t *testing.T) (*Store, *fakePeer) {
	t.Helper()
	peer := newFakePeer()
	return NewStore("", withDial(peer.dial)), peer
}

func TestStoreSetGetDelete(t *testing.T) {
	store, _ := newFakeStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := store.Set(ctx, "catalog:categories", []byte(`[{"id":"c1"}]`), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	payload, err := store.Get(ctx, "catalog:categories")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(payload) != `[{"id":"c1"}]` {
		t.Fatalf("Get() = %q", payload)
	}
	if err := store.Delete(ctx, "catalog:categories"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(ctx, "catalog:categories"); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.Delete(ctx, "catalog:categories"); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on missing delete, got %v", err)
	}
}

func TestStoreTTLUsesPX(t *testing.T) {
	store, peer := newFakeStore(t)
	now := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	peer.now = func() time.Time { return now }
	ctx := context.Background()

	if err := store.Set(ctx, "k", []byte("v"), 200*time.Millisecond); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, err := store.Get(ctx, "k"); err != nil {
		t.Fatalf("Get() within ttl error = %v", err)
	}
	now = now.Add(time.Second)
	if _, err := store.Get(ctx, "k"); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after ttl, got %v", err)
	}
}

func TestStoreKeysScansPrefix(t *testing.T) {
	store, _ := newFakeStore(t)
	ctx := context.Background()

	for _, k := range []string{"api:products:1", "api:products:2", "jwt:abc"} {
		if err := store.Set(ctx, k, []byte("x"), 0); err != nil {
			t.Fatalf("Set(%q) error = %v", k, err)
		}
	}
	keys, err := store.Keys(ctx, "api:")
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	want := []string{"api:products:1", "api:products:2"}
	if !reflect.DeepEqual(keys, want) {
		t.Fatalf("Keys() = %v, want %v", keys, want)
	}
}

func TestStoreReusesPooledConnection(t *testing.T) {
	peer := newFakePeer()
	dials := 0
	store := NewStore("", WithPoolSize(1), withDial(func(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
		dials++
		return peer.dial(ctx, addr, timeout)
	}))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := store.Set(ctx, "k", []byte("v"), 0); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
	}
	if dials != 1 {
		t.Fatalf("expected 1 dial, got %d", dials)
	}
	if got := len(peer.commands()); got != 5 {
		t.Fatalf("expected 5 commands, got %d", got)
	}
}

func TestStoreContextCancellation(t *testing.T) {
	store, _ := newFakeStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.Set(ctx, "any", []byte("value"), 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestStoreHandshake(t *testing.T) {
	peer := newFakePeer()
	peer.password = "hunter2"
	ctx := context.Background()

	store := NewStore("", WithPassword("hunter2"), WithDB(3), withDial(peer.dial))
	if err := store.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	want := []string{"AUTH", "SELECT", "SET"}
	if got := peer.commands(); !reflect.DeepEqual(got, want) {
		t.Fatalf("commands = %v, want %v", got, want)
	}

	wrong := NewStore("", WithPassword("nope"), withDial(peer.dial))
	if _, err := wrong.Get(ctx, "k"); err == nil || errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("Get() with bad password error = %v", err)
	}
}

func TestOptionsDefaults(t *testing.T) {
	cfg := defaultConfig("")
	for _, opt := range []Option{WithDB(-1), WithPoolSize(0), WithScanCount(-5), WithTimeouts(0, time.Second, 0), nil} {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.addr != defaultAddr || cfg.db != 0 || cfg.poolSize != defaultPoolSize || cfg.scanCount != defaultScanCount {
		t.Fatalf("config = %+v", cfg)
	}
	if cfg.readTimeout != time.Second || cfg.dialTimeout != 5*time.Second {
		t.Fatalf("timeouts = %v/%v", cfg.dialTimeout, cfg.readTimeout)
	}
}

func TestEscapeGlob(t *testing.T) {
	if got := escapeGlob("a*b?[c]"); got != `a\*b\?\[c\]` {
		t.Fatalf("escapeGlob() = %q", got)
	}
}

func TestDeadlineUsesSoonerBound(t *testing.T) {
	if !deadline(context.Background(), 0).IsZero() {
		t.Fatal("deadline() without bounds should be zero")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	ctxDeadline, _ := ctx.Deadline()
	if got := deadline(ctx, time.Hour); !got.Equal(ctxDeadline) {
		t.Fatalf("deadline() = %v, want ctx deadline %v", got, ctxDeadline)
	}
	if got := deadline(context.Background(), time.Hour); time.Until(got) < 59*time.Minute {
		t.Fatalf("deadline() = %v, want about an hour out", got)
	}
}

func TestServerErrorKeepsConnection(t *testing.T) {
	peer := newFakePeer()
	dials := 0
	store := NewStore("", withDial(func(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
		dials++
		return peer.dial(ctx, addr, timeout)
	}))
	ctx := context.Background()

	if _, err := store.do(ctx, "FLUSHALL"); !isServerError(err) {
		t.Fatalf("do(FLUSHALL) error = %v, want server error", err)
	}
	if err := store.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if dials != 1 {
		t.Fatalf("dials = %d, want 1", dials)
	}
	_ = store.Close()
}
