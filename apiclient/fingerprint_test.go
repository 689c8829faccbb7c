package apiclient

import (
	"context"
	"errors"
	"testing"

	"github.com/adeilh/rakh-shop/cache"
	"github.com/adeilh/rakh-shop/cache/memory"
)

func TestFingerprintNormalisation(t *testing.T) {
	base := fingerprint("GET", "http://shop.test/api", "/products", map[string]string{"category": "shoes", "page": "2"}, "")

	same := []struct {
		name    string
		method  string
		baseURL string
		path    string
		query   map[string]string
	}{
		{"query order", "get", "http://shop.test/api/", "products", map[string]string{"page": "2", "category": "shoes"}},
		{"host case", "GET", "HTTP://SHOP.test/api", "/products", map[string]string{"category": "shoes", "page": "2"}},
		{"inline query", "GET", "http://shop.test/api", "/products?page=2", map[string]string{"category": "shoes"}},
		{"dot segments", "GET", "http://shop.test/api", "/./products/", map[string]string{"category": "shoes", "page": "2"}},
		{"empty value dropped", "GET", "http://shop.test/api", "/products", map[string]string{"category": "shoes", "page": "2", "sort": ""}},
	}
	for _, tt := range same {
		t.Run(tt.name, func(t *testing.T) {
			if got := fingerprint(tt.method, tt.baseURL, tt.path, tt.query, ""); got != base {
				t.Fatalf("fingerprint differs for equivalent request")
			}
		})
	}

	different := map[string]string{
		"method": fingerprint("POST", "http://shop.test/api", "/products", map[string]string{"category": "shoes", "page": "2"}, ""),
		"param":  fingerprint("GET", "http://shop.test/api", "/products", map[string]string{"category": "shoes", "page": "3"}, ""),
		"path":   fingerprint("GET", "http://shop.test/api", "/categories", map[string]string{"category": "shoes", "page": "2"}, ""),
		"token":  fingerprint("GET", "http://shop.test/api", "/products", map[string]string{"category": "shoes", "page": "2"}, "tok"),
	}
	for name, fp := range different {
		if fp == base {
			t.Errorf("%s change should alter the fingerprint", name)
		}
	}
	if len(base) != 64 {
		t.Fatalf("fingerprint length = %d, want 64 hex chars", len(base))
	}
}

func TestStoredCredentialsPersist(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	creds := NewStoredCredentials(store, "")
	if _, ok := creds.Token(ctx); ok {
		t.Fatal("fresh credentials should be empty")
	}
	if err := creds.Set(ctx, "  tok-9 "); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	reloaded := NewStoredCredentials(store, DefaultTokenKey)
	if tok, ok := reloaded.Token(ctx); !ok || tok != "tok-9" {
		t.Fatalf("Token() = %q, %v", tok, ok)
	}

	if err := reloaded.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if err := reloaded.Clear(ctx); err != nil {
		t.Fatalf("second Clear() error = %v", err)
	}
	if _, err := store.Get(ctx, DefaultTokenKey); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("token still stored: %v", err)
	}
	if err := reloaded.Set(ctx, ""); err != nil {
		t.Fatalf("Set(\"\") error = %v", err)
	}
	if _, ok := reloaded.Token(ctx); ok {
		t.Fatal("empty Set should leave credentials cleared")
	}
}

func TestReturnPath(t *testing.T) {
	if got := ReturnPath(context.Background()); got != "" {
		t.Fatalf("ReturnPath() = %q", got)
	}
	ctx := WithReturnPath(context.Background(), "/products/p1")
	if got := ReturnPath(ctx); got != "/products/p1" {
		t.Fatalf("ReturnPath() = %q", got)
	}
	var got string
	SignOutFunc(func(_ context.Context, p string) { got = p }).SignedOut(ctx, ReturnPath(ctx))
	if got != "/products/p1" {
		t.Fatalf("SignOutFunc received %q", got)
	}
}
