package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adeilh/rakh-shop/apiclient"
	"github.com/adeilh/rakh-shop/auth"
	"github.com/adeilh/rakh-shop/cache/expiring"
	"github.com/adeilh/rakh-shop/cache/memory"
	"github.com/adeilh/rakh-shop/httpx"
	"github.com/adeilh/rakh-shop/optimistic"
	"github.com/adeilh/rakh-shop/shop"
)

var (
	testCategories = []shop.Category{
		{ID: "c1", Name: "Shirts", Slug: "shirts"},
		{ID: "c2", Name: "Shoes", Slug: "shoes"},
	}
	testProducts = []shop.Product{
		{ID: "p1", Name: "Tee", Slug: "tee", CategoryID: "c1", PriceCents: 1500, Currency: "USD", Sizes: []string{"M", "L"}, Colors: []string{"red", "blue"}},
		{ID: "p2", Name: "Polo", Slug: "polo", CategoryID: "c1", PriceCents: 2500, Currency: "USD"},
		{ID: "p3", Name: "Runner", Slug: "runner", CategoryID: "c2", PriceCents: 8000, Currency: "USD"},
	}
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testAPI struct {
	server *httpx.TestServer
	store  *MemoryStore
	tokens *auth.ShopperTokens
}

func (a *testAPI) url(path string) string { return a.server.BaseURL() + Prefix + path }

func (a *testAPI) token(t *testing.T, customerID string) string {
	t.Helper()
	tok, err := a.tokens.Issue(context.Background(), customerID)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	return tok.Raw()
}

func newTestAPI(t *testing.T, catalog CatalogRepository, handlerOpts []Option, serverOpts ...httpx.ServerOption) *testAPI {
	t.Helper()
	store := NewMemoryStore()
	if err := Seed(context.Background(), store, testCategories, testProducts); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	if catalog == nil {
		catalog = store
	}

	provider, err := auth.NewHMACJWTProvider([]byte("0123456789abcdef0123456789abcdef"),
		auth.WithTokenStore(memory.NewStore(), "jwt"))
	if err != nil {
		t.Fatalf("NewHMACJWTProvider() error = %v", err)
	}
	tokens, err := auth.NewShopperTokens(provider, time.Hour)
	if err != nil {
		t.Fatalf("NewShopperTokens() error = %v", err)
	}

	h, err := NewHandler(catalog, store, store, append([]Option{WithLogger(quietLogger())}, handlerOpts...)...)
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	opts := append([]httpx.ServerOption{httpx.WithMiddlewares(httpx.RecoverMiddleware())}, serverOpts...)
	srv, err := NewServer(h, tokens, opts...)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	ts := httpx.NewServerTestServer(srv)
	t.Cleanup(ts.Close)
	return &testAPI{server: ts, store: store, tokens: tokens}
}

func doJSON(t *testing.T, method, url, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, url, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, raw
}

func errorMessage(t *testing.T, raw []byte) string {
	t.Helper()
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("error body %q is not JSON: %v", raw, err)
	}
	return payload.Error
}

func TestCatalogEndpoints(t *testing.T) {
	a := newTestAPI(t, nil, nil)

	resp, raw := doJSON(t, http.MethodGet, a.url("/categories"), "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /categories status = %d", resp.StatusCode)
	}
	var cats shop.Categories
	if err := json.Unmarshal(raw, &cats); err != nil {
		t.Fatalf("decode categories: %v", err)
	}
	if len(cats) != 2 || cats[0].Slug != "shirts" {
		t.Fatalf("categories = %+v", cats)
	}

	resp, raw = doJSON(t, http.MethodGet, a.url("/products?category=shirts&page=1"), "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /products status = %d", resp.StatusCode)
	}
	var page shop.ProductPage
	if err := json.Unmarshal(raw, &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if page.Total != 2 || page.TotalPages != 1 || len(page.Items) != 2 || page.Items[0].ID != "p1" {
		t.Fatalf("page = %+v", page)
	}
	if err := page.Validate(); err != nil {
		t.Fatalf("page.Validate() error = %v", err)
	}

	resp, raw = doJSON(t, http.MethodGet, a.url("/products/p3"), "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /products/p3 status = %d", resp.StatusCode)
	}
	var product shop.Product
	if err := json.Unmarshal(raw, &product); err != nil || product.Name != "Runner" {
		t.Fatalf("product = %+v err = %v", product, err)
	}

	cases := []struct {
		name   string
		path   string
		status int
		msg    string
	}{
		{"unknown product", "/products/nope", http.StatusNotFound, "product not found"},
		{"unknown category", "/products?category=hats", http.StatusNotFound, "category not found"},
		{"bad page", "/products?page=zero", http.StatusBadRequest, "page must be a positive integer"},
		{"negative page", "/products?page=-1", http.StatusBadRequest, "page must be a positive integer"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, raw := doJSON(t, http.MethodGet, a.url(tc.path), "", nil)
			if resp.StatusCode != tc.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.status)
			}
			if got := errorMessage(t, raw); got != tc.msg {
				t.Fatalf("error = %q, want %q", got, tc.msg)
			}
		})
	}

	for _, path := range []string{"/healthz", Prefix + "/healthz"} {
		resp, _ = doJSON(t, http.MethodGet, a.server.BaseURL()+path, "", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d", path, resp.StatusCode)
		}
	}
}

func TestCustomerEndpointsRequireBearer(t *testing.T) {
	a := newTestAPI(t, nil, nil)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/likes"},
		{http.MethodPost, "/likes/p1"},
		{http.MethodDelete, "/likes/p1"},
		{http.MethodGet, "/cart"},
		{http.MethodPost, "/cart/items"},
		{http.MethodPatch, "/cart/items/p1"},
		{http.MethodDelete, "/cart/items/p1"},
	} {
		resp, raw := doJSON(t, tc.method, a.url(tc.path), "", nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s %s status = %d, want 401", tc.method, tc.path, resp.StatusCode)
		}
		if got := errorMessage(t, raw); got != "missing bearer token" {
			t.Fatalf("%s %s error = %q", tc.method, tc.path, got)
		}
		if resp.Header.Get("WWW-Authenticate") == "" {
			t.Fatalf("%s %s missing WWW-Authenticate", tc.method, tc.path)
		}
	}

	resp, raw := doJSON(t, http.MethodGet, a.url("/likes"), "not-a-jwt", nil)
	if resp.StatusCode != http.StatusUnauthorized || errorMessage(t, raw) != "unauthorized" {
		t.Fatalf("bad token status = %d body = %s", resp.StatusCode, raw)
	}
}

func TestLikeAndCartHandlers(t *testing.T) {
	a := newTestAPI(t, nil, nil)
	tok := a.token(t, "cust-1")

	resp, _ := doJSON(t, http.MethodPost, a.url("/likes/p1"), tok, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("POST /likes/p1 status = %d", resp.StatusCode)
	}
	// Liking twice is idempotent.
	doJSON(t, http.MethodPost, a.url("/likes/p1"), tok, nil)
	resp, raw := doJSON(t, http.MethodPost, a.url("/likes/ghost"), tok, nil)
	if resp.StatusCode != http.StatusNotFound || errorMessage(t, raw) != "product not found" {
		t.Fatalf("POST /likes/ghost status = %d body = %s", resp.StatusCode, raw)
	}

	_, raw = doJSON(t, http.MethodGet, a.url("/likes"), tok, nil)
	var likes shop.LikedItems
	if err := json.Unmarshal(raw, &likes); err != nil {
		t.Fatalf("decode likes: %v", err)
	}
	if len(likes) != 1 || likes[0].ProductID != "p1" || likes[0].LikedAt.IsZero() {
		t.Fatalf("likes = %+v", likes)
	}

	// Another customer sees their own collection.
	_, raw = doJSON(t, http.MethodGet, a.url("/likes"), a.token(t, "cust-2"), nil)
	if string(bytes.TrimSpace(raw)) != "[]" {
		t.Fatalf("other customer likes = %s", raw)
	}

	add := map[string]any{"productId": "p1", "size": "M", "color": "red", "quantity": 1}
	resp, _ = doJSON(t, http.MethodPost, a.url("/cart/items"), tok, add)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /cart/items status = %d", resp.StatusCode)
	}
	add["quantity"] = 2
	_, raw = doJSON(t, http.MethodPost, a.url("/cart/items"), tok, add)
	var line shop.CartLine
	if err := json.Unmarshal(raw, &line); err != nil || line.Quantity != 3 {
		t.Fatalf("merged line = %+v err = %v", line, err)
	}

	badCases := []struct {
		name string
		body map[string]any
		code int
	}{
		{"zero quantity", map[string]any{"productId": "p1", "size": "M", "color": "red", "quantity": 0}, http.StatusBadRequest},
		{"unknown size", map[string]any{"productId": "p1", "size": "XXL", "color": "red", "quantity": 1}, http.StatusBadRequest},
		{"unknown product", map[string]any{"productId": "ghost", "quantity": 1}, http.StatusNotFound},
		{"missing product", map[string]any{"quantity": 1}, http.StatusBadRequest},
	}
	for _, tc := range badCases {
		resp, _ := doJSON(t, http.MethodPost, a.url("/cart/items"), tok, tc.body)
		if resp.StatusCode != tc.code {
			t.Fatalf("%s: status = %d, want %d", tc.name, resp.StatusCode, tc.code)
		}
	}

	patch := map[string]any{"size": "M", "color": "red", "quantity": 5}
	resp, raw = doJSON(t, http.MethodPatch, a.url("/cart/items/p1"), tok, patch)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PATCH status = %d body = %s", resp.StatusCode, raw)
	}
	patch["size"] = "L"
	resp, _ = doJSON(t, http.MethodPatch, a.url("/cart/items/p1"), tok, patch)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("PATCH missing line status = %d", resp.StatusCode)
	}

	items, _ := a.store.CartItems(context.Background(), "cust-1")
	if len(items) != 1 || items[0].Quantity != 5 {
		t.Fatalf("stored cart = %+v", items)
	}

	resp, _ = doJSON(t, http.MethodDelete, a.url("/cart/items/p1?size=M&color=red"), tok, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("DELETE status = %d", resp.StatusCode)
	}
	_, raw = doJSON(t, http.MethodGet, a.url("/cart"), tok, nil)
	if string(bytes.TrimSpace(raw)) != "[]" {
		t.Fatalf("cart after delete = %s", raw)
	}
}

type countingCatalog struct {
	CatalogRepository
	categories atomic.Int64
}

func (c *countingCatalog) Categories(ctx context.Context) ([]shop.Category, error) {
	c.categories.Add(1)
	return c.CatalogRepository.Categories(ctx)
}

func TestResponseCache(t *testing.T) {
	seeded := NewMemoryStore()
	if err := Seed(context.Background(), seeded, testCategories, testProducts); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	counting := &countingCatalog{CatalogRepository: seeded}
	responses := expiring.New(memory.NewStore(), expiring.WithNamespace("api"), expiring.WithLogger(quietLogger()))
	a := newTestAPI(t, counting, []Option{WithResponseCache(responses, time.Minute)})

	for i := 0; i < 3; i++ {
		resp, _ := doJSON(t, http.MethodGet, a.url("/categories"), "", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET /categories status = %d", resp.StatusCode)
		}
	}
	if n := counting.categories.Load(); n != 1 {
		t.Fatalf("repository calls = %d, want 1", n)
	}
}

func TestRateLimitedClientRetries(t *testing.T) {
	a := newTestAPI(t, nil, nil, httpx.WithRateLimit(httpx.RateLimitConfig{
		RequestsPerSecond: 0.001,
		Burst:             1,
		RetryAfter:        2 * time.Second,
	}))

	var delays []time.Duration
	client := apiclient.New(
		httpx.NewClient(httpx.WithBaseURL(a.server.BaseURL()+Prefix)),
		apiclient.WithLogger(quietLogger()),
		apiclient.WithSleepFunc(func(_ context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		}),
	)
	ctx := context.Background()

	var cats shop.Categories
	if err := client.Get(ctx, "/categories", &cats); err != nil {
		t.Fatalf("first Get() error = %v", err)
	}
	err := client.Get(ctx, "/categories", &cats)
	var limited *apiclient.RateLimitedError
	if !errors.As(err, &limited) {
		t.Fatalf("second Get() error = %v, want RateLimitedError", err)
	}
	if limited.RetryAfterSeconds() != 2 {
		t.Fatalf("RetryAfterSeconds() = %d", limited.RetryAfterSeconds())
	}
	want := []time.Duration{time.Second, 2 * time.Second, 2 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Fatalf("delays = %v, want %v", delays, want)
		}
	}
}

func TestShopClientsAgainstServer(t *testing.T) {
	a := newTestAPI(t, nil, nil)
	ctx := context.Background()

	durable := memory.NewStore()
	creds := apiclient.NewStoredCredentials(durable, "")
	client := apiclient.New(
		httpx.NewClient(httpx.WithBaseURL(a.server.BaseURL()+Prefix)),
		apiclient.WithCredentials(creds),
		apiclient.WithLogger(quietLogger()),
	)
	quiet := optimistic.WithLogger(quietLogger())

	likes := shop.NewLikes(client, durable, quiet)
	cart := shop.NewCart(client, durable, 0, quiet)

	// Signed out: changes stay local.
	if _, err := likes.Toggle(ctx, "p2"); err != nil {
		t.Fatalf("offline Toggle() error = %v", err)
	}
	if stored, _ := a.store.Likes(ctx, "cust-9"); len(stored) != 0 {
		t.Fatalf("server likes before sign-in = %+v", stored)
	}

	if err := creds.Set(ctx, a.token(t, "cust-9")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if liked, err := likes.Toggle(ctx, "p1"); err != nil || !liked {
		t.Fatalf("Toggle() liked = %v error = %v", liked, err)
	}
	if _, err := likes.Toggle(ctx, "ghost"); !errors.Is(err, apiclient.ErrNotFound) {
		t.Fatalf("Toggle(ghost) error = %v, want ErrNotFound", err)
	}
	if likes.IsLiked("ghost") {
		t.Fatal("rejected like should be rolled back")
	}

	for _, qty := range []int{1, 2} {
		if err := cart.Add(ctx, shop.CartLine{ProductID: "p1", Size: "M", Color: "red", Quantity: qty}); err != nil {
			t.Fatalf("Add(%d) error = %v", qty, err)
		}
	}
	stored, _ := a.store.CartItems(ctx, "cust-9")
	if len(stored) != 1 || stored[0].Quantity != 3 {
		t.Fatalf("server cart = %+v", stored)
	}

	// Sync replaces local state with the server's: the offline like of p2
	// was never sent, so it disappears.
	if err := likes.Sync(ctx); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	items := likes.Items()
	if len(items) != 1 || items[0].ProductID != "p1" {
		t.Fatalf("synced likes = %+v", items)
	}
	if err := cart.Sync(ctx); err != nil {
		t.Fatalf("cart Sync() error = %v", err)
	}
	if line, ok := cart.Line(shop.LineKey{ProductID: "p1", Size: "M", Color: "red"}); !ok || line.Quantity != 3 {
		t.Fatalf("synced cart line = %+v ok = %v", line, ok)
	}
}
