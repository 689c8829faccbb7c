package shop

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/adeilh/rakh-shop/apiclient"
	"github.com/adeilh/rakh-shop/optimistic"
)

func newCart(f *fixture, ttl time.Duration, opts ...optimistic.Option) *Cart {
	return NewCart(f.client, f.durable, ttl, append([]optimistic.Option{optimistic.WithLogger(quietLogger())}, opts...)...)
}

func TestCartAddMergesQuantities(t *testing.T) {
	calls := &counter{}
	f := newFixture(t, calls.wrap(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}), "")
	ctx := context.Background()

	cart := newCart(f, 0)
	if err := cart.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cart.Add(ctx, CartLine{ProductID: "p1", Size: "M", Color: "red", Quantity: 1}); err != nil {
		t.Fatalf("add 1: %v", err)
	}
	if err := cart.Add(ctx, CartLine{ProductID: "p1", Size: "M", Color: "red", Quantity: 2}); err != nil {
		t.Fatalf("add 2: %v", err)
	}
	if err := cart.Add(ctx, CartLine{ProductID: "p1", Size: "L", Color: "red", Quantity: 1}); err != nil {
		t.Fatalf("add other size: %v", err)
	}

	lines := cart.Lines()
	if len(lines) != 2 {
		t.Fatalf("expected two lines, got %+v", lines)
	}
	if lines[0].Key() != (LineKey{ProductID: "p1", Size: "M", Color: "red"}) || lines[0].Quantity != 3 {
		t.Fatalf("expected merged line with quantity 3, got %+v", lines[0])
	}
	if lines[0].AddedAt.IsZero() {
		t.Fatal("expected addedAt to be stamped")
	}
	if cart.Count() != 4 {
		t.Fatalf("expected count 4, got %d", cart.Count())
	}
	if calls.count() != 0 {
		t.Fatalf("expected no network calls while signed out, got %d", calls.count())
	}

	reloaded := newCart(f, 0)
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if line, ok := reloaded.Line(LineKey{ProductID: "p1", Size: "M", Color: "red"}); !ok || line.Quantity != 3 {
		t.Fatalf("expected persisted line, got %+v ok=%v", line, ok)
	}
}

func TestCartRemoteRequests(t *testing.T) {
	var mu sync.Mutex
	var adds []addLineRequest
	var patches []quantityRequest
	var deletes []string

	mux := http.NewServeMux()
	mux.HandleFunc("POST /cart/items", func(w http.ResponseWriter, r *http.Request) {
		var body addLineRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode add: %v", err)
		}
		mu.Lock()
		adds = append(adds, body)
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("PATCH /cart/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		var body quantityRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode patch: %v", err)
		}
		mu.Lock()
		patches = append(patches, body)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("DELETE /cart/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		mu.Lock()
		deletes = append(deletes, r.PathValue("id")+"/"+q.Get("size")+"/"+q.Get("color"))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	f := newFixture(t, mux, "tok")
	ctx := context.Background()

	cart := newCart(f, 0)
	if err := cart.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	key := LineKey{ProductID: "p1", Size: "M", Color: "red"}
	for _, qty := range []int{1, 2} {
		if err := cart.Add(ctx, CartLine{ProductID: "p1", Size: "M", Color: "red", Quantity: qty}); err != nil {
			t.Fatalf("add %d: %v", qty, err)
		}
	}
	if line, _ := cart.Line(key); line.Quantity != 3 {
		t.Fatalf("expected quantity 3, got %d", line.Quantity)
	}
	if err := cart.SetQuantity(ctx, key, 5); err != nil {
		t.Fatalf("set quantity: %v", err)
	}
	if line, _ := cart.Line(key); line.Quantity != 5 {
		t.Fatalf("expected quantity 5, got %d", line.Quantity)
	}
	if err := cart.Remove(ctx, key); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if cart.Count() != 0 || !cart.ExpiresAt().IsZero() {
		t.Fatalf("expected empty cart, got %+v", cart.Lines())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(adds) != 2 || adds[0].Quantity != 1 || adds[1].Quantity != 2 || adds[1].Size != "M" {
		t.Fatalf("unexpected add requests %+v", adds)
	}
	if len(patches) != 1 || patches[0].Quantity != 5 || patches[0].Color != "red" {
		t.Fatalf("unexpected patch requests %+v", patches)
	}
	if len(deletes) != 1 || deletes[0] != "p1/M/red" {
		t.Fatalf("unexpected delete requests %v", deletes)
	}
}

func TestCartSetQuantityValidation(t *testing.T) {
	f := newFixture(t, http.NotFoundHandler(), "")
	ctx := context.Background()
	cart := newCart(f, 0)
	key := LineKey{ProductID: "p1", Size: "S", Color: "blue"}

	if err := cart.SetQuantity(ctx, key, 2); !errors.Is(err, ErrLineNotFound) {
		t.Fatalf("expected ErrLineNotFound, got %v", err)
	}
	if err := cart.Add(ctx, CartLine{ProductID: "p1", Size: "S", Color: "blue", Quantity: 1}); err != nil {
		t.Fatalf("add: %v", err)
	}
	for _, qty := range []int{0, -1} {
		if err := cart.SetQuantity(ctx, key, qty); !errors.Is(err, ErrInvalidQuantity) {
			t.Fatalf("quantity %d: expected ErrInvalidQuantity, got %v", qty, err)
		}
	}
	if err := cart.Add(ctx, CartLine{ProductID: "p1", Quantity: 0}); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity on add, got %v", err)
	}
	if err := cart.Add(ctx, CartLine{ProductID: " ", Quantity: 1}); !errors.Is(err, ErrEmptyProductID) {
		t.Fatalf("expected ErrEmptyProductID, got %v", err)
	}
	if line, _ := cart.Line(key); line.Quantity != 1 {
		t.Fatalf("expected quantity untouched, got %d", line.Quantity)
	}
}

func TestCartRateLimitedPatchRollsBack(t *testing.T) {
	var patches int
	var mu sync.Mutex
	mux := http.NewServeMux()
	mux.HandleFunc("POST /cart/items", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("PATCH /cart/items/{id}", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		patches++
		mu.Unlock()
		w.Header().Set("Retry-After", "5")
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "slow down"})
	})
	f := newFixture(t, mux, "tok")
	ctx := context.Background()

	cart := newCart(f, 0)
	key := LineKey{ProductID: "p1", Size: "M", Color: "red"}
	if err := cart.Add(ctx, CartLine{ProductID: "p1", Size: "M", Color: "red", Quantity: 2}); err != nil {
		t.Fatalf("add: %v", err)
	}
	err := cart.SetQuantity(ctx, key, 7)
	var limited *apiclient.RateLimitedError
	if !errors.As(err, &limited) || limited.RetryAfterSeconds() != 5 {
		t.Fatalf("expected rate limited error, got %v", err)
	}
	if line, _ := cart.Line(key); line.Quantity != 2 {
		t.Fatalf("expected rollback to quantity 2, got %d", line.Quantity)
	}
	mu.Lock()
	defer mu.Unlock()
	if patches != 1 {
		t.Fatalf("expected PATCH not to be retried, got %d calls", patches)
	}
}

func TestCartExpiresAfterTTL(t *testing.T) {
	f := newFixture(t, http.NotFoundHandler(), "")
	ctx := context.Background()
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	now := start
	clock := optimistic.WithNowFunc(func() time.Time { return now })

	cart := newCart(f, time.Hour, clock)
	if err := cart.Add(ctx, CartLine{ProductID: "p1", Quantity: 1}); err != nil {
		t.Fatalf("add: %v", err)
	}
	now = start.Add(30 * time.Minute)
	if err := cart.Add(ctx, CartLine{ProductID: "p2", Quantity: 1}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if want := start.Add(time.Hour); !cart.ExpiresAt().Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, cart.ExpiresAt())
	}

	now = start.Add(50 * time.Minute)
	fresh := newCart(f, time.Hour, clock)
	if err := fresh.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if fresh.Count() != 2 {
		t.Fatalf("expected cart within ttl, got %+v", fresh.Lines())
	}

	now = start.Add(61 * time.Minute)
	expired := newCart(f, time.Hour, clock)
	if err := expired.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if expired.Count() != 0 {
		t.Fatalf("expected expired cart to be discarded, got %+v", expired.Lines())
	}
	if _, err := f.durable.Get(ctx, CartKey); err == nil {
		t.Fatal("expected expired snapshot to be purged")
	}
}

func TestCartSync(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /cart", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, CartLines{
			{ProductID: "p4", Size: "S", Color: "black", Quantity: 2},
		})
	})
	f := newFixture(t, mux, "tok")
	ctx := context.Background()

	cart := newCart(f, 0)
	var got []CartLine
	unsubscribe := cart.OnChange(func(lines []CartLine) { got = lines })
	defer unsubscribe()

	if err := cart.Sync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(got) != 1 || got[0].ProductID != "p4" || got[0].Quantity != 2 {
		t.Fatalf("unexpected observed lines %+v", got)
	}
	if cart.ExpiresAt().IsZero() {
		t.Fatal("expected synced cart to have an expiry")
	}
	if err := cart.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if cart.Count() != 0 {
		t.Fatal("expected empty cart after clear")
	}
}
