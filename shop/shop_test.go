package shop

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adeilh/rakh-shop/apiclient"
	"github.com/adeilh/rakh-shop/cache/expiring"
	"github.com/adeilh/rakh-shop/cache/memory"
	"github.com/adeilh/rakh-shop/httpx"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noSleep(context.Context, time.Duration) error { return nil }

type counter struct{ n atomic.Int64 }

func (c *counter) wrap(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c.n.Add(1)
		h(w, r)
	}
}

func (c *counter) count() int64 { return c.n.Load() }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

type fixture struct {
	client  *apiclient.Client
	creds   *apiclient.StoredCredentials
	durable *memory.Store
	cache   *expiring.Cache
}

// newFixture starts handler and returns a client over it. An empty token
// leaves the client signed out.
func newFixture(t *testing.T, handler http.Handler, token string) *fixture {
	t.Helper()
	ts := httpx.NewTestServer(handler)
	t.Cleanup(ts.Close)

	durable := memory.NewStore()
	creds := apiclient.NewStoredCredentials(durable, "")
	if token != "" {
		if err := creds.Set(context.Background(), token); err != nil {
			t.Fatalf("set token: %v", err)
		}
	}
	client := apiclient.New(
		httpx.NewClient(httpx.WithBaseURL(ts.BaseURL())),
		apiclient.WithCredentials(creds),
		apiclient.WithSleepFunc(noSleep),
		apiclient.WithLogger(quietLogger()),
	)
	return &fixture{
		client:  client,
		creds:   creds,
		durable: durable,
		cache:   expiring.New(durable, expiring.WithNamespace("catalog"), expiring.WithLogger(quietLogger())),
	}
}
