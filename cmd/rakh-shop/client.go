package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/adeilh/rakh-shop/apiclient"
	"github.com/adeilh/rakh-shop/cache/bolt"
	"github.com/adeilh/rakh-shop/cache/expiring"
	"github.com/adeilh/rakh-shop/httpx"
	"github.com/adeilh/rakh-shop/optimistic"
	"github.com/adeilh/rakh-shop/shop"
)

// storefront bundles the client-side state of one CLI invocation.
type storefront struct {
	db      *bolt.Store
	creds   *apiclient.StoredCredentials
	client  *apiclient.Client
	catalog *shop.Catalog
	likes   *shop.Likes
	cart    *shop.Cart
}

// openStorefront opens the local database and loads the persisted likes and
// cart. Callers must Close the result.
func openStorefront(ctx context.Context) (*storefront, error) {
	if err := cfg.ValidateClient(); err != nil {
		return nil, err
	}
	db, err := bolt.Open(cfg.Client.DataDir)
	if err != nil {
		return nil, err
	}

	catalogCache := expiring.New(db, expiring.WithNamespace("catalog"), expiring.WithLogger(logger))
	if n, err := catalogCache.Sweep(ctx); err != nil {
		logger.Warn("catalog cache sweep failed", "error", err)
	} else if n > 0 {
		logger.Debug("catalog cache swept", "removed", n)
	}

	creds := apiclient.NewStoredCredentials(db, apiclient.DefaultTokenKey)
	transport := httpx.NewClient(
		httpx.WithBaseURL(cfg.Client.BaseURL),
		httpx.WithClientTimeout(cfg.Client.Timeout),
		httpx.WithUserAgent("rakh-shop/"+version),
	)
	client := apiclient.New(transport,
		apiclient.WithCredentials(creds),
		apiclient.WithLogger(logger),
		apiclient.WithSignOutObserver(apiclient.SignOutFunc(func(ctx context.Context, returnPath string) {
			logger.Info("signed out", "returnPath", returnPath)
			fmt.Fprintln(os.Stderr, "Session expired. Run 'rakh-shop token issue <customer-id> --save' to sign in again.")
		})),
	)

	sf := &storefront{
		db:      db,
		creds:   creds,
		client:  client,
		catalog: shop.NewCatalog(client, catalogCache, shop.WithCatalogTTL(cfg.Client.CatalogTTL), shop.WithCatalogLogger(logger)),
		likes:   shop.NewLikes(client, db, optimistic.WithLogger(logger)),
		cart:    shop.NewCart(client, db, cfg.Client.CartTTL, optimistic.WithLogger(logger)),
	}
	if err := sf.load(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sf, nil
}

func (s *storefront) load(ctx context.Context) error {
	if err := s.likes.Load(ctx); err != nil {
		return fmt.Errorf("load likes: %w", err)
	}
	if err := s.cart.Load(ctx); err != nil {
		return fmt.Errorf("load cart: %w", err)
	}
	return nil
}

// sync refreshes fn's collection from the API when signed in. Offline use is
// not an error.
func (s *storefront) sync(ctx context.Context, fn func(context.Context) error) error {
	if !s.client.Authenticated(ctx) {
		fmt.Fprintln(os.Stderr, "Not signed in; showing local data.")
		return nil
	}
	if err := fn(ctx); err != nil {
		if errors.Is(err, apiclient.ErrUnauthenticated) {
			return nil
		}
		return err
	}
	return nil
}

func (s *storefront) Close() error {
	return s.db.Close()
}

// withStorefront runs fn against an opened storefront.
func withStorefront(ctx context.Context, fn func(*storefront) error) error {
	sf, err := openStorefront(ctx)
	if err != nil {
		return err
	}
	defer sf.Close()
	return fn(sf)
}
