package shop

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/adeilh/rakh-shop/apiclient"
	"github.com/adeilh/rakh-shop/cache/expiring"
)

// DefaultCatalogTTL bounds how long catalog reads are served from cache.
const DefaultCatalogTTL = time.Hour

// Catalog reads categories and products, serving repeated reads from the
// expiring cache. Cache hits never touch the network.
type Catalog struct {
	client *apiclient.Client
	cache  *expiring.Cache
	ttl    time.Duration
	logger *slog.Logger
}

// CatalogOption customises a Catalog.
type CatalogOption func(*Catalog)

// WithCatalogTTL sets how long fetched catalog data stays fresh.
func WithCatalogTTL(d time.Duration) CatalogOption {
	return func(c *Catalog) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithCatalogLogger sets the logger for cache write failures.
func WithCatalogLogger(l *slog.Logger) CatalogOption {
	return func(c *Catalog) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCatalog returns a Catalog reading through cache.
func NewCatalog(client *apiclient.Client, cache *expiring.Cache, opts ...CatalogOption) *Catalog {
	c := &Catalog{client: client, cache: cache, ttl: DefaultCatalogTTL, logger: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Categories lists all categories.
func (c *Catalog) Categories(ctx context.Context) (Categories, error) {
	var out Categories
	err := c.read(ctx, "categories", &out, func(ctx context.Context) error {
		return c.client.Get(ctx, "/categories", &out, apiclient.Resource("categories"))
	})
	return out, err
}

// Products lists one page of products, optionally filtered by category slug.
// Pages start at 1.
func (c *Catalog) Products(ctx context.Context, categorySlug string, page int) (ProductPage, error) {
	if page < 1 {
		page = 1
	}
	categorySlug = strings.TrimSpace(categorySlug)
	query := map[string]string{"page": strconv.Itoa(page)}
	resource := "products"
	if categorySlug != "" {
		query["category"] = categorySlug
		resource = "category " + categorySlug
	}

	var out ProductPage
	key := "products:" + categorySlug + ":" + strconv.Itoa(page)
	err := c.read(ctx, key, &out, func(ctx context.Context) error {
		return c.client.Get(ctx, "/products", &out, apiclient.Query(query), apiclient.Resource(resource))
	})
	return out, err
}

// Product fetches one product by ID.
func (c *Catalog) Product(ctx context.Context, id string) (Product, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Product{}, ErrEmptyProductID
	}
	var out Product
	err := c.read(ctx, "product:"+id, &out, func(ctx context.Context) error {
		return c.client.Get(ctx, "/products/"+url.PathEscape(id), &out, apiclient.Resource("product "+id))
	})
	return out, err
}

// Invalidate drops every cached catalog response: categories, product pages
// and single products. On a store that cannot list keys only the category
// list is dropped and the rest expires by TTL.
func (c *Catalog) Invalidate(ctx context.Context) error {
	if c.cache == nil {
		return nil
	}
	n, err := c.cache.ClearAll(ctx)
	if errors.Is(err, expiring.ErrNotScannable) {
		return c.cache.Clear(ctx, "categories")
	}
	if err != nil {
		return err
	}
	c.logger.Debug("shop: catalog cache invalidated", "removed", n)
	return nil
}

func (c *Catalog) read(ctx context.Context, key string, dest any, fetch func(context.Context) error) error {
	if c.cache != nil && c.cache.Get(ctx, key, dest) {
		return nil
	}
	if err := fetch(ctx); err != nil {
		return err
	}
	if c.cache != nil {
		if err := c.cache.Set(ctx, key, dest, c.ttl); err != nil {
			c.logger.Warn("shop: catalog cache write failed", "key", key, "error", err)
		}
	}
	return nil
}
