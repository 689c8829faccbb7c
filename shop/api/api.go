// Package api is the storefront REST API: public catalog reads and the
// signed-in customer's likes and cart. Persistence sits behind the
// repository interfaces declared here; MemoryStore implements them in
// process and db/sql/postgres implements them on PostgreSQL.
package api

import (
	"context"
	"errors"
	"time"

	"github.com/adeilh/rakh-shop/shop"
)

var (
	ErrProductNotFound  = errors.New("api: product not found")
	ErrCategoryNotFound = errors.New("api: category not found")
	ErrCartItemNotFound = errors.New("api: cart item not found")
)

// DefaultPageSize is the number of products per catalog page.
const DefaultPageSize = 20

// Like records that a customer liked a product.
type Like struct {
	CustomerID string
	ProductID  string
	CreatedAt  time.Time
}

// CartItem is one line of a customer's server-side cart.
type CartItem struct {
	CustomerID string
	ProductID  string
	Size       string
	Color      string
	Quantity   int
	AddedAt    time.Time
}

// Key returns the line identity of the item.
func (i CartItem) Key() shop.LineKey {
	return shop.LineKey{ProductID: i.ProductID, Size: i.Size, Color: i.Color}
}

// CatalogRepository reads the product catalog.
type CatalogRepository interface {
	Categories(ctx context.Context) ([]shop.Category, error)
	// Products returns one page of products, filtered by category slug when
	// non-empty. An unknown slug returns ErrCategoryNotFound.
	Products(ctx context.Context, categorySlug string, page, pageSize int) (shop.ProductPage, error)
	Product(ctx context.Context, id string) (shop.Product, error)
}

// CatalogWriter loads catalog data, for seeding and administration.
type CatalogWriter interface {
	SaveCategory(ctx context.Context, c shop.Category) error
	SaveProduct(ctx context.Context, p shop.Product) error
}

// LikeRepository persists likes. Adding and removing are idempotent.
type LikeRepository interface {
	Likes(ctx context.Context, customerID string) ([]Like, error)
	AddLike(ctx context.Context, like Like) error
	RemoveLike(ctx context.Context, customerID, productID string) error
}

// CartRepository persists carts.
type CartRepository interface {
	CartItems(ctx context.Context, customerID string) ([]CartItem, error)
	// AddCartItem inserts item, or adds its quantity to an existing line with
	// the same product, size and color. It returns the stored line.
	AddCartItem(ctx context.Context, item CartItem) (CartItem, error)
	// SetCartQuantity replaces a line's quantity, returning ErrCartItemNotFound
	// when the line does not exist.
	SetCartQuantity(ctx context.Context, customerID string, key shop.LineKey, quantity int) (CartItem, error)
	RemoveCartItem(ctx context.Context, customerID string, key shop.LineKey) error
}

// Seed writes categories and products through w.
func Seed(ctx context.Context, w CatalogWriter, categories []shop.Category, products []shop.Product) error {
	for _, c := range categories {
		if err := c.Validate(); err != nil {
			return err
		}
		if err := w.SaveCategory(ctx, c); err != nil {
			return err
		}
	}
	for _, p := range products {
		if err := p.Validate(); err != nil {
			return err
		}
		if err := w.SaveProduct(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// PageOf assembles a product page. items must already be the requested page.
func PageOf(items []shop.Product, page, pageSize, total int) shop.ProductPage {
	if items == nil {
		items = []shop.Product{}
	}
	pages := 0
	if total > 0 && pageSize > 0 {
		pages = (total + pageSize - 1) / pageSize
	}
	return shop.ProductPage{Items: items, Page: page, TotalPages: pages, Total: total}
}

// NormalizePage clamps page to at least 1 and pageSize to (0, 100].
func NormalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}

func toLikedItems(likes []Like) shop.LikedItems {
	out := make(shop.LikedItems, 0, len(likes))
	for _, l := range likes {
		out = append(out, shop.LikedItem{ProductID: l.ProductID, LikedAt: l.CreatedAt})
	}
	return out
}

func toCartLines(items []CartItem) shop.CartLines {
	out := make(shop.CartLines, 0, len(items))
	for _, it := range items {
		out = append(out, shop.CartLine{
			ProductID: it.ProductID,
			Size:      it.Size,
			Color:     it.Color,
			Quantity:  it.Quantity,
			AddedAt:   it.AddedAt,
		})
	}
	return out
}
