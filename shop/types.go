// Package shop is the storefront's client-side domain: catalog reads through
// an expiring cache, and optimistic likes and cart collections reconciled with
// the storefront API.
package shop

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidQuantity = errors.New("shop: quantity must be at least 1")
	ErrLineNotFound    = errors.New("shop: cart line not found")
	ErrEmptyProductID  = errors.New("shop: empty product id")
)

// Category groups products.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

func (c Category) Validate() error {
	if strings.TrimSpace(c.ID) == "" || strings.TrimSpace(c.Slug) == "" {
		return fmt.Errorf("category %q: missing id or slug", c.Name)
	}
	return nil
}

// Categories is the response of GET /categories.
type Categories []Category

func (cs Categories) Validate() error {
	for i, c := range cs {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("categories[%d]: %w", i, err)
		}
	}
	return nil
}

// Product is a sellable item.
type Product struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Slug       string   `json:"slug"`
	CategoryID string   `json:"categoryId"`
	PriceCents int64    `json:"priceCents"`
	Currency   string   `json:"currency"`
	Sizes      []string `json:"sizes,omitempty"`
	Colors     []string `json:"colors,omitempty"`
	ImageURL   string   `json:"imageUrl,omitempty"`
}

func (p Product) Validate() error {
	switch {
	case strings.TrimSpace(p.ID) == "":
		return errors.New("product: missing id")
	case strings.TrimSpace(p.Name) == "":
		return fmt.Errorf("product %s: missing name", p.ID)
	case p.PriceCents < 0:
		return fmt.Errorf("product %s: negative price", p.ID)
	case len(p.Currency) != 3:
		return fmt.Errorf("product %s: currency %q is not an ISO code", p.ID, p.Currency)
	}
	return nil
}

// ProductPage is the response of GET /products.
type ProductPage struct {
	Items      []Product `json:"items"`
	Page       int       `json:"page"`
	TotalPages int       `json:"totalPages"`
	Total      int       `json:"total"`
}

func (p ProductPage) Validate() error {
	if p.Page < 1 {
		return fmt.Errorf("product page: page %d out of range", p.Page)
	}
	if p.TotalPages < 0 || p.Total < len(p.Items) {
		return errors.New("product page: inconsistent totals")
	}
	for i, item := range p.Items {
		if err := item.Validate(); err != nil {
			return fmt.Errorf("items[%d]: %w", i, err)
		}
	}
	return nil
}

// LikedItem is one product in the customer's liked collection.
type LikedItem struct {
	ProductID string    `json:"productId"`
	LikedAt   time.Time `json:"likedAt"`
}

// LikedItems is the response of GET /likes.
type LikedItems []LikedItem

func (ls LikedItems) Validate() error {
	for i, l := range ls {
		if strings.TrimSpace(l.ProductID) == "" {
			return fmt.Errorf("likes[%d]: missing productId", i)
		}
	}
	return nil
}

// LineKey identifies a cart line: a product in one size and color.
type LineKey struct {
	ProductID string `json:"productId"`
	Size      string `json:"size"`
	Color     string `json:"color"`
}

func (k LineKey) String() string {
	return k.ProductID + "/" + k.Size + "/" + k.Color
}

// CartLine is one row of the cart.
type CartLine struct {
	ProductID string    `json:"productId"`
	Size      string    `json:"size"`
	Color     string    `json:"color"`
	Quantity  int       `json:"quantity"`
	AddedAt   time.Time `json:"addedAt"`
}

// Key returns the line's identity.
func (l CartLine) Key() LineKey {
	return LineKey{ProductID: l.ProductID, Size: l.Size, Color: l.Color}
}

func (l CartLine) Validate() error {
	if strings.TrimSpace(l.ProductID) == "" {
		return ErrEmptyProductID
	}
	if l.Quantity < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidQuantity, l.Quantity)
	}
	return nil
}

// CartLines is the response of GET /cart.
type CartLines []CartLine

func (ls CartLines) Validate() error {
	for i, l := range ls {
		if err := l.Validate(); err != nil {
			return fmt.Errorf("cart[%d]: %w", i, err)
		}
	}
	return nil
}
