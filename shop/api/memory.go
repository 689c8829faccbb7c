package api

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/adeilh/rakh-shop/shop"
)

// MemoryStore implements every repository in process memory. It backs the
// API when no database is configured and in tests.
type MemoryStore struct {
	mu         sync.RWMutex
	categories []shop.Category
	products   []shop.Product
	likes      map[string][]Like
	carts      map[string][]CartItem
	now        func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		likes: make(map[string][]Like),
		carts: make(map[string][]CartItem),
		now:   time.Now,
	}
}

func (m *MemoryStore) SaveCategory(_ context.Context, c shop.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.categories {
		if m.categories[i].ID == c.ID {
			m.categories[i] = c
			return nil
		}
	}
	m.categories = append(m.categories, c)
	return nil
}

func (m *MemoryStore) SaveProduct(_ context.Context, p shop.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.products {
		if m.products[i].ID == p.ID {
			m.products[i] = p
			return nil
		}
	}
	m.products = append(m.products, p)
	return nil
}

func (m *MemoryStore) Categories(_ context.Context) ([]shop.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]shop.Category{}, m.categories...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) Products(_ context.Context, categorySlug string, page, pageSize int) (shop.ProductPage, error) {
	page, pageSize = NormalizePage(page, pageSize)
	m.mu.RLock()
	defer m.mu.RUnlock()

	categoryID := ""
	if slug := strings.TrimSpace(categorySlug); slug != "" {
		for _, c := range m.categories {
			if c.Slug == slug {
				categoryID = c.ID
				break
			}
		}
		if categoryID == "" {
			return shop.ProductPage{}, ErrCategoryNotFound
		}
	}

	var matched []shop.Product
	for _, p := range m.products {
		if categoryID == "" || p.CategoryID == categoryID {
			matched = append(matched, p)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	start := (page - 1) * pageSize
	if start > len(matched) {
		start = len(matched)
	}
	end := min(start+pageSize, len(matched))
	return PageOf(append([]shop.Product{}, matched[start:end]...), page, pageSize, len(matched)), nil
}

func (m *MemoryStore) Product(_ context.Context, id string) (shop.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.products {
		if p.ID == id {
			return p, nil
		}
	}
	return shop.Product{}, ErrProductNotFound
}

func (m *MemoryStore) Likes(_ context.Context, customerID string) ([]Like, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Like{}, m.likes[customerID]...), nil
}

func (m *MemoryStore) AddLike(_ context.Context, like Like) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.likes[like.CustomerID] {
		if l.ProductID == like.ProductID {
			return nil
		}
	}
	if like.CreatedAt.IsZero() {
		like.CreatedAt = m.now().UTC()
	}
	m.likes[like.CustomerID] = append(m.likes[like.CustomerID], like)
	return nil
}

func (m *MemoryStore) RemoveLike(_ context.Context, customerID, productID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	likes := m.likes[customerID]
	for i, l := range likes {
		if l.ProductID == productID {
			m.likes[customerID] = append(likes[:i], likes[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MemoryStore) CartItems(_ context.Context, customerID string) ([]CartItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]CartItem{}, m.carts[customerID]...), nil
}

func (m *MemoryStore) AddCartItem(_ context.Context, item CartItem) (CartItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.carts[item.CustomerID]
	for i := range items {
		if items[i].Key() == item.Key() {
			items[i].Quantity += item.Quantity
			return items[i], nil
		}
	}
	if item.AddedAt.IsZero() {
		item.AddedAt = m.now().UTC()
	}
	m.carts[item.CustomerID] = append(items, item)
	return item, nil
}

func (m *MemoryStore) SetCartQuantity(_ context.Context, customerID string, key shop.LineKey, quantity int) (CartItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.carts[customerID]
	for i := range items {
		if items[i].Key() == key {
			items[i].Quantity = quantity
			return items[i], nil
		}
	}
	return CartItem{}, ErrCartItemNotFound
}

func (m *MemoryStore) RemoveCartItem(_ context.Context, customerID string, key shop.LineKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.carts[customerID]
	for i := range items {
		if items[i].Key() == key {
			m.carts[customerID] = append(items[:i], items[i+1:]...)
			return nil
		}
	}
	return nil
}
