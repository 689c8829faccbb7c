package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/adeilh/rakh-shop/shop"
	"github.com/adeilh/rakh-shop/shop/api"
	"github.com/lib/pq"
)

// CatalogRepository reads and writes categories and products.
type CatalogRepository struct {
	db *sql.DB
}

// NewCatalogRepository wraps an existing *sql.DB connection.
func NewCatalogRepository(db *sql.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

func (r *CatalogRepository) SaveCategory(ctx context.Context, c shop.Category) error {
	const query = `INSERT INTO categories (id, name, slug) VALUES ($1, $2, $3)
                   ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, slug = EXCLUDED.slug`
	_, err := r.db.ExecContext(ctx, query, c.ID, c.Name, c.Slug)
	return err
}

func (r *CatalogRepository) SaveProduct(ctx context.Context, p shop.Product) error {
	const query = `INSERT INTO products (id, name, slug, category_id, price_cents, currency, sizes, colors, image_url)
                   VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
                   ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, slug = EXCLUDED.slug,
                       category_id = EXCLUDED.category_id, price_cents = EXCLUDED.price_cents,
                       currency = EXCLUDED.currency, sizes = EXCLUDED.sizes, colors = EXCLUDED.colors,
                       image_url = EXCLUDED.image_url`
	_, err := r.db.ExecContext(ctx, query, p.ID, p.Name, p.Slug, p.CategoryID, p.PriceCents, p.Currency,
		pq.Array(nonNil(p.Sizes)), pq.Array(nonNil(p.Colors)), p.ImageURL)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return api.ErrCategoryNotFound
		}
	}
	return err
}

func (r *CatalogRepository) Categories(ctx context.Context) ([]shop.Category, error) {
	const query = `SELECT id, name, slug FROM categories ORDER BY name, id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []shop.Category{}
	for rows.Next() {
		var c shop.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Slug); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *CatalogRepository) Products(ctx context.Context, categorySlug string, page, pageSize int) (shop.ProductPage, error) {
	page, pageSize = api.NormalizePage(page, pageSize)

	categoryID := ""
	if slug := strings.TrimSpace(categorySlug); slug != "" {
		err := r.db.QueryRowContext(ctx, `SELECT id FROM categories WHERE slug = $1`, slug).Scan(&categoryID)
		if err != nil {
			return shop.ProductPage{}, translateError(err, api.ErrCategoryNotFound)
		}
	}

	var total int
	const countQuery = `SELECT COUNT(*) FROM products WHERE ($1 = '' OR category_id = $1)`
	if err := r.db.QueryRowContext(ctx, countQuery, categoryID).Scan(&total); err != nil {
		return shop.ProductPage{}, err
	}

	const query = `SELECT id, name, slug, category_id, price_cents, currency, sizes, colors, image_url
                   FROM products WHERE ($1 = '' OR category_id = $1)
                   ORDER BY id LIMIT $2 OFFSET $3`
	rows, err := r.db.QueryContext(ctx, query, categoryID, pageSize, (page-1)*pageSize)
	if err != nil {
		return shop.ProductPage{}, err
	}
	defer rows.Close()

	var items []shop.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return shop.ProductPage{}, err
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return shop.ProductPage{}, err
	}
	return api.PageOf(items, page, pageSize, total), nil
}

func (r *CatalogRepository) Product(ctx context.Context, id string) (shop.Product, error) {
	const query = `SELECT id, name, slug, category_id, price_cents, currency, sizes, colors, image_url
                   FROM products WHERE id = $1`
	p, err := scanProduct(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return shop.Product{}, translateError(err, api.ErrProductNotFound)
	}
	return p, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (shop.Product, error) {
	var (
		p      shop.Product
		sizes  []string
		colors []string
	)
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Slug,
		&p.CategoryID,
		&p.PriceCents,
		&p.Currency,
		pq.Array(&sizes),
		pq.Array(&colors),
		&p.ImageURL,
	)
	if err != nil {
		return shop.Product{}, err
	}
	if len(sizes) > 0 {
		p.Sizes = sizes
	}
	if len(colors) > 0 {
		p.Colors = colors
	}
	return p, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
