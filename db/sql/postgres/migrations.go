package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// ShopSchema creates the storefront tables. Every statement is idempotent.
var ShopSchema = []string{
	`CREATE TABLE IF NOT EXISTS categories (
		id   TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		slug TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS products (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		slug        TEXT NOT NULL,
		category_id TEXT NOT NULL REFERENCES categories (id),
		price_cents BIGINT NOT NULL CHECK (price_cents >= 0),
		currency    CHAR(3) NOT NULL,
		sizes       TEXT[] NOT NULL DEFAULT '{}',
		colors      TEXT[] NOT NULL DEFAULT '{}',
		image_url   TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS products_category_idx ON products (category_id)`,
	`CREATE TABLE IF NOT EXISTS likes (
		customer_id TEXT NOT NULL,
		product_id  TEXT NOT NULL REFERENCES products (id) ON DELETE CASCADE,
		created_at  TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (customer_id, product_id)
	)`,
	`CREATE TABLE IF NOT EXISTS cart_items (
		customer_id TEXT NOT NULL,
		product_id  TEXT NOT NULL REFERENCES products (id) ON DELETE CASCADE,
		size        TEXT NOT NULL DEFAULT '',
		color       TEXT NOT NULL DEFAULT '',
		quantity    INTEGER NOT NULL CHECK (quantity >= 1),
		added_at    TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (customer_id, product_id, size, color)
	)`,
}

// ApplyMigrations executes the provided SQL statements in order within the given context.
func ApplyMigrations(ctx context.Context, db *sql.DB, statements ...string) error {
	if db == nil {
		return fmt.Errorf("postgres: db is nil")
	}
	for _, stmt := range statements {
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migrate: %w", err)
		}
	}
	return nil
}
