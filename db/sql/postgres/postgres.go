// Package postgres opens lib/pq connections and implements the storefront
// repositories on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/adeilh/rakh-shop/shop/api"
	"github.com/lib/pq"
)

// Migrate applies the given statements using the provided context. With no
// statements it applies ShopSchema.
func Migrate(ctx context.Context, db *sql.DB, statements ...string) error {
	if len(statements) == 0 {
		statements = ShopSchema
	}
	return ApplyMigrations(ctx, db, statements...)
}

// translateError maps constraint failures onto the API's sentinel errors.
// notFound is returned when a referenced row is missing.
func translateError(err error, notFound error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return notFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23503": // foreign_key_violation
			return api.ErrProductNotFound
		case "22P02": // invalid_text_representation
			return notFound
		}
	}
	return err
}
