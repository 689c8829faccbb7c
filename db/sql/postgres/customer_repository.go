package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/adeilh/rakh-shop/shop"
	"github.com/adeilh/rakh-shop/shop/api"
)

// LikeRepository persists api.Like records.
type LikeRepository struct {
	db *sql.DB
}

// NewLikeRepository wraps an existing *sql.DB connection.
func NewLikeRepository(db *sql.DB) *LikeRepository {
	return &LikeRepository{db: db}
}

func (r *LikeRepository) Likes(ctx context.Context, customerID string) ([]api.Like, error) {
	const query = `SELECT customer_id, product_id, created_at FROM likes
                   WHERE customer_id = $1 ORDER BY created_at, product_id`
	rows, err := r.db.QueryContext(ctx, query, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []api.Like{}
	for rows.Next() {
		var l api.Like
		if err := rows.Scan(&l.CustomerID, &l.ProductID, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.CreatedAt = l.CreatedAt.UTC()
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *LikeRepository) AddLike(ctx context.Context, like api.Like) error {
	const query = `INSERT INTO likes (customer_id, product_id, created_at) VALUES ($1, $2, $3)
                   ON CONFLICT (customer_id, product_id) DO NOTHING`
	if like.CreatedAt.IsZero() {
		like.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, query, like.CustomerID, like.ProductID, like.CreatedAt)
	return translateError(err, api.ErrProductNotFound)
}

func (r *LikeRepository) RemoveLike(ctx context.Context, customerID, productID string) error {
	const query = `DELETE FROM likes WHERE customer_id = $1 AND product_id = $2`
	_, err := r.db.ExecContext(ctx, query, customerID, productID)
	return err
}

// CartRepository persists api.CartItem records.
type CartRepository struct {
	db *sql.DB
}

// NewCartRepository wraps an existing *sql.DB connection.
func NewCartRepository(db *sql.DB) *CartRepository {
	return &CartRepository{db: db}
}

const cartColumns = `customer_id, product_id, size, color, quantity, added_at`

func (r *CartRepository) CartItems(ctx context.Context, customerID string) ([]api.CartItem, error) {
	query := `SELECT ` + cartColumns + ` FROM cart_items WHERE customer_id = $1 ORDER BY added_at, product_id, size, color`
	rows, err := r.db.QueryContext(ctx, query, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []api.CartItem{}
	for rows.Next() {
		item, err := scanCartItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (r *CartRepository) AddCartItem(ctx context.Context, item api.CartItem) (api.CartItem, error) {
	query := `INSERT INTO cart_items (` + cartColumns + `) VALUES ($1, $2, $3, $4, $5, $6)
              ON CONFLICT (customer_id, product_id, size, color)
              DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity
              RETURNING ` + cartColumns
	if item.AddedAt.IsZero() {
		item.AddedAt = time.Now().UTC()
	}
	row := r.db.QueryRowContext(ctx, query, item.CustomerID, item.ProductID, item.Size, item.Color, item.Quantity, item.AddedAt)
	stored, err := scanCartItem(row)
	if err != nil {
		return api.CartItem{}, translateError(err, api.ErrProductNotFound)
	}
	return stored, nil
}

func (r *CartRepository) SetCartQuantity(ctx context.Context, customerID string, key shop.LineKey, quantity int) (api.CartItem, error) {
	query := `UPDATE cart_items SET quantity = $5
              WHERE customer_id = $1 AND product_id = $2 AND size = $3 AND color = $4
              RETURNING ` + cartColumns
	row := r.db.QueryRowContext(ctx, query, customerID, key.ProductID, key.Size, key.Color, quantity)
	stored, err := scanCartItem(row)
	if err != nil {
		return api.CartItem{}, translateError(err, api.ErrCartItemNotFound)
	}
	return stored, nil
}

func (r *CartRepository) RemoveCartItem(ctx context.Context, customerID string, key shop.LineKey) error {
	const query = `DELETE FROM cart_items WHERE customer_id = $1 AND product_id = $2 AND size = $3 AND color = $4`
	_, err := r.db.ExecContext(ctx, query, customerID, key.ProductID, key.Size, key.Color)
	return err
}

func scanCartItem(row rowScanner) (api.CartItem, error) {
	var item api.CartItem
	err := row.Scan(
		&item.CustomerID,
		&item.ProductID,
		&item.Size,
		&item.Color,
		&item.Quantity,
		&item.AddedAt,
	)
	item.AddedAt = item.AddedAt.UTC()
	return item, err
}
