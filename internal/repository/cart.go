package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-checkout/internal/domain/cart"
)

const (
	getCartSQL = `SELECT user_id, items, updated_at FROM carts WHERE user_id = $1`

	saveCartSQL = `INSERT INTO carts (user_id, items, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET items = EXCLUDED.items, updated_at = EXCLUDED.updated_at`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL. Lines are
// stored as a JSONB array on the cart row.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// Get returns the cart of userID or cart.ErrNotFound.
func (r *CartRepository) Get(ctx context.Context, userID string) (*cart.Cart, error) {
	var (
		c     cart.Cart
		items []byte
	)
	err := r.pool.QueryRow(ctx, getCartSQL, userID).Scan(&c.UserID, &items, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrNotFound
		}
		return nil, fmt.Errorf("getting cart of %q: %w", userID, err)
	}
	if err := json.Unmarshal(items, &c.Items); err != nil {
		return nil, fmt.Errorf("unmarshaling cart items: %w", err)
	}
	if c.Items == nil {
		c.Items = []cart.Item{}
	}
	return &c, nil
}

// Save upserts the whole cart.
func (r *CartRepository) Save(ctx context.Context, c *cart.Cart) error {
	items := c.Items
	if items == nil {
		items = []cart.Item{}
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshaling cart items: %w", err)
	}
	if _, err := r.pool.Exec(ctx, saveCartSQL, c.UserID, itemsJSON, c.UpdatedAt); err != nil {
		return fmt.Errorf("saving cart of %q: %w", c.UserID, err)
	}
	return nil
}
