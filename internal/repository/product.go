package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-checkout/internal/domain/inventory"
	"github.com/xenking/kart-checkout/internal/domain/product"
)

const (
	productColumns = `id, name, price, discount, category, available`

	getProductByIDSQL = `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	getProductsByIDsSQL = `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1)`

	upsertProductSQL = `INSERT INTO products (id, name, price, discount, category, available)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, price = EXCLUDED.price, discount = EXCLUDED.discount,
			category = EXCLUDED.category, available = EXCLUDED.available,
			version = products.version + 1`

	getStockLevelSQL = `SELECT available, version FROM products WHERE id = $1`

	casStockSQL = `UPDATE products SET available = $3, version = version + 1
		WHERE id = $1 AND version = $2 AND $3 >= 0`

	recordReleaseSQL = `INSERT INTO stock_releases (release_key, product_id, quantity)
		VALUES ($1, $2, $3) ON CONFLICT (release_key) DO NOTHING`

	restockSQL = `UPDATE products SET available = available + $2, version = version + 1
		WHERE id = $1`
)

var (
	_ product.Repository = (*ProductRepository)(nil)
	_ inventory.Store    = (*ProductRepository)(nil)
)

// ProductRepository implements product.Repository and inventory.Store backed
// by PostgreSQL. Stock is the available column of products; every write bumps
// version.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}
	return &p, nil
}

// GetByIDs returns products matching any of the given IDs.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// Upsert inserts or replaces a product. Used by the seeder.
func (r *ProductRepository) Upsert(ctx context.Context, p product.Product) error {
	_, err := r.pool.Exec(ctx, upsertProductSQL,
		p.ID, p.Name, p.Price, p.Discount, p.Category, p.Available,
	)
	if err != nil {
		return fmt.Errorf("upserting product %q: %w", p.ID, err)
	}
	return nil
}

// Level implements inventory.Store.
func (r *ProductRepository) Level(ctx context.Context, id string) (inventory.Level, error) {
	var lvl inventory.Level
	err := r.pool.QueryRow(ctx, getStockLevelSQL, id).Scan(&lvl.Available, &lvl.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return inventory.Level{}, product.ErrNotFound
		}
		return inventory.Level{}, fmt.Errorf("reading stock of %q: %w", id, err)
	}
	return lvl, nil
}

// CompareAndSwap implements inventory.Store.
func (r *ProductRepository) CompareAndSwap(ctx context.Context, id string, version int64, available int) (bool, error) {
	tag, err := r.pool.Exec(ctx, casStockSQL, id, version, available)
	if err != nil {
		return false, fmt.Errorf("updating stock of %q: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Restock implements inventory.Store. With a release key the release log
// insert and the increment commit together.
func (r *ProductRepository) Restock(ctx context.Context, id string, qty int, releaseKey string) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin restock: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if releaseKey != "" {
		tag, err := tx.Exec(ctx, recordReleaseSQL, releaseKey, id, qty)
		if err != nil {
			return false, fmt.Errorf("recording release %q: %w", releaseKey, err)
		}
		if tag.RowsAffected() == 0 {
			return false, nil
		}
	}

	tag, err := tx.Exec(ctx, restockSQL, id, qty)
	if err != nil {
		return false, fmt.Errorf("restocking %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return false, product.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit restock: %w", err)
	}
	return true, nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var p product.Product
	err := row.Scan(&p.ID, &p.Name, &p.Price, &p.Discount, &p.Category, &p.Available)
	return p, err
}
