package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-checkout/internal/domain/order"
)

const (
	orderColumns = `id, user_id, items, total_amount, shipping_address, status,
		payment_status, stock_released, created_at, updated_at`

	createOrderSQL = `INSERT INTO orders (id, user_id, items, total_amount, shipping_address,
		status, payment_status, stock_released, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	listOrdersByUserSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE user_id = $1 ORDER BY created_at DESC, id`

	listOrdersSQL = `SELECT ` + orderColumns + ` FROM orders ORDER BY created_at DESC, id`

	deleteOrderSQL = `DELETE FROM orders WHERE id = $1`

	updateOrderStatusSQL = `UPDATE orders SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2`

	markStockReleasedSQL = `UPDATE orders SET stock_released = TRUE, updated_at = now() WHERE id = $1`

	setPaymentStatusSQL = `UPDATE orders SET
			payment_status = $2,
			status = CASE WHEN $2 = 'completed' AND status = 'pending' THEN 'processing' ELSE status END,
			updated_at = now()
		WHERE id = $1 AND NOT ($2 = 'completed' AND status = 'cancelled')
		RETURNING ` + orderColumns

	deleteCancelledSQL = `DELETE FROM orders
		WHERE status = 'cancelled' AND stock_released AND ($1 = '' OR user_id = $1)`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order. The order items and shipping address are
// serialized to JSON for storage in JSONB columns.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}
	addrJSON, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return fmt.Errorf("marshaling shipping address: %w", err)
	}

	_, err = r.pool.Exec(ctx, createOrderSQL,
		o.ID, o.UserID, itemsJSON, o.TotalAmount, addrJSON,
		string(o.Status), string(o.PaymentStatus), o.StockReleased, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// Get returns an order by id or order.ErrNotFound.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return &o, nil
}

// ListByUser returns the orders of userID, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersByUserSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing orders of %q: %w", userID, err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

// List returns every order, newest first.
func (r *OrderRepository) List(ctx context.Context) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersSQL)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

// Delete removes an order regardless of status.
func (r *OrderRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, deleteOrderSQL, id); err != nil {
		return fmt.Errorf("deleting order %q: %w", id, err)
	}
	return nil
}

// UpdateStatus implements order.Repository.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, from, to order.Status) (bool, error) {
	tag, err := r.pool.Exec(ctx, updateOrderStatusSQL, id, string(from), string(to))
	if err != nil {
		return false, fmt.Errorf("updating status of order %q: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := r.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// MarkStockReleased implements order.Repository.
func (r *OrderRepository) MarkStockReleased(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, markStockReleasedSQL, id)
	if err != nil {
		return fmt.Errorf("marking stock released for order %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// SetPaymentStatus implements order.Repository.
func (r *OrderRepository) SetPaymentStatus(ctx context.Context, id string, ps order.PaymentStatus) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, setPaymentStatusSQL, id, string(ps))
	if err != nil {
		return nil, fmt.Errorf("setting payment status of order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Either the order is gone or it was cancelled under us.
			if _, getErr := r.Get(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, order.ErrNotPayable
		}
		return nil, fmt.Errorf("setting payment status of order %q: %w", id, err)
	}
	return &o, nil
}

// DeleteCancelled implements order.Repository.
func (r *OrderRepository) DeleteCancelled(ctx context.Context, userID string) (int, error) {
	tag, err := r.pool.Exec(ctx, deleteCancelledSQL, userID)
	if err != nil {
		return 0, fmt.Errorf("deleting cancelled orders: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o                     order.Order
		items, addr           []byte
		status, paymentStatus string
	)
	err := row.Scan(
		&o.ID, &o.UserID, &items, &o.TotalAmount, &addr, &status,
		&paymentStatus, &o.StockReleased, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return o, fmt.Errorf("unmarshaling order items: %w", err)
	}
	if err := json.Unmarshal(addr, &o.ShippingAddress); err != nil {
		return o, fmt.Errorf("unmarshaling shipping address: %w", err)
	}
	o.Status = order.Status(status)
	o.PaymentStatus = order.PaymentStatus(paymentStatus)
	return o, nil
}
