package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-checkout/internal/domain/payment"
)

const (
	paymentColumns = `id, order_id, user_id, amount, method, method_details,
		transaction_id, status, admin_note, created_at, updated_at`

	createPaymentSQL = `INSERT INTO payments (id, order_id, user_id, amount, method, method_details,
		transaction_id, status, admin_note, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	getPaymentSQL = `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`

	listPaymentsByUserSQL = `SELECT ` + paymentColumns + ` FROM payments
		WHERE user_id = $1 ORDER BY created_at DESC, id`

	listPaymentsByOrderSQL = `SELECT ` + paymentColumns + ` FROM payments
		WHERE order_id = $1 ORDER BY created_at DESC, id`

	listPaymentsSQL = `SELECT ` + paymentColumns + ` FROM payments ORDER BY created_at DESC, id`

	hasCompletedPaymentSQL = `SELECT EXISTS (
		SELECT 1 FROM payments WHERE order_id = $1 AND status = 'completed')`

	updatePaymentStatusSQL = `UPDATE payments SET
			status = $3,
			admin_note = COALESCE($4, admin_note),
			updated_at = now()
		WHERE id = $1 AND status = $2`

	deletePaymentSQL = `DELETE FROM payments WHERE id = $1 AND status IN ('pending', 'failed')`

	// Backs the at-most-one-completed-payment guarantee.
	oneCompletedIndex = "payments_one_completed_idx"
)

var _ payment.Repository = (*PaymentRepository)(nil)

// PaymentRepository implements payment.Repository backed by PostgreSQL.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPaymentRepository returns a PaymentRepository that uses the given pool.
func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

// Create persists a new payment.
func (r *PaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	kind, details, err := payment.EncodeMethod(p.Method)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, createPaymentSQL,
		p.ID, p.OrderID, p.UserID, p.Amount, string(kind), details,
		p.TransactionID, string(p.Status), p.AdminNote, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, oneCompletedIndex) {
			return payment.ErrAlreadyPaid
		}
		return fmt.Errorf("creating payment %q: %w", p.ID, err)
	}
	return nil
}

// Get returns a payment by id or payment.ErrNotFound.
func (r *PaymentRepository) Get(ctx context.Context, id string) (*payment.Payment, error) {
	rows, err := r.pool.Query(ctx, getPaymentSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting payment %q: %w", id, err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPayment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrNotFound
		}
		return nil, fmt.Errorf("getting payment %q: %w", id, err)
	}
	return &p, nil
}

// ListByUser returns the payments of userID, newest first.
func (r *PaymentRepository) ListByUser(ctx context.Context, userID string) ([]payment.Payment, error) {
	return r.list(ctx, listPaymentsByUserSQL, userID)
}

// ListByOrder returns the payments of orderID, newest first.
func (r *PaymentRepository) ListByOrder(ctx context.Context, orderID string) ([]payment.Payment, error) {
	return r.list(ctx, listPaymentsByOrderSQL, orderID)
}

// List returns every payment, newest first.
func (r *PaymentRepository) List(ctx context.Context) ([]payment.Payment, error) {
	return r.list(ctx, listPaymentsSQL)
}

func (r *PaymentRepository) list(ctx context.Context, sql string, args ...any) ([]payment.Payment, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing payments: %w", err)
	}
	return pgx.CollectRows(rows, scanPayment)
}

// HasCompleted reports whether orderID already has a completed payment.
func (r *PaymentRepository) HasCompleted(ctx context.Context, orderID string) (bool, error) {
	var ok bool
	if err := r.pool.QueryRow(ctx, hasCompletedPaymentSQL, orderID).Scan(&ok); err != nil {
		return false, fmt.Errorf("checking payments of order %q: %w", orderID, err)
	}
	return ok, nil
}

// UpdateStatus implements payment.Repository.
func (r *PaymentRepository) UpdateStatus(ctx context.Context, id string, from, to payment.Status, note *string) (bool, error) {
	tag, err := r.pool.Exec(ctx, updatePaymentStatusSQL, id, string(from), string(to), note)
	if err != nil {
		if isUniqueViolation(err, oneCompletedIndex) {
			return false, payment.ErrAlreadyPaid
		}
		return false, fmt.Errorf("updating status of payment %q: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := r.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// Delete implements payment.Repository.
func (r *PaymentRepository) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, deletePaymentSQL, id)
	if err != nil {
		return false, fmt.Errorf("deleting payment %q: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := r.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func scanPayment(row pgx.CollectableRow) (payment.Payment, error) {
	var (
		p            payment.Payment
		kind, status string
		details      []byte
	)
	err := row.Scan(
		&p.ID, &p.OrderID, &p.UserID, &p.Amount, &kind, &details,
		&p.TransactionID, &status, &p.AdminNote, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return p, err
	}
	p.Method, err = payment.DecodeMethod(payment.MethodKind(kind), details)
	p.Status = payment.Status(status)
	return p, err
}
