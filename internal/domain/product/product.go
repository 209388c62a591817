// Package product exposes the read side of the catalog collaborator.
package product

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/apperr"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = apperr.NotFound("product not found")

var hundred = decimal.NewFromInt(100)

// Product is a catalog item as seen by checkout. Stock is owned by the
// inventory ledger and only read here.
type Product struct {
	ID        string
	Name      string
	Price     decimal.Decimal
	Discount  decimal.Decimal // percent, 0..100
	Category  string
	Available int
}

// EffectivePrice returns the unit price after the product discount, rounded
// to cents.
func (p Product) EffectivePrice() decimal.Decimal {
	if p.Discount.IsZero() {
		return p.Price.Round(2)
	}
	factor := decimal.NewFromInt(1).Sub(p.Discount.Div(hundred))
	if factor.IsNegative() {
		factor = decimal.Zero
	}
	return p.Price.Mul(factor).Round(2)
}

// Repository defines read operations for the product catalog.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}

// NotFoundError names the missing product. It matches ErrNotFound with
// errors.Is.
type NotFoundError struct {
	ProductID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// Is reports whether target is ErrNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ErrorKind implements apperr.Kinded.
func (e *NotFoundError) ErrorKind() apperr.Kind { return apperr.KindNotFound }
