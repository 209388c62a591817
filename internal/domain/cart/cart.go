// Package cart holds each shopper's mutable pre-order basket.
package cart

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/apperr"
)

var (
	// ErrNotFound is returned by a Repository when the user has no cart yet.
	ErrNotFound = apperr.NotFound("cart not found")
	// ErrItemNotFound is returned for unknown line ids.
	ErrItemNotFound = apperr.NotFound("cart item not found")
	// ErrInvalidQuantity is returned for quantities below one.
	ErrInvalidQuantity = apperr.Validation("quantity must be at least 1")
	// ErrEmpty is returned when checking out an empty cart.
	ErrEmpty = apperr.Validation("cart is empty")
)

// Cart is a user's basket. There is at most one line per product.
type Cart struct {
	UserID    string    `json:"user_id"`
	Items     []Item    `json:"items"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Item is one cart line. UnitPrice is captured when the product is first
// added and is not refreshed afterwards.
type Item struct {
	ID        string          `json:"id"`
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// LineTotal returns quantity × unit price.
func (i Item) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Total returns the sum of line totals rounded to cents.
func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, it := range c.Items {
		total = total.Add(it.LineTotal())
	}
	return total.Round(2)
}

// IsEmpty reports whether the cart has no lines.
func (c *Cart) IsEmpty() bool { return len(c.Items) == 0 }

func (c *Cart) itemByProduct(productID string) int {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

func (c *Cart) itemByID(id string) int {
	for i := range c.Items {
		if c.Items[i].ID == id {
			return i
		}
	}
	return -1
}

// Repository persists carts. Save replaces the stored cart as a whole; the
// last writer wins.
type Repository interface {
	Get(ctx context.Context, userID string) (*Cart, error)
	Save(ctx context.Context, c *Cart) error
}
