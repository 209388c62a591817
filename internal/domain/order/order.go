package order

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/apperr"
	"github.com/xenking/kart-checkout/internal/events"
)

// Status is the fulfilment status of an order.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusDelivered, StatusCancelled},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransitionTo reports whether next directly follows s.
func (s Status) CanTransitionTo(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// PaymentStatus mirrors the state of an order's payment records.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// Valid reports whether s is a known payment status.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentCompleted, PaymentFailed, PaymentRefunded:
		return true
	}
	return false
}

// Order is a committed purchase. Items and TotalAmount never change after
// creation.
type Order struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	Items           []Item          `json:"items"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	ShippingAddress ShippingAddress `json:"shipping_address"`
	Status          Status          `json:"status"`
	PaymentStatus   PaymentStatus   `json:"payment_status"`
	StockReleased   bool            `json:"stock_released"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Item is an order line with the name and price captured at checkout.
type Item struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// ShippingAddress is where the order goes.
type ShippingAddress struct {
	Address string `json:"address"`
	City    string `json:"city"`
	Phone   string `json:"phone"`
}

// ErrInvalidAddress is returned for incomplete shipping addresses.
var ErrInvalidAddress = apperr.Validation("shipping address requires address, city and phone")

// Validate checks that every field is present.
func (a ShippingAddress) Validate() error {
	if strings.TrimSpace(a.Address) == "" ||
		strings.TrimSpace(a.City) == "" ||
		strings.TrimSpace(a.Phone) == "" {
		return ErrInvalidAddress
	}
	return nil
}

// ReleaseKey identifies the stock release of line i. Releasing the same key
// twice restocks once.
func (o *Order) ReleaseKey(i int) string {
	return o.ID + ":" + strconv.Itoa(i)
}

// Event returns the lifecycle event for o.
func (o *Order) Event(t events.Type) events.Event {
	return events.NewOrderEvent(t, events.Order{
		ID:            o.ID,
		UserID:        o.UserID,
		Status:        string(o.Status),
		PaymentStatus: string(o.PaymentStatus),
		Total:         o.TotalAmount,
	})
}

// Repository defines persistence operations for orders.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	// Get returns ErrNotFound for unknown ids.
	Get(ctx context.Context, id string) (*Order, error)
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	List(ctx context.Context) ([]Order, error)
	// Delete removes an order regardless of status. Only checkout uses it, to
	// undo an order it has just created.
	Delete(ctx context.Context, id string) error
	// UpdateStatus moves the order from status from to status to and reports
	// false if the stored status is no longer from.
	UpdateStatus(ctx context.Context, id string, from, to Status) (bool, error)
	MarkStockReleased(ctx context.Context, id string) error
	// SetPaymentStatus stores the payment status and, when it is completed,
	// moves a pending order to processing in the same write. Completing the
	// payment of a cancelled order fails with ErrNotPayable and stores nothing.
	SetPaymentStatus(ctx context.Context, id string, ps PaymentStatus) (*Order, error)
	// DeleteCancelled removes cancelled orders whose stock has been released.
	// An empty userID matches every user.
	DeleteCancelled(ctx context.Context, userID string) (int, error)
}
