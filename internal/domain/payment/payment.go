// Package payment records payment attempts and keeps each order's payment
// status in step with them.
package payment

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/apperr"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/events"
)

// Sentinel errors for payment operations.
var (
	ErrNotFound          = apperr.NotFound("payment not found")
	ErrAlreadyPaid       = apperr.Conflict("order has already been paid")
	ErrOrderNotPayable   = order.ErrNotPayable
	ErrAmountMismatch    = apperr.Validation("amount must equal the order total")
	ErrInvalidStatus     = apperr.Validation("unknown payment status")
	ErrInvalidTransition = apperr.Conflict("payment status transition not allowed")
	ErrNotDeletable      = apperr.Conflict("only pending or failed payments can be deleted")
	ErrConcurrentUpdate  = apperr.Conflict("payment was modified concurrently, try again")
	ErrUnsupportedMethod = apperr.Validation("unsupported payment method")
)

// Status is the settlement state of a payment attempt.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

var transitions = map[Status][]Status{
	StatusPending:   {StatusCompleted, StatusFailed},
	StatusFailed:    {StatusPending},
	StatusCompleted: {StatusRefunded},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed, StatusRefunded:
		return true
	}
	return false
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

// Deletable reports whether a payment in status s may be removed.
func (s Status) Deletable() bool {
	return s == StatusPending || s == StatusFailed
}

// MethodKind names a payment method.
type MethodKind string

const (
	KindCard           MethodKind = "card"
	KindBankTransfer   MethodKind = "bank_transfer"
	KindCashOnDelivery MethodKind = "cash_on_delivery"
)

// Method is the stored description of how a payment was made. It is one of
// Card, BankTransfer or CashOnDelivery.
type Method interface {
	Kind() MethodKind
	isMethod()
}

// Card is a settled card payment. Only the last four digits and the brand
// are kept.
type Card struct {
	Last4 string `json:"last4"`
	Brand string `json:"brand"`
}

// BankTransfer is a transfer the payer reports having made. SlipRef points
// at the uploaded transfer slip in file storage, if any.
type BankTransfer struct {
	AccountName     string `json:"account_name"`
	BankName        string `json:"bank_name"`
	TransferDate    string `json:"transfer_date"`
	ReferenceNumber string `json:"reference_number"`
	SlipRef         string `json:"slip_ref,omitempty"`
}

// CashOnDelivery is settled by the courier.
type CashOnDelivery struct{}

func (Card) Kind() MethodKind { return KindCard }
func (BankTransfer) Kind() MethodKind { return KindBankTransfer }
func (CashOnDelivery) Kind() MethodKind { return KindCashOnDelivery }

func (Card) isMethod() {}
func (BankTransfer) isMethod() {}
func (CashOnDelivery) isMethod() {}

// EncodeMethod returns the kind and JSON details of m for storage.
func EncodeMethod(m Method) (MethodKind, []byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", nil, errors.Wrap(err, "encode method")
	}
	return m.Kind(), data, nil
}

// DecodeMethod is the inverse of EncodeMethod.
func DecodeMethod(kind MethodKind, data []byte) (Method, error) {
	switch kind {
	case KindCard:
		var c Card
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, errors.Wrap(err, "decode card")
		}
		return c, nil
	case KindBankTransfer:
		var b BankTransfer
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, errors.Wrap(err, "decode bank transfer")
		}
		return b, nil
	case KindCashOnDelivery:
		return CashOnDelivery{}, nil
	default:
		return nil, errors.Errorf("unknown payment method %q", kind)
	}
}

// Payment is one payment attempt for an order.
type Payment struct {
	ID            string
	OrderID       string
	UserID        string
	Amount        decimal.Decimal
	Method        Method
	TransactionID string
	Status        Status
	AdminNote     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Event returns the lifecycle event for p.
func (p *Payment) Event(t events.Type) events.Event {
	return events.NewPaymentEvent(t, events.Payment{
		ID:            p.ID,
		OrderID:       p.OrderID,
		UserID:        p.UserID,
		Method:        string(p.Method.Kind()),
		Status:        string(p.Status),
		TransactionID: p.TransactionID,
		Amount:        p.Amount,
	})
}

// Repository persists payment records.
//
// Implementations must guarantee that at most one payment per order is
// completed: Create and UpdateStatus fail with ErrAlreadyPaid rather than
// store a second one.
type Repository interface {
	Create(ctx context.Context, p *Payment) error
	// Get returns ErrNotFound for unknown ids.
	Get(ctx context.Context, id string) (*Payment, error)
	ListByUser(ctx context.Context, userID string) ([]Payment, error)
	ListByOrder(ctx context.Context, orderID string) ([]Payment, error)
	List(ctx context.Context) ([]Payment, error)
	HasCompleted(ctx context.Context, orderID string) (bool, error)
	// UpdateStatus moves the payment from status from to status to, setting
	// the admin note when note is not nil. It reports false if the stored
	// status is no longer from.
	UpdateStatus(ctx context.Context, id string, from, to Status, note *string) (bool, error)
	// Delete removes a pending or failed payment and reports false if the
	// payment is in any other status.
	Delete(ctx context.Context, id string) (bool, error)
}
