// Package events publishes order and payment lifecycle notifications for
// downstream consumers. Publishing happens after state is committed and is
// best-effort: a failed publish is logged and never rolls back the operation.
package events

import (
	"context"
	"time"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Type names an event.
type Type string

const (
	OrderCreated         Type = "order.created"
	OrderCancelled       Type = "order.cancelled"
	OrderStatusChanged   Type = "order.status_changed"
	PaymentRecorded      Type = "payment.recorded"
	PaymentStatusChanged Type = "payment.status_changed"
)

// Order is the order snapshot carried by order events.
type Order struct {
	ID            string
	UserID        string
	Status        string
	PaymentStatus string
	Total         decimal.Decimal
}

// Payment is the payment snapshot carried by payment events.
type Payment struct {
	ID            string
	OrderID       string
	UserID        string
	Method        string
	Status        string
	TransactionID string
	Amount        decimal.Decimal
}

// Event is a single notification. Exactly one of Order and Payment is set.
type Event struct {
	ID         string
	Type       Type
	OccurredAt time.Time
	Order      *Order
	Payment    *Payment
}

// NewOrderEvent returns an event of type t about o.
func NewOrderEvent(t Type, o Order) Event {
	return Event{ID: uuid.New().String(), Type: t, OccurredAt: time.Now().UTC(), Order: &o}
}

// NewPaymentEvent returns an event of type t about p.
func NewPaymentEvent(t Type, p Payment) Event {
	return Event{ID: uuid.New().String(), Type: t, OccurredAt: time.Now().UTC(), Payment: &p}
}

// Key returns the partitioning key. Events of one order share a key so that
// consumers see them in order.
func (e Event) Key() string {
	switch {
	case e.Order != nil:
		return e.Order.ID
	case e.Payment != nil:
		return e.Payment.OrderID
	default:
		return e.ID
	}
}

// Encode writes e as a JSON object.
func (e Event) Encode(enc *jx.Encoder) {
	enc.ObjStart()
	enc.FieldStart("id")
	enc.Str(e.ID)
	enc.FieldStart("type")
	enc.Str(string(e.Type))
	enc.FieldStart("occurred_at")
	enc.Str(e.OccurredAt.Format(time.RFC3339Nano))
	if o := e.Order; o != nil {
		enc.FieldStart("order")
		enc.ObjStart()
		enc.FieldStart("id")
		enc.Str(o.ID)
		enc.FieldStart("user_id")
		enc.Str(o.UserID)
		enc.FieldStart("status")
		enc.Str(o.Status)
		enc.FieldStart("payment_status")
		enc.Str(o.PaymentStatus)
		enc.FieldStart("total")
		enc.Str(o.Total.StringFixed(2))
		enc.ObjEnd()
	}
	if p := e.Payment; p != nil {
		enc.FieldStart("payment")
		enc.ObjStart()
		enc.FieldStart("id")
		enc.Str(p.ID)
		enc.FieldStart("order_id")
		enc.Str(p.OrderID)
		enc.FieldStart("user_id")
		enc.Str(p.UserID)
		enc.FieldStart("method")
		enc.Str(p.Method)
		enc.FieldStart("status")
		enc.Str(p.Status)
		enc.FieldStart("transaction_id")
		enc.Str(p.TransactionID)
		enc.FieldStart("amount")
		enc.Str(p.Amount.StringFixed(2))
		enc.ObjEnd()
	}
	enc.ObjEnd()
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

// Emit publishes events and logs a warning if that fails.
func Emit(ctx context.Context, p Publisher, evs ...Event) {
	if p == nil || len(evs) == 0 {
		return
	}
	if err := p.Publish(ctx, evs...); err != nil {
		zctx.From(ctx).Warn("Publish events",
			zap.String("type", string(evs[0].Type)),
			zap.String("key", evs[0].Key()),
			zap.Int("count", len(evs)),
			zap.Error(err),
		)
	}
}

// LogPublisher writes events to the context logger. It is used when no
// broker is configured.
type LogPublisher struct{}

// Publish implements Publisher.
func (LogPublisher) Publish(ctx context.Context, evs ...Event) error {
	lg := zctx.From(ctx)
	for _, e := range evs {
		lg.Info("Event",
			zap.String("id", e.ID),
			zap.String("type", string(e.Type)),
			zap.String("key", e.Key()),
		)
	}
	return nil
}
