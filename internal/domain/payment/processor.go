package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/apperr"
	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/events"
	"github.com/xenking/kart-checkout/internal/saga"
)

// Orders is the part of the order service the processor depends on.
type Orders interface {
	Lookup(ctx context.Context, id string) (*order.Order, error)
	ApplyPaymentStatus(ctx context.Context, id string, ps order.PaymentStatus) (*order.Order, error)
}

// Processor accepts payments and settles them onto orders.
type Processor struct {
	payments   Repository
	orders     Orders
	authorizer Authorizer
	guard      *auth.Guard
	events     events.Publisher

	submitted metric.Int64Counter
	now       func() time.Time
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithMeter records payment submissions by method and outcome on m.
func WithMeter(m metric.Meter) ProcessorOption {
	return func(p *Processor) {
		if c, err := m.Int64Counter("payment.submissions",
			metric.WithDescription("Payment submissions by method and outcome")); err == nil {
			p.submitted = c
		}
	}
}

// NewProcessor creates a payment Processor.
func NewProcessor(
	payments Repository,
	orders Orders,
	authorizer Authorizer,
	guard *auth.Guard,
	pub events.Publisher,
	opts ...ProcessorOption,
) *Processor {
	p := &Processor{
		payments:   payments,
		orders:     orders,
		authorizer: authorizer,
		guard:      guard,
		events:     pub,
		now:        time.Now,
	}
	p.submitted, _ = noop.NewMeterProvider().Meter("payment").Int64Counter("noop")
	for _, o := range opts {
		o(p)
	}
	return p
}

// Submit records a payment attempt for an order.
//
// Checks run in order: the order exists, the caller owns it or is an admin,
// the order is not already paid, then the payload is complete. Cards are
// authorized synchronously and a decline stores nothing. Deferred methods
// are stored pending until an admin settles them.
func (p *Processor) Submit(ctx context.Context, pr auth.Principal, sub Submission) (*Payment, error) {
	pay, err := p.submit(ctx, pr, sub)

	outcome, method := "ok", "unknown"
	if err != nil {
		outcome = apperr.KindOf(err).String()
	}
	if sub.Instrument != nil {
		method = string(sub.Instrument.Kind())
	}
	p.submitted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("outcome", outcome),
	))
	return pay, err
}

func (p *Processor) submit(ctx context.Context, pr auth.Principal, sub Submission) (*Payment, error) {
	o, err := p.orders.Lookup(ctx, sub.OrderID)
	if err != nil {
		return nil, err
	}
	if err := p.guard.RequireOwner(ctx, pr, o.UserID); err != nil {
		return nil, err
	}
	paid, err := p.payments.HasCompleted(ctx, o.ID)
	if err != nil {
		return nil, errors.Wrap(err, "check completed payments")
	}
	if paid {
		return nil, ErrAlreadyPaid
	}
	if sub.Instrument == nil {
		return nil, ErrUnsupportedMethod
	}
	if err := sub.Instrument.validate(p.now()); err != nil {
		return nil, err
	}
	if !sub.Amount.Equal(o.TotalAmount) {
		return nil, ErrAmountMismatch
	}
	if o.Status == order.StatusCancelled {
		return nil, ErrOrderNotPayable
	}

	now := p.now()
	pay := &Payment{
		ID:        uuid.New().String(),
		OrderID:   o.ID,
		UserID:    o.UserID,
		Amount:    sub.Amount,
		CreatedAt: now,
		UpdatedAt: now,
	}

	sg := saga.New("payment")
	switch in := sub.Instrument.(type) {
	case CardInput:
		var authz Authorization
		sg.Add(saga.Step{
			Name: "authorize",
			Do: func(ctx context.Context) error {
				var err error
				authz, err = p.authorizer.Authorize(ctx, AuthorizationRequest{
					OrderID: o.ID,
					Amount:  sub.Amount,
					Card:    in,
				})
				if err != nil {
					return errors.Wrap(err, "authorize card")
				}
				if !authz.Approved {
					return &DeclinedError{Reason: authz.DeclineReason}
				}
				pay.Method = Card{Last4: in.Last4(), Brand: authz.Brand}
				pay.TransactionID = authz.TransactionID
				pay.Status = StatusCompleted
				return nil
			},
			Compensate: func(ctx context.Context) error {
				return p.authorizer.Void(ctx, authz.TransactionID)
			},
		})
	case BankTransfer:
		pay.Method = in
		pay.TransactionID = "TXN-" + uuid.New().String()
		pay.Status = StatusPending
	case CashOnDelivery:
		pay.Method = in
		pay.TransactionID = "COD-" + uuid.New().String()
		pay.Status = StatusPending
	default:
		return nil, ErrUnsupportedMethod
	}

	sg.Add(
		saga.Step{
			Name: "record",
			Do: func(ctx context.Context) error {
				if err := p.payments.Create(ctx, pay); err != nil {
					if errors.Is(err, ErrAlreadyPaid) {
						return err
					}
					return errors.Wrap(err, "create payment")
				}
				return nil
			},
			Compensate: func(ctx context.Context) error {
				note := "order update failed"
				ok, err := p.payments.UpdateStatus(ctx, pay.ID, pay.Status, StatusFailed, &note)
				if err != nil {
					return err
				}
				if !ok {
					return errors.Errorf("payment %s changed while compensating", pay.ID)
				}
				return nil
			},
		},
		saga.Step{
			Name: "settle-order",
			Do: func(ctx context.Context) error {
				ps := order.PaymentStatus(pay.Status)
				if o.PaymentStatus == ps {
					return nil
				}
				_, err := p.orders.ApplyPaymentStatus(ctx, o.ID, ps)
				return err
			},
		},
	)
	if err := sg.Run(ctx); err != nil {
		var declined *DeclinedError
		if errors.As(err, &declined) {
			zctx.From(ctx).Info("Card declined",
				zap.String("order_id", o.ID),
				zap.String("reason", declined.Reason),
			)
		}
		return nil, err
	}

	zctx.From(ctx).Info("Payment recorded",
		zap.String("payment_id", pay.ID),
		zap.String("order_id", pay.OrderID),
		zap.String("method", string(pay.Method.Kind())),
		zap.String("status", string(pay.Status)),
	)
	events.Emit(ctx, p.events, pay.Event(events.PaymentRecorded))
	return pay, nil
}

// UpdateStatus settles or reverses a payment. Admin only. Completed and
// refunded statuses are mirrored onto the order.
func (p *Processor) UpdateStatus(ctx context.Context, pr auth.Principal, id string, next Status, note *string) (*Payment, error) {
	if !next.Valid() {
		return nil, ErrInvalidStatus
	}
	if err := p.guard.RequireAdmin(ctx, pr); err != nil {
		return nil, err
	}
	pay, err := p.load(ctx, id)
	if err != nil {
		return nil, err
	}
	prev := pay.Status
	if prev != next && !prev.CanTransitionTo(next) {
		return nil, ErrInvalidTransition
	}

	mirror := prev != next && (next == StatusCompleted || next == StatusRefunded)
	if mirror && next == StatusCompleted {
		o, err := p.orders.Lookup(ctx, pay.OrderID)
		if err != nil {
			return nil, err
		}
		if o.Status == order.StatusCancelled {
			return nil, ErrOrderNotPayable
		}
	}

	sg := saga.New("payment-status")
	sg.Add(saga.Step{
		Name: "update-payment",
		Do: func(ctx context.Context) error {
			ok, err := p.payments.UpdateStatus(ctx, pay.ID, prev, next, note)
			if err != nil {
				if errors.Is(err, ErrAlreadyPaid) {
					return err
				}
				return errors.Wrap(err, "update payment status")
			}
			if !ok {
				return ErrConcurrentUpdate
			}
			return nil
		},
		Compensate: func(ctx context.Context) error {
			ok, err := p.payments.UpdateStatus(ctx, pay.ID, next, prev, nil)
			if err != nil {
				return err
			}
			if !ok {
				return errors.Errorf("payment %s changed while compensating", pay.ID)
			}
			return nil
		},
	})
	if mirror {
		sg.Add(saga.Step{
			Name: "settle-order",
			Do: func(ctx context.Context) error {
				_, err := p.orders.ApplyPaymentStatus(ctx, pay.OrderID, order.PaymentStatus(next))
				return err
			},
		})
	}
	if err := sg.Run(ctx); err != nil {
		return nil, err
	}

	pay.Status = next
	if note != nil {
		pay.AdminNote = *note
	}
	pay.UpdatedAt = p.now()

	zctx.From(ctx).Info("Payment status changed",
		zap.String("payment_id", pay.ID),
		zap.String("from", string(prev)),
		zap.String("to", string(next)),
	)
	if prev != next {
		events.Emit(ctx, p.events, pay.Event(events.PaymentStatusChanged))
	}
	return pay, nil
}

// ReconcileOrder sets an order's payment status on request of its owner or
// an admin, provided the order's payment records support it: completed needs
// a completed record, refunded a refunded one, and pending or failed need the
// absence of a completed one.
func (p *Processor) ReconcileOrder(ctx context.Context, pr auth.Principal, orderID string, ps order.PaymentStatus) (*order.Order, error) {
	if !ps.Valid() {
		return nil, ErrInvalidStatus
	}
	o, err := p.orders.Lookup(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := p.guard.RequireOwner(ctx, pr, o.UserID); err != nil {
		return nil, err
	}

	records, err := p.payments.ListByOrder(ctx, o.ID)
	if err != nil {
		return nil, errors.Wrap(err, "list order payments")
	}
	has := func(s Status) bool {
		for _, r := range records {
			if r.Status == s {
				return true
			}
		}
		return false
	}

	switch ps {
	case order.PaymentCompleted:
		if !has(StatusCompleted) {
			return nil, apperr.Conflict("order has no completed payment")
		}
	case order.PaymentRefunded:
		if !has(StatusRefunded) {
			return nil, apperr.Conflict("order has no refunded payment")
		}
	default:
		if has(StatusCompleted) {
			return nil, ErrAlreadyPaid
		}
	}
	return p.orders.ApplyPaymentStatus(ctx, o.ID, ps)
}

// Delete removes a pending or failed payment. Admin only.
func (p *Processor) Delete(ctx context.Context, pr auth.Principal, id string) error {
	if err := p.guard.RequireAdmin(ctx, pr); err != nil {
		return err
	}
	pay, err := p.load(ctx, id)
	if err != nil {
		return err
	}
	if !pay.Status.Deletable() {
		return ErrNotDeletable
	}
	ok, err := p.payments.Delete(ctx, id)
	if err != nil {
		return errors.Wrap(err, "delete payment")
	}
	if !ok {
		return ErrNotDeletable
	}
	zctx.From(ctx).Info("Payment deleted", zap.String("payment_id", id))
	return nil
}

// Get returns a payment visible to pr.
func (p *Processor) Get(ctx context.Context, pr auth.Principal, id string) (*Payment, error) {
	pay, err := p.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := p.guard.RequireOwner(ctx, pr, pay.UserID); err != nil {
		return nil, err
	}
	return pay, nil
}

// ListMine returns the principal's payments, newest first.
func (p *Processor) ListMine(ctx context.Context, pr auth.Principal) ([]Payment, error) {
	list, err := p.payments.ListByUser(ctx, pr.ID)
	if err != nil {
		return nil, errors.Wrap(err, "list payments")
	}
	return list, nil
}

// ListAll returns every payment. Admin only.
func (p *Processor) ListAll(ctx context.Context, pr auth.Principal) ([]Payment, error) {
	if err := p.guard.RequireAdmin(ctx, pr); err != nil {
		return nil, err
	}
	list, err := p.payments.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list payments")
	}
	return list, nil
}

func (p *Processor) load(ctx context.Context, id string) (*Payment, error) {
	pay, err := p.payments.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "get payment")
	}
	return pay, nil
}
