package order

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/apperr"
	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/product"
	"github.com/xenking/kart-checkout/internal/events"
)

// Sentinel errors for order operations.
var (
	ErrNotFound          = apperr.NotFound("order not found")
	ErrInvalidStatus     = apperr.Validation("unknown order status")
	ErrInvalidTransition = apperr.Conflict("order status transition not allowed")
	ErrNotCancellable    = apperr.Conflict("order can no longer be cancelled")
	ErrConcurrentUpdate  = apperr.Conflict("order was modified concurrently, try again")
	ErrNotPayable        = apperr.Conflict("cancelled orders cannot be paid")
)

// Releaser returns reserved stock exactly once per key.
type Releaser interface {
	ReleaseOnce(ctx context.Context, key, productID string, qty int) (bool, error)
}

// Service implements order queries and the order state machine.
type Service struct {
	orders Repository
	stock  Releaser
	guard  *auth.Guard
	events events.Publisher
}

// NewService creates an order Service.
func NewService(orders Repository, stock Releaser, guard *auth.Guard, pub events.Publisher) *Service {
	return &Service{
		orders: orders,
		stock:  stock,
		guard:  guard,
		events: pub,
	}
}

// Get returns an order visible to p.
func (s *Service) Get(ctx context.Context, p auth.Principal, id string) (*Order, error) {
	o, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.guard.RequireOwner(ctx, p, o.UserID); err != nil {
		return nil, err
	}
	return o, nil
}

// Lookup returns an order without authorization checks, for collaborating
// services that do their own.
func (s *Service) Lookup(ctx context.Context, id string) (*Order, error) {
	return s.load(ctx, id)
}

// ListMine returns the principal's own orders, newest first.
func (s *Service) ListMine(ctx context.Context, p auth.Principal) ([]Order, error) {
	list, err := s.orders.ListByUser(ctx, p.ID)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return list, nil
}

// ListAll returns every order. Admin only.
func (s *Service) ListAll(ctx context.Context, p auth.Principal) ([]Order, error) {
	if err := s.guard.RequireAdmin(ctx, p); err != nil {
		return nil, err
	}
	list, err := s.orders.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return list, nil
}

// UpdateStatus moves an order along the state machine. Admin only. Moving to
// cancelled goes through Cancel so that stock is released.
func (s *Service) UpdateStatus(ctx context.Context, p auth.Principal, id string, next Status) (*Order, error) {
	if !next.Valid() {
		return nil, ErrInvalidStatus
	}
	if err := s.guard.RequireAdmin(ctx, p); err != nil {
		return nil, err
	}
	o, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if next == StatusCancelled {
		return s.cancel(ctx, o, true)
	}
	if !o.Status.CanTransitionTo(next) {
		return nil, ErrInvalidTransition
	}

	ok, err := s.orders.UpdateStatus(ctx, o.ID, o.Status, next)
	if err != nil {
		return nil, errors.Wrap(err, "update status")
	}
	if !ok {
		return nil, ErrConcurrentUpdate
	}
	o.Status = next

	zctx.From(ctx).Info("Order status changed",
		zap.String("order_id", o.ID),
		zap.String("status", string(next)),
	)
	events.Emit(ctx, s.events, o.Event(events.OrderStatusChanged))
	return o, nil
}

// Cancel cancels an order and returns its stock. Owners may cancel pending
// orders only; admins may cancel any order that is not yet delivered.
//
// Cancel is idempotent: repeating it on a cancelled order restocks nothing
// and resumes a release that was interrupted earlier.
func (s *Service) Cancel(ctx context.Context, p auth.Principal, id string) (*Order, error) {
	o, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.guard.RequireOwner(ctx, p, o.UserID); err != nil {
		return nil, err
	}

	privileged := false
	if p.ID != o.UserID || (o.Status != StatusPending && o.Status != StatusCancelled) {
		// Non-pending cancellation needs admin rights even on own orders.
		if err := s.guard.RequireAdmin(ctx, p); err != nil {
			if p.ID == o.UserID {
				return nil, ErrNotCancellable
			}
			return nil, err
		}
		privileged = true
	}
	return s.cancel(ctx, o, privileged)
}

func (s *Service) cancel(ctx context.Context, o *Order, privileged bool) (*Order, error) {
	for o.Status != StatusCancelled {
		if !o.Status.CanTransitionTo(StatusCancelled) ||
			(!privileged && o.Status != StatusPending) {
			return nil, ErrNotCancellable
		}
		ok, err := s.orders.UpdateStatus(ctx, o.ID, o.Status, StatusCancelled)
		if err != nil {
			return nil, errors.Wrap(err, "cancel order")
		}
		if ok {
			o.Status = StatusCancelled
			zctx.From(ctx).Info("Order cancelled", zap.String("order_id", o.ID))
			events.Emit(ctx, s.events, o.Event(events.OrderCancelled))
			break
		}
		// Lost a race with another status write; re-evaluate.
		if o, err = s.load(ctx, o.ID); err != nil {
			return nil, err
		}
	}

	if o.StockReleased {
		return o, nil
	}
	if err := s.releaseStock(context.WithoutCancel(ctx), o); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Service) releaseStock(ctx context.Context, o *Order) error {
	lg := zctx.From(ctx)
	for i, it := range o.Items {
		applied, err := s.stock.ReleaseOnce(ctx, o.ReleaseKey(i), it.ProductID, it.Quantity)
		if err != nil {
			if errors.Is(err, product.ErrNotFound) {
				lg.Warn("Skipping release of removed product",
					zap.String("order_id", o.ID),
					zap.String("product_id", it.ProductID),
				)
				continue
			}
			return errors.Wrapf(err, "release line %d of order %s", i, o.ID)
		}
		if !applied {
			lg.Debug("Line already released",
				zap.String("order_id", o.ID),
				zap.Int("line", i),
			)
		}
	}
	if err := s.orders.MarkStockReleased(ctx, o.ID); err != nil {
		return errors.Wrap(err, "mark stock released")
	}
	o.StockReleased = true
	return nil
}

// ClearCancelled deletes the principal's cancelled orders.
func (s *Service) ClearCancelled(ctx context.Context, p auth.Principal) (int, error) {
	n, err := s.orders.DeleteCancelled(ctx, p.ID)
	if err != nil {
		return 0, errors.Wrap(err, "delete cancelled orders")
	}
	return n, nil
}

// ClearAllCancelled deletes every cancelled order. Admin only.
func (s *Service) ClearAllCancelled(ctx context.Context, p auth.Principal) (int, error) {
	if err := s.guard.RequireAdmin(ctx, p); err != nil {
		return 0, err
	}
	n, err := s.orders.DeleteCancelled(ctx, "")
	if err != nil {
		return 0, errors.Wrap(err, "delete cancelled orders")
	}
	return n, nil
}

// ApplyPaymentStatus mirrors a payment outcome onto the order. It performs no
// authorization; the payment processor is its only caller.
func (s *Service) ApplyPaymentStatus(ctx context.Context, id string, ps PaymentStatus) (*Order, error) {
	if !ps.Valid() {
		return nil, apperr.Validation("unknown payment status")
	}
	before, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	o, err := s.orders.SetPaymentStatus(ctx, id, ps)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotPayable) {
			return nil, err
		}
		return nil, errors.Wrap(err, "set payment status")
	}
	if o.Status != before.Status {
		zctx.From(ctx).Info("Order advanced by payment",
			zap.String("order_id", o.ID),
			zap.String("status", string(o.Status)),
		)
		events.Emit(ctx, s.events, o.Event(events.OrderStatusChanged))
	}
	return o, nil
}

func (s *Service) load(ctx context.Context, id string) (*Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "get order")
	}
	return o, nil
}
