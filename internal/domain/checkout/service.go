// Package checkout turns a cart into an order. It is the only place that
// reserves stock, and it either completes fully or leaves stock, orders and
// the cart as they were.
package checkout

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/apperr"
	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/inventory"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/product"
	"github.com/xenking/kart-checkout/internal/events"
	"github.com/xenking/kart-checkout/internal/saga"
)

// Stock reserves and releases product stock.
type Stock interface {
	Reserve(ctx context.Context, productID string, qty int) error
	Release(ctx context.Context, productID string, qty int) error
}

// Service places orders from carts.
type Service struct {
	carts    cart.Repository
	products product.Repository
	stock    Stock
	orders   order.Repository
	events   events.Publisher

	tracer trace.Tracer
	placed metric.Int64Counter
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithTelemetry records saga spans on tp and checkout outcomes on mp.
func WithTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) Option {
	return func(s *Service) {
		s.tracer = tp.Tracer("checkout")
		if c, err := mp.Meter("checkout").Int64Counter("checkout.orders",
			metric.WithDescription("Checkout attempts by outcome")); err == nil {
			s.placed = c
		}
	}
}

// NewService creates a checkout Service.
func NewService(
	carts cart.Repository,
	products product.Repository,
	stock Stock,
	orders order.Repository,
	pub events.Publisher,
	opts ...Option,
) *Service {
	s := &Service{
		carts:    carts,
		products: products,
		stock:    stock,
		orders:   orders,
		events:   pub,
		now:      time.Now,
	}
	s.placed, _ = noop.NewMeterProvider().Meter("checkout").Int64Counter("noop")
	s.tracer = tracenoop.NewTracerProvider().Tracer("checkout")
	for _, o := range opts {
		o(s)
	}
	return s
}

// PlaceOrder converts the principal's cart into a pending order.
//
// The cart is validated first without side effects. Then every line is
// reserved, the order is persisted and the cart is cleared, each step undone
// in reverse if a later one fails.
func (s *Service) PlaceOrder(ctx context.Context, p auth.Principal, addr order.ShippingAddress) (*order.Order, error) {
	o, err := s.placeOrder(ctx, p, addr)
	outcome := "ok"
	if err != nil {
		outcome = apperr.KindOf(err).String()
	}
	s.placed.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	return o, err
}

func (s *Service) placeOrder(ctx context.Context, p auth.Principal, addr order.ShippingAddress) (*order.Order, error) {
	if err := addr.Validate(); err != nil {
		return nil, err
	}

	c, err := s.carts.Get(ctx, p.ID)
	if err != nil {
		if errors.Is(err, cart.ErrNotFound) {
			return nil, cart.ErrEmpty
		}
		return nil, errors.Wrap(err, "get cart")
	}
	if c.IsEmpty() {
		return nil, cart.ErrEmpty
	}

	items, err := s.validate(ctx, c)
	if err != nil {
		return nil, err
	}

	now := s.now()
	o := &order.Order{
		ID:              uuid.New().String(),
		UserID:          p.ID,
		Items:           items,
		TotalAmount:     c.Total(),
		ShippingAddress: addr,
		Status:          order.StatusPending,
		PaymentStatus:   order.PaymentPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	sg := saga.New("checkout", saga.WithTracer(s.tracer))
	for _, it := range o.Items {
		sg.Add(saga.Step{
			Name: "reserve:" + it.ProductID,
			Do: func(ctx context.Context) error {
				return s.stock.Reserve(ctx, it.ProductID, it.Quantity)
			},
			Compensate: func(ctx context.Context) error {
				return s.stock.Release(ctx, it.ProductID, it.Quantity)
			},
		})
	}
	sg.Add(
		saga.Step{
			Name: "persist-order",
			Do: func(ctx context.Context) error {
				if err := s.orders.Create(ctx, o); err != nil {
					return errors.Wrap(err, "create order")
				}
				return nil
			},
			Compensate: func(ctx context.Context) error {
				return s.orders.Delete(ctx, o.ID)
			},
		},
		saga.Step{
			Name: "clear-cart",
			Do: func(ctx context.Context) error {
				c.Items = []cart.Item{}
				c.UpdatedAt = s.now()
				if err := s.carts.Save(ctx, c); err != nil {
					return errors.Wrap(err, "clear cart")
				}
				return nil
			},
		},
	)
	if err := sg.Run(ctx); err != nil {
		return nil, err
	}

	zctx.From(ctx).Info("Order placed",
		zap.String("order_id", o.ID),
		zap.String("user_id", o.UserID),
		zap.Int("lines", len(o.Items)),
		zap.String("total", o.TotalAmount.StringFixed(2)),
	)
	events.Emit(ctx, s.events, o.Event(events.OrderCreated))
	return o, nil
}

// validate checks every line against the catalog and current stock in one
// batch, without reserving anything.
func (s *Service) validate(ctx context.Context, c *cart.Cart) ([]order.Item, error) {
	ids := make([]string, len(c.Items))
	for i, it := range c.Items {
		ids[i] = it.ProductID
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	items := make([]order.Item, 0, len(c.Items))
	for _, it := range c.Items {
		p, ok := byID[it.ProductID]
		if !ok {
			return nil, &product.NotFoundError{ProductID: it.ProductID}
		}
		if p.Available < it.Quantity {
			return nil, &inventory.InsufficientStockError{
				ProductID: p.ID,
				Requested: it.Quantity,
				Available: p.Available,
			}
		}
		items = append(items, order.Item{
			ProductID: p.ID,
			Name:      p.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}
	return items, nil
}
