// Package inventory owns product stock. All stock mutations go through the
// Ledger so that available quantity never goes negative under concurrent
// reservations.
package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/xenking/kart-checkout/internal/domain/apperr"
	"github.com/xenking/kart-checkout/internal/domain/product"
)

var (
	// ErrInvalidQuantity is returned for non-positive reservation or release
	// quantities.
	ErrInvalidQuantity = apperr.Validation("quantity must be greater than 0")
	// ErrContention is returned when a reservation lost every compare-and-set
	// race within its retry budget.
	ErrContention = apperr.Conflict("stock is being updated concurrently, try again")

	errVersionConflict = errors.New("stock version conflict")
)

// InsufficientStockError reports that a product cannot cover a request.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// ErrorKind implements apperr.Kinded.
func (e *InsufficientStockError) ErrorKind() apperr.Kind { return apperr.KindInsufficientStock }

// Level is a stock snapshot. Version changes on every write.
type Level struct {
	Available int
	Version   int64
}

// Store is the atomic conditional-update primitive the ledger is built on.
type Store interface {
	// Level returns the current stock of a product or product.ErrNotFound.
	Level(ctx context.Context, productID string) (Level, error)
	// CompareAndSwap sets available quantity if the stored version still
	// equals version. It reports false when another writer got there first.
	CompareAndSwap(ctx context.Context, productID string, version int64, available int) (bool, error)
	// Restock adds qty unconditionally. A non-empty releaseKey makes the
	// increment apply at most once per key; applied is false for repeats.
	Restock(ctx context.Context, productID string, qty int, releaseKey string) (applied bool, err error)
}

// Config bounds the optimistic retry loop of Reserve.
type Config struct {
	MaxAttempts     uint64        `default:"8" usage:"Max compare-and-set attempts per reservation"`
	InitialInterval time.Duration `default:"5ms" usage:"Initial backoff between reservation attempts"`
	MaxInterval     time.Duration `default:"100ms" usage:"Max backoff between reservation attempts"`
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 8
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 5 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 100 * time.Millisecond
	}
	return c
}

// Ledger reserves and releases product stock.
type Ledger struct {
	store     Store
	cfg       Config
	conflicts metric.Int64Counter
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithMeter records reservation conflicts on m.
func WithMeter(m metric.Meter) Option {
	return func(l *Ledger) {
		c, err := m.Int64Counter("inventory.reservation.conflicts",
			metric.WithDescription("Compare-and-set conflicts while reserving stock"))
		if err == nil {
			l.conflicts = c
		}
	}
}

// NewLedger returns a Ledger over store.
func NewLedger(store Store, cfg Config, opts ...Option) *Ledger {
	l := &Ledger{store: store, cfg: cfg.withDefaults()}
	l.conflicts, _ = noop.NewMeterProvider().Meter("inventory").Int64Counter("noop")
	for _, o := range opts {
		o(l)
	}
	return l
}

// Reserve atomically decrements the available quantity of productID by qty.
// It fails with InsufficientStockError when stock is short and never lets
// stock go negative.
func (l *Ledger) Reserve(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}

	attempt := func() error {
		lvl, err := l.store.Level(ctx, productID)
		if err != nil {
			if errors.Is(err, product.ErrNotFound) {
				return backoff.Permanent(err)
			}
			return backoff.Permanent(errors.Wrapf(err, "read stock of %s", productID))
		}
		if lvl.Available < qty {
			return backoff.Permanent(&InsufficientStockError{
				ProductID: productID,
				Requested: qty,
				Available: lvl.Available,
			})
		}
		ok, err := l.store.CompareAndSwap(ctx, productID, lvl.Version, lvl.Available-qty)
		if err != nil {
			return backoff.Permanent(errors.Wrapf(err, "update stock of %s", productID))
		}
		if !ok {
			l.conflicts.Add(ctx, 1)
			return errVersionConflict
		}
		return nil
	}

	if err := backoff.Retry(attempt, l.backOff(ctx)); err != nil {
		if errors.Is(err, errVersionConflict) {
			return ErrContention
		}
		return err
	}
	return nil
}

// Release returns qty units of productID to stock. It performs no
// deduplication; callers pair it one-to-one with a successful Reserve.
func (l *Ledger) Release(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if _, err := l.store.Restock(ctx, productID, qty, ""); err != nil {
		return errors.Wrapf(err, "release stock of %s", productID)
	}
	return nil
}

// ReleaseOnce returns qty units of productID to stock unless key was already
// released. It reports whether this call applied the increment.
func (l *Ledger) ReleaseOnce(ctx context.Context, key, productID string, qty int) (bool, error) {
	if qty <= 0 {
		return false, ErrInvalidQuantity
	}
	if key == "" {
		return false, errors.New("release key is required")
	}
	applied, err := l.store.Restock(ctx, productID, qty, key)
	if err != nil {
		return false, errors.Wrapf(err, "release stock of %s", productID)
	}
	return applied, nil
}

func (l *Ledger) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = l.cfg.InitialInterval
	exp.MaxInterval = l.cfg.MaxInterval
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, l.cfg.MaxAttempts-1), ctx)
}
