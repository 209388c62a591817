package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/domain/product"
)

func TestProductStore_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	db := NewDB()
	db.PutProduct(product.Product{ID: "p1", Name: "Mug", Price: decimal.NewFromInt(10), Available: 5})
	s := db.Products()

	lvl, err := s.Level(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 5, lvl.Available)

	ok, err := s.CompareAndSwap(ctx, "p1", lvl.Version, 3)
	require.NoError(t, err)
	assert.True(t, ok)

	// stale version
	ok, err = s.CompareAndSwap(ctx, "p1", lvl.Version, 1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 3, db.StockOf("p1"))

	_, err = s.Level(ctx, "nope")
	assert.ErrorIs(t, err, product.ErrNotFound)
}

func TestProductStore_RestockOnce(t *testing.T) {
	ctx := context.Background()
	db := NewDB()
	db.PutProduct(product.Product{ID: "p1", Available: 0})
	s := db.Products()

	applied, err := s.Restock(ctx, "p1", 2, "o1:0")
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = s.Restock(ctx, "p1", 2, "o1:0")
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = s.Restock(ctx, "p1", 1, "")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, 3, db.StockOf("p1"))
}

func TestCartStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewDB().Carts()

	_, err := s.Get(ctx, "u1")
	assert.ErrorIs(t, err, cart.ErrNotFound)

	c := &cart.Cart{UserID: "u1", Items: []cart.Item{{ID: "i1", ProductID: "p1", Quantity: 1}}}
	require.NoError(t, s.Save(ctx, c))
	c.Items[0].Quantity = 9

	got, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Items[0].Quantity)
}

func TestOrderStore_StatusAndCleanup(t *testing.T) {
	ctx := context.Background()
	s := NewDB().Orders()
	now := time.Now()

	require.NoError(t, s.Create(ctx, &order.Order{ID: "o1", UserID: "u1", Status: order.StatusPending, CreatedAt: now}))
	require.NoError(t, s.Create(ctx, &order.Order{ID: "o2", UserID: "u1", Status: order.StatusPending, CreatedAt: now.Add(time.Second)}))
	require.NoError(t, s.Create(ctx, &order.Order{ID: "o3", UserID: "u2", Status: order.StatusPending, CreatedAt: now}))

	mine, err := s.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "o2", mine[0].ID)

	ok, err := s.UpdateStatus(ctx, "o1", order.StatusProcessing, order.StatusShipped)
	require.NoError(t, err)
	assert.False(t, ok)

	o, err := s.SetPaymentStatus(ctx, "o2", order.PaymentCompleted)
	require.NoError(t, err)
	assert.Equal(t, order.StatusProcessing, o.Status)

	for _, id := range []string{"o1", "o3"} {
		ok, err = s.UpdateStatus(ctx, id, order.StatusPending, order.StatusCancelled)
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.NoError(t, s.MarkStockReleased(ctx, "o1"))

	// o3 is cancelled but its stock is not released yet
	n, err := s.DeleteCancelled(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.Get(ctx, "o3")
	assert.NoError(t, err)
	_, err = s.Get(ctx, "o1")
	assert.ErrorIs(t, err, order.ErrNotFound)
}

func TestOrderStore_WritesBumpUpdatedAt(t *testing.T) {
	ctx := context.Background()
	db := NewDB()
	clock := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	db.now = func() time.Time { return clock }
	s := db.Orders()

	created := clock.Add(-time.Hour)
	require.NoError(t, s.Create(ctx, &order.Order{ID: "o1", Status: order.StatusPending, CreatedAt: created, UpdatedAt: created}))

	step := func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}

	want := step()
	o, err := s.SetPaymentStatus(ctx, "o1", order.PaymentCompleted)
	require.NoError(t, err)
	assert.Equal(t, want, o.UpdatedAt)

	want = step()
	ok, err := s.UpdateStatus(ctx, "o1", order.StatusProcessing, order.StatusCancelled)
	require.NoError(t, err)
	require.True(t, ok)
	o, err = s.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, want, o.UpdatedAt)

	want = step()
	require.NoError(t, s.MarkStockReleased(ctx, "o1"))
	o, err = s.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, want, o.UpdatedAt)
	assert.Equal(t, created, o.CreatedAt)
}

func TestOrderStore_CancelledOrderCannotBePaid(t *testing.T) {
	ctx := context.Background()
	s := NewDB().Orders()
	require.NoError(t, s.Create(ctx, &order.Order{ID: "o1", Status: order.StatusCancelled, PaymentStatus: order.PaymentPending}))

	_, err := s.SetPaymentStatus(ctx, "o1", order.PaymentCompleted)
	require.ErrorIs(t, err, order.ErrNotPayable)

	o, err := s.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, order.PaymentPending, o.PaymentStatus)
	assert.Equal(t, order.StatusCancelled, o.Status)

	// marking a failed attempt is still allowed
	o, err = s.SetPaymentStatus(ctx, "o1", order.PaymentFailed)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentFailed, o.PaymentStatus)
}

func TestPaymentStore_SingleCompletedPerOrder(t *testing.T) {
	ctx := context.Background()
	s := NewDB().Payments()

	require.NoError(t, s.Create(ctx, &payment.Payment{ID: "a", OrderID: "o1", Status: payment.StatusCompleted}))
	err := s.Create(ctx, &payment.Payment{ID: "b", OrderID: "o1", Status: payment.StatusCompleted})
	assert.ErrorIs(t, err, payment.ErrAlreadyPaid)

	require.NoError(t, s.Create(ctx, &payment.Payment{ID: "c", OrderID: "o1", Status: payment.StatusPending}))
	_, err = s.UpdateStatus(ctx, "c", payment.StatusPending, payment.StatusCompleted, nil)
	assert.ErrorIs(t, err, payment.ErrAlreadyPaid)

	has, err := s.HasCompleted(ctx, "o1")
	require.NoError(t, err)
	assert.True(t, has)

	ok, err := s.Delete(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	note := "duplicate"
	ok, err = s.UpdateStatus(ctx, "c", payment.StatusPending, payment.StatusFailed, &note)
	require.NoError(t, err)
	require.True(t, ok)
	p, err := s.Get(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, "duplicate", p.AdminNote)

	ok, err = s.Delete(ctx, "c")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDirectory_Role(t *testing.T) {
	db := NewDB()
	db.PutUser("u1", auth.RoleAdmin)

	r, err := db.Users().Role(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, r)

	_, err = db.Users().Role(context.Background(), "ghost")
	assert.ErrorIs(t, err, auth.ErrUnknownUser)
}
