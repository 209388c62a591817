//go:build integration

package repository

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/inventory"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/domain/product"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	ctr, err := postgres.Run(ctx, "postgres:17-alpine",
		postgres.WithDatabase("kart"),
		postgres.WithUsername("kart"),
		postgres.WithPassword("kart"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := testcontainers.TerminateContainer(ctr); err != nil {
			log.Printf("terminate postgres: %v", err)
		}
	}()

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Fatalf("connection string: %v", err)
	}
	testPool, err = NewPool(ctx, dsn)
	if err != nil {
		log.Fatalf("pool: %v", err)
	}
	defer testPool.Close()

	if err := RunMigrations(ctx, testPool); err != nil {
		log.Fatalf("migrations: %v", err)
	}
	return m.Run()
}

func seedProduct(t *testing.T, id string, available int) {
	t.Helper()
	err := NewProductRepository(testPool).Upsert(context.Background(), product.Product{
		ID:        id,
		Name:      "Product " + id,
		Price:     decimal.RequireFromString("12.50"),
		Discount:  decimal.NewFromInt(10),
		Available: available,
	})
	require.NoError(t, err)
}

func TestProductRepository_Ledger(t *testing.T) {
	ctx := context.Background()
	repo := NewProductRepository(testPool)
	seedProduct(t, "ledger-1", 5)

	p, err := repo.GetByID(ctx, "ledger-1")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("11.25").Equal(p.EffectivePrice()))

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, product.ErrNotFound)

	ledger := inventory.NewLedger(repo, inventory.Config{MaxAttempts: 50})
	var g errgroup.Group
	var reserved, short int32
	results := make(chan error, 4)
	for range 4 {
		g.Go(func() error {
			results <- ledger.Reserve(ctx, "ledger-1", 2)
			return nil
		})
	}
	require.NoError(t, g.Wait())
	close(results)
	for err := range results {
		var stockErr *inventory.InsufficientStockError
		switch {
		case err == nil:
			reserved++
		case assert.ErrorAs(t, err, &stockErr):
			short++
		}
	}
	assert.Equal(t, int32(2), reserved)
	assert.Equal(t, int32(2), short)

	lvl, err := repo.Level(ctx, "ledger-1")
	require.NoError(t, err)
	assert.Equal(t, 1, lvl.Available)

	applied, err := ledger.ReleaseOnce(ctx, "o-1:0", "ledger-1", 2)
	require.NoError(t, err)
	assert.True(t, applied)
	applied, err = ledger.ReleaseOnce(ctx, "o-1:0", "ledger-1", 2)
	require.NoError(t, err)
	assert.False(t, applied)

	lvl, err = repo.Level(ctx, "ledger-1")
	require.NoError(t, err)
	assert.Equal(t, 3, lvl.Available)
}

func TestCartRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewCartRepository(testPool)

	_, err := repo.Get(ctx, "cart-user")
	assert.ErrorIs(t, err, cart.ErrNotFound)

	c := &cart.Cart{
		UserID:    "cart-user",
		Items:     []cart.Item{{ID: "i1", ProductID: "p1", Name: "Mug", Quantity: 2, UnitPrice: decimal.RequireFromString("9.99")}},
		UpdatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, repo.Save(ctx, c))

	got, err := repo.Get(ctx, "cart-user")
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.True(t, decimal.RequireFromString("19.98").Equal(got.Total()))

	c.Items = nil
	require.NoError(t, repo.Save(ctx, c))
	got, err = repo.Get(ctx, "cart-user")
	require.NoError(t, err)
	assert.True(t, got.IsEmpty())
}

func TestOrderRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository(testPool)
	now := time.Now().UTC().Truncate(time.Millisecond)

	o := &order.Order{
		ID:              "order-lifecycle",
		UserID:          "order-user",
		Items:           []order.Item{{ProductID: "p1", Name: "Mug", Quantity: 1, UnitPrice: decimal.NewFromInt(40)}},
		TotalAmount:     decimal.NewFromInt(40),
		ShippingAddress: order.ShippingAddress{Address: "1 Main St", City: "Springfield", Phone: "555"},
		Status:          order.StatusPending,
		PaymentStatus:   order.PaymentPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, repo.Create(ctx, o))

	got, err := repo.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ShippingAddress, got.ShippingAddress)
	assert.True(t, o.TotalAmount.Equal(got.TotalAmount))

	got, err = repo.SetPaymentStatus(ctx, o.ID, order.PaymentCompleted)
	require.NoError(t, err)
	assert.Equal(t, order.StatusProcessing, got.Status)

	ok, err := repo.UpdateStatus(ctx, o.ID, order.StatusPending, order.StatusCancelled)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = repo.UpdateStatus(ctx, "nope", order.StatusPending, order.StatusCancelled)
	assert.ErrorIs(t, err, order.ErrNotFound)

	ok, err = repo.UpdateStatus(ctx, o.ID, order.StatusProcessing, order.StatusCancelled)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = repo.SetPaymentStatus(ctx, o.ID, order.PaymentCompleted)
	require.ErrorIs(t, err, order.ErrNotPayable)
	_, err = repo.SetPaymentStatus(ctx, "nope", order.PaymentCompleted)
	require.ErrorIs(t, err, order.ErrNotFound)

	n, err := repo.DeleteCancelled(ctx, "order-user")
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, repo.MarkStockReleased(ctx, o.ID))
	n, err = repo.DeleteCancelled(ctx, "order-user")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPaymentRepository_OneCompletedPerOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewPaymentRepository(testPool)
	now := time.Now().UTC()

	card := &payment.Payment{
		ID: "pay-1", OrderID: "order-paid", UserID: "u1",
		Amount:        decimal.NewFromInt(40),
		Method:        payment.Card{Last4: "4242", Brand: "visa"},
		TransactionID: "CARD-1",
		Status:        payment.StatusCompleted,
		CreatedAt:     now, UpdatedAt: now,
	}
	require.NoError(t, repo.Create(ctx, card))

	dup := *card
	dup.ID = "pay-2"
	assert.ErrorIs(t, repo.Create(ctx, &dup), payment.ErrAlreadyPaid)

	transfer := &payment.Payment{
		ID: "pay-3", OrderID: "order-paid", UserID: "u1",
		Amount:    decimal.NewFromInt(40),
		Method:    payment.BankTransfer{AccountName: "A", BankName: "B", TransferDate: "2025-01-02", ReferenceNumber: "R"},
		Status:    payment.StatusPending,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, repo.Create(ctx, transfer))

	_, err := repo.UpdateStatus(ctx, "pay-3", payment.StatusPending, payment.StatusCompleted, nil)
	assert.ErrorIs(t, err, payment.ErrAlreadyPaid)

	note := "duplicate transfer"
	ok, err := repo.UpdateStatus(ctx, "pay-3", payment.StatusPending, payment.StatusFailed, &note)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := repo.Get(ctx, "pay-3")
	require.NoError(t, err)
	assert.Equal(t, note, got.AdminNote)
	assert.Equal(t, transfer.Method, got.Method)

	has, err := repo.HasCompleted(ctx, "order-paid")
	require.NoError(t, err)
	assert.True(t, has)

	ok, err = repo.Delete(ctx, "pay-1")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = repo.Delete(ctx, "pay-3")
	require.NoError(t, err)
	assert.True(t, ok)

	list, err := repo.ListByOrder(ctx, "order-paid")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestUserRepository_Role(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(testPool)
	require.NoError(t, repo.Upsert(ctx, "admin-1", "admin@example.com", auth.RoleAdmin))

	role, err := repo.Role(ctx, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, role)

	_, err = repo.Role(ctx, "ghost")
	assert.ErrorIs(t, err, auth.ErrUnknownUser)
}
