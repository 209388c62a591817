package payment

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-checkout/internal/domain/apperr"
	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/order"
)

// --- Mock implementations ---

type mockPaymentRepo struct {
	mu        sync.Mutex
	payments  map[string]*Payment
	createErr error
}

func newPaymentRepo() *mockPaymentRepo {
	return &mockPaymentRepo{payments: map[string]*Payment{}}
}

func (m *mockPaymentRepo) completedLocked(orderID, except string) bool {
	for _, p := range m.payments {
		if p.OrderID == orderID && p.ID != except && p.Status == StatusCompleted {
			return true
		}
	}
	return false
}

func (m *mockPaymentRepo) Create(_ context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if p.Status == StatusCompleted && m.completedLocked(p.OrderID, "") {
		return ErrAlreadyPaid
	}
	cp := *p
	m.payments[p.ID] = &cp
	return nil
}

func (m *mockPaymentRepo) Get(_ context.Context, id string) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockPaymentRepo) filter(keep func(*Payment) bool) []Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Payment
	for _, p := range m.payments {
		if keep(p) {
			out = append(out, *p)
		}
	}
	return out
}

func (m *mockPaymentRepo) ListByUser(_ context.Context, userID string) ([]Payment, error) {
	return m.filter(func(p *Payment) bool { return p.UserID == userID }), nil
}

func (m *mockPaymentRepo) ListByOrder(_ context.Context, orderID string) ([]Payment, error) {
	return m.filter(func(p *Payment) bool { return p.OrderID == orderID }), nil
}

func (m *mockPaymentRepo) List(_ context.Context) ([]Payment, error) {
	return m.filter(func(*Payment) bool { return true }), nil
}

func (m *mockPaymentRepo) HasCompleted(_ context.Context, orderID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.completedLocked(orderID, ""), nil
}

func (m *mockPaymentRepo) UpdateStatus(_ context.Context, id string, from, to Status, note *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok || p.Status != from {
		return false, nil
	}
	if to == StatusCompleted && m.completedLocked(p.OrderID, id) {
		return false, ErrAlreadyPaid
	}
	p.Status = to
	if note != nil {
		p.AdminNote = *note
	}
	return true, nil
}

func (m *mockPaymentRepo) Delete(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok || !p.Status.Deletable() {
		return false, nil
	}
	delete(m.payments, id)
	return true, nil
}

type mockOrders struct {
	mu       sync.Mutex
	orders   map[string]*order.Order
	applyErr error
	// afterLookup runs once the snapshot has been taken, outside the lock.
	afterLookup func()
}

func (m *mockOrders) Lookup(_ context.Context, id string) (*order.Order, error) {
	m.mu.Lock()
	o, ok := m.orders[id]
	if !ok {
		m.mu.Unlock()
		return nil, order.ErrNotFound
	}
	cp := *o
	m.mu.Unlock()
	if m.afterLookup != nil {
		m.afterLookup()
	}
	return &cp, nil
}

func (m *mockOrders) cancel(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[id].Status = order.StatusCancelled
}

func (m *mockOrders) ApplyPaymentStatus(_ context.Context, id string, ps order.PaymentStatus) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.applyErr != nil {
		return nil, m.applyErr
	}
	o := m.orders[id]
	if ps == order.PaymentCompleted && o.Status == order.StatusCancelled {
		return nil, order.ErrNotPayable
	}
	o.PaymentStatus = ps
	if ps == order.PaymentCompleted && o.Status == order.StatusPending {
		o.Status = order.StatusProcessing
	}
	cp := *o
	return &cp, nil
}

type mockAuthorizer struct {
	decline string
	err     error
	calls   int
	voided  []string
}

func (m *mockAuthorizer) Authorize(_ context.Context, req AuthorizationRequest) (Authorization, error) {
	m.calls++
	if m.err != nil {
		return Authorization{}, m.err
	}
	if m.decline != "" {
		return Authorization{DeclineReason: m.decline, Brand: "visa"}, nil
	}
	return Authorization{Approved: true, TransactionID: "CARD-1", Brand: Brand(digits(req.Card.Number))}, nil
}

func (m *mockAuthorizer) Void(_ context.Context, id string) error {
	m.voided = append(m.voided, id)
	return nil
}

// --- Helpers ---

var (
	shopper = auth.Principal{ID: "u1", Role: auth.RoleGeneral}
	other   = auth.Principal{ID: "u2", Role: auth.RoleGeneral}
	admin   = auth.Principal{ID: "a1", Role: auth.RoleAdmin}
	total   = decimal.NewFromInt(40)
)

func validCard() CardInput {
	return CardInput{Number: "4242 4242 4242 4242", Holder: "Jane Doe", ExpMonth: 12, ExpYear: 2030, CVV: "123"}
}

func validTransfer() BankTransfer {
	return BankTransfer{
		AccountName:     "Jane Doe",
		BankName:        "First Bank",
		TransferDate:    "2025-04-30",
		ReferenceNumber: "REF-778",
	}
}

type fixture struct {
	proc   *Processor
	repo   *mockPaymentRepo
	orders *mockOrders
	authz  *mockAuthorizer
}

func newFixture() fixture {
	f := fixture{
		repo: newPaymentRepo(),
		orders: &mockOrders{orders: map[string]*order.Order{
			"o1": {
				ID:            "o1",
				UserID:        shopper.ID,
				TotalAmount:   total,
				Status:        order.StatusPending,
				PaymentStatus: order.PaymentPending,
				Items: []order.Item{
					{ProductID: "p1", Name: "Widget", Quantity: 2, UnitPrice: decimal.NewFromInt(10)},
					{ProductID: "p2", Name: "Gadget", Quantity: 1, UnitPrice: decimal.NewFromInt(20)},
				},
			},
		}},
		authz: &mockAuthorizer{},
	}
	f.proc = NewProcessor(f.repo, f.orders, f.authz, auth.NewGuard(nil), nil)
	f.proc.now = func() time.Time { return time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC) }
	return f
}

func (f fixture) order(t *testing.T) *order.Order {
	t.Helper()
	o, err := f.orders.Lookup(context.Background(), "o1")
	require.NoError(t, err)
	return o
}

// --- Tests ---

func TestProcessor_Submit_Card(t *testing.T) {
	f := newFixture()
	pay, err := f.proc.Submit(context.Background(), shopper, Submission{
		OrderID: "o1", Amount: total, Instrument: validCard(),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, pay.Status)
	assert.Equal(t, Card{Last4: "4242", Brand: "visa"}, pay.Method)
	assert.Equal(t, "CARD-1", pay.TransactionID)

	o := f.order(t)
	assert.Equal(t, order.PaymentCompleted, o.PaymentStatus)
	assert.Equal(t, order.StatusProcessing, o.Status)
}

func TestProcessor_Submit_CardDeclined(t *testing.T) {
	f := newFixture()
	f.authz.decline = "do not honor"

	_, err := f.proc.Submit(context.Background(), shopper, Submission{
		OrderID: "o1", Amount: total, Instrument: validCard(),
	})
	var declined *DeclinedError
	require.ErrorAs(t, err, &declined)
	assert.Equal(t, apperr.KindMethodFailure, apperr.KindOf(err))

	all, _ := f.repo.List(context.Background())
	assert.Empty(t, all)
	assert.Equal(t, order.PaymentPending, f.order(t).PaymentStatus)
}

func TestProcessor_Submit_AlreadyPaid(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	_, err := f.proc.Submit(ctx, shopper, Submission{OrderID: "o1", Amount: total, Instrument: validCard()})
	require.NoError(t, err)

	for _, in := range []Instrument{validCard(), validTransfer(), CashOnDelivery{}} {
		t.Run(string(in.Kind()), func(t *testing.T) {
			_, err := f.proc.Submit(ctx, shopper, Submission{OrderID: "o1", Amount: total, Instrument: in})
			require.ErrorIs(t, err, ErrAlreadyPaid)
		})
	}
	assert.Equal(t, 1, f.authz.calls)
}

func TestProcessor_Submit_RaceVoidsAuthorization(t *testing.T) {
	f := newFixture()
	// Another request completes a payment between the pre-check and insert.
	f.repo.createErr = ErrAlreadyPaid

	_, err := f.proc.Submit(context.Background(), shopper, Submission{
		OrderID: "o1", Amount: total, Instrument: validCard(),
	})
	require.ErrorIs(t, err, ErrAlreadyPaid)
	assert.Equal(t, []string{"CARD-1"}, f.authz.voided)
}

func TestProcessor_Submit_OrderUpdateFailureMarksPaymentFailed(t *testing.T) {
	f := newFixture()
	f.orders.applyErr = errors.New("db unavailable")

	_, err := f.proc.Submit(context.Background(), shopper, Submission{
		OrderID: "o1", Amount: total, Instrument: validCard(),
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnexpected, apperr.KindOf(err))

	all, _ := f.repo.List(context.Background())
	require.Len(t, all, 1)
	assert.Equal(t, StatusFailed, all[0].Status)
	assert.Equal(t, []string{"CARD-1"}, f.authz.voided)
}

func TestProcessor_Submit_OrderCancelledMidway(t *testing.T) {
	f := newFixture()
	// The shopper cancels after the processor read the order as pending.
	f.orders.afterLookup = func() { f.orders.cancel("o1") }

	_, err := f.proc.Submit(context.Background(), shopper, Submission{
		OrderID: "o1", Amount: total, Instrument: validCard(),
	})
	require.ErrorIs(t, err, ErrOrderNotPayable)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	all, _ := f.repo.List(context.Background())
	require.Len(t, all, 1)
	assert.Equal(t, StatusFailed, all[0].Status)
	assert.Equal(t, []string{"CARD-1"}, f.authz.voided)

	o := f.order(t)
	assert.Equal(t, order.StatusCancelled, o.Status)
	assert.Equal(t, order.PaymentPending, o.PaymentStatus)
}

func TestProcessor_Submit_Validation(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		pr   auth.Principal
		sub  Submission
		want error
	}{
		{
			name: "unknown order",
			pr:   shopper,
			sub:  Submission{OrderID: "nope", Amount: total, Instrument: validCard()},
			want: order.ErrNotFound,
		},
		{
			name: "not owner",
			pr:   other,
			sub:  Submission{OrderID: "o1", Amount: total, Instrument: validCard()},
			want: apperr.ErrForbidden,
		},
		{
			name: "wrong amount",
			pr:   shopper,
			sub:  Submission{OrderID: "o1", Amount: decimal.NewFromInt(39), Instrument: CashOnDelivery{}},
			want: ErrAmountMismatch,
		},
		{
			name: "no method",
			pr:   shopper,
			sub:  Submission{OrderID: "o1", Amount: total},
			want: ErrUnsupportedMethod,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			_, err := f.proc.Submit(ctx, tt.pr, tt.sub)
			require.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("incomplete bank transfer", func(t *testing.T) {
		f := newFixture()
		in := validTransfer()
		in.ReferenceNumber = ""
		_, err := f.proc.Submit(ctx, shopper, Submission{OrderID: "o1", Amount: total, Instrument: in})
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	})

	t.Run("bad card", func(t *testing.T) {
		f := newFixture()
		in := validCard()
		in.CVV = "1x3"
		_, err := f.proc.Submit(ctx, shopper, Submission{OrderID: "o1", Amount: total, Instrument: in})
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		assert.Zero(t, f.authz.calls)
	})

	t.Run("cancelled order", func(t *testing.T) {
		f := newFixture()
		f.orders.orders["o1"].Status = order.StatusCancelled
		_, err := f.proc.Submit(ctx, shopper, Submission{OrderID: "o1", Amount: total, Instrument: CashOnDelivery{}})
		require.ErrorIs(t, err, ErrOrderNotPayable)
	})
}

func TestProcessor_BankTransferSettledByAdmin(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	pay, err := f.proc.Submit(ctx, shopper, Submission{OrderID: "o1", Amount: total, Instrument: validTransfer()})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, pay.Status)
	assert.Equal(t, order.StatusPending, f.order(t).Status)

	_, err = f.proc.UpdateStatus(ctx, shopper, pay.ID, StatusCompleted, nil)
	require.ErrorIs(t, err, apperr.ErrForbidden)

	note := "funds received"
	pay, err = f.proc.UpdateStatus(ctx, admin, pay.ID, StatusCompleted, &note)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, pay.Status)
	assert.Equal(t, "funds received", pay.AdminNote)

	o := f.order(t)
	assert.Equal(t, order.PaymentCompleted, o.PaymentStatus)
	assert.Equal(t, order.StatusProcessing, o.Status)

	pay, err = f.proc.UpdateStatus(ctx, admin, pay.ID, StatusRefunded, nil)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentRefunded, f.order(t).PaymentStatus)

	_, err = f.proc.UpdateStatus(ctx, admin, pay.ID, StatusPending, nil)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestProcessor_UpdateStatus_SecondCompletionRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	first, err := f.proc.Submit(ctx, shopper, Submission{OrderID: "o1", Amount: total, Instrument: validTransfer()})
	require.NoError(t, err)
	second, err := f.proc.Submit(ctx, shopper, Submission{OrderID: "o1", Amount: total, Instrument: CashOnDelivery{}})
	require.NoError(t, err)

	_, err = f.proc.UpdateStatus(ctx, admin, first.ID, StatusCompleted, nil)
	require.NoError(t, err)
	_, err = f.proc.UpdateStatus(ctx, admin, second.ID, StatusCompleted, nil)
	require.ErrorIs(t, err, ErrAlreadyPaid)
}

func TestProcessor_UpdateStatus_FailedIsNotMirrored(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	pay, err := f.proc.Submit(ctx, shopper, Submission{OrderID: "o1", Amount: total, Instrument: CashOnDelivery{}})
	require.NoError(t, err)

	_, err = f.proc.UpdateStatus(ctx, admin, pay.ID, StatusFailed, nil)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentPending, f.order(t).PaymentStatus)
}

func TestProcessor_ReconcileOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	_, err := f.proc.ReconcileOrder(ctx, shopper, "o1", order.PaymentCompleted)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	_, err = f.proc.Submit(ctx, shopper, Submission{OrderID: "o1", Amount: total, Instrument: validCard()})
	require.NoError(t, err)

	_, err = f.proc.ReconcileOrder(ctx, shopper, "o1", order.PaymentFailed)
	require.ErrorIs(t, err, ErrAlreadyPaid)

	_, err = f.proc.ReconcileOrder(ctx, other, "o1", order.PaymentCompleted)
	require.ErrorIs(t, err, apperr.ErrForbidden)

	o, err := f.proc.ReconcileOrder(ctx, admin, "o1", order.PaymentCompleted)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentCompleted, o.PaymentStatus)
}

func TestProcessor_Delete(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	pending, err := f.proc.Submit(ctx, shopper, Submission{OrderID: "o1", Amount: total, Instrument: CashOnDelivery{}})
	require.NoError(t, err)

	require.ErrorIs(t, f.proc.Delete(ctx, shopper, pending.ID), apperr.ErrForbidden)
	require.NoError(t, f.proc.Delete(ctx, admin, pending.ID))
	require.ErrorIs(t, f.proc.Delete(ctx, admin, pending.ID), ErrNotFound)

	paid, err := f.proc.Submit(ctx, shopper, Submission{OrderID: "o1", Amount: total, Instrument: validCard()})
	require.NoError(t, err)
	require.ErrorIs(t, f.proc.Delete(ctx, admin, paid.ID), ErrNotDeletable)
}

func TestProcessor_Lists(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	pay, err := f.proc.Submit(ctx, shopper, Submission{OrderID: "o1", Amount: total, Instrument: CashOnDelivery{}})
	require.NoError(t, err)

	mine, err := f.proc.ListMine(ctx, shopper)
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	theirs, err := f.proc.ListMine(ctx, other)
	require.NoError(t, err)
	assert.Empty(t, theirs)

	_, err = f.proc.ListAll(ctx, shopper)
	require.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.proc.Get(ctx, other, pay.ID)
	require.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestProcessor_Receipt(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	pay, err := f.proc.Submit(ctx, shopper, Submission{OrderID: "o1", Amount: total, Instrument: validCard()})
	require.NoError(t, err)

	r, err := f.proc.Receipt(ctx, shopper, pay.ID, "Kart Store")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, r.Render(&buf))
	out := buf.String()
	assert.Contains(t, out, "Kart Store")
	assert.Contains(t, out, "visa card ending 4242")
	assert.Contains(t, out, "Widget")
	assert.Contains(t, out, "Order total:    40.00")

	_, err = f.proc.Receipt(ctx, other, pay.ID, "Kart Store")
	require.ErrorIs(t, err, apperr.ErrForbidden)
}
