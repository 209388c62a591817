// Package memory implements the domain repositories in process memory. It is
// used for local development and tests; state is lost on restart.
package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/inventory"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/domain/product"
)

type productRow struct {
	product.Product
	version int64
}

// DB is the shared state behind all memory repositories. One mutex guards
// everything, which makes every repository call atomic.
type DB struct {
	mu       sync.Mutex
	products map[string]*productRow
	carts    map[string]*cart.Cart
	orders   map[string]*order.Order
	payments map[string]*payment.Payment
	releases map[string]struct{}
	users    map[string]auth.Role

	now func() time.Time
}

// NewDB returns an empty DB.
func NewDB() *DB {
	return &DB{
		products: map[string]*productRow{},
		carts:    map[string]*cart.Cart{},
		orders:   map[string]*order.Order{},
		payments: map[string]*payment.Payment{},
		releases: map[string]struct{}{},
		users:    map[string]auth.Role{},
		now:      time.Now,
	}
}

// PutProduct inserts or replaces a catalog product.
func (db *DB) PutProduct(p product.Product) {
	db.mu.Lock()
	defer db.mu.Unlock()
	version := int64(1)
	if row, ok := db.products[p.ID]; ok {
		version = row.version + 1
	}
	db.products[p.ID] = &productRow{Product: p, version: version}
}

// PutUser records the role of a user.
func (db *DB) PutUser(id string, role auth.Role) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.users[id] = role
}

// Products returns the catalog and stock store.
func (db *DB) Products() *ProductStore { return &ProductStore{db: db} }

// Carts returns the cart repository.
func (db *DB) Carts() *CartStore { return &CartStore{db: db} }

// Orders returns the order repository.
func (db *DB) Orders() *OrderStore { return &OrderStore{db: db} }

// Payments returns the payment repository.
func (db *DB) Payments() *PaymentStore { return &PaymentStore{db: db} }

// Users returns the role directory.
func (db *DB) Users() *Directory { return &Directory{db: db} }

var (
	_ product.Repository = (*ProductStore)(nil)
	_ inventory.Store    = (*ProductStore)(nil)
)

// ProductStore implements product.Repository and inventory.Store.
type ProductStore struct {
	db *DB
}

// GetByID implements product.Repository.
func (s *ProductStore) GetByID(_ context.Context, id string) (*product.Product, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	row, ok := s.db.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	p := row.Product
	return &p, nil
}

// GetByIDs implements product.Repository.
func (s *ProductStore) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := make([]product.Product, 0, len(ids))
	for _, id := range ids {
		if row, ok := s.db.products[id]; ok {
			out = append(out, row.Product)
		}
	}
	return out, nil
}

// Level implements inventory.Store.
func (s *ProductStore) Level(_ context.Context, id string) (inventory.Level, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	row, ok := s.db.products[id]
	if !ok {
		return inventory.Level{}, product.ErrNotFound
	}
	return inventory.Level{Available: row.Available, Version: row.version}, nil
}

// CompareAndSwap implements inventory.Store.
func (s *ProductStore) CompareAndSwap(_ context.Context, id string, version int64, available int) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	row, ok := s.db.products[id]
	if !ok {
		return false, product.ErrNotFound
	}
	if row.version != version || available < 0 {
		return false, nil
	}
	row.Available = available
	row.version++
	return true, nil
}

// Restock implements inventory.Store.
func (s *ProductStore) Restock(_ context.Context, id string, qty int, releaseKey string) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	row, ok := s.db.products[id]
	if !ok {
		return false, product.ErrNotFound
	}
	if releaseKey != "" {
		if _, done := s.db.releases[releaseKey]; done {
			return false, nil
		}
		s.db.releases[releaseKey] = struct{}{}
	}
	row.Available += qty
	row.version++
	return true, nil
}

var _ cart.Repository = (*CartStore)(nil)

// CartStore implements cart.Repository.
type CartStore struct {
	db *DB
}

// Get implements cart.Repository.
func (s *CartStore) Get(_ context.Context, userID string) (*cart.Cart, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	c, ok := s.db.carts[userID]
	if !ok {
		return nil, cart.ErrNotFound
	}
	return cloneCart(c), nil
}

// Save implements cart.Repository.
func (s *CartStore) Save(_ context.Context, c *cart.Cart) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.carts[c.UserID] = cloneCart(c)
	return nil
}

func cloneCart(c *cart.Cart) *cart.Cart {
	cp := *c
	cp.Items = slices.Clone(c.Items)
	if cp.Items == nil {
		cp.Items = []cart.Item{}
	}
	return &cp
}

var _ order.Repository = (*OrderStore)(nil)

// OrderStore implements order.Repository.
type OrderStore struct {
	db *DB
}

func cloneOrder(o *order.Order) *order.Order {
	cp := *o
	cp.Items = slices.Clone(o.Items)
	return &cp
}

// Create implements order.Repository.
func (s *OrderStore) Create(_ context.Context, o *order.Order) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.orders[o.ID] = cloneOrder(o)
	return nil
}

// Get implements order.Repository.
func (s *OrderStore) Get(_ context.Context, id string) (*order.Order, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	o, ok := s.db.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return cloneOrder(o), nil
}

func (s *OrderStore) list(keep func(*order.Order) bool) []order.Order {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := make([]order.Order, 0)
	for _, o := range s.db.orders {
		if keep(o) {
			out = append(out, *cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// ListByUser implements order.Repository.
func (s *OrderStore) ListByUser(_ context.Context, userID string) ([]order.Order, error) {
	return s.list(func(o *order.Order) bool { return o.UserID == userID }), nil
}

// List implements order.Repository.
func (s *OrderStore) List(_ context.Context) ([]order.Order, error) {
	return s.list(func(*order.Order) bool { return true }), nil
}

// Delete implements order.Repository.
func (s *OrderStore) Delete(_ context.Context, id string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	delete(s.db.orders, id)
	return nil
}

// UpdateStatus implements order.Repository.
func (s *OrderStore) UpdateStatus(_ context.Context, id string, from, to order.Status) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	o, ok := s.db.orders[id]
	if !ok {
		return false, order.ErrNotFound
	}
	if o.Status != from {
		return false, nil
	}
	o.Status = to
	o.UpdatedAt = s.db.now()
	return true, nil
}

// MarkStockReleased implements order.Repository.
func (s *OrderStore) MarkStockReleased(_ context.Context, id string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	o, ok := s.db.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	o.StockReleased = true
	o.UpdatedAt = s.db.now()
	return nil
}

// SetPaymentStatus implements order.Repository.
func (s *OrderStore) SetPaymentStatus(_ context.Context, id string, ps order.PaymentStatus) (*order.Order, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	o, ok := s.db.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	if ps == order.PaymentCompleted && o.Status == order.StatusCancelled {
		return nil, order.ErrNotPayable
	}
	o.PaymentStatus = ps
	if ps == order.PaymentCompleted && o.Status == order.StatusPending {
		o.Status = order.StatusProcessing
	}
	o.UpdatedAt = s.db.now()
	return cloneOrder(o), nil
}

// DeleteCancelled implements order.Repository.
func (s *OrderStore) DeleteCancelled(_ context.Context, userID string) (int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	n := 0
	for id, o := range s.db.orders {
		if o.Status != order.StatusCancelled || !o.StockReleased {
			continue
		}
		if userID != "" && o.UserID != userID {
			continue
		}
		delete(s.db.orders, id)
		n++
	}
	return n, nil
}

var _ payment.Repository = (*PaymentStore)(nil)

// PaymentStore implements payment.Repository.
type PaymentStore struct {
	db *DB
}

func (s *PaymentStore) completedLocked(orderID, except string) bool {
	for _, p := range s.db.payments {
		if p.OrderID == orderID && p.ID != except && p.Status == payment.StatusCompleted {
			return true
		}
	}
	return false
}

// Create implements payment.Repository.
func (s *PaymentStore) Create(_ context.Context, p *payment.Payment) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if p.Status == payment.StatusCompleted && s.completedLocked(p.OrderID, "") {
		return payment.ErrAlreadyPaid
	}
	cp := *p
	s.db.payments[p.ID] = &cp
	return nil
}

// Get implements payment.Repository.
func (s *PaymentStore) Get(_ context.Context, id string) (*payment.Payment, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	p, ok := s.db.payments[id]
	if !ok {
		return nil, payment.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *PaymentStore) list(keep func(*payment.Payment) bool) []payment.Payment {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := make([]payment.Payment, 0)
	for _, p := range s.db.payments {
		if keep(p) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return strings.Compare(out[i].ID, out[j].ID) < 0
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// ListByUser implements payment.Repository.
func (s *PaymentStore) ListByUser(_ context.Context, userID string) ([]payment.Payment, error) {
	return s.list(func(p *payment.Payment) bool { return p.UserID == userID }), nil
}

// ListByOrder implements payment.Repository.
func (s *PaymentStore) ListByOrder(_ context.Context, orderID string) ([]payment.Payment, error) {
	return s.list(func(p *payment.Payment) bool { return p.OrderID == orderID }), nil
}

// List implements payment.Repository.
func (s *PaymentStore) List(_ context.Context) ([]payment.Payment, error) {
	return s.list(func(*payment.Payment) bool { return true }), nil
}

// HasCompleted implements payment.Repository.
func (s *PaymentStore) HasCompleted(_ context.Context, orderID string) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.completedLocked(orderID, ""), nil
}

// UpdateStatus implements payment.Repository.
func (s *PaymentStore) UpdateStatus(_ context.Context, id string, from, to payment.Status, note *string) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	p, ok := s.db.payments[id]
	if !ok {
		return false, payment.ErrNotFound
	}
	if p.Status != from {
		return false, nil
	}
	if to == payment.StatusCompleted && s.completedLocked(p.OrderID, id) {
		return false, payment.ErrAlreadyPaid
	}
	p.Status = to
	if note != nil {
		p.AdminNote = *note
	}
	return true, nil
}

// Delete implements payment.Repository.
func (s *PaymentStore) Delete(_ context.Context, id string) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	p, ok := s.db.payments[id]
	if !ok {
		return false, payment.ErrNotFound
	}
	if !p.Status.Deletable() {
		return false, nil
	}
	delete(s.db.payments, id)
	return true, nil
}

var _ auth.Directory = (*Directory)(nil)

// Directory implements auth.Directory.
type Directory struct {
	db *DB
}

// Role implements auth.Directory.
func (d *Directory) Role(_ context.Context, userID string) (auth.Role, error) {
	d.db.mu.Lock()
	defer d.db.mu.Unlock()
	r, ok := d.db.users[userID]
	if !ok {
		return "", auth.ErrUnknownUser
	}
	return r, nil
}

// StockOf returns the available quantity of a product, for tests and seeding
// checks.
func (db *DB) StockOf(id string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	if row, ok := db.products[id]; ok {
		return row.Available
	}
	return 0
}
