package seed

import (
	"context"

	"github.com/xenking/kart-checkout/internal/domain/product"
	"github.com/xenking/kart-checkout/internal/repository"
	"github.com/xenking/kart-checkout/internal/repository/memory"
)

type memoryTarget struct{ db *memory.DB }

// Memory returns a Target writing to an in-memory database.
func Memory(db *memory.DB) Target { return memoryTarget{db: db} }

func (t memoryTarget) PutProduct(_ context.Context, p product.Product) error {
	t.db.PutProduct(p)
	return nil
}

func (t memoryTarget) PutUser(_ context.Context, u User) error {
	t.db.PutUser(u.ID, u.Role)
	return nil
}

type postgresTarget struct{ store *repository.Store }

// Postgres returns a Target upserting into PostgreSQL.
func Postgres(store *repository.Store) Target { return postgresTarget{store: store} }

func (t postgresTarget) PutProduct(ctx context.Context, p product.Product) error {
	return t.store.Products.Upsert(ctx, p)
}

func (t postgresTarget) PutUser(ctx context.Context, u User) error {
	return t.store.Users.Upsert(ctx, u.ID, u.Email, u.Role)
}
