package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-checkout/internal/domain/auth"
)

const (
	getUserRoleSQL = `SELECT role FROM users WHERE id = $1`

	upsertUserSQL = `INSERT INTO users (id, email, role) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, role = EXCLUDED.role`
)

var _ auth.Directory = (*UserRepository)(nil)

// UserRepository implements auth.Directory backed by PostgreSQL.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a UserRepository that uses the given pool.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// Role returns the current role of userID or auth.ErrUnknownUser.
func (r *UserRepository) Role(ctx context.Context, userID string) (auth.Role, error) {
	var role string
	if err := r.pool.QueryRow(ctx, getUserRoleSQL, userID).Scan(&role); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", auth.ErrUnknownUser
		}
		return "", fmt.Errorf("getting role of %q: %w", userID, err)
	}
	return auth.Role(role), nil
}

// Upsert inserts or updates a user. Used by the seeder.
func (r *UserRepository) Upsert(ctx context.Context, id, email string, role auth.Role) error {
	if _, err := r.pool.Exec(ctx, upsertUserSQL, id, email, string(role)); err != nil {
		return fmt.Errorf("upserting user %q: %w", id, err)
	}
	return nil
}
