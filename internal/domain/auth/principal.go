package auth

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-checkout/internal/domain/apperr"
)

// Role is the coarse permission level of a principal.
type Role string

const (
	RoleGeneral  Role = "GENERAL"
	RoleAdmin    Role = "ADMIN"
	RoleEmployee Role = "EMPLOYEE"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleGeneral, RoleAdmin, RoleEmployee:
		return true
	}
	return false
}

// Principal is the authenticated caller of an operation.
type Principal struct {
	ID   string
	Role Role
}

// IsAdmin reports whether the principal claims the admin role. It does not
// re-validate the claim; use Guard.RequireAdmin for that.
func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// Owns reports whether the principal may act on a resource owned by userID:
// the owner itself or an admin.
func (p Principal) Owns(userID string) bool {
	return p.ID == userID || p.IsAdmin()
}

// ErrUnauthenticated is returned when no principal is attached to a request.
var ErrUnauthenticated = apperr.New(apperr.KindUnauthorized, "authentication required")

// ErrUnknownUser is returned by a Directory for ids it does not know.
var ErrUnknownUser = apperr.New(apperr.KindUnauthorized, "unknown user")

type principalKey struct{}

// WithPrincipal attaches p to ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal attached to ctx.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Directory resolves the current role of a user from the identity store.
type Directory interface {
	Role(ctx context.Context, userID string) (Role, error)
}

// Guard performs capability checks for privileged operations.
//
// With a Directory the role is looked up again on every check, so a demoted
// admin loses access before their token expires. Without one the token claim
// is trusted.
type Guard struct {
	dir Directory
}

// NewGuard returns a Guard. dir may be nil.
func NewGuard(dir Directory) *Guard {
	return &Guard{dir: dir}
}

// RequireAdmin fails with a Forbidden error unless p is currently an admin.
func (g *Guard) RequireAdmin(ctx context.Context, p Principal) error {
	if !p.IsAdmin() {
		return apperr.ErrForbidden
	}
	if g == nil || g.dir == nil {
		return nil
	}
	role, err := g.dir.Role(ctx, p.ID)
	if err != nil {
		if errors.Is(err, ErrUnknownUser) {
			return apperr.ErrForbidden
		}
		return errors.Wrap(err, "resolve role")
	}
	if role != RoleAdmin {
		return apperr.ErrForbidden
	}
	return nil
}

// RequireOwner fails with a Forbidden error unless p owns the resource or is
// currently an admin.
func (g *Guard) RequireOwner(ctx context.Context, p Principal, ownerID string) error {
	if p.ID == ownerID {
		return nil
	}
	return g.RequireAdmin(ctx, p)
}
