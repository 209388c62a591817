package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/kart-checkout/internal/domain/inventory"
	"github.com/xenking/kart-checkout/internal/domain/product"
)

// Service implements cart operations. Stock checks here are advisory; the
// authoritative check happens when checkout reserves stock.
type Service struct {
	carts    Repository
	products product.Repository
	now      func() time.Time
}

// NewService creates a cart Service.
func NewService(carts Repository, products product.Repository) *Service {
	return &Service{
		carts:    carts,
		products: products,
		now:      time.Now,
	}
}

// Get returns the user's cart, creating an empty one if none exists.
func (s *Service) Get(ctx context.Context, userID string) (*Cart, error) {
	c, err := s.carts.Get(ctx, userID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, errors.Wrap(err, "get cart")
	}
	c = &Cart{UserID: userID, Items: []Item{}, UpdatedAt: s.now()}
	if err := s.carts.Save(ctx, c); err != nil {
		return nil, errors.Wrap(err, "create cart")
	}
	return c, nil
}

// AddItem adds qty units of a product. Adding a product already in the cart
// increases that line's quantity and keeps its captured price.
func (s *Service) AddItem(ctx context.Context, userID, productID string, qty int) (*Cart, error) {
	if qty < 1 {
		return nil, ErrInvalidQuantity
	}
	p, err := s.products.GetByID(ctx, productID)
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "get product")
	}

	c, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if i := c.itemByProduct(productID); i >= 0 {
		want := c.Items[i].Quantity + qty
		if err := checkStock(p, want); err != nil {
			return nil, err
		}
		c.Items[i].Quantity = want
	} else {
		if err := checkStock(p, qty); err != nil {
			return nil, err
		}
		c.Items = append(c.Items, Item{
			ID:        uuid.New().String(),
			ProductID: p.ID,
			Name:      p.Name,
			Quantity:  qty,
			UnitPrice: p.EffectivePrice(),
		})
	}
	return s.save(ctx, c)
}

// UpdateItemQuantity sets the quantity of an existing line.
func (s *Service) UpdateItemQuantity(ctx context.Context, userID, itemID string, qty int) (*Cart, error) {
	if qty < 1 {
		return nil, ErrInvalidQuantity
	}
	c, err := s.existing(ctx, userID)
	if err != nil {
		return nil, err
	}
	i := c.itemByID(itemID)
	if i < 0 {
		return nil, ErrItemNotFound
	}

	p, err := s.products.GetByID(ctx, c.Items[i].ProductID)
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "get product")
	}
	if err := checkStock(p, qty); err != nil {
		return nil, err
	}

	c.Items[i].Quantity = qty
	return s.save(ctx, c)
}

// RemoveItem deletes a line.
func (s *Service) RemoveItem(ctx context.Context, userID, itemID string) (*Cart, error) {
	c, err := s.existing(ctx, userID)
	if err != nil {
		return nil, err
	}
	i := c.itemByID(itemID)
	if i < 0 {
		return nil, ErrItemNotFound
	}
	c.Items = append(c.Items[:i], c.Items[i+1:]...)
	return s.save(ctx, c)
}

// Clear empties the cart.
func (s *Service) Clear(ctx context.Context, userID string) (*Cart, error) {
	c, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.Items = []Item{}
	return s.save(ctx, c)
}

// existing returns the stored cart; a missing cart has no items to address.
func (s *Service) existing(ctx context.Context, userID string) (*Cart, error) {
	c, err := s.carts.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrItemNotFound
		}
		return nil, errors.Wrap(err, "get cart")
	}
	return c, nil
}

func (s *Service) save(ctx context.Context, c *Cart) (*Cart, error) {
	c.UpdatedAt = s.now()
	if err := s.carts.Save(ctx, c); err != nil {
		return nil, errors.Wrap(err, "save cart")
	}
	return c, nil
}

func checkStock(p *product.Product, want int) error {
	if p.Available < want {
		return &inventory.InsufficientStockError{
			ProductID: p.ID,
			Requested: want,
			Available: p.Available,
		}
	}
	return nil
}
