// Package seed reads catalog and user fixtures used to bootstrap a store.
package seed

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/db"
	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/product"
)

// Product is a catalog entry with its starting stock.
type Product struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Discount  decimal.Decimal `json:"discount"`
	Category  string          `json:"category"`
	Available int             `json:"available"`
}

// User is a known account and its role.
type User struct {
	ID    string    `json:"id"`
	Email string    `json:"email"`
	Role  auth.Role `json:"role"`
}

// Data is the content of a seed file.
type Data struct {
	Products []Product `json:"products"`
	Users    []User    `json:"users"`
}

// Load reads a seed file. Files ending in .gz are decompressed.
func Load(path string) (*Data, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrapf(err, "create gzip reader for %s", path)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}
	return Decode(r)
}

// Default returns the embedded demo catalog.
func Default() (*Data, error) {
	return Decode(bytes.NewReader(db.Catalog))
}

// Decode parses and validates seed data.
func Decode(r io.Reader) (*Data, error) {
	var d Data
	if err := json.NewDecoder(r).Decode(&d); err != nil {
		return nil, errors.Wrap(err, "parse seed JSON")
	}
	if err := d.validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

func (d *Data) validate() error {
	for _, p := range d.Products {
		switch {
		case p.ID == "":
			return errors.New("product without id")
		case p.Available < 0:
			return errors.Errorf("product %s: negative stock", p.ID)
		case p.Price.IsNegative():
			return errors.Errorf("product %s: negative price", p.ID)
		case p.Discount.IsNegative() || p.Discount.GreaterThan(decimal.NewFromInt(100)):
			return errors.Errorf("product %s: discount must be within 0..100", p.ID)
		}
	}
	for _, u := range d.Users {
		if u.ID == "" {
			return errors.New("user without id")
		}
		if !u.Role.Valid() {
			return errors.Errorf("user %s: unknown role %q", u.ID, u.Role)
		}
	}
	return nil
}

// Catalog returns the products as domain values.
func (d *Data) Catalog() []product.Product {
	out := make([]product.Product, len(d.Products))
	for i, p := range d.Products {
		out[i] = product.Product{
			ID:        p.ID,
			Name:      p.Name,
			Price:     p.Price,
			Discount:  p.Discount,
			Category:  p.Category,
			Available: p.Available,
		}
	}
	return out
}

// Target receives seeded records.
type Target interface {
	PutProduct(ctx context.Context, p product.Product) error
	PutUser(ctx context.Context, u User) error
}

// Apply writes every product and user to t.
func (d *Data) Apply(ctx context.Context, t Target) error {
	for _, p := range d.Catalog() {
		if err := t.PutProduct(ctx, p); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}
	}
	for _, u := range d.Users {
		if err := t.PutUser(ctx, u); err != nil {
			return errors.Wrapf(err, "upsert user %s", u.ID)
		}
	}
	return nil
}
