package seed

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	pgzip "github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/repository/memory"
)

const fixture = `{
  "products": [
    {"id": "p1", "name": "Mug", "price": "10.00", "category": "Kitchen", "available": 5},
    {"id": "p2", "name": "Tee", "price": "25", "discount": "20", "category": "Apparel", "available": 2}
  ],
  "users": [
    {"id": "alice", "email": "alice@example.com", "role": "GENERAL"},
    {"id": "root", "email": "root@example.com", "role": "ADMIN"}
  ]
}`

func TestLoad_Gzip(t *testing.T) {
	var buf bytes.Buffer
	gz := pgzip.NewWriter(&buf)
	_, err := gz.Write([]byte(fixture))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	path := filepath.Join(t.TempDir(), "catalog.json.gz")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	d, err := Load(path)
	require.NoError(t, err)
	require.Len(t, d.Products, 2)
	assert.Equal(t, "20", d.Products[1].Discount.String())
	assert.Len(t, d.Users, 2)
}

func TestLoad_Plain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(fixture), 0o600))

	d, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, d.Catalog(), 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestDecode_Invalid(t *testing.T) {
	tests := map[string]string{
		"negative stock": `{"products":[{"id":"p","price":"1","available":-1}]}`,
		"discount":       `{"products":[{"id":"p","price":"1","discount":"120"}]}`,
		"missing id":     `{"products":[{"price":"1"}]}`,
		"role":           `{"users":[{"id":"u","role":"OWNER"}]}`,
		"syntax":         `{"products":`,
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(in))
			assert.Error(t, err)
		})
	}
}

func TestApply_Memory(t *testing.T) {
	d, err := Decode(strings.NewReader(fixture))
	require.NoError(t, err)

	db := memory.NewDB()
	require.NoError(t, d.Apply(context.Background(), Memory(db)))

	assert.Equal(t, 5, db.StockOf("p1"))
	assert.Equal(t, 2, db.StockOf("p2"))
	role, err := db.Users().Role(context.Background(), "root")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, role)
}

func TestDefault(t *testing.T) {
	d, err := Default()
	require.NoError(t, err)
	assert.NotEmpty(t, d.Products)

	var admins int
	for _, u := range d.Users {
		if u.Role == auth.RoleAdmin {
			admins++
		}
	}
	assert.Equal(t, 1, admins)
}
