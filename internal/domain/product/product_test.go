package product

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestEffectivePrice(t *testing.T) {
	tests := []struct {
		name     string
		price    string
		discount string
		want     string
	}{
		{name: "no discount", price: "10.00", discount: "0", want: "10"},
		{name: "ten percent", price: "19.99", discount: "10", want: "17.99"},
		{name: "half", price: "7.50", discount: "50", want: "3.75"},
		{name: "full", price: "12.00", discount: "100", want: "0"},
		{name: "over hundred clamps", price: "12.00", discount: "120", want: "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Product{
				Price:    decimal.RequireFromString(tt.price),
				Discount: decimal.RequireFromString(tt.discount),
			}
			assert.True(t, decimal.RequireFromString(tt.want).Equal(p.EffectivePrice()),
				"got %s", p.EffectivePrice())
		})
	}
}

func TestNotFoundError(t *testing.T) {
	err := error(&NotFoundError{ProductID: "p9"})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "product p9 not found", err.Error())
}
