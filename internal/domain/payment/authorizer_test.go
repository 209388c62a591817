package payment

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulator_Authorize(t *testing.T) {
	sim := NewSimulator(SimulatorConfig{DeclinedNumbers: []string{"4000000000000002"}})
	sim.now = func() time.Time { return time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC) }

	tests := []struct {
		name     string
		card     CardInput
		approved bool
		reason   string
		brand    string
	}{
		{name: "visa", card: CardInput{Number: "4242424242424242", ExpMonth: 1, ExpYear: 2030}, approved: true, brand: "visa"},
		{name: "mastercard", card: CardInput{Number: "5555555555554444", ExpMonth: 6, ExpYear: 2025}, approved: true, brand: "mastercard"},
		{name: "amex", card: CardInput{Number: "378282246310005", ExpMonth: 1, ExpYear: 2030}, approved: true, brand: "amex"},
		{name: "luhn", card: CardInput{Number: "4242424242424241", ExpMonth: 1, ExpYear: 2030}, reason: "invalid card number", brand: "visa"},
		{name: "expired", card: CardInput{Number: "4242424242424242", ExpMonth: 5, ExpYear: 2025}, reason: "card expired", brand: "visa"},
		{name: "decline list", card: CardInput{Number: "4000 0000 0000 0002", ExpMonth: 1, ExpYear: 2030}, reason: "do not honor", brand: "visa"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := sim.Authorize(context.Background(), AuthorizationRequest{
				OrderID: "o1",
				Amount:  decimal.NewFromInt(10),
				Card:    tt.card,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.approved, res.Approved)
			assert.Equal(t, tt.reason, res.DeclineReason)
			assert.Equal(t, tt.brand, res.Brand)
			if tt.approved {
				assert.Contains(t, res.TransactionID, "CARD-")
			}
		})
	}
}

func TestCardInput_Last4(t *testing.T) {
	assert.Equal(t, "4242", CardInput{Number: "4242-4242-4242-4242"}.Last4())
}

func TestMethodCodec(t *testing.T) {
	kind, data, err := EncodeMethod(validTransfer())
	require.NoError(t, err)
	assert.Equal(t, KindBankTransfer, kind)
	assert.JSONEq(t, `{"account_name":"Jane Doe","bank_name":"First Bank","transfer_date":"2025-04-30","reference_number":"REF-778"}`, string(data))

	m, err := DecodeMethod(KindCashOnDelivery, []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, CashOnDelivery{}, m)

	_, err = DecodeMethod("crypto", nil)
	require.Error(t, err)
}
