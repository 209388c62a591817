package payment

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/apperr"
)

// Instrument is what a payer submits. It is one of CardInput, BankTransfer
// or CashOnDelivery. Card data is only held in memory for authorization.
type Instrument interface {
	Kind() MethodKind
	validate(now time.Time) error
}

// CardInput is raw card data for authorization. It is never persisted.
type CardInput struct {
	Number   string
	Holder   string
	ExpMonth int
	ExpYear  int
	CVV      string
}

// Kind implements Instrument.
func (CardInput) Kind() MethodKind { return KindCard }

// Last4 returns the last four digits of the card number.
func (c CardInput) Last4() string {
	n := digits(c.Number)
	if len(n) < 4 {
		return n
	}
	return n[len(n)-4:]
}

func (c CardInput) validate(time.Time) error {
	n := digits(c.Number)
	switch {
	case len(n) < 12 || len(n) > 19:
		return apperr.Validation("card number is invalid")
	case strings.TrimSpace(c.Holder) == "":
		return apperr.Validation("card holder name is required")
	case c.ExpMonth < 1 || c.ExpMonth > 12 || c.ExpYear < 2000:
		return apperr.Validation("card expiry is invalid")
	case len(c.CVV) < 3 || len(c.CVV) > 4 || digits(c.CVV) != c.CVV:
		return apperr.Validation("card CVV is invalid")
	}
	return nil
}

func (b BankTransfer) validate(time.Time) error {
	if strings.TrimSpace(b.AccountName) == "" ||
		strings.TrimSpace(b.BankName) == "" ||
		strings.TrimSpace(b.TransferDate) == "" ||
		strings.TrimSpace(b.ReferenceNumber) == "" {
		return apperr.Validation("bank transfer requires account name, bank name, transfer date and reference number")
	}
	if _, err := time.Parse(time.DateOnly, b.TransferDate); err != nil {
		return apperr.Validation("transfer date must be YYYY-MM-DD")
	}
	return nil
}

func (CashOnDelivery) validate(time.Time) error { return nil }

// Submission is a request to pay for an order.
type Submission struct {
	OrderID    string
	Amount     decimal.Decimal
	Instrument Instrument
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		} else if r != ' ' && r != '-' {
			return ""
		}
	}
	return b.String()
}
