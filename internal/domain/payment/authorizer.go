package payment

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/apperr"
)

// AuthorizationRequest asks the card network to capture an amount.
type AuthorizationRequest struct {
	OrderID string
	Amount  decimal.Decimal
	Card    CardInput
}

// Authorization is the outcome of an authorization attempt. A decline is
// not an error.
type Authorization struct {
	Approved      bool
	TransactionID string
	Brand         string
	DeclineReason string
}

// Authorizer is the card authorization capability.
type Authorizer interface {
	Authorize(ctx context.Context, req AuthorizationRequest) (Authorization, error)
	// Void reverses an approved authorization.
	Void(ctx context.Context, transactionID string) error
}

// DeclinedError reports a card decline.
type DeclinedError struct {
	Reason string
}

func (e *DeclinedError) Error() string {
	return fmt.Sprintf("card declined: %s", e.Reason)
}

// ErrorKind implements apperr.Kinded.
func (e *DeclinedError) ErrorKind() apperr.Kind { return apperr.KindMethodFailure }

// SimulatorConfig configures the simulated card network.
type SimulatorConfig struct {
	DeclinedNumbers []string `default:"4000000000000002" usage:"Card numbers the simulated network declines"`
}

// Simulator is an in-process Authorizer. It approves well-formed, unexpired
// cards that pass the Luhn check and are not on the decline list.
type Simulator struct {
	declined []string
	now      func() time.Time
}

// NewSimulator returns a Simulator.
func NewSimulator(cfg SimulatorConfig) *Simulator {
	return &Simulator{declined: cfg.DeclinedNumbers, now: time.Now}
}

// Authorize implements Authorizer.
func (s *Simulator) Authorize(ctx context.Context, req AuthorizationRequest) (Authorization, error) {
	if err := ctx.Err(); err != nil {
		return Authorization{}, errors.Wrap(err, "authorize")
	}
	number := digits(req.Card.Number)
	brand := Brand(number)

	decline := func(reason string) (Authorization, error) {
		return Authorization{Brand: brand, DeclineReason: reason}, nil
	}
	switch {
	case !luhn(number):
		return decline("invalid card number")
	case expired(req.Card.ExpMonth, req.Card.ExpYear, s.now()):
		return decline("card expired")
	case slices.Contains(s.declined, number):
		return decline("do not honor")
	case !req.Amount.IsPositive():
		return decline("invalid amount")
	}
	return Authorization{
		Approved:      true,
		TransactionID: "CARD-" + uuid.New().String(),
		Brand:         brand,
	}, nil
}

// Void implements Authorizer.
func (s *Simulator) Void(context.Context, string) error { return nil }

// Brand guesses the card brand from the issuer prefix.
func Brand(number string) string {
	prefix := func(n int) int {
		if len(number) < n {
			return -1
		}
		v, _ := strconv.Atoi(number[:n])
		return v
	}
	switch {
	case prefix(1) == 4:
		return "visa"
	case prefix(2) >= 51 && prefix(2) <= 55, prefix(4) >= 2221 && prefix(4) <= 2720:
		return "mastercard"
	case prefix(2) == 34 || prefix(2) == 37:
		return "amex"
	case prefix(4) == 6011 || prefix(2) == 65:
		return "discover"
	default:
		return "unknown"
	}
}

func luhn(number string) bool {
	if number == "" {
		return false
	}
	sum := 0
	double := false
	for i := len(number) - 1; i >= 0; i-- {
		d := int(number[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

func expired(month, year int, now time.Time) bool {
	// Cards are valid through the last day of the expiry month.
	end := time.Date(year, time.Month(month)+1, 1, 0, 0, 0, 0, time.UTC)
	return !now.Before(end)
}
