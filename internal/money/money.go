// Package money holds the fixed-point helpers every amount in the engine goes
// through. Amounts are shopspring decimals; binary floating point never
// touches a balance.
package money

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/agentpay/agentpay/internal/errs"
)

// MaxBasisPoints is 100%.
const MaxBasisPoints = 10_000

var minorUnits = map[string]int32{
	"USD": 2,
	"EUR": 2,
	"GBP": 2,
	"CAD": 2,
	"JPY": 0,
	"XAF": 0,
	"XOF": 0,
}

// MinorUnits returns the number of decimal places for currency. Unknown
// currencies default to two.
func MinorUnits(currency string) int32 {
	if places, ok := minorUnits[strings.ToUpper(currency)]; ok {
		return places
	}
	return 2
}

// Parse reads a decimal amount from its string form and validates it against
// currency.
func Parse(raw, currency string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, errs.Newf(errs.CodeInvalidArgument, "invalid amount %q", raw)
	}
	if err := ValidatePositive(amount, currency); err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}

// Validate checks that amount is non-negative and representable in the
// currency's minor unit.
func Validate(amount decimal.Decimal, currency string) error {
	if amount.IsNegative() {
		return errs.Newf(errs.CodeInvalidArgument, "amount %s must not be negative", amount)
	}
	places := MinorUnits(currency)
	if !amount.Equal(amount.Truncate(places)) {
		return errs.Newf(errs.CodeInvalidArgument, "amount %s has more than %d decimal places for %s", amount, places, currency)
	}
	return nil
}

// ValidatePositive is Validate that also rejects zero.
func ValidatePositive(amount decimal.Decimal, currency string) error {
	if !amount.IsPositive() {
		return errs.Newf(errs.CodeInvalidArgument, "amount %s must be positive", amount)
	}
	return Validate(amount, currency)
}

// Split is the outcome of dividing an amount between a payee and the platform.
type Split struct {
	Payout decimal.Decimal
	Fee    decimal.Decimal
}

// SplitFee divides amount into a fee of basisPoints and a payout, both rounded
// down to the currency's minor unit. The rounding remainder goes to the fee so
// that Payout + Fee == amount exactly.
func SplitFee(amount decimal.Decimal, basisPoints int, currency string) (Split, error) {
	if basisPoints < 0 || basisPoints > MaxBasisPoints {
		return Split{}, errs.Newf(errs.CodeInvalidArgument, "fee basis points %d out of range", basisPoints)
	}
	if err := Validate(amount, currency); err != nil {
		return Split{}, err
	}
	places := MinorUnits(currency)
	scale := decimal.NewFromInt(MaxBasisPoints)

	fee := amount.Mul(decimal.NewFromInt(int64(basisPoints))).Div(scale).RoundDown(places)
	payout := amount.Mul(decimal.NewFromInt(int64(MaxBasisPoints - basisPoints))).Div(scale).RoundDown(places)
	fee = fee.Add(amount.Sub(fee).Sub(payout))

	return Split{Payout: payout, Fee: fee}, nil
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
