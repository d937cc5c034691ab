package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MoneyPlaces is the number of fractional digits kept for monetary values
const MoneyPlaces = 2

// MaxMoney is the largest amount a stored money column holds (NUMERIC(14,2))
var MaxMoney = decimal.RequireFromString("999999999999.99")

// ParseMoney parses a decimal string and rejects values with more than
// MoneyPlaces fractional digits.
func ParseMoney(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing amount %q: %w", s, err)
	}
	if !HasMoneyPrecision(d) {
		return decimal.Zero, fmt.Errorf("amount %q has more than %d decimal places", s, MoneyPlaces)
	}
	return d, nil
}

// HasMoneyPrecision reports whether d is representable with MoneyPlaces digits
func HasMoneyPrecision(d decimal.Decimal) bool {
	return d.Equal(d.Round(MoneyPlaces))
}

// RoundMoney rounds d half away from zero to MoneyPlaces digits
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// FormatMoney renders d with exactly MoneyPlaces fractional digits
func FormatMoney(d decimal.Decimal) string {
	return d.StringFixed(MoneyPlaces)
}

// InMoneyRange reports whether d fits between zero and MaxMoney inclusive
func InMoneyRange(d decimal.Decimal) bool {
	return !d.IsNegative() && d.LessThanOrEqual(MaxMoney)
}

// ValidateSaleValue checks the value precondition of a sale
func ValidateSaleValue(v decimal.Decimal) error {
	if !v.IsPositive() || !HasMoneyPrecision(v) || !InMoneyRange(v) {
		return ErrInvalidSaleValue
	}
	return nil
}
