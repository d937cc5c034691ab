package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sales-arena/internal/domain"
	"github.com/shopspring/decimal"
)

// EarningsAccumulator maintains an attendant's running earnings total.
// Serialization of concurrent sales for one attendant comes from the
// attendant lock taken by the orchestrator plus the store's atomic
// increment, so the accumulator never does read-modify-write itself.
type EarningsAccumulator struct{}

// Add rounds value to money precision once and adds it to the attendant's earnings.
func (EarningsAccumulator) Add(ctx context.Context, tx Tx, attendantID string, value decimal.Decimal, at time.Time) (decimal.Decimal, error) {
	if err := domain.ValidateSaleValue(value); err != nil {
		return decimal.Zero, err
	}
	total, err := tx.AddEarnings(ctx, attendantID, domain.RoundMoney(value), at)
	if err != nil {
		return decimal.Zero, fmt.Errorf("adding earnings: %w", err)
	}
	if !domain.InMoneyRange(total) {
		return decimal.Zero, domain.ErrEarningsLimit
	}
	return total, nil
}

// Subtract removes value from the attendant's earnings when a sale is deleted.
func (EarningsAccumulator) Subtract(ctx context.Context, tx Tx, attendantID string, value decimal.Decimal, at time.Time) (decimal.Decimal, error) {
	total, err := tx.AddEarnings(ctx, attendantID, domain.RoundMoney(value).Neg(), at)
	if err != nil {
		return decimal.Zero, fmt.Errorf("subtracting earnings: %w", err)
	}
	if total.IsNegative() {
		return decimal.Zero, domain.ErrNegativeEarnings
	}
	return total, nil
}
