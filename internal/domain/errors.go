package domain

import "errors"

// Validation errors are rejected before any side effect
var (
	ErrAttendantNotFound = errors.New("attendant not found")
	ErrInvalidSaleValue  = errors.New("sale value must be positive with at most 2 decimal places")
	ErrInvalidClientInfo = errors.New("invalid client contact fields")
	ErrInvalidGoal       = errors.New("invalid goal definition")
	ErrInvalidAttendant  = errors.New("invalid attendant")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrAttendantHasSales = errors.New("attendant still has recorded sales")
	ErrNegativeEarnings  = errors.New("earnings cannot become negative")
	ErrEarningsLimit     = errors.New("earnings would exceed the maximum storable amount")
)

// Lookup errors
var (
	ErrSaleNotFound = errors.New("sale not found")
	ErrGoalNotFound = errors.New("goal not found")
)

// Runtime errors
var (
	ErrConflict      = errors.New("concurrent update detected, please retry")
	ErrRateLimited   = errors.New("rate limit exceeded")
	ErrInternalError = errors.New("internal server error")
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrAttendantNotFound) ||
		errors.Is(err, ErrSaleNotFound) ||
		errors.Is(err, ErrGoalNotFound)
}

// IsValidationError reports whether err was caused by caller input
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidSaleValue) ||
		errors.Is(err, ErrInvalidClientInfo) ||
		errors.Is(err, ErrInvalidGoal) ||
		errors.Is(err, ErrInvalidAttendant) ||
		errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrAttendantHasSales) ||
		errors.Is(err, ErrNegativeEarnings) ||
		errors.Is(err, ErrEarningsLimit)
}

// IsConflictError reports whether err is a retryable concurrent-modification failure
func IsConflictError(err error) bool {
	return errors.Is(err, ErrConflict)
}
