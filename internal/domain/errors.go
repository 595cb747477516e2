package domain

import "errors"

// Validation errors. Caller-correctable, nothing was mutated.
var (
	ErrInvalidOption       = errors.New("option does not belong to event")
	ErrInvalidAmount       = errors.New("stake amount must be positive")
	ErrStakeTooLarge       = errors.New("stake exceeds maximum allowed for pool")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrEventClosed         = errors.New("event is closed for staking")
	ErrInvalidEvent        = errors.New("invalid event definition")
)

// State errors. The caller asked for something out of order.
var (
	ErrAlreadySettled    = errors.New("event already settled")
	ErrNotActive         = errors.New("event is not active")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ErrSettlementInvariantViolation means a computed settlement would distribute
// more than the pool holds. It always aborts the settlement transaction.
var ErrSettlementInvariantViolation = errors.New("settlement invariant violated")

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrConflict      = errors.New("concurrent modification")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrLockHeld      = errors.New("lock already held")
)

// IsValidation reports whether err is a caller-correctable validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidOption) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrStakeTooLarge) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrEventClosed) ||
		errors.Is(err, ErrInvalidEvent)
}

// IsStateError reports whether err signals a protocol or ordering violation.
func IsStateError(err error) bool {
	return errors.Is(err, ErrAlreadySettled) ||
		errors.Is(err, ErrNotActive) ||
		errors.Is(err, ErrInvalidTransition)
}
