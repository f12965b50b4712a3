/*
errors.go - Centralized error types for the loyalty engine

PURPOSE:
  All engine error types in one place. Callers (HTTP handlers, bot
  gateways) branch with errors.Is/errors.As; the helpers at the bottom
  map errors to client-vs-server categories.

ERROR CATEGORIES:
  1. Not-found errors - reconcile/spend target missing (no mutation made)
  2. Validation errors - non-positive amounts, insufficient funds
  3. Store failures - propagated wrapped; the unit of work is atomic, so
     a failed commit leaves no partial state behind

SEE ALSO:
  - service.go: Where these are raised
  - api/handlers.go: HTTP status mapping
*/
package loyalty

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrUserNotFound is returned when a reconcile/spend/adjust target does
	// not exist. The operation aborts before any mutation.
	ErrUserNotFound = errors.New("user not found")

	// ErrEventNotFound is returned when a referenced catalog event is missing.
	ErrEventNotFound = errors.New("event not found")

	// ErrGrantNotFound is returned when updating a grant that does not exist.
	ErrGrantNotFound = errors.New("grant not found")

	// ErrInvalidAmount is returned for operations with amount <= 0,
	// rejected before touching the store.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInsufficientBalance is returned when a spend exceeds the total
	// redeemable balance (general balance + active unexpired grants).
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrDuplicateUser is returned when registering an already-known
	// telegram id.
	ErrDuplicateUser = errors.New("user already registered")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError details a spend that exceeded the redeemable
// balance.
type InsufficientBalanceError struct {
	UserID    UserID
	Available Points
	Requested Points
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %d, requested %d", e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrDuplicateUser)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrEventNotFound) ||
		errors.Is(err, ErrGrantNotFound)
}
