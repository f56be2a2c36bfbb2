/*
errors.go - Centralized error types for the ledger core

ERROR CATEGORIES:
  1. Validation errors    - malformed recipe parameters, rejected up front
  2. Concurrency errors   - a concurrent batch run won the race; retryable
  3. Duplicate-key errors - idempotency guard fired; expected on retries
  4. Store errors         - persistence-level failures

Domain packages wrap these with additional context; callers classify with
errors.Is and the helpers below.
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDuplicateIdempotencyKey is returned when a transaction with the same
	// idempotency key already exists. This is expected behavior for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrConcurrencyConflict is returned when the in-transaction re-check
	// finds rows committed by a concurrent batch run. Always safe to retry:
	// the retry will see the committed rows and skip them.
	ErrConcurrencyConflict = errors.New("concurrent materialization detected")

	// ErrInvalidRecipe is returned when recipe parameters fail validation.
	ErrInvalidRecipe = errors.New("invalid recipe")

	// ErrAccountNotFound is returned when a referenced account doesn't exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrRecipeNotFound is returned when a referenced recipe doesn't exist.
	ErrRecipeNotFound = errors.New("recipe not found")

	// ErrPaymentNotResettable is returned when a loan payment reset is not
	// allowed (not completed, or not the contract's latest completed period).
	ErrPaymentNotResettable = errors.New("payment cannot be reset")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports a malformed recipe parameter.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidRecipe }

// ConflictError identifies which idempotency key lost the race.
type ConflictError struct {
	Key string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("key %q already materialized by a concurrent run", e.Key)
}

func (e *ConflictError) Unwrap() error { return ErrConcurrencyConflict }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidRecipe) ||
		errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, ErrPaymentNotResettable)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrRecipeNotFound)
}
