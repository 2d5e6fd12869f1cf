/*
errors.go - Centralized error types for the engine

PURPOSE:

	All error types in one place for consistency and discoverability.
	Callers (payments service, HTTP layer) branch on these with errors.Is /
	errors.As and map them to user-facing responses.

ERROR CATEGORIES:
 1. Configuration errors - penalty rate/days missing or non-numeric. Fatal.
 2. Validation errors - caller contract violations (negative amounts, bad bills)
 3. Integrity errors - allocations do not reconcile with the payment total
 4. Store errors - missing records, duplicate idempotency keys

INTEGRITY:

	The engine itself never returns an IntegrityError: it reports the mismatch
	through Summary.IsValid so the caller can explain it. The payments service
	converts an invalid summary into an IntegrityError and aborts the write.

SEE ALSO:
  - allocation.go: Summary and ValidateAllocations
  - payments/service.go: Converts invalid summaries into IntegrityError
*/
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrConfiguration is returned when penalty settings are missing or malformed.
	ErrConfiguration = errors.New("invalid billing configuration")

	// ErrValidation is returned for caller contract violations.
	ErrValidation = errors.New("validation failed")

	// ErrIntegrity is returned when allocations fail to reconcile.
	ErrIntegrity = errors.New("allocation integrity check failed")

	// ErrDuplicatePayment is returned when a payment idempotency key was already recorded.
	ErrDuplicatePayment = errors.New("duplicate payment idempotency key")

	// ErrConfigNotFound is returned when no billing config exists for a client/module.
	ErrConfigNotFound = errors.New("billing config not found")

	// ErrUnitNotFound is returned when a unit has no records at all.
	ErrUnitNotFound = errors.New("unit not found")

	// ErrNegativeCredit is returned when a credit delta would drive the balance below zero.
	ErrNegativeCredit = errors.New("credit balance cannot go negative")

	// ErrConcurrentModification is returned when a store detects a conflicting write.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ConfigurationError names the offending config field.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// ValidationError names the offending input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// IntegrityError describes an allocation set that does not reconcile.
type IntegrityError struct {
	Expected  Money
	Allocated Money
	Tolerance Money
	Problems  []string
}

func (e *IntegrityError) Error() string {
	if len(e.Problems) > 0 {
		return fmt.Sprintf("integrity error: %s", e.Problems[0])
	}
	return fmt.Sprintf("integrity error: allocated %s, expected %s (tolerance %s)",
		e.Allocated, e.Expected, e.Tolerance)
}

func (e *IntegrityError) Unwrap() error { return ErrIntegrity }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNegativeCredit)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrConfigNotFound) ||
		errors.Is(err, ErrUnitNotFound)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
