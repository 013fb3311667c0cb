/*
errors.go - Centralized error types for the advance engine

PURPOSE:
  Every failure the engine surfaces is one of a small set of stable kinds so
  callers can branch on behavior (retry infrastructure errors, never retry
  business rejections) instead of parsing messages.

ERROR CATEGORIES:
  1. Input errors     - InvalidInput (calculator arguments, malformed amounts)
  2. Business errors  - EmployeeNotFound, EmployeeDisabled,
                        AmountExceedsAvailable, DuplicateActiveRequest
  3. Infrastructure   - GatewayFailure, PersistenceFailure (retryable)

USAGE:
  res, err := orch.ProcessAdvance(ctx, "emp-1", amount)
  switch advance.KindOf(err) {
  case advance.KindDuplicateActiveRequest:
      // tell the user they already have an advance
  case advance.KindGatewayFailure, advance.KindPersistenceFailure:
      // safe to resubmit
  }

SEE ALSO:
  - orchestrator.go: Wraps collaborator errors into these kinds
  - api/handlers.go: Maps kinds to HTTP status codes
*/
package advance

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidInput is returned for malformed calculator or request arguments.
	ErrInvalidInput = errors.New("invalid input")

	// ErrEmployeeNotFound is returned by the directory for unknown employees.
	ErrEmployeeNotFound = errors.New("employee not found")

	// ErrEmployeeDisabled is returned when a disabled employee requests an advance.
	ErrEmployeeDisabled = errors.New("employee is disabled and cannot request advances")

	// ErrAmountExceedsAvailable is returned when the request is above the prorated limit.
	ErrAmountExceedsAvailable = errors.New("requested amount exceeds available amount")

	// ErrDuplicateActiveRequest is returned when the employee already has a
	// pending or disbursed advance.
	ErrDuplicateActiveRequest = errors.New("employee already has a pending or disbursed advance")

	// ErrGatewayFailure is returned when the external transfer failed, timed out
	// or returned invalid data.
	ErrGatewayFailure = errors.New("payment gateway failure")

	// ErrPersistenceFailure is returned when the ledger is unreachable or a
	// transaction conflicts.
	ErrPersistenceFailure = errors.New("persistence failure")

	// ErrTransferFailed is returned by gateways that reject a transfer outright.
	ErrTransferFailed = errors.New("transfer failed")

	// ErrAdvanceNotFound is returned by the ledger for unknown advance ids.
	ErrAdvanceNotFound = errors.New("advance not found")

	// ErrInvalidTransition is returned by the ledger on an illegal status change.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// =============================================================================
// ERROR KINDS - Stable, caller-facing classification
// =============================================================================

type ErrorKind string

const (
	KindNone                   ErrorKind = ""
	KindInvalidInput           ErrorKind = "invalid_input"
	KindEmployeeNotFound       ErrorKind = "employee_not_found"
	KindEmployeeDisabled       ErrorKind = "employee_disabled"
	KindAmountExceedsAvailable ErrorKind = "amount_exceeds_available"
	KindDuplicateActiveRequest ErrorKind = "duplicate_active_request"
	KindGatewayFailure         ErrorKind = "gateway_failure"
	KindPersistenceFailure     ErrorKind = "persistence_failure"
	KindNotFound               ErrorKind = "not_found"
	KindInternal               ErrorKind = "internal"
)

// KindOf classifies err. Business rejections win over infrastructure kinds
// so a unique-constraint violation wrapped by a store still reads as a duplicate.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrEmployeeNotFound):
		return KindEmployeeNotFound
	case errors.Is(err, ErrEmployeeDisabled):
		return KindEmployeeDisabled
	case errors.Is(err, ErrAmountExceedsAvailable):
		return KindAmountExceedsAvailable
	case errors.Is(err, ErrDuplicateActiveRequest):
		return KindDuplicateActiveRequest
	case errors.Is(err, ErrGatewayFailure):
		return KindGatewayFailure
	case errors.Is(err, ErrPersistenceFailure):
		return KindPersistenceFailure
	case errors.Is(err, ErrAdvanceNotFound):
		return KindNotFound
	default:
		return KindInternal
	}
}

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidInputError names the offending argument.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input: %s %s", e.Field, e.Reason)
}

func (e *InvalidInputError) Unwrap() error { return ErrInvalidInput }

// AmountExceedsAvailableError provides the numbers behind the rejection.
type AmountExceedsAvailableError struct {
	EmployeeID EmployeeID
	Requested  decimal.Decimal
	Available  decimal.Decimal
}

func (e *AmountExceedsAvailableError) Error() string {
	return fmt.Sprintf("requested amount %s exceeds available amount %s",
		e.Requested.StringFixed(MoneyPlaces), e.Available.StringFixed(MoneyPlaces))
}

func (e *AmountExceedsAvailableError) Unwrap() error { return ErrAmountExceedsAvailable }

// GatewayError wraps a failed or ambiguous transfer call.
// Pending is true when the provisional row was kept for reconciliation.
// TransferID is set when the money moved but could not be recorded.
type GatewayError struct {
	AdvanceID  AdvanceID
	Pending    bool
	TransferID string
	Err        error
}

func (e *GatewayError) Error() string {
	if e.TransferID != "" {
		return fmt.Sprintf("payment gateway failure (transfer %s executed, advance %s unrecorded): %v", e.TransferID, e.AdvanceID, e.Err)
	}
	if e.Pending {
		return fmt.Sprintf("payment gateway failure (advance %s pending reconciliation): %v", e.AdvanceID, e.Err)
	}
	return fmt.Sprintf("payment gateway failure: %v", e.Err)
}

func (e *GatewayError) Unwrap() []error { return []error{ErrGatewayFailure, e.Err} }

// PersistenceError wraps a ledger failure with the operation that failed.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistenceFailure, e.Err} }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if resubmitting the same request might succeed.
// The duplicate check guarantees a retry never double-disburses, except when a
// transfer executed without a ledger row; that case is never retryable.
func IsRetryable(err error) bool {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) && gwErr.TransferID != "" {
		return false
	}
	k := KindOf(err)
	return k == KindGatewayFailure || k == KindPersistenceFailure
}

// IsClientError returns true if the error is a business rejection or bad input.
func IsClientError(err error) bool {
	switch KindOf(err) {
	case KindInvalidInput, KindEmployeeDisabled, KindAmountExceedsAvailable, KindDuplicateActiveRequest:
		return true
	}
	return false
}

// IsNotFound returns true if the error indicates a missing employee or advance.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEmployeeNotFound) || errors.Is(err, ErrAdvanceNotFound)
}
