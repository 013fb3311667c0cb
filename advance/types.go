/*
Package advance provides the salary advance processing engine.

PURPOSE:
  Decides how much of an unearned monthly salary an employee may draw
  against, and orchestrates the funded disbursement of that advance:
  eligibility, fee deduction, external transfer, durable record.

KEY CONCEPTS IN THIS FILE (types.go):
  - AdvanceRequest: The ledger record of one advance and its lifecycle
  - Status: pending -> disbursed, never backwards
  - Employee: The directory view the engine needs (salary, enabled flag)
  - DisbursementResult: What a successful ProcessAdvance returns

DESIGN PRINCIPLES:
  1. Precision: All money is decimal.Decimal, rounded to cents at output
  2. Type Safety: EmployeeID and AdvanceID cannot be mixed up
  3. One active advance: at most one pending/disbursed row per employee

SEE ALSO:
  - eligibility.go: Prorated available amount
  - fees.go: Commission and tax withholding
  - orchestrator.go: ProcessAdvance
  - store.go: Ledger and directory interfaces
*/
package advance

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID string
type AdvanceID string

// =============================================================================
// STATUS - Advance lifecycle
// =============================================================================

type Status string

const (
	StatusPending   Status = "pending"   // Row created, transfer not yet confirmed
	StatusDisbursed Status = "disbursed" // Transfer confirmed, ExternalTransferID set
)

// CanTransitionTo reports whether a row in status s may move to next.
// The only legal transition is pending -> disbursed.
func (s Status) CanTransitionTo(next Status) bool {
	return s == StatusPending && next == StatusDisbursed
}

// IsActive reports whether the status blocks a new advance for the employee.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusDisbursed
}

// =============================================================================
// ADVANCE REQUEST - Ledger record
// =============================================================================

type AdvanceRequest struct {
	ID                   AdvanceID
	EmployeeID           EmployeeID
	RequestedAmount      decimal.Decimal
	Commission           decimal.Decimal
	Tax                  decimal.Decimal
	NetAmountTransferred decimal.Decimal
	ExternalTransferID   string // empty until disbursed
	IdempotencyKey       string // key handed to the gateway for this advance
	Status               Status
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Validate checks the record-level invariants that every stored row must hold.
func (r AdvanceRequest) Validate() error {
	if r.EmployeeID == "" {
		return &InvalidInputError{Field: "employee_id", Reason: "must not be empty"}
	}
	if !r.RequestedAmount.IsPositive() {
		return &InvalidInputError{Field: "requested_amount", Reason: "must be positive"}
	}
	if r.NetAmountTransferred.GreaterThan(r.RequestedAmount) {
		return &InvalidInputError{Field: "net_amount_transferred", Reason: "exceeds requested amount"}
	}
	if r.Status == StatusDisbursed && r.ExternalTransferID == "" {
		return &InvalidInputError{Field: "external_transfer_id", Reason: "required once disbursed"}
	}
	return nil
}

// =============================================================================
// EMPLOYEE - Directory view
// =============================================================================

// Employee is owned by the employee directory. The engine only reads it.
type Employee struct {
	ID            EmployeeID
	Name          string
	MonthlySalary decimal.Decimal
	Enabled       bool
}

// =============================================================================
// DISBURSEMENT RESULT
// =============================================================================

type DisbursementResult struct {
	AdvanceID            AdvanceID
	NetAmountTransferred decimal.Decimal
	ExternalTransferID   string
	Status               Status
}

// =============================================================================
// MONEY HELPERS
// =============================================================================

// MoneyPlaces is the number of decimal places every output amount carries.
const MoneyPlaces = 2

// RoundMoney rounds to cents, half away from zero (half-up for positive amounts).
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// ParseMoney parses a decimal string such as "800.00".
func ParseMoney(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &InvalidInputError{Field: "amount", Reason: "not a decimal number"}
	}
	return d, nil
}

// MustParseMoney is ParseMoney for constants and tests.
func MustParseMoney(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
