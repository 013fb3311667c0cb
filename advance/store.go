/*
store.go - Collaborator interfaces for persistence and the employee directory

PURPOSE:
  Defines the narrow interfaces between the engine and its storage.
  The ledger is the single source of truth for AdvanceRequest lifecycle;
  the engine never mutates a row outside WithTx.

KEY INTERFACES:
  EmployeeDirectory: Salary and enabled flag for an employee
  Ledger:            CRUD over AdvanceRequest plus FindActive
  TxLedger:          Ledger with scoped transactions (commit/rollback)
  EmployeeLocker:    Optional per-employee lock inside a transaction

ONE ACTIVE ADVANCE:
  Implementations MUST make "no active row exists" + "insert row" atomic
  for the same employee. Either serialize writers (SQLite, memory) or enforce
  a partial unique index on employee_id WHERE status IN (pending, disbursed)
  and return ErrDuplicateActiveRequest on violation (SQLite, Postgres both
  carry the index).

IMPLEMENTATIONS:
  - advance/store/memory.go: In-memory for tests
  - store/sqlite/sqlite.go:  SQLite (default)
  - store/postgres/postgres.go: PostgreSQL via pgx

SEE ALSO:
  - orchestrator.go: The only writer
  - reconcile.go: Resolves pending rows after a restart
*/
package advance

import (
	"context"
	"time"
)

// =============================================================================
// EMPLOYEE DIRECTORY
// =============================================================================

// EmployeeDirectory looks up employees. Returns ErrEmployeeNotFound if unknown.
type EmployeeDirectory interface {
	GetEmployee(ctx context.Context, id EmployeeID) (Employee, error)
}

// =============================================================================
// LEDGER
// =============================================================================

// Ledger stores advance requests.
type Ledger interface {
	// Get returns the advance with id, or ErrAdvanceNotFound.
	Get(ctx context.Context, id AdvanceID) (*AdvanceRequest, error)

	// FindActive returns the employee's pending or disbursed advance, or nil.
	FindActive(ctx context.Context, employeeID EmployeeID) (*AdvanceRequest, error)

	// Create inserts a pending row, assigning ID, CreatedAt and UpdatedAt.
	// Returns ErrDuplicateActiveRequest if the employee already has an active row.
	Create(ctx context.Context, req *AdvanceRequest) error

	// MarkDisbursed moves a pending row to disbursed with the transfer id.
	// Returns ErrInvalidTransition if the row is not pending.
	MarkDisbursed(ctx context.Context, id AdvanceID, externalTransferID string, at time.Time) error

	// Discard removes a pending row whose transfer is known not to have happened.
	// Disbursed rows are never discarded (ErrInvalidTransition).
	Discard(ctx context.Context, id AdvanceID) error

	// ListPending returns pending rows created at or before olderThan.
	ListPending(ctx context.Context, olderThan time.Time) ([]AdvanceRequest, error)

	// ListByEmployee returns the employee's advances, newest first.
	ListByEmployee(ctx context.Context, employeeID EmployeeID) ([]AdvanceRequest, error)
}

// TxLedger wraps Ledger with transaction support.
type TxLedger interface {
	Ledger

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Ledger) error) error
}

// EmployeeLocker is implemented by transaction-scoped ledgers that can hold
// a lock on the employee for the lifetime of the transaction.
type EmployeeLocker interface {
	LockEmployee(ctx context.Context, employeeID EmployeeID) error
}
