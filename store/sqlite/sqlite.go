/*
Package sqlite provides a SQLite-backed implementation of the advance storage interfaces.

PURPOSE:
  Implements the ledger and the employee directory using SQLite. In
  production the same patterns apply to PostgreSQL (see store/postgres).

INTERFACES IMPLEMENTED:
  advance.TxLedger:          AdvanceRequest persistence with WithTx
  advance.EmployeeDirectory: Salary and enabled flag lookups

ONE ACTIVE ADVANCE:
  Two layers enforce at most one pending/disbursed advance per employee:
  - WithTx holds the store's write lock for the whole transaction, so the
    orchestrator's FindActive + Create pair is serialized
  - idx_unique_active_advance is a partial unique index on employee_id
    WHERE status IN ('pending','disbursed'); a violation is reported as
    advance.ErrDuplicateActiveRequest

KEY TABLES:
  employees: Directory records (salary stored as decimal text)
  advances:  One row per advance, pending -> disbursed

MONEY:
  Stored as TEXT and parsed with shopspring/decimal. Never REAL.

TIMESTAMPS:
  Fixed-width UTC text (timeLayout) so string comparison orders correctly.

CONCURRENCY:
  A single connection (SQLite has one writer anyway) plus sync.RWMutex.
  The single connection also keeps ":memory:" databases alive across calls.

USAGE:
  store, err := sqlite.New("./data/advances.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  orch := advance.NewOrchestrator(store, store, gw)

SEE ALSO:
  - advance/store.go: Interface contracts
  - advance/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/advance-engine/advance"
	"github.com/warp/advance-engine/advance/store"
	"go.uber.org/zap"
)

const timeLayout = "2006-01-02T15:04:05.000000Z"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	logger *zap.Logger
	now    func() time.Time
}

type Option func(*Store)

// WithLogger sets the logger used for rollback failures.
func WithLogger(l *zap.Logger) Option { return func(s *Store) { s.logger = l } }

// WithNow overrides the timestamp source for created rows.
func WithNow(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{
		db:     db,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Employees (directory)
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		monthly_salary TEXT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Advances
	CREATE TABLE IF NOT EXISTS advances (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL REFERENCES employees(id),
		requested_amount TEXT NOT NULL,
		commission TEXT NOT NULL,
		tax TEXT NOT NULL,
		net_amount_transferred TEXT NOT NULL,
		external_transfer_id TEXT,
		idempotency_key TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL CHECK (status IN ('pending', 'disbursed')),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK (status <> 'disbursed' OR external_transfer_id IS NOT NULL)
	);

	-- CRITICAL: At most one pending/disbursed advance per employee
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_active_advance
		ON advances(employee_id)
		WHERE status IN ('pending', 'disbursed');

	CREATE INDEX IF NOT EXISTS idx_advances_employee
		ON advances(employee_id, created_at DESC);

	-- For reconciliation scans
	CREATE INDEX IF NOT EXISTS idx_advances_pending
		ON advances(created_at) WHERE status = 'pending';
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LEDGER (advance.Ledger interface)
// =============================================================================

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const advanceColumns = `id, employee_id, requested_amount, commission, tax, net_amount_transferred,
	external_transfer_id, idempotency_key, status, created_at, updated_at`

// Get returns an advance by ID.
func (s *Store) Get(ctx context.Context, id advance.AdvanceID) (*advance.AdvanceRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get(ctx, s.db, id)
}

// FindActive returns the employee's pending or disbursed advance, if any.
func (s *Store) FindActive(ctx context.Context, employeeID advance.EmployeeID) (*advance.AdvanceRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findActive(ctx, s.db, employeeID)
}

// Create inserts a pending advance.
func (s *Store) Create(ctx context.Context, req *advance.AdvanceRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.create(ctx, s.db, req)
}

// MarkDisbursed moves a pending advance to disbursed.
func (s *Store) MarkDisbursed(ctx context.Context, id advance.AdvanceID, transferID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markDisbursed(ctx, s.db, id, transferID, at)
}

// Discard deletes a pending advance.
func (s *Store) Discard(ctx context.Context, id advance.AdvanceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.discard(ctx, s.db, id)
}

// ListPending returns pending advances created at or before olderThan.
func (s *Store) ListPending(ctx context.Context, olderThan time.Time) ([]advance.AdvanceRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listPending(ctx, s.db, olderThan)
}

// ListByEmployee returns an employee's advances, newest first.
func (s *Store) ListByEmployee(ctx context.Context, employeeID advance.EmployeeID) ([]advance.AdvanceRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryAdvances(ctx, s.db,
		"SELECT "+advanceColumns+" FROM advances WHERE employee_id = ? ORDER BY created_at DESC",
		string(employeeID))
}

func (s *Store) get(ctx context.Context, q querier, id advance.AdvanceID) (*advance.AdvanceRequest, error) {
	row := q.QueryRowContext(ctx, "SELECT "+advanceColumns+" FROM advances WHERE id = ?", string(id))
	req, err := scanAdvance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, advance.ErrAdvanceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get advance: %w", err)
	}
	return &req, nil
}

func (s *Store) findActive(ctx context.Context, q querier, employeeID advance.EmployeeID) (*advance.AdvanceRequest, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+advanceColumns+" FROM advances WHERE employee_id = ? AND status IN ('pending', 'disbursed')",
		string(employeeID))
	req, err := scanAdvance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active advance: %w", err)
	}
	return &req, nil
}

func (s *Store) create(ctx context.Context, q querier, req *advance.AdvanceRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	now := s.now().UTC()
	id := advance.AdvanceID(uuid.NewString())

	query := `
		INSERT INTO advances
		(id, employee_id, requested_amount, commission, tax, net_amount_transferred,
		 external_transfer_id, idempotency_key, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, NULL, ?, 'pending', ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		string(id),
		string(req.EmployeeID),
		req.RequestedAmount.String(),
		req.Commission.String(),
		req.Tax.String(),
		req.NetAmountTransferred.String(),
		req.IdempotencyKey,
		now.Format(timeLayout),
		now.Format(timeLayout),
	)
	if err != nil {
		if isUniqueConstraintError(err) && strings.Contains(err.Error(), "advances.employee_id") {
			return advance.ErrDuplicateActiveRequest
		}
		return fmt.Errorf("failed to insert advance: %w", err)
	}

	req.ID = id
	req.Status = advance.StatusPending
	req.ExternalTransferID = ""
	req.CreatedAt = now
	req.UpdatedAt = now
	return nil
}

func (s *Store) markDisbursed(ctx context.Context, q querier, id advance.AdvanceID, transferID string, at time.Time) error {
	if transferID == "" {
		return advance.ErrInvalidTransition
	}
	res, err := q.ExecContext(ctx,
		"UPDATE advances SET status = 'disbursed', external_transfer_id = ?, updated_at = ? WHERE id = ? AND status = 'pending'",
		transferID, at.UTC().Format(timeLayout), string(id))
	if err != nil {
		return fmt.Errorf("failed to update advance: %w", err)
	}
	return s.checkTransition(ctx, q, res, id)
}

func (s *Store) discard(ctx context.Context, q querier, id advance.AdvanceID) error {
	res, err := q.ExecContext(ctx, "DELETE FROM advances WHERE id = ? AND status = 'pending'", string(id))
	if err != nil {
		return fmt.Errorf("failed to discard advance: %w", err)
	}
	return s.checkTransition(ctx, q, res, id)
}

// checkTransition turns a zero-row guarded write into NotFound or InvalidTransition.
func (s *Store) checkTransition(ctx context.Context, q querier, res sql.Result, id advance.AdvanceID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := s.get(ctx, q, id); err != nil {
		return err
	}
	return advance.ErrInvalidTransition
}

func (s *Store) listPending(ctx context.Context, q querier, olderThan time.Time) ([]advance.AdvanceRequest, error) {
	return s.queryAdvances(ctx, q,
		"SELECT "+advanceColumns+" FROM advances WHERE status = 'pending' AND created_at <= ? ORDER BY created_at ASC",
		olderThan.UTC().Format(timeLayout))
}

func (s *Store) queryAdvances(ctx context.Context, q querier, query string, args ...any) ([]advance.AdvanceRequest, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query advances: %w", err)
	}
	defer rows.Close()

	var advances []advance.AdvanceRequest
	for rows.Next() {
		req, err := scanAdvance(rows)
		if err != nil {
			return nil, err
		}
		advances = append(advances, req)
	}
	return advances, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAdvance(row scanner) (advance.AdvanceRequest, error) {
	var req advance.AdvanceRequest
	var id, employeeID, requested, commission, tax, net, key, status, createdAt, updatedAt string
	var transferID sql.NullString

	if err := row.Scan(&id, &employeeID, &requested, &commission, &tax, &net,
		&transferID, &key, &status, &createdAt, &updatedAt); err != nil {
		return req, err
	}

	var p columnParser
	req.ID = advance.AdvanceID(id)
	req.EmployeeID = advance.EmployeeID(employeeID)
	req.RequestedAmount = p.decimal("requested_amount", requested)
	req.Commission = p.decimal("commission", commission)
	req.Tax = p.decimal("tax", tax)
	req.NetAmountTransferred = p.decimal("net_amount_transferred", net)
	req.ExternalTransferID = transferID.String
	req.IdempotencyKey = key
	req.Status = advance.Status(status)
	req.CreatedAt = p.time("created_at", createdAt)
	req.UpdatedAt = p.time("updated_at", updatedAt)
	if p.err != nil {
		return req, fmt.Errorf("advance %s: %w", id, p.err)
	}
	return req, nil
}

// =============================================================================
// TRANSACTIONAL STORE (advance.TxLedger interface)
// =============================================================================

// WithTx executes a function within a database transaction.
// The write lock is held until commit or rollback.
func (s *Store) WithTx(ctx context.Context, fn func(advance.Ledger) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := sqlTx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.logger.Warn("rollback failed", zap.Error(err))
		}
	}()

	if err := fn(&txStore{tx: sqlTx, parent: s}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// txStore is the ledger view bound to one *sql.Tx. It also serves employee
// lookups so the orchestrator reads the directory inside the transaction.
type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) Get(ctx context.Context, id advance.AdvanceID) (*advance.AdvanceRequest, error) {
	return ts.parent.get(ctx, ts.tx, id)
}

func (ts *txStore) FindActive(ctx context.Context, employeeID advance.EmployeeID) (*advance.AdvanceRequest, error) {
	return ts.parent.findActive(ctx, ts.tx, employeeID)
}

func (ts *txStore) Create(ctx context.Context, req *advance.AdvanceRequest) error {
	return ts.parent.create(ctx, ts.tx, req)
}

func (ts *txStore) MarkDisbursed(ctx context.Context, id advance.AdvanceID, transferID string, at time.Time) error {
	return ts.parent.markDisbursed(ctx, ts.tx, id, transferID, at)
}

func (ts *txStore) Discard(ctx context.Context, id advance.AdvanceID) error {
	return ts.parent.discard(ctx, ts.tx, id)
}

func (ts *txStore) ListPending(ctx context.Context, olderThan time.Time) ([]advance.AdvanceRequest, error) {
	return ts.parent.listPending(ctx, ts.tx, olderThan)
}

func (ts *txStore) ListByEmployee(ctx context.Context, employeeID advance.EmployeeID) ([]advance.AdvanceRequest, error) {
	return ts.parent.queryAdvances(ctx, ts.tx,
		"SELECT "+advanceColumns+" FROM advances WHERE employee_id = ? ORDER BY created_at DESC",
		string(employeeID))
}

func (ts *txStore) GetEmployee(ctx context.Context, id advance.EmployeeID) (advance.Employee, error) {
	return ts.parent.getEmployee(ctx, ts.tx, id)
}

// =============================================================================
// EMPLOYEE STORE (advance.EmployeeDirectory interface)
// =============================================================================

// SaveEmployee creates or updates an employee.
func (s *Store) SaveEmployee(ctx context.Context, emp store.EmployeeRecord) error {
	if emp.ID == "" {
		return &advance.InvalidInputError{Field: "id", Reason: "must not be empty"}
	}
	if !emp.MonthlySalary.IsPositive() {
		return &advance.InvalidInputError{Field: "monthly_salary", Reason: "must be positive"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO employees (id, name, email, monthly_salary, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			monthly_salary = excluded.monthly_salary,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	now := s.now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx, query,
		string(emp.ID), emp.Name, emp.Email, advance.RoundMoney(emp.MonthlySalary).String(), emp.Enabled, now, now,
	)
	return err
}

// GetEmployee implements advance.EmployeeDirectory.
func (s *Store) GetEmployee(ctx context.Context, id advance.EmployeeID) (advance.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getEmployee(ctx, s.db, id)
}

func (s *Store) getEmployee(ctx context.Context, q querier, id advance.EmployeeID) (advance.Employee, error) {
	var emp advance.Employee
	var empID, salary string

	err := q.QueryRowContext(ctx,
		"SELECT id, name, monthly_salary, enabled FROM employees WHERE id = ?",
		string(id),
	).Scan(&empID, &emp.Name, &salary, &emp.Enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return advance.Employee{}, advance.ErrEmployeeNotFound
	}
	if err != nil {
		return advance.Employee{}, fmt.Errorf("failed to get employee: %w", err)
	}

	emp.ID = advance.EmployeeID(empID)
	if emp.MonthlySalary, err = parseDecimal(salary); err != nil {
		return advance.Employee{}, fmt.Errorf("employee %s: monthly_salary: %w", empID, err)
	}
	return emp, nil
}

// GetEmployeeRecord retrieves the full employee record, or nil if missing.
func (s *Store) GetEmployeeRecord(ctx context.Context, id advance.EmployeeID) (*store.EmployeeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, email, monthly_salary, enabled, created_at, updated_at FROM employees WHERE id = ?",
		string(id),
	)
	emp, err := scanEmployee(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &emp, nil
}

// ListEmployees returns all employees.
func (s *Store) ListEmployees(ctx context.Context) ([]store.EmployeeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, email, monthly_salary, enabled, created_at, updated_at FROM employees ORDER BY name",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var employees []store.EmployeeRecord
	for rows.Next() {
		emp, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		employees = append(employees, emp)
	}
	return employees, rows.Err()
}

func scanEmployee(row scanner) (store.EmployeeRecord, error) {
	var emp store.EmployeeRecord
	var id string
	var email sql.NullString
	var salary, createdAt, updatedAt string
	if err := row.Scan(&id, &emp.Name, &email, &salary, &emp.Enabled, &createdAt, &updatedAt); err != nil {
		return emp, err
	}
	var p columnParser
	emp.ID = advance.EmployeeID(id)
	emp.Email = email.String
	emp.MonthlySalary = p.decimal("monthly_salary", salary)
	emp.CreatedAt = p.time("created_at", createdAt)
	emp.UpdatedAt = p.time("updated_at", updatedAt)
	if p.err != nil {
		return emp, fmt.Errorf("employee %s: %w", id, p.err)
	}
	return emp, nil
}

// =============================================================================
// ADMIN OPERATIONS
// =============================================================================

// Reset clears all data. Used by demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"advances", "employees"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// Helper functions

func parseDecimal(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

// columnParser converts TEXT columns and keeps the first failure.
type columnParser struct {
	err error
}

func (p *columnParser) decimal(column, s string) decimal.Decimal {
	d, err := parseDecimal(s)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("corrupt %s %q: %w", column, s, err)
	}
	return d
}

func (p *columnParser) time(column, s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("corrupt %s %q: %w", column, s, err)
	}
	return t
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var _ store.Backend = (*Store)(nil)
