// Package postgres provides a PostgreSQL-backed ledger and employee directory
// using pgx. Same-employee requests are serialized by locking the employee row
// (SELECT ... FOR UPDATE) inside the transaction, and a partial unique index
// backs the one-active-advance invariant.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/warp/advance-engine/advance"
	"github.com/warp/advance-engine/advance/store"
	"go.uber.org/zap"
)

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS employees (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	email TEXT,
	monthly_salary NUMERIC(14,2) NOT NULL CHECK (monthly_salary > 0),
	enabled BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS advances (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	employee_id TEXT NOT NULL REFERENCES employees(id),
	requested_amount NUMERIC(14,2) NOT NULL CHECK (requested_amount > 0),
	commission NUMERIC(14,2) NOT NULL,
	tax NUMERIC(14,2) NOT NULL,
	net_amount_transferred NUMERIC(14,2) NOT NULL CHECK (net_amount_transferred <= requested_amount),
	external_transfer_id TEXT,
	idempotency_key TEXT NOT NULL UNIQUE,
	status TEXT NOT NULL CHECK (status IN ('pending', 'disbursed')),
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	CHECK (status <> 'disbursed' OR external_transfer_id IS NOT NULL)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_active_advance
	ON advances(employee_id) WHERE status IN ('pending', 'disbursed');

CREATE INDEX IF NOT EXISTS idx_advances_pending
	ON advances(created_at) WHERE status = 'pending';
`

const advanceColumns = `id::text, employee_id, requested_amount::text, commission::text, tax::text,
	net_amount_transferred::text, external_transfer_id, idempotency_key, status, created_at, updated_at`

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewStore connects, pings and migrates.
func NewStore(ctx context.Context, connString string, logger *zap.Logger) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{db: pool, logger: logger}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() {
	s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// =============================================================================
// LEDGER
// =============================================================================

func (s *Store) Get(ctx context.Context, id advance.AdvanceID) (*advance.AdvanceRequest, error) {
	return get(ctx, s.db, id)
}

func (s *Store) FindActive(ctx context.Context, employeeID advance.EmployeeID) (*advance.AdvanceRequest, error) {
	return findActive(ctx, s.db, employeeID)
}

func (s *Store) Create(ctx context.Context, req *advance.AdvanceRequest) error {
	return create(ctx, s.db, req)
}

func (s *Store) MarkDisbursed(ctx context.Context, id advance.AdvanceID, transferID string, at time.Time) error {
	return markDisbursed(ctx, s.db, id, transferID, at)
}

func (s *Store) Discard(ctx context.Context, id advance.AdvanceID) error {
	return discard(ctx, s.db, id)
}

func (s *Store) ListPending(ctx context.Context, olderThan time.Time) ([]advance.AdvanceRequest, error) {
	return listPending(ctx, s.db, olderThan)
}

func (s *Store) ListByEmployee(ctx context.Context, employeeID advance.EmployeeID) ([]advance.AdvanceRequest, error) {
	return listByEmployee(ctx, s.db, employeeID)
}

// WithTx runs fn inside a READ COMMITTED transaction. The employee row lock
// taken by LockEmployee provides the per-employee serialization.
func (s *Store) WithTx(ctx context.Context, fn func(advance.Ledger) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer func() {
		// Rollback after Commit is a no-op returning ErrTxClosed.
		if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Warn("rollback failed", zap.Error(err))
		}
	}()

	if err := fn(&txLedger{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

type txLedger struct {
	tx pgx.Tx
}

func (t *txLedger) Get(ctx context.Context, id advance.AdvanceID) (*advance.AdvanceRequest, error) {
	return get(ctx, t.tx, id)
}

func (t *txLedger) FindActive(ctx context.Context, employeeID advance.EmployeeID) (*advance.AdvanceRequest, error) {
	return findActive(ctx, t.tx, employeeID)
}

func (t *txLedger) Create(ctx context.Context, req *advance.AdvanceRequest) error {
	return create(ctx, t.tx, req)
}

func (t *txLedger) MarkDisbursed(ctx context.Context, id advance.AdvanceID, transferID string, at time.Time) error {
	return markDisbursed(ctx, t.tx, id, transferID, at)
}

func (t *txLedger) Discard(ctx context.Context, id advance.AdvanceID) error {
	return discard(ctx, t.tx, id)
}

func (t *txLedger) ListPending(ctx context.Context, olderThan time.Time) ([]advance.AdvanceRequest, error) {
	return listPending(ctx, t.tx, olderThan)
}

func (t *txLedger) ListByEmployee(ctx context.Context, employeeID advance.EmployeeID) ([]advance.AdvanceRequest, error) {
	return listByEmployee(ctx, t.tx, employeeID)
}

// LockEmployee takes a row lock on the employee for the rest of the transaction.
// A missing employee is not an error here; the directory lookup reports it.
func (t *txLedger) LockEmployee(ctx context.Context, employeeID advance.EmployeeID) error {
	var id string
	err := t.tx.QueryRow(ctx, "SELECT id FROM employees WHERE id = $1 FOR UPDATE", string(employeeID)).Scan(&id)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("lock acquisition failed: %w", err)
	}
	return nil
}

func (t *txLedger) GetEmployee(ctx context.Context, id advance.EmployeeID) (advance.Employee, error) {
	return getEmployee(ctx, t.tx, id)
}

func get(ctx context.Context, q querier, id advance.AdvanceID) (*advance.AdvanceRequest, error) {
	req, err := scanAdvance(q.QueryRow(ctx, "SELECT "+advanceColumns+" FROM advances WHERE id::text = $1", string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, advance.ErrAdvanceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("advance query failed: %w", err)
	}
	return &req, nil
}

func findActive(ctx context.Context, q querier, employeeID advance.EmployeeID) (*advance.AdvanceRequest, error) {
	req, err := scanAdvance(q.QueryRow(ctx,
		"SELECT "+advanceColumns+" FROM advances WHERE employee_id = $1 AND status IN ('pending', 'disbursed')",
		string(employeeID)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active advance query failed: %w", err)
	}
	return &req, nil
}

func create(ctx context.Context, q querier, req *advance.AdvanceRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	var id string
	err := q.QueryRow(ctx, `
		INSERT INTO advances
		(employee_id, requested_amount, commission, tax, net_amount_transferred,
		 idempotency_key, status, created_at, updated_at)
		VALUES ($1, $2::text::numeric, $3::text::numeric, $4::text::numeric, $5::text::numeric, $6, 'pending', $7, $7)
		RETURNING id::text`,
		string(req.EmployeeID),
		req.RequestedAmount.String(),
		req.Commission.String(),
		req.Tax.String(),
		req.NetAmountTransferred.String(),
		req.IdempotencyKey,
		now,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == "idx_unique_active_advance" {
			return advance.ErrDuplicateActiveRequest
		}
		return fmt.Errorf("advance insert failed: %w", err)
	}

	req.ID = advance.AdvanceID(id)
	req.Status = advance.StatusPending
	req.CreatedAt = now
	req.UpdatedAt = now
	return nil
}

func markDisbursed(ctx context.Context, q querier, id advance.AdvanceID, transferID string, at time.Time) error {
	if transferID == "" {
		return advance.ErrInvalidTransition
	}
	tag, err := q.Exec(ctx,
		"UPDATE advances SET status = 'disbursed', external_transfer_id = $1, updated_at = $2 WHERE id::text = $3 AND status = 'pending'",
		transferID, at.UTC(), string(id))
	if err != nil {
		return fmt.Errorf("advance update failed: %w", err)
	}
	return checkTransition(ctx, q, tag, id)
}

func discard(ctx context.Context, q querier, id advance.AdvanceID) error {
	tag, err := q.Exec(ctx, "DELETE FROM advances WHERE id::text = $1 AND status = 'pending'", string(id))
	if err != nil {
		return fmt.Errorf("advance discard failed: %w", err)
	}
	return checkTransition(ctx, q, tag, id)
}

func checkTransition(ctx context.Context, q querier, tag pgconn.CommandTag, id advance.AdvanceID) error {
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := get(ctx, q, id); err != nil {
		return err
	}
	return advance.ErrInvalidTransition
}

func listPending(ctx context.Context, q querier, olderThan time.Time) ([]advance.AdvanceRequest, error) {
	return queryAdvances(ctx, q,
		"SELECT "+advanceColumns+" FROM advances WHERE status = 'pending' AND created_at <= $1 ORDER BY created_at",
		olderThan.UTC())
}

func listByEmployee(ctx context.Context, q querier, employeeID advance.EmployeeID) ([]advance.AdvanceRequest, error) {
	return queryAdvances(ctx, q,
		"SELECT "+advanceColumns+" FROM advances WHERE employee_id = $1 ORDER BY created_at DESC",
		string(employeeID))
}

func queryAdvances(ctx context.Context, q querier, sql string, args ...any) ([]advance.AdvanceRequest, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("advances query failed: %w", err)
	}
	defer rows.Close()

	var result []advance.AdvanceRequest
	for rows.Next() {
		req, err := scanAdvance(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, req)
	}
	return result, rows.Err()
}

func scanAdvance(row pgx.Row) (advance.AdvanceRequest, error) {
	var req advance.AdvanceRequest
	var id, employeeID, requested, commission, tax, net, key, status string
	var transferID *string

	err := row.Scan(&id, &employeeID, &requested, &commission, &tax, &net,
		&transferID, &key, &status, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return req, err
	}

	req.ID = advance.AdvanceID(id)
	req.EmployeeID = advance.EmployeeID(employeeID)
	req.RequestedAmount = decimal.RequireFromString(requested)
	req.Commission = decimal.RequireFromString(commission)
	req.Tax = decimal.RequireFromString(tax)
	req.NetAmountTransferred = decimal.RequireFromString(net)
	if transferID != nil {
		req.ExternalTransferID = *transferID
	}
	req.IdempotencyKey = key
	req.Status = advance.Status(status)
	return req, nil
}

// =============================================================================
// EMPLOYEE DIRECTORY
// =============================================================================

func (s *Store) GetEmployee(ctx context.Context, id advance.EmployeeID) (advance.Employee, error) {
	return getEmployee(ctx, s.db, id)
}

// SaveEmployee upserts an employee.
func (s *Store) SaveEmployee(ctx context.Context, emp store.EmployeeRecord) error {
	if emp.ID == "" {
		return &advance.InvalidInputError{Field: "id", Reason: "must not be empty"}
	}
	if !emp.MonthlySalary.IsPositive() {
		return &advance.InvalidInputError{Field: "monthly_salary", Reason: "must be positive"}
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO employees (id, name, email, monthly_salary, enabled)
		VALUES ($1, $2, $3, $4::text::numeric, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			monthly_salary = excluded.monthly_salary,
			enabled = excluded.enabled,
			updated_at = now()`,
		string(emp.ID), emp.Name, emp.Email, advance.RoundMoney(emp.MonthlySalary).String(), emp.Enabled)
	return err
}

func (s *Store) GetEmployeeRecord(ctx context.Context, id advance.EmployeeID) (*store.EmployeeRecord, error) {
	emp, err := scanEmployee(s.db.QueryRow(ctx,
		"SELECT "+employeeColumns+" FROM employees WHERE id = $1", string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &emp, nil
}

func (s *Store) ListEmployees(ctx context.Context) ([]store.EmployeeRecord, error) {
	rows, err := s.db.Query(ctx, "SELECT "+employeeColumns+" FROM employees ORDER BY name")
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

// Reset clears all data. Used by demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.db.Exec(ctx, "TRUNCATE advances, employees")
	return err
}

const employeeColumns = "id, name, COALESCE(email, ''), monthly_salary::text, enabled, created_at, updated_at"

func scanEmployee(row pgx.Row) (store.EmployeeRecord, error) {
	var emp store.EmployeeRecord
	var id, salary string
	if err := row.Scan(&id, &emp.Name, &emp.Email, &salary, &emp.Enabled, &emp.CreatedAt, &emp.UpdatedAt); err != nil {
		return emp, err
	}
	emp.ID = advance.EmployeeID(id)
	emp.MonthlySalary = decimal.RequireFromString(salary)
	return emp, nil
}

func getEmployee(ctx context.Context, q querier, id advance.EmployeeID) (advance.Employee, error) {
	var emp advance.Employee
	var empID, salary string
	err := q.QueryRow(ctx,
		"SELECT id, name, monthly_salary::text, enabled FROM employees WHERE id = $1",
		string(id)).Scan(&empID, &emp.Name, &salary, &emp.Enabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return advance.Employee{}, advance.ErrEmployeeNotFound
	}
	if err != nil {
		return advance.Employee{}, fmt.Errorf("employee query failed: %w", err)
	}
	emp.ID = advance.EmployeeID(empID)
	emp.MonthlySalary = decimal.RequireFromString(salary)
	return emp, nil
}

var _ store.Backend = (*Store)(nil)
