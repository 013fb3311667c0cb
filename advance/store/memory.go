// Package store provides in-memory implementations of the advance storage interfaces.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warp/advance-engine/advance"
)

// =============================================================================
// MEMORY LEDGER - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.Mutex
	advances map[advance.AdvanceID]advance.AdvanceRequest
	now      func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		advances: make(map[advance.AdvanceID]advance.AdvanceRequest),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) Get(_ context.Context, id advance.AdvanceID) (*advance.AdvanceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(id)
}

func (m *Memory) FindActive(_ context.Context, employeeID advance.EmployeeID) (*advance.AdvanceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findActiveLocked(employeeID), nil
}

func (m *Memory) Create(_ context.Context, req *advance.AdvanceRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(req)
}

func (m *Memory) MarkDisbursed(_ context.Context, id advance.AdvanceID, transferID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markDisbursedLocked(id, transferID, at)
}

func (m *Memory) Discard(_ context.Context, id advance.AdvanceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.discardLocked(id)
}

func (m *Memory) ListPending(_ context.Context, olderThan time.Time) ([]advance.AdvanceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listPendingLocked(olderThan), nil
}

func (m *Memory) ListByEmployee(_ context.Context, employeeID advance.EmployeeID) ([]advance.AdvanceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listByEmployeeLocked(employeeID), nil
}

// SetNow overrides the timestamp source for created rows.
func (m *Memory) SetNow(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// Count returns the number of stored rows.
func (m *Memory) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.advances)
}

func (m *Memory) getLocked(id advance.AdvanceID) (*advance.AdvanceRequest, error) {
	req, ok := m.advances[id]
	if !ok {
		return nil, advance.ErrAdvanceNotFound
	}
	return &req, nil
}

func (m *Memory) findActiveLocked(employeeID advance.EmployeeID) *advance.AdvanceRequest {
	for _, req := range m.advances {
		if req.EmployeeID == employeeID && req.Status.IsActive() {
			found := req
			return &found
		}
	}
	return nil
}

func (m *Memory) createLocked(req *advance.AdvanceRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if m.findActiveLocked(req.EmployeeID) != nil {
		return advance.ErrDuplicateActiveRequest
	}
	now := m.now()
	req.ID = advance.AdvanceID(uuid.NewString())
	req.Status = advance.StatusPending
	req.CreatedAt = now
	req.UpdatedAt = now
	m.advances[req.ID] = *req
	return nil
}

func (m *Memory) markDisbursedLocked(id advance.AdvanceID, transferID string, at time.Time) error {
	req, ok := m.advances[id]
	if !ok {
		return advance.ErrAdvanceNotFound
	}
	if !req.Status.CanTransitionTo(advance.StatusDisbursed) || transferID == "" {
		return advance.ErrInvalidTransition
	}
	req.Status = advance.StatusDisbursed
	req.ExternalTransferID = transferID
	req.UpdatedAt = at
	m.advances[id] = req
	return nil
}

func (m *Memory) discardLocked(id advance.AdvanceID) error {
	req, ok := m.advances[id]
	if !ok {
		return advance.ErrAdvanceNotFound
	}
	if req.Status != advance.StatusPending {
		return advance.ErrInvalidTransition
	}
	delete(m.advances, id)
	return nil
}

func (m *Memory) listPendingLocked(olderThan time.Time) []advance.AdvanceRequest {
	var result []advance.AdvanceRequest
	for _, req := range m.advances {
		if req.Status == advance.StatusPending && !req.CreatedAt.After(olderThan) {
			result = append(result, req)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result
}

func (m *Memory) listByEmployeeLocked(employeeID advance.EmployeeID) []advance.AdvanceRequest {
	var result []advance.AdvanceRequest
	for _, req := range m.advances {
		if req.EmployeeID == employeeID {
			result = append(result, req)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The lock is held for the whole of fn, so transactions are serialized.
func (m *Memory) WithTx(ctx context.Context, fn func(advance.Ledger) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := make(map[advance.AdvanceID]advance.AdvanceRequest, len(m.advances))
	for k, v := range m.advances {
		snapshot[k] = v
	}

	if err := fn(&txView{parent: m}); err != nil {
		m.advances = snapshot
		return err
	}
	// Cancellation before commit rolls back like any other failure.
	if err := ctx.Err(); err != nil {
		m.advances = snapshot
		return err
	}
	return nil
}

type txView struct {
	parent *Memory
}

func (tv *txView) Get(_ context.Context, id advance.AdvanceID) (*advance.AdvanceRequest, error) {
	return tv.parent.getLocked(id)
}

func (tv *txView) FindActive(_ context.Context, employeeID advance.EmployeeID) (*advance.AdvanceRequest, error) {
	return tv.parent.findActiveLocked(employeeID), nil
}

func (tv *txView) Create(_ context.Context, req *advance.AdvanceRequest) error {
	return tv.parent.createLocked(req)
}

func (tv *txView) MarkDisbursed(_ context.Context, id advance.AdvanceID, transferID string, at time.Time) error {
	return tv.parent.markDisbursedLocked(id, transferID, at)
}

func (tv *txView) Discard(_ context.Context, id advance.AdvanceID) error {
	return tv.parent.discardLocked(id)
}

func (tv *txView) ListPending(_ context.Context, olderThan time.Time) ([]advance.AdvanceRequest, error) {
	return tv.parent.listPendingLocked(olderThan), nil
}

func (tv *txView) ListByEmployee(_ context.Context, employeeID advance.EmployeeID) ([]advance.AdvanceRequest, error) {
	return tv.parent.listByEmployeeLocked(employeeID), nil
}

// =============================================================================
// MEMORY DIRECTORY
// =============================================================================

type Directory struct {
	mu        sync.RWMutex
	employees map[advance.EmployeeID]advance.Employee
}

func NewDirectory(employees ...advance.Employee) *Directory {
	d := &Directory{employees: make(map[advance.EmployeeID]advance.Employee)}
	for _, e := range employees {
		d.employees[e.ID] = e
	}
	return d
}

func (d *Directory) GetEmployee(_ context.Context, id advance.EmployeeID) (advance.Employee, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.employees[id]
	if !ok {
		return advance.Employee{}, advance.ErrEmployeeNotFound
	}
	return e, nil
}

// Put adds or replaces an employee.
func (d *Directory) Put(e advance.Employee) {
	d.mu.Lock()
	d.employees[e.ID] = e
	d.mu.Unlock()
}
