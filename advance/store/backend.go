package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/advance-engine/advance"
)

// EmployeeRecord is the directory row behind advance.Employee.
type EmployeeRecord struct {
	ID            advance.EmployeeID
	Name          string
	Email         string
	MonthlySalary decimal.Decimal
	Enabled       bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (r EmployeeRecord) Employee() advance.Employee {
	return advance.Employee{
		ID:            r.ID,
		Name:          r.Name,
		MonthlySalary: r.MonthlySalary,
		Enabled:       r.Enabled,
	}
}

// Backend is everything the HTTP service needs from a database.
// Implemented by store/sqlite and store/postgres.
type Backend interface {
	advance.TxLedger
	advance.EmployeeDirectory

	SaveEmployee(ctx context.Context, emp EmployeeRecord) error
	// GetEmployeeRecord returns nil, nil when the employee does not exist.
	GetEmployeeRecord(ctx context.Context, id advance.EmployeeID) (*EmployeeRecord, error)
	ListEmployees(ctx context.Context) ([]EmployeeRecord, error)
	Reset(ctx context.Context) error
	Ping(ctx context.Context) error
}
