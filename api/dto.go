/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupled from the
  advance domain types.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts travel as strings with two decimals ("752.80") so clients never
  round-trip money through binary floating point.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/advance-engine/advance"
	"github.com/warp/advance-engine/advance/store"
)

// =============================================================================
// EMPLOYEES
// =============================================================================

type EmployeeDTO struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Email         string `json:"email,omitempty"`
	MonthlySalary string `json:"monthly_salary"`
	Enabled       bool   `json:"enabled"`
	CreatedAt     string `json:"created_at,omitempty"`
}

// CreateEmployeeRequest creates or replaces a directory entry.
// Enabled defaults to true when omitted.
type CreateEmployeeRequest struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	MonthlySalary string `json:"monthly_salary"`
	Enabled       *bool  `json:"enabled,omitempty"`
}

func toEmployeeDTO(e store.EmployeeRecord) EmployeeDTO {
	dto := EmployeeDTO{
		ID:            string(e.ID),
		Name:          e.Name,
		Email:         e.Email,
		MonthlySalary: money(e.MonthlySalary),
		Enabled:       e.Enabled,
	}
	if !e.CreatedAt.IsZero() {
		dto.CreatedAt = e.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

// =============================================================================
// ELIGIBILITY AND FEES
// =============================================================================

type AvailabilityDTO struct {
	EmployeeID    string `json:"employee_id"`
	ReferenceDate string `json:"reference_date"`
	MonthlySalary string `json:"monthly_salary"`
	DaysInMonth   int    `json:"days_in_month"`
	DaysWorked    int    `json:"days_worked"`
	DailyRate     string `json:"daily_rate"`
	Available     string `json:"available"`
}

type FeesDTO struct {
	RequestedAmount      string `json:"requested_amount"`
	Commission           string `json:"commission"`
	Tax                  string `json:"tax"`
	NetAmountTransferred string `json:"net_amount_transferred"`
}

func toFeesDTO(f advance.Fees) FeesDTO {
	return FeesDTO{
		RequestedAmount:      money(f.RequestedAmount),
		Commission:           money(f.Commission),
		Tax:                  money(f.Tax),
		NetAmountTransferred: money(f.NetAmountTransferred),
	}
}

// =============================================================================
// ADVANCES
// =============================================================================

type ProcessAdvanceRequest struct {
	Amount string `json:"amount"`
}

// DisbursementDTO is the success body of POST /advances.
type DisbursementDTO struct {
	AdvanceID            string `json:"advance_id"`
	NetAmountTransferred string `json:"net_amount_transferred"`
	ExternalTransferID   string `json:"external_transfer_id"`
	Status               string `json:"status"`
}

type AdvanceDTO struct {
	ID                   string `json:"id"`
	EmployeeID           string `json:"employee_id"`
	RequestedAmount      string `json:"requested_amount"`
	Commission           string `json:"commission"`
	Tax                  string `json:"tax"`
	NetAmountTransferred string `json:"net_amount_transferred"`
	ExternalTransferID   string `json:"external_transfer_id,omitempty"`
	Status               string `json:"status"`
	CreatedAt            string `json:"created_at"`
	UpdatedAt            string `json:"updated_at"`
}

func toAdvanceDTO(a advance.AdvanceRequest) AdvanceDTO {
	return AdvanceDTO{
		ID:                   string(a.ID),
		EmployeeID:           string(a.EmployeeID),
		RequestedAmount:      money(a.RequestedAmount),
		Commission:           money(a.Commission),
		Tax:                  money(a.Tax),
		NetAmountTransferred: money(a.NetAmountTransferred),
		ExternalTransferID:   a.ExternalTransferID,
		Status:               string(a.Status),
		CreatedAt:            a.CreatedAt.Format(time.RFC3339),
		UpdatedAt:            a.UpdatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// SCENARIOS AND ERRORS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the body of every non-2xx response.
// Kind is the stable machine-readable classification.
type ErrorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	Details   string `json:"details,omitempty"`
	AdvanceID string `json:"advance_id,omitempty"`
	Pending   bool   `json:"pending,omitempty"`
}
