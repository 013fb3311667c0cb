/*
handlers.go - HTTP API handlers for the salary advance engine

PURPOSE:
  Exposes the advance engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the orchestrator.

ENDPOINTS:
  Employees:
    GET    /api/employees                          List employees
    POST   /api/employees                          Create or update employee
    GET    /api/employees/{id}                     Get employee
    GET    /api/employees/{id}/availability        Eligibility (?date=YYYY-MM-DD)

  Advances:
    POST   /api/employees/{id}/advances            Request and disburse an advance
    GET    /api/employees/{id}/advances            Employee advance history
    GET    /api/advances/{id}                      Get advance

  Fees:
    GET    /api/fees?amount=800.00                 Fee breakdown preview

  Admin:
    POST   /api/admin/reconcile                    Resolve stale pending advances

ERROR HANDLING:
  Every error body carries the engine's error kind. Status by kind:
  - 400: invalid_input
  - 403: employee_disabled
  - 404: employee_not_found, not_found
  - 409: duplicate_active_request
  - 422: amount_exceeds_available
  - 502: gateway_failure (pending=true when the outcome is still unknown)
  - 500: persistence_failure, internal

SECURITY NOTE:
  No authentication. The caller is trusted to act for the employee in the URL.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo data
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/warp/advance-engine/advance"
	"github.com/warp/advance-engine/advance/store"
	"go.uber.org/zap"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store        store.Backend
	Orchestrator *advance.Orchestrator
	Reconciler   *advance.Reconciler // nil when the gateway cannot look up transfers
	Clock        advance.Clock
	Logger       *zap.Logger

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler. clock must be the orchestrator's clock so
// availability previews agree with what ProcessAdvance enforces.
func NewHandler(backend store.Backend, orch *advance.Orchestrator, reconciler *advance.Reconciler, clock advance.Clock, logger *zap.Logger) *Handler {
	if clock == nil {
		clock = advance.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Store:        backend,
		Orchestrator: orch,
		Reconciler:   reconciler,
		Clock:        clock,
		Logger:       logger,
	}
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// ListEmployees returns all employees.
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Store.ListEmployees(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list employees", err)
		return
	}

	dtos := make([]EmployeeDTO, len(employees))
	for i, e := range employees {
		dtos[i] = toEmployeeDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetEmployee returns a single employee.
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	id := advance.EmployeeID(chi.URLParam(r, "id"))

	emp, err := h.Store.GetEmployeeRecord(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get employee", err)
		return
	}
	if emp == nil {
		writeEngineError(w, advance.ErrEmployeeNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(*emp))
}

// CreateEmployee creates or updates an employee.
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req CreateEmployeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if strings.TrimSpace(req.ID) == "" || strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}
	salary, err := advance.ParseMoney(req.MonthlySalary)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid monthly_salary", err)
		return
	}
	if !salary.IsPositive() {
		writeError(w, http.StatusBadRequest, "monthly_salary must be positive", nil)
		return
	}

	emp := store.EmployeeRecord{
		ID:            advance.EmployeeID(req.ID),
		Name:          req.Name,
		Email:         req.Email,
		MonthlySalary: advance.RoundMoney(salary),
		Enabled:       req.Enabled == nil || *req.Enabled,
	}
	if err := h.Store.SaveEmployee(r.Context(), emp); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save employee", err)
		return
	}

	writeJSON(w, http.StatusCreated, toEmployeeDTO(emp))
}

// GetAvailability returns how much the employee can request. Without a date
// the engine's clock is used, which is what ProcessAdvance will apply.
func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := advance.EmployeeID(chi.URLParam(r, "id"))

	emp, err := h.Store.GetEmployee(ctx, id)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	var elig advance.Eligibility
	if dateStr := r.URL.Query().Get("date"); dateStr != "" {
		date, perr := time.ParseInLocation("2006-01-02", dateStr, h.Clock.Now().Location())
		if perr != nil {
			writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", perr)
			return
		}
		elig, err = advance.CalculateEligibility(emp.MonthlySalary, date)
	} else {
		elig, err = h.Orchestrator.Available(ctx, id)
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, AvailabilityDTO{
		EmployeeID:    string(emp.ID),
		ReferenceDate: elig.ReferenceDate.Format("2006-01-02"),
		MonthlySalary: money(emp.MonthlySalary),
		DaysInMonth:   elig.DaysInMonth,
		DaysWorked:    elig.DaysWorked,
		DailyRate:     money(elig.DailyRate),
		Available:     money(elig.Available),
	})
}

// =============================================================================
// ADVANCE HANDLERS
// =============================================================================

// ProcessAdvance requests an advance and disburses it.
func (h *Handler) ProcessAdvance(w http.ResponseWriter, r *http.Request) {
	id := advance.EmployeeID(chi.URLParam(r, "id"))

	var req ProcessAdvanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := advance.ParseMoney(req.Amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	res, err := h.Orchestrator.ProcessAdvance(r.Context(), id, amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, DisbursementDTO{
		AdvanceID:            string(res.AdvanceID),
		NetAmountTransferred: money(res.NetAmountTransferred),
		ExternalTransferID:   res.ExternalTransferID,
		Status:               string(res.Status),
	})
}

// ListAdvances returns the employee's advances, newest first.
func (h *Handler) ListAdvances(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := advance.EmployeeID(chi.URLParam(r, "id"))

	if _, err := h.Store.GetEmployee(ctx, id); err != nil {
		writeEngineError(w, err)
		return
	}

	advances, err := h.Store.ListByEmployee(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list advances", err)
		return
	}

	dtos := make([]AdvanceDTO, len(advances))
	for i, a := range advances {
		dtos[i] = toAdvanceDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetAdvance returns one advance by id.
func (h *Handler) GetAdvance(w http.ResponseWriter, r *http.Request) {
	id := advance.AdvanceID(chi.URLParam(r, "id"))

	a, err := h.Store.Get(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAdvanceDTO(*a))
}

// PreviewFees returns the fee breakdown for ?amount= without touching the ledger.
func (h *Handler) PreviewFees(w http.ResponseWriter, r *http.Request) {
	amount, err := advance.ParseMoney(r.URL.Query().Get("amount"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	fees, err := h.Orchestrator.Fees(amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toFeesDTO(fees))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// TriggerReconcile runs one reconciliation pass over stale pending advances.
func (h *Handler) TriggerReconcile(w http.ResponseWriter, r *http.Request) {
	if h.Reconciler == nil {
		writeError(w, http.StatusServiceUnavailable, "Reconciliation unavailable: gateway does not support transfer lookup", nil)
		return
	}

	report, err := h.Reconciler.Reconcile(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Health reports whether the database is reachable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Database unreachable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps an engine error to its HTTP status by kind.
func writeEngineError(w http.ResponseWriter, err error) {
	kind := advance.KindOf(err)
	resp := ErrorResponse{
		Error: err.Error(),
		Kind:  string(kind),
	}

	var gwErr *advance.GatewayError
	if errors.As(err, &gwErr) {
		resp.AdvanceID = string(gwErr.AdvanceID)
		resp.Pending = gwErr.Pending
	}

	writeJSON(w, statusForKind(kind), resp)
}

func statusForKind(kind advance.ErrorKind) int {
	switch kind {
	case advance.KindInvalidInput:
		return http.StatusBadRequest
	case advance.KindEmployeeDisabled:
		return http.StatusForbidden
	case advance.KindEmployeeNotFound, advance.KindNotFound:
		return http.StatusNotFound
	case advance.KindDuplicateActiveRequest:
		return http.StatusConflict
	case advance.KindAmountExceedsAvailable:
		return http.StatusUnprocessableEntity
	case advance.KindGatewayFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func money(d decimal.Decimal) string {
	return d.StringFixed(advance.MoneyPlaces)
}
