/*
scenarios.go - Demo scenario loaders

PURPOSE:
  Populates the directory with employees that exercise each outcome of
  ProcessAdvance: a normal grant, a disabled employee, an amount above the
  prorated limit, and a second request while one is active.

AVAILABLE SCENARIOS:
  demo:         Juan Perez (1), Maria Gomez (2), Pedro Lopez (3, disabled)
  payroll-team: A larger team with a spread of salaries

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "demo"}

NOTE:
  Scenarios reset the database, advances included. Development only.

SEE ALSO:
  - handlers.go: Advance endpoints
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/warp/advance-engine/advance"
	"github.com/warp/advance-engine/advance/store"
	"go.uber.org/zap"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "demo",
		Name:        "Demo",
		Description: "Two enabled employees and one disabled employee",
	},
	{
		ID:          "payroll-team",
		Name:        "Payroll Team",
		Description: "Six employees with salaries from 1200.00 to 9800.00",
	},
}

var scenarioEmployees = map[string][]store.EmployeeRecord{
	"demo": {
		{ID: "1", Name: "Juan Perez", Email: "juan.perez@example.com", MonthlySalary: advance.MustParseMoney("3000.00"), Enabled: true},
		{ID: "2", Name: "Maria Gomez", Email: "maria.gomez@example.com", MonthlySalary: advance.MustParseMoney("3500.00"), Enabled: true},
		{ID: "3", Name: "Pedro Lopez", Email: "pedro.lopez@example.com", MonthlySalary: advance.MustParseMoney("2800.00"), Enabled: false},
	},
	"payroll-team": {
		{ID: "emp-ana", Name: "Ana Torres", Email: "ana.torres@example.com", MonthlySalary: advance.MustParseMoney("1200.00"), Enabled: true},
		{ID: "emp-bruno", Name: "Bruno Diaz", Email: "bruno.diaz@example.com", MonthlySalary: advance.MustParseMoney("2000.00"), Enabled: true},
		{ID: "emp-carla", Name: "Carla Rojas", Email: "carla.rojas@example.com", MonthlySalary: advance.MustParseMoney("4150.50"), Enabled: true},
		{ID: "emp-diego", Name: "Diego Salas", Email: "diego.salas@example.com", MonthlySalary: advance.MustParseMoney("6300.00"), Enabled: true},
		{ID: "emp-elena", Name: "Elena Vargas", Email: "elena.vargas@example.com", MonthlySalary: advance.MustParseMoney("9800.00"), Enabled: true},
		{ID: "emp-fabio", Name: "Fabio Quispe", Email: "fabio.quispe@example.com", MonthlySalary: advance.MustParseMoney("2500.00"), Enabled: false},
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if _, ok := scenarioEmployees[req.ScenarioID]; !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	if err := h.loadScenario(r.Context(), req.ScenarioID); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all employees and advances.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadScenario(ctx context.Context, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	h.currentScenario = ""

	for _, emp := range scenarioEmployees[id] {
		if err := h.Store.SaveEmployee(ctx, emp); err != nil {
			return fmt.Errorf("save employee %s: %w", emp.ID, err)
		}
	}

	h.currentScenario = id
	h.Logger.Info("scenario loaded",
		zap.String("scenario", id),
		zap.Int("employees", len(scenarioEmployees[id])),
	)
	return nil
}
