/*
scenarios_test.go - Tests for demo scenarios

PURPOSE:
	Each scenario must leave the directory in the state its description
	promises, with no advances left over from a previous load.
*/
package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenario_Demo(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	employees, err := ts.store.ListEmployees(ctx)
	require.NoError(t, err)
	require.Len(t, employees, 3)

	byID := map[string]bool{}
	for _, e := range employees {
		byID[string(e.ID)] = e.Enabled
	}
	assert.Equal(t, map[string]bool{"1": true, "2": true, "3": false}, byID)
}

func TestScenario_LoadClearsAdvances(t *testing.T) {
	// GIVEN: The demo scenario with a disbursed advance for employee 1
	// WHEN: Loading payroll-team
	// THEN: The old employees and their advances are gone

	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/employees/1/advances", ProcessAdvanceRequest{Amount: "100"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "payroll-team"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	ctx := context.Background()
	employees, err := ts.store.ListEmployees(ctx)
	require.NoError(t, err)
	assert.Len(t, employees, 6)

	history, err := ts.store.ListByEmployee(ctx, "1")
	require.NoError(t, err)
	assert.Empty(t, history)

	rec = ts.do(t, http.MethodGet, "/api/scenarios/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "payroll-team", decode[ScenarioDTO](t, rec).ID)

	rec = ts.do(t, http.MethodPost, "/api/employees/emp-fabio/advances", ProcessAdvanceRequest{Amount: "100"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestScenario_UnknownID(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScenario_ListAndReset(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/scenarios/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]ScenarioDTO](t, rec), len(scenarios))

	rec = ts.do(t, http.MethodPost, "/api/scenarios/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	employees, err := ts.store.ListEmployees(context.Background())
	require.NoError(t, err)
	assert.Empty(t, employees)

	rec = ts.do(t, http.MethodGet, "/api/scenarios/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null\n", rec.Body.String())
}

func TestScenario_EveryDefinitionHasEmployees(t *testing.T) {
	for _, s := range scenarios {
		emps, ok := scenarioEmployees[s.ID]
		assert.True(t, ok, s.ID)
		assert.NotEmpty(t, emps, s.ID)
		for _, e := range emps {
			assert.True(t, e.MonthlySalary.IsPositive(), "%s/%s", s.ID, e.ID)
		}
	}
}
