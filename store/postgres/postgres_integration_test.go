//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/advance-engine/advance"
	"github.com/warp/advance-engine/advance/store"
	"github.com/warp/advance-engine/gateway"
	"github.com/warp/advance-engine/store/postgres"
	"go.uber.org/zap"
)

// newIntegrationStore connects to ADVANCE_POSTGRES_DSN and truncates both
// tables. Point it at a throwaway database.
func newIntegrationStore(t *testing.T) *postgres.Store {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv("ADVANCE_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("ADVANCE_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	s, err := postgres.NewStore(ctx, dsn, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(s.Close)

	require.NoError(t, s.Reset(ctx))
	return s
}

func saveEmployee(t *testing.T, s *postgres.Store, id advance.EmployeeID, salary string, enabled bool) {
	t.Helper()
	require.NoError(t, s.SaveEmployee(context.Background(), store.EmployeeRecord{
		ID:            id,
		Name:          "Employee " + string(id),
		MonthlySalary: advance.MustParseMoney(salary),
		Enabled:       enabled,
	}))
}

func TestPostgres_EmployeeDirectory(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	saveEmployee(t, s, "emp-1", "3000.00", true)
	saveEmployee(t, s, "emp-1", "3500.00", false)

	emp, err := s.GetEmployee(ctx, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, "3500.00", emp.MonthlySalary.StringFixed(2))
	assert.False(t, emp.Enabled)

	_, err = s.GetEmployee(ctx, "ghost")
	assert.ErrorIs(t, err, advance.ErrEmployeeNotFound)

	rec, err := s.GetEmployeeRecord(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, rec)

	all, err := s.ListEmployees(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestPostgres_LedgerLifecycle(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	saveEmployee(t, s, "emp-1", "2000", true)

	fees, err := advance.ComputeNet(advance.MustParseMoney("933.33"))
	require.NoError(t, err)
	req := &advance.AdvanceRequest{
		EmployeeID:           "emp-1",
		RequestedAmount:      fees.RequestedAmount,
		Commission:           fees.Commission,
		Tax:                  fees.Tax,
		NetAmountTransferred: fees.NetAmountTransferred,
		IdempotencyKey:       "key-1",
		Status:               advance.StatusPending,
	}
	require.NoError(t, s.Create(ctx, req))

	dup := *req
	dup.IdempotencyKey = "key-2"
	assert.ErrorIs(t, s.Create(ctx, &dup), advance.ErrDuplicateActiveRequest)

	pending, err := s.ListPending(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "878.26", pending[0].NetAmountTransferred.StringFixed(2))

	require.NoError(t, s.MarkDisbursed(ctx, req.ID, "TRF-1", time.Now()))
	assert.ErrorIs(t, s.Discard(ctx, req.ID), advance.ErrInvalidTransition)
	assert.ErrorIs(t, s.MarkDisbursed(ctx, "00000000-0000-0000-0000-000000000000", "TRF-2", time.Now()), advance.ErrAdvanceNotFound)

	got, err := s.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, advance.StatusDisbursed, got.Status)
	assert.Equal(t, "TRF-1", got.ExternalTransferID)
}

func TestPostgres_WithTxRollback(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	saveEmployee(t, s, "emp-1", "2000", true)
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(l advance.Ledger) error {
		locker, ok := l.(advance.EmployeeLocker)
		require.True(t, ok)
		require.NoError(t, locker.LockEmployee(ctx, "emp-1"))
		require.NoError(t, l.Create(ctx, &advance.AdvanceRequest{
			EmployeeID:           "emp-1",
			RequestedAmount:      advance.MustParseMoney("100"),
			Commission:           advance.MustParseMoney("5"),
			Tax:                  advance.MustParseMoney("0.90"),
			NetAmountTransferred: advance.MustParseMoney("94.10"),
			IdempotencyKey:       "key-1",
			Status:               advance.StatusPending,
		}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	active, err := s.FindActive(ctx, "emp-1")
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestPostgres_ConcurrentAdvances(t *testing.T) {
	// GIVEN: One employee and many simultaneous requests
	// WHEN: All go through the orchestrator against Postgres
	// THEN: Exactly one succeeds and only one transfer is made

	s := newIntegrationStore(t)
	saveEmployee(t, s, "emp-1", "2000", true)

	gw := gateway.NewSimulated(gateway.WithLatency(10 * time.Millisecond))
	orch := advance.NewOrchestrator(s, s, gw,
		advance.WithClock(advance.NewFixedClock(advance.Date(2026, time.June, 20))),
	)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = orch.ProcessAdvance(context.Background(), "emp-1", advance.MustParseMoney("500"))
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		assert.ErrorIs(t, err, advance.ErrDuplicateActiveRequest)
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, gw.Transfers())
}
