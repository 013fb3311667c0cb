package advance_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/advance-engine/advance"
	"github.com/warp/advance-engine/advance/store"
)

// keyLookup answers LookupTransfer from a fixed map of idempotency keys.
type keyLookup struct {
	transfers map[string]string
	failing   map[string]bool
}

func (l *keyLookup) LookupTransfer(_ context.Context, key string) (string, bool, error) {
	if l.failing[key] {
		return "", false, errors.New("gateway unavailable")
	}
	id, ok := l.transfers[key]
	return id, ok, nil
}

func pendingAdvance(t *testing.T, ledger *store.Memory, employeeID advance.EmployeeID, key string, createdAt time.Time) advance.AdvanceRequest {
	t.Helper()
	fees, err := advance.ComputeNet(money("500"))
	require.NoError(t, err)

	ledger.SetNow(func() time.Time { return createdAt })
	req := &advance.AdvanceRequest{
		EmployeeID:           employeeID,
		RequestedAmount:      fees.RequestedAmount,
		Commission:           fees.Commission,
		Tax:                  fees.Tax,
		NetAmountTransferred: fees.NetAmountTransferred,
		IdempotencyKey:       key,
		Status:               advance.StatusPending,
	}
	require.NoError(t, ledger.Create(context.Background(), req))
	return *req
}

func TestReconcile_ResolvesStalePending(t *testing.T) {
	// GIVEN: Three stale pending rows: one transferred, one not, one unknown
	//        and a fresh row still inside the grace period
	// WHEN: Reconciling
	// THEN: Finalized, discarded, left pending, untouched

	now := time.Date(2026, time.June, 20, 12, 0, 0, 0, time.UTC)
	stale := now.Add(-10 * time.Minute)
	ledger := store.NewMemory()

	transferred := pendingAdvance(t, ledger, "emp-1", "key-1", stale)
	lost := pendingAdvance(t, ledger, "emp-2", "key-2", stale)
	unknown := pendingAdvance(t, ledger, "emp-3", "key-3", stale)
	fresh := pendingAdvance(t, ledger, "emp-4", "key-4", now.Add(-10*time.Second))

	lookup := &keyLookup{
		transfers: map[string]string{"key-1": "TRF-1", "key-4": "TRF-4"},
		failing:   map[string]bool{"key-3": true},
	}
	r := advance.NewReconciler(ledger, lookup,
		advance.WithReconcilerClock(advance.NewFixedClock(now)),
		advance.WithGracePeriod(time.Minute),
	)

	report, err := r.Reconcile(context.Background())
	require.NoError(t, err)

	assert.Equal(t, advance.ReconcileReport{Checked: 3, Finalized: 1, Discarded: 1, Unresolved: 1}, report)

	ctx := context.Background()
	got, err := ledger.Get(ctx, transferred.ID)
	require.NoError(t, err)
	assert.Equal(t, advance.StatusDisbursed, got.Status)
	assert.Equal(t, "TRF-1", got.ExternalTransferID)

	_, err = ledger.Get(ctx, lost.ID)
	assert.ErrorIs(t, err, advance.ErrAdvanceNotFound)

	got, err = ledger.Get(ctx, unknown.ID)
	require.NoError(t, err)
	assert.Equal(t, advance.StatusPending, got.Status)

	got, err = ledger.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, advance.StatusPending, got.Status, "rows inside the grace period are left alone")
}

func TestReconcile_NothingPending(t *testing.T) {
	r := advance.NewReconciler(store.NewMemory(), &keyLookup{})

	report, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report)
}

func TestReconcile_IgnoresDisbursed(t *testing.T) {
	now := time.Date(2026, time.June, 20, 12, 0, 0, 0, time.UTC)
	ledger := store.NewMemory()
	req := pendingAdvance(t, ledger, "emp-1", "key-1", now.Add(-time.Hour))
	require.NoError(t, ledger.MarkDisbursed(context.Background(), req.ID, "TRF-1", now))

	r := advance.NewReconciler(ledger, &keyLookup{},
		advance.WithReconcilerClock(advance.NewFixedClock(now)),
	)
	report, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Checked)
}

func TestReconcile_AfterGatewayOutage(t *testing.T) {
	// GIVEN: ProcessAdvance left a row pending because the gateway could not
	//        be reached, but the transfer actually went through
	// WHEN: The reconciler runs after the grace period
	// THEN: The row is finalized and the employee is blocked from a second advance

	gw := &lookupGateway{
		stubGateway: stubGateway{err: errors.New("503")},
		lookupErr:   errors.New("503"),
	}
	h := newHarness(t, gw)
	ctx := context.Background()

	_, err := h.orch.ProcessAdvance(ctx, "emp-1", money("800"))
	require.ErrorIs(t, err, advance.ErrGatewayFailure)
	row := h.only(t, "emp-1")
	require.Equal(t, advance.StatusPending, row.Status)

	// The gateway recovers and reports the transfer.
	gw.lookupErr = nil
	gw.foundID = "TRF-RECOVERED"

	r := advance.NewReconciler(h.ledger, gw,
		advance.WithReconcilerClock(advance.NewFixedClock(row.CreatedAt.Add(2*time.Minute))),
	)
	report, err := r.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Finalized)

	row = h.only(t, "emp-1")
	assert.Equal(t, advance.StatusDisbursed, row.Status)
	assert.Equal(t, "TRF-RECOVERED", row.ExternalTransferID)

	_, err = h.orch.ProcessAdvance(ctx, "emp-1", money("100"))
	assert.ErrorIs(t, err, advance.ErrDuplicateActiveRequest)
}

func TestReconcile_StopsOnCancelledContext(t *testing.T) {
	now := time.Date(2026, time.June, 20, 12, 0, 0, 0, time.UTC)
	ledger := store.NewMemory()
	pendingAdvance(t, ledger, "emp-1", "key-1", now.Add(-time.Hour))

	r := advance.NewReconciler(ledger, &keyLookup{},
		advance.WithReconcilerClock(advance.NewFixedClock(now)),
	)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Reconcile(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
