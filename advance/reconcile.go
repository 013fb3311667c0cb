package advance

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// DefaultGracePeriod keeps the reconciler away from rows whose ProcessAdvance
// call may still be in flight. It must exceed MaxProcessingTime for the
// configured gateway timeout; config validation enforces this.
const DefaultGracePeriod = time.Minute

// =============================================================================
// RECONCILER - Restart recovery for pending advances
// =============================================================================

// Reconciler resolves rows left pending by a crash, a cancelled caller or an
// unreachable gateway, by asking the gateway whether the transfer for the
// row's idempotency key happened.
type Reconciler struct {
	ledger TxLedger
	lookup TransferLookup
	clock  Clock
	grace  time.Duration
	logger *zap.Logger
}

// ReconcileReport summarizes one reconciliation pass.
type ReconcileReport struct {
	Checked    int `json:"checked"`
	Finalized  int `json:"finalized"`
	Discarded  int `json:"discarded"`
	Unresolved int `json:"unresolved"`
}

type ReconcilerOption func(*Reconciler)

func WithReconcilerClock(c Clock) ReconcilerOption {
	return func(r *Reconciler) { r.clock = c }
}

func WithGracePeriod(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) { r.grace = d }
}

func WithReconcilerLogger(l *zap.Logger) ReconcilerOption {
	return func(r *Reconciler) { r.logger = l }
}

func NewReconciler(ledger TxLedger, lookup TransferLookup, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		ledger: ledger,
		lookup: lookup,
		clock:  SystemClock{},
		grace:  DefaultGracePeriod,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile runs one pass over pending rows older than the grace period.
// A row whose lookup fails stays pending and is counted as unresolved.
func (r *Reconciler) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport

	pending, err := r.ledger.ListPending(ctx, r.clock.Now().Add(-r.grace))
	if err != nil {
		return report, &PersistenceError{Op: "list pending advances", Err: err}
	}

	for _, req := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++
		log := r.logger.With(
			zap.String("advance_id", string(req.ID)),
			zap.String("employee_id", string(req.EmployeeID)),
		)

		transferID, found, err := r.lookup.LookupTransfer(ctx, req.IdempotencyKey)
		if err != nil {
			report.Unresolved++
			reconciledTotal.WithLabelValues("unresolved").Inc()
			log.Warn("transfer lookup failed", zap.Error(err))
			continue
		}

		if found {
			err = r.ledger.WithTx(ctx, func(l Ledger) error {
				return l.MarkDisbursed(ctx, req.ID, transferID, r.clock.Now())
			})
		} else {
			err = r.ledger.WithTx(ctx, func(l Ledger) error {
				return l.Discard(ctx, req.ID)
			})
		}

		switch {
		case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrAdvanceNotFound):
			// Resolved concurrently by the original call.
			log.Debug("advance already resolved")
		case err != nil:
			report.Unresolved++
			reconciledTotal.WithLabelValues("unresolved").Inc()
			log.Error("failed to resolve pending advance", zap.Error(err))
		case found:
			report.Finalized++
			reconciledTotal.WithLabelValues("finalized").Inc()
			log.Info("pending advance finalized", zap.String("transfer_id", transferID))
		default:
			report.Discarded++
			reconciledTotal.WithLabelValues("discarded").Inc()
			log.Info("pending advance discarded, no transfer found")
		}
	}

	return report, nil
}
