/*
orchestrator.go - Disbursement orchestration

PURPOSE:
  ProcessAdvance validates an employee's request, reserves it in the ledger,
  moves the money through the payment gateway and records the outcome.

TWO-PHASE COMMIT:
  No ledger transaction is held open across the gateway call.

  Phase 1 (one transaction):
    lock employee (if the ledger supports it)
    -> employee lookup (disabled / unknown rejected)
    -> eligibility with the injected clock
    -> duplicate check (FindActive)
    -> fees
    -> insert pending row with a fresh idempotency key
    -> commit
  Transfer: gateway call with the idempotency key, bounded by GatewayTimeout.
  Phase 2 (second short transaction): pending -> disbursed with transfer id.

  Between the phases the pending row is visible and blocks a second advance
  for the same employee, which is what makes a retry safe.

FAILURE HANDLING:
  Business rejection in phase 1   -> rollback, nothing written
  Definitive gateway rejection    -> pending row discarded, GatewayFailure
  Ambiguous gateway outcome       -> ask the gateway by idempotency key:
    found      -> finalize and succeed
    not found  -> discard, GatewayFailure
    unknown    -> row stays pending for the Reconciler, GatewayFailure
  Phase 2 runs detached from caller cancellation so a completed transfer is
  always recorded once the gateway has confirmed it.

SEE ALSO:
  - reconcile.go: Restart recovery for rows left pending
  - store.go: Ledger contract
*/
package advance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// DefaultGatewayTimeout bounds a single transfer call.
	DefaultGatewayTimeout = 5 * time.Second

	// FinalizeTimeout bounds each detached step after the transfer call:
	// the lookup, and the finalize or discard transaction.
	FinalizeTimeout = 10 * time.Second
)

// MaxProcessingTime is the longest a ProcessAdvance call can keep its pending
// row in flight once reserved: the transfer plus lookup plus finalize.
// Zero means unbounded.
func MaxProcessingTime(gatewayTimeout time.Duration) time.Duration {
	if gatewayTimeout <= 0 {
		return 0
	}
	return gatewayTimeout + 2*FinalizeTimeout
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

type Orchestrator struct {
	ledger         TxLedger
	directory      EmployeeDirectory
	gateway        PaymentGateway
	clock          Clock
	fees           FeeSchedule
	gatewayTimeout time.Duration
	logger         *zap.Logger
	newKey         func() string
}

type Option func(*Orchestrator)

// WithClock injects the reference-date source. Defaults to SystemClock in UTC.
func WithClock(c Clock) Option { return func(o *Orchestrator) { o.clock = c } }

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// WithGatewayTimeout bounds each transfer call. Zero disables the bound.
func WithGatewayTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.gatewayTimeout = d }
}

// WithFeeSchedule overrides DefaultFeeSchedule.
func WithFeeSchedule(s FeeSchedule) Option { return func(o *Orchestrator) { o.fees = s } }

// NewOrchestrator wires the engine to its collaborators.
func NewOrchestrator(ledger TxLedger, directory EmployeeDirectory, gateway PaymentGateway, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		ledger:         ledger,
		directory:      directory,
		gateway:        gateway,
		clock:          SystemClock{},
		fees:           DefaultFeeSchedule,
		gatewayTimeout: DefaultGatewayTimeout,
		logger:         zap.NewNop(),
		newKey:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Available returns the employee's current eligibility using the injected clock.
func (o *Orchestrator) Available(ctx context.Context, employeeID EmployeeID) (Eligibility, error) {
	emp, err := o.directory.GetEmployee(ctx, employeeID)
	if err != nil {
		return Eligibility{}, directoryError(err)
	}
	return CalculateEligibility(emp.MonthlySalary, o.clock.Now())
}

// Fees exposes the configured schedule applied to amount.
func (o *Orchestrator) Fees(amount decimal.Decimal) (Fees, error) {
	return o.fees.Compute(amount)
}

// ProcessAdvance grants and disburses an advance of requestedAmount.
func (o *Orchestrator) ProcessAdvance(ctx context.Context, employeeID EmployeeID, requestedAmount decimal.Decimal) (*DisbursementResult, error) {
	log := o.logger.With(
		zap.String("employee_id", string(employeeID)),
		zap.String("requested_amount", requestedAmount.StringFixed(MoneyPlaces)),
	)

	res, err := o.process(ctx, log, employeeID, requestedAmount)
	advanceRequestsTotal.WithLabelValues(outcomeLabel(err)).Inc()
	if err != nil {
		o.logFailure(log, err)
		return nil, err
	}
	return res, nil
}

func (o *Orchestrator) process(ctx context.Context, log *zap.Logger, employeeID EmployeeID, amount decimal.Decimal) (*DisbursementResult, error) {
	if err := validateRequest(employeeID, amount); err != nil {
		return nil, err
	}

	pending, err := o.reserve(ctx, employeeID, amount)
	if err != nil {
		return nil, err
	}
	log = log.With(zap.String("advance_id", string(pending.ID)))

	transferID, err := o.transfer(ctx, pending)
	if err != nil {
		return o.recoverTransfer(ctx, log, pending, err)
	}
	return o.finalize(ctx, log, pending, transferID)
}

func validateRequest(employeeID EmployeeID, amount decimal.Decimal) error {
	if strings.TrimSpace(string(employeeID)) == "" {
		return &InvalidInputError{Field: "employee_id", Reason: "must not be empty"}
	}
	if !amount.IsPositive() {
		return &InvalidInputError{Field: "requested_amount", Reason: "must be a positive number"}
	}
	if !amount.Equal(RoundMoney(amount)) {
		return &InvalidInputError{Field: "requested_amount", Reason: "must have at most 2 decimal places"}
	}
	return nil
}

// =============================================================================
// PHASE 1 - Validate and reserve
// =============================================================================

func (o *Orchestrator) reserve(ctx context.Context, employeeID EmployeeID, amount decimal.Decimal) (*AdvanceRequest, error) {
	var created *AdvanceRequest

	err := o.ledger.WithTx(ctx, func(l Ledger) error {
		if locker, ok := l.(EmployeeLocker); ok {
			if err := locker.LockEmployee(ctx, employeeID); err != nil {
				return &PersistenceError{Op: "lock employee", Err: err}
			}
		}

		// A tx-scoped ledger that can also read employees keeps the lookup
		// inside the same transaction.
		directory := o.directory
		if d, ok := l.(EmployeeDirectory); ok {
			directory = d
		}
		emp, err := directory.GetEmployee(ctx, employeeID)
		if err != nil {
			return directoryError(err)
		}
		if !emp.Enabled {
			return ErrEmployeeDisabled
		}

		available, err := CalculateAvailable(emp.MonthlySalary, o.clock.Now())
		if err != nil {
			return err
		}
		if amount.GreaterThan(available) {
			return &AmountExceedsAvailableError{EmployeeID: employeeID, Requested: amount, Available: available}
		}

		active, err := l.FindActive(ctx, employeeID)
		if err != nil {
			return &PersistenceError{Op: "find active advance", Err: err}
		}
		if active != nil {
			return fmt.Errorf("%w (advance %s is %s)", ErrDuplicateActiveRequest, active.ID, active.Status)
		}

		fees, err := o.fees.Compute(amount)
		if err != nil {
			return err
		}

		req := &AdvanceRequest{
			EmployeeID:           employeeID,
			RequestedAmount:      fees.RequestedAmount,
			Commission:           fees.Commission,
			Tax:                  fees.Tax,
			NetAmountTransferred: fees.NetAmountTransferred,
			IdempotencyKey:       o.newKey(),
			Status:               StatusPending,
		}
		if err := l.Create(ctx, req); err != nil {
			if errors.Is(err, ErrDuplicateActiveRequest) {
				return err
			}
			return &PersistenceError{Op: "create advance", Err: err}
		}
		created = req
		return nil
	})
	if err != nil {
		return nil, ledgerError("reserve advance", err)
	}
	return created, nil
}

// =============================================================================
// TRANSFER
// =============================================================================

func (o *Orchestrator) transfer(ctx context.Context, req *AdvanceRequest) (string, error) {
	tctx := ctx
	if o.gatewayTimeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, o.gatewayTimeout)
		defer cancel()
	}

	start := time.Now()
	transferID, err := o.gateway.Transfer(tctx, TransferRequest{
		IdempotencyKey: req.IdempotencyKey,
		EmployeeID:     req.EmployeeID,
		Amount:         req.NetAmountTransferred,
	})
	if err == nil && strings.TrimSpace(transferID) == "" {
		err = errors.New("gateway returned an empty transfer id")
	}

	result := "ok"
	if err != nil {
		result = "error"
	}
	gatewayDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	return transferID, err
}

// recoverTransfer resolves a failed transfer call so the ledger never claims
// a disbursement that did not happen, and never forgets one that did.
func (o *Orchestrator) recoverTransfer(ctx context.Context, log *zap.Logger, req *AdvanceRequest, transferErr error) (*DisbursementResult, error) {
	detached := context.WithoutCancel(ctx)

	if errors.Is(transferErr, ErrTransferFailed) {
		return nil, o.discard(detached, log, req, transferErr)
	}

	lookup, ok := o.gateway.(TransferLookup)
	if !ok {
		log.Warn("transfer outcome unknown, advance left pending for reconciliation", zap.Error(transferErr))
		return nil, &GatewayError{AdvanceID: req.ID, Pending: true, Err: transferErr}
	}

	lctx, cancel := context.WithTimeout(detached, FinalizeTimeout)
	transferID, found, err := lookup.LookupTransfer(lctx, req.IdempotencyKey)
	cancel()
	switch {
	case err != nil:
		log.Warn("transfer lookup failed, advance left pending for reconciliation",
			zap.NamedError("transfer_error", transferErr), zap.Error(err))
		return nil, &GatewayError{AdvanceID: req.ID, Pending: true, Err: transferErr}
	case found:
		log.Info("transfer confirmed by lookup after failed call", zap.String("transfer_id", transferID))
		return o.finalize(detached, log, req, transferID)
	default:
		return nil, o.discard(detached, log, req, transferErr)
	}
}

func (o *Orchestrator) discard(ctx context.Context, log *zap.Logger, req *AdvanceRequest, transferErr error) error {
	dctx, cancel := context.WithTimeout(ctx, FinalizeTimeout)
	defer cancel()

	err := o.ledger.WithTx(dctx, func(l Ledger) error {
		return l.Discard(dctx, req.ID)
	})
	if err != nil {
		log.Error("failed to discard provisional advance, left pending for reconciliation",
			zap.NamedError("transfer_error", transferErr), zap.Error(err))
		return &GatewayError{AdvanceID: req.ID, Pending: true, Err: transferErr}
	}
	return &GatewayError{AdvanceID: req.ID, Err: transferErr}
}

// =============================================================================
// PHASE 2 - Finalize
// =============================================================================

func (o *Orchestrator) finalize(ctx context.Context, log *zap.Logger, req *AdvanceRequest, transferID string) (*DisbursementResult, error) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), FinalizeTimeout)
	defer cancel()

	advanceID := req.ID
	err := o.ledger.WithTx(fctx, func(l Ledger) error {
		err := l.MarkDisbursed(fctx, req.ID, transferID, o.clock.Now())
		switch {
		case errors.Is(err, ErrInvalidTransition):
			// The reconciler may have finalized the same transfer first.
			row, gerr := l.Get(fctx, req.ID)
			if gerr == nil && row.Status == StatusDisbursed && row.ExternalTransferID == transferID {
				return nil
			}
		case errors.Is(err, ErrAdvanceNotFound):
			// The reconciler discarded the row while the call was in flight.
			restored, rerr := o.restore(fctx, l, req, transferID)
			if rerr != nil {
				return rerr
			}
			advanceID = restored
			log.Warn("advance discarded during transfer, restored as disbursed",
				zap.String("transfer_id", transferID),
				zap.String("restored_advance_id", string(restored)),
			)
			return nil
		}
		return err
	})
	if err != nil {
		log.Error("transfer succeeded but finalize failed",
			zap.String("transfer_id", transferID), zap.Error(err))
		return nil, finalizeError(req, transferID, err)
	}

	log.Info("advance disbursed",
		zap.String("net_amount_transferred", req.NetAmountTransferred.StringFixed(MoneyPlaces)),
		zap.String("transfer_id", transferID),
	)
	return &DisbursementResult{
		AdvanceID:            advanceID,
		NetAmountTransferred: req.NetAmountTransferred,
		ExternalTransferID:   transferID,
		Status:               StatusDisbursed,
	}, nil
}

// restore re-records a confirmed transfer whose pending row is gone. The new
// row keeps the original amounts and idempotency key.
func (o *Orchestrator) restore(ctx context.Context, l Ledger, req *AdvanceRequest, transferID string) (AdvanceID, error) {
	row := *req
	row.ID = ""
	row.Status = StatusPending
	row.ExternalTransferID = ""
	if err := l.Create(ctx, &row); err != nil {
		return "", err
	}
	if err := l.MarkDisbursed(ctx, row.ID, transferID, o.clock.Now()); err != nil {
		return "", err
	}
	return row.ID, nil
}

// finalizeError classifies a failure to record a confirmed transfer. When the
// row is gone the money moved with no ledger record; retrying would pay twice,
// so the caller gets a non-retryable error carrying the transfer id.
func finalizeError(req *AdvanceRequest, transferID string, err error) error {
	if errors.Is(err, ErrAdvanceNotFound) || errors.Is(err, ErrDuplicateActiveRequest) {
		return &GatewayError{
			AdvanceID:  req.ID,
			TransferID: transferID,
			Err:        fmt.Errorf("transfer executed but advance could not be recorded: %v", err),
		}
	}
	return ledgerError("finalize advance", err)
}

// =============================================================================
// HELPERS
// =============================================================================

func (o *Orchestrator) logFailure(log *zap.Logger, err error) {
	kind := zap.String("kind", string(KindOf(err)))
	if IsClientError(err) || IsNotFound(err) {
		// Rejections are never written to the ledger; this line is their audit trail.
		log.Info("advance rejected", kind, zap.Error(err))
		return
	}
	log.Error("advance failed", kind, zap.Error(err))
}

func directoryError(err error) error {
	if errors.Is(err, ErrEmployeeNotFound) {
		return err
	}
	return &PersistenceError{Op: "get employee", Err: err}
}

// ledgerError keeps classified errors as they are and wraps everything else
// (begin, commit, context cancellation) as a persistence failure.
func ledgerError(op string, err error) error {
	switch KindOf(err) {
	case KindInternal, KindNotFound:
		return &PersistenceError{Op: op, Err: err}
	}
	return err
}
