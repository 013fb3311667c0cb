/*
scheduler.go - Periodic reconciliation of pending advances

PURPOSE:
  Runs the advance Reconciler in the background so that advances left
  pending by a crash or an unanswered gateway call are finalized or
  discarded without operator action.

DESIGN:
  - One goroutine, ticker driven, first pass immediately on Start
  - Each pass is bounded by the check interval so a hung gateway lookup
    cannot stack passes
  - Stop waits for the running pass to return

USAGE:
  scheduler := NewReconciliationScheduler(reconciler, time.Minute, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerReconcile endpoint (manual pass)
  - advance/reconcile.go: Reconciler
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/warp/advance-engine/advance"
	"go.uber.org/zap"
)

// ReconciliationScheduler drives advance.Reconciler on a fixed interval.
type ReconciliationScheduler struct {
	Reconciler    *advance.Reconciler
	CheckInterval time.Duration
	Enabled       bool
	Logger        *zap.Logger

	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	lastRun time.Time
}

func NewReconciliationScheduler(reconciler *advance.Reconciler, interval time.Duration, logger *zap.Logger) *ReconciliationScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconciliationScheduler{
		Reconciler:    reconciler,
		CheckInterval: interval,
		Enabled:       reconciler != nil && interval > 0,
		Logger:        logger,
		stop:          make(chan struct{}),
	}
}

// Start begins the scheduler.
func (rs *ReconciliationScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.Logger.Info("reconciliation scheduler disabled")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.wg.Add(1)
	go rs.run()

	rs.Logger.Info("reconciliation scheduler started", zap.Duration("interval", rs.CheckInterval))
}

// Stop stops the scheduler and waits for an in-flight pass.
func (rs *ReconciliationScheduler) Stop() {
	rs.mu.Lock()
	ticker := rs.ticker
	rs.ticker = nil
	rs.mu.Unlock()

	if ticker == nil {
		return
	}
	ticker.Stop()
	close(rs.stop)
	rs.wg.Wait()
	rs.Logger.Info("reconciliation scheduler stopped")
}

func (rs *ReconciliationScheduler) run() {
	defer rs.wg.Done()

	rs.RunNow()

	for {
		select {
		case <-rs.ticker.C:
			rs.RunNow()
		case <-rs.stop:
			return
		}
	}
}

// RunNow executes one reconciliation pass synchronously.
func (rs *ReconciliationScheduler) RunNow() advance.ReconcileReport {
	ctx, cancel := context.WithTimeout(context.Background(), rs.CheckInterval)
	defer cancel()

	report, err := rs.Reconciler.Reconcile(ctx)

	rs.mu.Lock()
	rs.lastRun = time.Now()
	rs.mu.Unlock()

	if err != nil {
		rs.Logger.Error("reconciliation pass failed", zap.Error(err))
		return report
	}
	if report.Checked > 0 {
		rs.Logger.Info("reconciliation pass complete",
			zap.Int("checked", report.Checked),
			zap.Int("finalized", report.Finalized),
			zap.Int("discarded", report.Discarded),
			zap.Int("unresolved", report.Unresolved),
		)
	}
	return report
}

// GetNextRunTime returns when the next pass is due.
func (rs *ReconciliationScheduler) GetNextRunTime() time.Time {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.lastRun.IsZero() {
		return time.Now()
	}
	return rs.lastRun.Add(rs.CheckInterval)
}
