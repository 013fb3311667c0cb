/*
Package gateway provides payment gateway implementations for the advance engine.

IMPLEMENTATIONS:
  Simulated: In-process gateway with configurable latency. Deduplicates by
             idempotency key and answers LookupTransfer, so it exercises the
             whole recovery path of the orchestrator.
  Breaker:   Circuit-breaker decorator (sony/gobreaker) for any gateway.

TRANSFER IDS:
  <PREFIX>-<unix millis>-<4 random digits>, e.g. TRF-1781913600000-0427

SEE ALSO:
  - advance/gateway.go: PaymentGateway and TransferLookup contracts
*/
package gateway

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/warp/advance-engine/advance"
	"go.uber.org/zap"
)

const (
	DefaultLatency = 500 * time.Millisecond
	DefaultPrefix  = "TRF"
)

// =============================================================================
// SIMULATED GATEWAY
// =============================================================================

type Simulated struct {
	prefix  string
	latency time.Duration
	logger  *zap.Logger
	now     func() time.Time

	mu        sync.Mutex
	transfers map[string]string // idempotency key -> transfer id
	calls     int
}

type SimulatedOption func(*Simulated)

func WithLatency(d time.Duration) SimulatedOption { return func(s *Simulated) { s.latency = d } }
func WithPrefix(p string) SimulatedOption         { return func(s *Simulated) { s.prefix = p } }
func WithLogger(l *zap.Logger) SimulatedOption    { return func(s *Simulated) { s.logger = l } }

func NewSimulated(opts ...SimulatedOption) *Simulated {
	s := &Simulated{
		prefix:    DefaultPrefix,
		latency:   DefaultLatency,
		logger:    zap.NewNop(),
		now:       time.Now,
		transfers: make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Transfer simulates moving req.Amount. A repeated idempotency key returns the
// original transfer id without moving funds again.
func (s *Simulated) Transfer(ctx context.Context, req advance.TransferRequest) (string, error) {
	if !req.Amount.IsPositive() {
		return "", fmt.Errorf("%w: invalid amount %s", advance.ErrTransferFailed, req.Amount.String())
	}
	if req.IdempotencyKey == "" {
		return "", fmt.Errorf("%w: missing idempotency key", advance.ErrTransferFailed)
	}

	s.mu.Lock()
	s.calls++
	if id, ok := s.transfers[req.IdempotencyKey]; ok {
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	if s.latency > 0 {
		timer := time.NewTimer(s.latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return "", fmt.Errorf("transfer interrupted: %w", ctx.Err())
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.transfers[req.IdempotencyKey]; ok {
		return id, nil
	}
	id := fmt.Sprintf("%s-%d-%04d", s.prefix, s.now().UnixMilli(), rand.IntN(10000))
	s.transfers[req.IdempotencyKey] = id

	s.logger.Info("simulated transfer",
		zap.String("employee_id", string(req.EmployeeID)),
		zap.String("amount", req.Amount.StringFixed(advance.MoneyPlaces)),
		zap.String("transfer_id", id),
	)
	return id, nil
}

// LookupTransfer reports the transfer recorded for idempotencyKey.
func (s *Simulated) LookupTransfer(_ context.Context, idempotencyKey string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.transfers[idempotencyKey]
	return id, ok, nil
}

// Calls returns how many Transfer calls reached the gateway.
func (s *Simulated) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Transfers returns the number of distinct transfers executed.
func (s *Simulated) Transfers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transfers)
}
