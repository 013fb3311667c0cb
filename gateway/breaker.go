package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"github.com/warp/advance-engine/advance"
	"go.uber.org/zap"
)

var errLookupUnsupported = errors.New("gateway does not support transfer lookup")

// BreakerConfig holds circuit breaker configuration.
type BreakerConfig struct {
	Name                string
	MaxRequests         uint32        // Max requests in half-open state
	Interval            time.Duration // Closed-state window after which counts reset
	Timeout             time.Duration // Open-state duration before half-open
	ConsecutiveFailures uint32        // Consecutive failures to trip
}

// DefaultBreakerConfig is tuned for a slow external HTTP-style gateway.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:                "payment-gateway",
		MaxRequests:         3,
		Interval:            2 * time.Minute,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// =============================================================================
// BREAKER - Circuit breaker decorator
// =============================================================================

// Breaker fails fast while the wrapped gateway is unhealthy. A call rejected by
// an open circuit never reached the gateway, so it is reported as a definitive
// ErrTransferFailed and the orchestrator discards the provisional advance.
type Breaker struct {
	next   advance.PaymentGateway
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
}

func NewBreaker(next advance.PaymentGateway, cfg BreakerConfig, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Breaker{next: next, logger: logger}

	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			b.logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		// Rejections of bad input and caller cancellations say nothing about
		// gateway health.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, advance.ErrTransferFailed) ||
				errors.Is(err, context.Canceled)
		},
	})
	return b
}

func (b *Breaker) Transfer(ctx context.Context, req advance.TransferRequest) (string, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Transfer(ctx, req)
	})
	if err != nil {
		return "", breakerError(err)
	}
	return res.(string), nil
}

// LookupTransfer delegates to the wrapped gateway when it supports lookups.
func (b *Breaker) LookupTransfer(ctx context.Context, idempotencyKey string) (string, bool, error) {
	lookup, ok := b.next.(advance.TransferLookup)
	if !ok {
		return "", false, errLookupUnsupported
	}

	type lookupResult struct {
		id    string
		found bool
	}
	res, err := b.cb.Execute(func() (interface{}, error) {
		id, found, err := lookup.LookupTransfer(ctx, idempotencyKey)
		return lookupResult{id: id, found: found}, err
	})
	if err != nil {
		return "", false, err
	}
	r := res.(lookupResult)
	return r.id, r.found, nil
}

// State returns the breaker state name ("closed", "open", "half-open").
func (b *Breaker) State() string {
	return b.cb.State().String()
}

func breakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", advance.ErrTransferFailed, err)
	}
	return err
}
