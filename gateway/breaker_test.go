package gateway_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/advance-engine/advance"
	"github.com/warp/advance-engine/gateway"
)

// flakyGateway fails with err until healthy is set.
type flakyGateway struct {
	err     error
	healthy bool
	calls   int
}

func (f *flakyGateway) Transfer(_ context.Context, req advance.TransferRequest) (string, error) {
	f.calls++
	if !f.healthy {
		return "", f.err
	}
	return "TRF-" + req.IdempotencyKey, nil
}

func testBreakerConfig() gateway.BreakerConfig {
	cfg := gateway.DefaultBreakerConfig()
	cfg.ConsecutiveFailures = 3
	cfg.Timeout = 50 * time.Millisecond
	cfg.MaxRequests = 1
	return cfg
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	// GIVEN: A gateway that times out on every call
	// WHEN: Failures reach the threshold
	// THEN: The circuit opens and calls fail fast as definitive rejections

	next := &flakyGateway{err: context.DeadlineExceeded}
	b := gateway.NewBreaker(next, testBreakerConfig(), nil)
	ctx := context.Background()

	for i := range 3 {
		_, err := b.Transfer(ctx, transferRequest(fmt.Sprintf("key-%d", i), "100"))
		require.Error(t, err)
		assert.NotErrorIs(t, err, advance.ErrTransferFailed, "timeouts stay ambiguous")
	}
	assert.Equal(t, "open", b.State())

	_, err := b.Transfer(ctx, transferRequest("key-open", "100"))
	assert.ErrorIs(t, err, advance.ErrTransferFailed)
	assert.Equal(t, 3, next.calls, "open circuit never reaches the gateway")
}

func TestBreaker_RecoversAfterTimeout(t *testing.T) {
	next := &flakyGateway{err: errors.New("connection reset")}
	b := gateway.NewBreaker(next, testBreakerConfig(), nil)
	ctx := context.Background()

	for i := range 3 {
		_, _ = b.Transfer(ctx, transferRequest(fmt.Sprintf("key-%d", i), "100"))
	}
	require.Equal(t, "open", b.State())

	next.healthy = true
	time.Sleep(80 * time.Millisecond)

	id, err := b.Transfer(ctx, transferRequest("key-ok", "100"))
	require.NoError(t, err)
	assert.Equal(t, "TRF-key-ok", id)
	assert.Equal(t, "closed", b.State())
}

func TestBreaker_DefinitiveRejectionsDoNotTrip(t *testing.T) {
	next := &flakyGateway{err: fmt.Errorf("%w: insufficient funds", advance.ErrTransferFailed)}
	b := gateway.NewBreaker(next, testBreakerConfig(), nil)

	for i := range 5 {
		_, err := b.Transfer(context.Background(), transferRequest(fmt.Sprintf("key-%d", i), "100"))
		assert.ErrorIs(t, err, advance.ErrTransferFailed)
	}

	assert.Equal(t, "closed", b.State())
	assert.Equal(t, 5, next.calls)
}

func TestBreaker_LookupTransfer(t *testing.T) {
	ctx := context.Background()

	sim := gateway.NewSimulated(gateway.WithLatency(0))
	b := gateway.NewBreaker(sim, testBreakerConfig(), nil)
	id, err := b.Transfer(ctx, transferRequest("key-1", "100"))
	require.NoError(t, err)

	found, ok, err := b.LookupTransfer(ctx, "key-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, id, found)

	plain := gateway.NewBreaker(&flakyGateway{healthy: true}, testBreakerConfig(), nil)
	_, _, err = plain.LookupTransfer(ctx, "key-1")
	assert.Error(t, err)
}
