package gateway_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/advance-engine/advance"
	"github.com/warp/advance-engine/gateway"
)

func transferRequest(key, amount string) advance.TransferRequest {
	return advance.TransferRequest{
		IdempotencyKey: key,
		EmployeeID:     "emp-1",
		Amount:         advance.MustParseMoney(amount),
	}
}

func TestSimulated_TransferIDFormat(t *testing.T) {
	gw := gateway.NewSimulated(gateway.WithLatency(0), gateway.WithPrefix("TEST"))

	id, err := gw.Transfer(context.Background(), transferRequest("key-1", "752.80"))
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^TEST-\d+-\d{4}$`), id)
}

func TestSimulated_DeduplicatesByIdempotencyKey(t *testing.T) {
	// GIVEN: A transfer already executed for key-1
	// WHEN: The same key is sent again
	// THEN: The original id comes back and no new transfer is recorded

	gw := gateway.NewSimulated(gateway.WithLatency(0))
	ctx := context.Background()

	first, err := gw.Transfer(ctx, transferRequest("key-1", "100"))
	require.NoError(t, err)
	second, err := gw.Transfer(ctx, transferRequest("key-1", "100"))
	require.NoError(t, err)
	_, err = gw.Transfer(ctx, transferRequest("key-2", "100"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 3, gw.Calls())
	assert.Equal(t, 2, gw.Transfers())
}

func TestSimulated_RejectsInvalidRequests(t *testing.T) {
	gw := gateway.NewSimulated(gateway.WithLatency(0))
	ctx := context.Background()

	_, err := gw.Transfer(ctx, transferRequest("key-1", "0"))
	assert.ErrorIs(t, err, advance.ErrTransferFailed)

	_, err = gw.Transfer(ctx, transferRequest("", "10"))
	assert.ErrorIs(t, err, advance.ErrTransferFailed)

	assert.Zero(t, gw.Transfers())
}

func TestSimulated_RespectsContext(t *testing.T) {
	gw := gateway.NewSimulated(gateway.WithLatency(time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := gw.Transfer(ctx, transferRequest("key-1", "100"))

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, advance.ErrTransferFailed, "an interrupted call is ambiguous")
	assert.Zero(t, gw.Transfers())
}

func TestSimulated_LookupTransfer(t *testing.T) {
	gw := gateway.NewSimulated(gateway.WithLatency(0))
	ctx := context.Background()

	id, err := gw.Transfer(ctx, transferRequest("key-1", "100"))
	require.NoError(t, err)

	found, ok, err := gw.LookupTransfer(ctx, "key-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, id, found)

	_, ok, err = gw.LookupTransfer(ctx, "key-unknown")
	require.NoError(t, err)
	assert.False(t, ok)
}
