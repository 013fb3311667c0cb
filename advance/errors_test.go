package advance_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/warp/advance-engine/advance"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want advance.ErrorKind
	}{
		{"nil", nil, advance.KindNone},
		{"invalid input", &advance.InvalidInputError{Field: "amount", Reason: "bad"}, advance.KindInvalidInput},
		{"employee not found", advance.ErrEmployeeNotFound, advance.KindEmployeeNotFound},
		{"employee disabled", advance.ErrEmployeeDisabled, advance.KindEmployeeDisabled},
		{"exceeds available", &advance.AmountExceedsAvailableError{Requested: money("10"), Available: money("5")}, advance.KindAmountExceedsAvailable},
		{"duplicate wrapped", fmt.Errorf("%w (advance x is pending)", advance.ErrDuplicateActiveRequest), advance.KindDuplicateActiveRequest},
		{"gateway", &advance.GatewayError{Err: context.DeadlineExceeded}, advance.KindGatewayFailure},
		{"persistence", &advance.PersistenceError{Op: "create", Err: errors.New("disk full")}, advance.KindPersistenceFailure},
		{"persistence hides not found", &advance.PersistenceError{Op: "finalize", Err: advance.ErrAdvanceNotFound}, advance.KindPersistenceFailure},
		{"advance not found", advance.ErrAdvanceNotFound, advance.KindNotFound},
		{"unknown", errors.New("boom"), advance.KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, advance.KindOf(tt.err))
		})
	}
}

func TestGatewayError_UnwrapsBoth(t *testing.T) {
	err := &advance.GatewayError{AdvanceID: "a-1", Pending: true, Err: context.DeadlineExceeded}

	assert.ErrorIs(t, err, advance.ErrGatewayFailure)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "pending reconciliation")
}

func TestErrorHelpers(t *testing.T) {
	gw := &advance.GatewayError{Err: advance.ErrTransferFailed}
	persist := &advance.PersistenceError{Op: "commit", Err: errors.New("io")}

	assert.True(t, advance.IsRetryable(gw))
	assert.True(t, advance.IsRetryable(persist))
	assert.False(t, advance.IsRetryable(advance.ErrEmployeeDisabled))
	assert.False(t, advance.IsRetryable(&advance.GatewayError{TransferID: "TRF-1", Err: errors.New("row gone")}))

	assert.True(t, advance.IsClientError(advance.ErrDuplicateActiveRequest))
	assert.True(t, advance.IsClientError(&advance.InvalidInputError{Field: "x", Reason: "y"}))
	assert.False(t, advance.IsClientError(gw))

	assert.True(t, advance.IsNotFound(advance.ErrEmployeeNotFound))
	assert.True(t, advance.IsNotFound(advance.ErrAdvanceNotFound))
	assert.False(t, advance.IsNotFound(persist))
}

func TestAmountExceedsAvailableError_Message(t *testing.T) {
	err := &advance.AmountExceedsAvailableError{
		EmployeeID: "1",
		Requested:  money("5000"),
		Available:  money("2216.67"),
	}
	assert.Equal(t, "requested amount 5000.00 exceeds available amount 2216.67", err.Error())
}
