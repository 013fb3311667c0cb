package advance

import (
	"context"

	"github.com/shopspring/decimal"
)

// TransferRequest is what the engine asks the gateway to move.
// IdempotencyKey is stable per advance: repeating a transfer with the same key
// must not move funds twice.
type TransferRequest struct {
	IdempotencyKey string
	EmployeeID     EmployeeID
	Amount         decimal.Decimal
}

// PaymentGateway executes the external funds transfer.
// Returns the gateway's transfer id. Definitive rejections wrap ErrTransferFailed;
// any other error is treated as ambiguous (the transfer may have happened).
type PaymentGateway interface {
	Transfer(ctx context.Context, req TransferRequest) (string, error)
}

// TransferLookup is implemented by gateways that can answer whether a transfer
// was executed for an idempotency key.
type TransferLookup interface {
	LookupTransfer(ctx context.Context, idempotencyKey string) (transferID string, found bool, err error)
}
