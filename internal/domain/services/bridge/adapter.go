package bridge

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// TxRef is an adapter-specific handle for a submitted, possibly unconfirmed transaction
type TxRef string

// Confirmation is the result of waiting on a submitted transaction
type Confirmation struct {
	TxHash        string
	Confirmed     bool
	Confirmations int
}

// ChainAdapter submits transactions to one ledger and reports their finality.
// Failures are returned as typed errors; retryable ones implement
// IsRetryable() bool and a transaction the chain definitively rejected is
// reported by an error implementing IsTxFailed() bool.
type ChainAdapter interface {
	Lock(ctx context.Context, amount decimal.Decimal, destinationHint string) (TxRef, error)
	AwaitConfirmation(ctx context.Context, ref TxRef) (*Confirmation, error)
	MintOrRelease(ctx context.Context, amount decimal.Decimal, destinationAddress string) (TxRef, error)
	Refund(ctx context.Context, originalRef TxRef, amount decimal.Decimal) (TxRef, error)
}

// HealthChecker is implemented by adapters that can check their endpoint
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// IsTxFailed reports whether err says the chain rejected the transaction, as
// opposed to its outcome being unknown
func IsTxFailed(err error) bool {
	var f interface{ IsTxFailed() bool }
	return errors.As(err, &f) && f.IsTxFailed()
}
