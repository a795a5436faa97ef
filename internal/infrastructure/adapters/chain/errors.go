package chain

import (
	"fmt"
	"net/http"
)

// Error is the typed failure surfaced by chain adapters
type Error struct {
	Chain      string `json:"chain"`
	Op         string `json:"op"`
	StatusCode int    `json:"status_code,omitempty"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Retryable  bool   `json:"-"`
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("chain %s %s failed [%d]: %s (code: %s)", e.Chain, e.Op, e.StatusCode, e.Message, e.Code)
	}
	return fmt.Sprintf("chain %s %s failed: %s (code: %s)", e.Chain, e.Op, e.Message, e.Code)
}

// IsRetryable reports whether the operation may safely be attempted again
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// IsTxFailed reports whether the chain executed and rejected the transaction
func (e *Error) IsTxFailed() bool {
	return e.Code == CodeTxFailed
}

func (e *Error) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

func (e *Error) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

const (
	CodeTransport   = "TRANSPORT_ERROR"
	CodeCircuitOpen = "CIRCUIT_OPEN"
	CodeServer      = "SERVER_ERROR"
	CodeRejected    = "REJECTED"
	CodeTxFailed    = "TX_FAILED"
	CodeBadResponse = "BAD_RESPONSE"
)

// rejectedBeforeProcessing lists statuses where the gateway guarantees the
// request was not acted on, so resubmitting cannot duplicate a transaction.
func rejectedBeforeProcessing(status int) bool {
	return status == http.StatusTooManyRequests ||
		status == http.StatusBadGateway ||
		status == http.StatusServiceUnavailable
}
