package chain

import "github.com/shopspring/decimal"

// Transaction statuses reported by the gateway
const (
	TxStatusPending   = "pending"
	TxStatusConfirmed = "confirmed"
	TxStatusFailed    = "failed"
)

// LockRequest escrows funds on the source chain
type LockRequest struct {
	Amount          decimal.Decimal `json:"amount"`
	DestinationHint string          `json:"destination_hint"`
}

// DeliveryRequest mints or releases funds on the destination chain
type DeliveryRequest struct {
	Amount             decimal.Decimal `json:"amount"`
	DestinationAddress string          `json:"destination_address"`
}

// RefundRequest returns escrowed funds to the original sender
type RefundRequest struct {
	OriginalTxRef string          `json:"original_tx_ref"`
	Amount        decimal.Decimal `json:"amount"`
}

// SubmitResponse acknowledges a submitted transaction
type SubmitResponse struct {
	TxRef string `json:"tx_ref"`
}

// TransactionResponse is the gateway view of a submitted transaction
type TransactionResponse struct {
	TxRef         string `json:"tx_ref"`
	TxHash        string `json:"tx_hash"`
	Status        string `json:"status"`
	Confirmations int    `json:"confirmations"`
	Error         string `json:"error,omitempty"`
}
