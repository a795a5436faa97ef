package entities

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BridgeStatus represents the status of a bridge transfer
type BridgeStatus string

const (
	BridgeStatusInitiated  BridgeStatus = "INITIATED"  // Intent recorded, lock not yet observed
	BridgeStatusLocked     BridgeStatus = "LOCKED"     // Funds escrowed on the source chain
	BridgeStatusValidating BridgeStatus = "VALIDATING" // Collecting validator attestations
	BridgeStatusMinting    BridgeStatus = "MINTING"    // Wrapped token mint submitted
	BridgeStatusReleasing  BridgeStatus = "RELEASING"  // Native reserve release submitted
	BridgeStatusCompleted  BridgeStatus = "COMPLETED"  // Destination delivery final
	BridgeStatusFailed     BridgeStatus = "FAILED"     // Error, awaiting refund
	BridgeStatusRefunded   BridgeStatus = "REFUNDED"   // Locked funds returned
)

// AllBridgeStatuses lists every status in lifecycle order
var AllBridgeStatuses = []BridgeStatus{
	BridgeStatusInitiated,
	BridgeStatusLocked,
	BridgeStatusValidating,
	BridgeStatusMinting,
	BridgeStatusReleasing,
	BridgeStatusCompleted,
	BridgeStatusFailed,
	BridgeStatusRefunded,
}

// Direction identifies a supported source/destination chain pair, e.g. "SOLANA_TO_ETHEREUM"
type Direction string

// FailureReason classifies why a transfer entered FAILED
type FailureReason string

const (
	FailureReasonAdapterError      FailureReason = "ADAPTER_ERROR"
	FailureReasonTimeout           FailureReason = "TIMEOUT"
	FailureReasonQuorumTimeout     FailureReason = "QUORUM_TIMEOUT"
	FailureReasonValidatorsOffline FailureReason = "VALIDATOR_SET_UNAVAILABLE"
	FailureReasonManual            FailureReason = "MANUAL"
)

// IsValid reports whether r is one of the recorded failure reasons
func (r FailureReason) IsValid() bool {
	switch r {
	case FailureReasonAdapterError, FailureReasonTimeout, FailureReasonQuorumTimeout,
		FailureReasonValidatorsOffline, FailureReasonManual:
		return true
	}
	return false
}

// RefundPolicy decides how much of a failed transfer is returned to the sender
type RefundPolicy string

const (
	// RefundPolicyFull returns the gross locked amount; the bridge absorbs the fee
	RefundPolicyFull RefundPolicy = "full"
	// RefundPolicyRetainFee returns the net amount; the fee is kept
	RefundPolicyRetainFee RefundPolicy = "retain_fee"
)

// ValidatorSignature is a single validator attestation over a transfer's verification hash
type ValidatorSignature struct {
	ValidatorID string    `json:"validator_id"`
	Signature   string    `json:"signature"` // hex encoded
	Timestamp   time.Time `json:"timestamp"`
}

// ValidatorSignatures is the ordered attestation set of a transfer, stored as JSONB
type ValidatorSignatures []ValidatorSignature

func (s ValidatorSignatures) Value() (driver.Value, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s)
}

func (s *ValidatorSignatures) Scan(src interface{}) error {
	return scanJSON(src, s)
}

// StatusTransition is one audit trail entry
type StatusTransition struct {
	From   BridgeStatus `json:"from"`
	To     BridgeStatus `json:"to"`
	Reason string       `json:"reason,omitempty"`
	At     time.Time    `json:"at"`
}

// StatusHistory is the append-only audit trail of a transfer, stored as JSONB
type StatusHistory []StatusTransition

func (h StatusHistory) Value() (driver.Value, error) {
	if h == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(h)
}

func (h *StatusHistory) Scan(src interface{}) error {
	return scanJSON(src, h)
}

// Legs of a transfer a confirmation can belong to
const (
	LegSource      = "source"
	LegDestination = "destination"
)

// LateConfirmation is a transaction observed after the transfer had left the
// phase that expected it. It is kept for reconciliation only and never
// counts as provenance.
type LateConfirmation struct {
	Leg    string    `json:"leg"`
	TxHash string    `json:"tx_hash"`
	At     time.Time `json:"at"`
}

// LateConfirmations is the reconciliation trail of a transfer, stored as JSONB
type LateConfirmations []LateConfirmation

func (l LateConfirmations) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

func (l *LateConfirmations) Scan(src interface{}) error {
	return scanJSON(src, l)
}

func scanJSON(src interface{}, dest interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("unsupported JSON column type %T", src)
	}
}

// FeeBreakdown is the auditable result of a fee computation
type FeeBreakdown struct {
	BaseFee       decimal.Decimal `json:"base_fee"`
	PercentageFee decimal.Decimal `json:"percentage_fee"`
	TotalFee      decimal.Decimal `json:"total_fee"`
	NetAmount     decimal.Decimal `json:"net_amount"`
}

// BridgeTransfer represents a single cross-chain value transfer
type BridgeTransfer struct {
	ID               uuid.UUID `json:"id" db:"id"`
	BridgeID         string    `json:"bridge_id" db:"bridge_id"`
	VerificationHash string    `json:"verification_hash" db:"verification_hash"`

	Direction          Direction `json:"direction" db:"direction"`
	SourceChain        string    `json:"source_chain" db:"source_chain"`
	DestinationChain   string    `json:"destination_chain" db:"destination_chain"`
	SourceAddress      string    `json:"source_address" db:"source_address"`
	DestinationAddress string    `json:"destination_address" db:"destination_address"`

	Amount        decimal.Decimal `json:"amount" db:"amount"`
	BaseFee       decimal.Decimal `json:"base_fee" db:"base_fee"`
	PercentageFee decimal.Decimal `json:"percentage_fee" db:"percentage_fee"`
	Fee           decimal.Decimal `json:"fee" db:"fee"`
	NetAmount     decimal.Decimal `json:"net_amount" db:"net_amount"`

	Status          BridgeStatus  `json:"status" db:"status"`
	StatusUpdatedAt time.Time     `json:"status_updated_at" db:"status_updated_at"`
	FailureReason   FailureReason `json:"failure_reason,omitempty" db:"failure_reason"`
	ErrorMessage    string        `json:"error_message,omitempty" db:"error_message"`

	SourceTxRef       string `json:"source_tx_ref,omitempty" db:"source_tx_ref"`
	SourceTxHash      string `json:"source_tx_hash,omitempty" db:"source_tx_hash"`
	DestinationTxRef  string `json:"destination_tx_ref,omitempty" db:"destination_tx_ref"`
	DestinationTxHash string `json:"destination_tx_hash,omitempty" db:"destination_tx_hash"`

	RequiredSignatures  int                 `json:"required_signatures" db:"required_signatures"`
	ValidatorSetVersion int                 `json:"validator_set_version" db:"validator_set_version"`
	Signatures          ValidatorSignatures `json:"signatures" db:"signatures"`
	QuorumReachedAt     *time.Time          `json:"quorum_reached_at,omitempty" db:"quorum_reached_at"`

	RefundAmount         decimal.Decimal `json:"refund_amount" db:"refund_amount"`
	RefundTxRef          string          `json:"refund_tx_ref,omitempty" db:"refund_tx_ref"`
	RefundTxHash         string          `json:"refund_tx_hash,omitempty" db:"refund_tx_hash"`
	RefundAttempts       int             `json:"refund_attempts" db:"refund_attempts"`
	RequiresManualReview bool            `json:"requires_manual_review" db:"requires_manual_review"`

	History           StatusHistory     `json:"history" db:"history"`
	LateConfirmations LateConfirmations `json:"late_confirmations,omitempty" db:"late_confirmations"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// IsTerminal reports whether the transfer can no longer change status
func (t *BridgeTransfer) IsTerminal() bool {
	return t.Status == BridgeStatusCompleted || t.Status == BridgeStatusRefunded
}

// SignatureFrom returns the retained attestation of a validator, if any
func (t *BridgeTransfer) SignatureFrom(validatorID string) (ValidatorSignature, bool) {
	for _, sig := range t.Signatures {
		if sig.ValidatorID == validatorID {
			return sig, true
		}
	}
	return ValidatorSignature{}, false
}

// LateConfirmation returns the late transaction recorded for a leg, if any
func (t *BridgeTransfer) LateConfirmation(leg string) (LateConfirmation, bool) {
	for _, lc := range t.LateConfirmations {
		if lc.Leg == leg {
			return lc, true
		}
	}
	return LateConfirmation{}, false
}

// SignatureCount returns the number of distinct accepted attestations
func (t *BridgeTransfer) SignatureCount() int {
	return len(t.Signatures)
}

// RecordTransition appends an audit entry and moves the transfer to the new status.
// Legality is checked by the caller before this is invoked.
func (t *BridgeTransfer) RecordTransition(to BridgeStatus, reason string, at time.Time) {
	t.History = append(t.History, StatusTransition{
		From:   t.Status,
		To:     to,
		Reason: reason,
		At:     at,
	})
	t.Status = to
	t.StatusUpdatedAt = at
	t.UpdatedAt = at
}

// Progress derives the public progress flags from recorded provenance
func (t *BridgeTransfer) Progress() BridgeProgress {
	return BridgeProgress{
		Initiated: true,
		Locked:    t.SourceTxHash != "",
		Validated: t.QuorumReachedAt != nil,
		Minted:    t.DestinationTxHash != "",
		Completed: t.Status == BridgeStatusCompleted,
	}
}

// Clone returns a deep copy safe to hand to callers outside the per-transfer lock
func (t *BridgeTransfer) Clone() *BridgeTransfer {
	if t == nil {
		return nil
	}
	c := *t
	if t.Signatures != nil {
		c.Signatures = append(ValidatorSignatures(nil), t.Signatures...)
	}
	if t.History != nil {
		c.History = append(StatusHistory(nil), t.History...)
	}
	if t.LateConfirmations != nil {
		c.LateConfirmations = append(LateConfirmations(nil), t.LateConfirmations...)
	}
	if t.QuorumReachedAt != nil {
		q := *t.QuorumReachedAt
		c.QuorumReachedAt = &q
	}
	if t.CompletedAt != nil {
		ca := *t.CompletedAt
		c.CompletedAt = &ca
	}
	return &c
}

// BridgeProgress are the externally visible progress flags
type BridgeProgress struct {
	Initiated bool `json:"initiated"`
	Locked    bool `json:"locked"`
	Validated bool `json:"validated"`
	Minted    bool `json:"minted"`
	Completed bool `json:"completed"`
}

// ChainConfig describes one ledger the bridge connects to
type ChainConfig struct {
	ID                string        `json:"id"`
	Name              string        `json:"name"`
	ChainID           int64         `json:"chain_id"`
	NativeToken       bool          `json:"native_token"` // token home chain: releases from reserves instead of minting
	ConfirmationDepth int           `json:"confirmation_depth"`
	BlockTime         time.Duration `json:"block_time"`
	Explorer          string        `json:"explorer,omitempty"`
	Enabled           bool          `json:"enabled"`
}

// FinalityWait estimates how long the chain takes to reach confirmation depth
func (c ChainConfig) FinalityWait() time.Duration {
	depth := c.ConfirmationDepth
	if depth < 1 {
		depth = 1
	}
	return time.Duration(depth) * c.BlockTime
}

// BridgeRequest represents a request to initiate a bridge transfer
type BridgeRequest struct {
	Direction          Direction       `json:"direction" validate:"required"`
	SourceAddress      string          `json:"source_address" validate:"required,max=128"`
	DestinationAddress string          `json:"destination_address" validate:"required,max=128"`
	Amount             decimal.Decimal `json:"amount"`
}

// InitiateBridgeResponse is returned to clients after initiation
type InitiateBridgeResponse struct {
	BridgeID                string          `json:"bridge_id"`
	Status                  BridgeStatus    `json:"status"`
	Fee                     decimal.Decimal `json:"fee"`
	NetAmount               decimal.Decimal `json:"net_amount"`
	VerificationHash        string          `json:"verification_hash"`
	EstimatedCompletionTime time.Time       `json:"estimated_completion_time"`
}

// BridgeStatusResponse is the public snapshot of a transfer
type BridgeStatusResponse struct {
	*BridgeTransfer
	Progress BridgeProgress `json:"progress"`
}

// SignatureSubmissionResponse reports the effect of a validator attestation
type SignatureSubmissionResponse struct {
	Accepted         bool         `json:"accepted"`
	SignatureCount   int          `json:"signature_count"`
	ThresholdReached bool         `json:"threshold_reached"`
	Status           BridgeStatus `json:"status"`
}

// BridgeHealth summarises connectivity of the configured chains
type BridgeHealth struct {
	Status       string    `json:"status"` // healthy, degraded, unhealthy
	ActiveChains []string  `json:"active_chains"`
	Timestamp    time.Time `json:"timestamp"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ConfirmationRequest reports a transaction hash observed on chain
type ConfirmationRequest struct {
	TxHash string `json:"tx_hash" binding:"required"`
}

// SignatureRequest is a validator attestation over a verification hash
type SignatureRequest struct {
	ValidatorID string `json:"validator_id" binding:"required"`
	Signature   string `json:"signature" binding:"required"`
}

// FailRequest moves a transfer to FAILED
type FailRequest struct {
	Reason  FailureReason `json:"reason"`
	Message string        `json:"message"`
}
