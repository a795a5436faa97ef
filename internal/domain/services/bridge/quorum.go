package bridge

import (
	"time"

	"go.uber.org/zap"

	domainerrors "github.com/rail-service/bridge_core/internal/domain/errors"
	"github.com/rail-service/bridge_core/internal/domain/entities"
	"github.com/rail-service/bridge_core/pkg/crypto"
	"github.com/rail-service/bridge_core/pkg/metrics"
)

// SubmitResult reports the effect of one attestation
type SubmitResult struct {
	Accepted          bool
	QuorumReached     bool
	QuorumJustReached bool
	SignatureCount    int
}

// Aggregator collects validator attestations on a transfer. It never changes
// the transfer status; the orchestrator acts on the result.
type Aggregator struct {
	registry *ValidatorRegistry
	logger   *zap.Logger
}

// NewAggregator creates an aggregator over the validator registry
func NewAggregator(registry *ValidatorRegistry, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{registry: registry, logger: logger}
}

// Submit verifies and records a signature over the transfer's verification
// hash. The caller must hold the transfer's lock.
func (a *Aggregator) Submit(transfer *entities.BridgeTransfer, validatorID, signature string, now time.Time) (SubmitResult, error) {
	result := SubmitResult{
		SignatureCount: transfer.SignatureCount(),
		QuorumReached:  transfer.QuorumReachedAt != nil,
	}

	if !isCollecting(transfer) {
		metrics.BridgeSignatures.WithLabelValues("not_collecting").Inc()
		return result, domainerrors.SignatureRejectedError(domainerrors.ErrTransferNotCollecting, validatorID).
			WithDetails(map[string]interface{}{"validator_id": validatorID, "status": string(transfer.Status)})
	}

	set, ok := a.registry.Get(transfer.ValidatorSetVersion)
	if !ok {
		metrics.BridgeSignatures.WithLabelValues("set_unavailable").Inc()
		return result, domainerrors.ValidatorSetUnavailableError(transfer.ValidatorSetVersion)
	}

	pub, ok := set.PublicKey(validatorID)
	if !ok {
		metrics.BridgeSignatures.WithLabelValues("unknown_validator").Inc()
		a.logger.Warn("Signature from unknown validator",
			zap.String("bridge_id", transfer.BridgeID),
			zap.String("validator_id", validatorID),
			zap.Int("validator_set_version", set.Version()))
		return result, domainerrors.SignatureRejectedError(domainerrors.ErrUnknownValidator, validatorID)
	}

	// the first attestation of a validator is kept even if a later one differs
	if _, seen := transfer.SignatureFrom(validatorID); seen {
		metrics.BridgeSignatures.WithLabelValues("duplicate").Inc()
		a.logger.Debug("Duplicate validator signature ignored",
			zap.String("bridge_id", transfer.BridgeID),
			zap.String("validator_id", validatorID))
		return result, nil
	}

	message, err := crypto.DecodeHash(transfer.VerificationHash)
	if err != nil {
		return result, domainerrors.InternalError("stored verification hash is malformed", err)
	}
	valid, err := crypto.Verify(pub, message, signature)
	if err != nil || !valid {
		metrics.BridgeSignatures.WithLabelValues("invalid_signature").Inc()
		a.logger.Warn("Invalid validator signature",
			zap.String("bridge_id", transfer.BridgeID),
			zap.String("validator_id", validatorID))
		return result, domainerrors.SignatureRejectedError(domainerrors.ErrInvalidSignature, validatorID)
	}

	transfer.Signatures = append(transfer.Signatures, entities.ValidatorSignature{
		ValidatorID: validatorID,
		Signature:   signature,
		Timestamp:   now,
	})
	transfer.UpdatedAt = now
	metrics.BridgeSignatures.WithLabelValues("accepted").Inc()

	result.Accepted = true
	result.SignatureCount = transfer.SignatureCount()

	if transfer.QuorumReachedAt == nil && result.SignatureCount >= transfer.RequiredSignatures {
		reachedAt := now
		transfer.QuorumReachedAt = &reachedAt
		result.QuorumJustReached = true
	}
	result.QuorumReached = transfer.QuorumReachedAt != nil

	return result, nil
}

// isCollecting is true while quorum is pending, and afterwards while the
// destination leg runs so late attestations are still kept for audit.
func isCollecting(t *entities.BridgeTransfer) bool {
	switch t.Status {
	case entities.BridgeStatusLocked, entities.BridgeStatusValidating:
		return true
	case entities.BridgeStatusMinting, entities.BridgeStatusReleasing:
		return t.QuorumReachedAt != nil
	default:
		return false
	}
}
