package bridge

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/rail-service/bridge_core/internal/domain/entities"
	domainerrors "github.com/rail-service/bridge_core/internal/domain/errors"
)

const (
	HealthStatusHealthy   = "healthy"
	HealthStatusDegraded  = "degraded"
	HealthStatusUnhealthy = "unhealthy"
)

// InitiateBridge creates a transfer and returns the client-facing summary
func (o *Orchestrator) InitiateBridge(ctx context.Context, req *entities.BridgeRequest) (*entities.InitiateBridgeResponse, error) {
	transfer, err := o.Initiate(ctx, req)
	if err != nil {
		return nil, err
	}
	return &entities.InitiateBridgeResponse{
		BridgeID:                transfer.BridgeID,
		Status:                  transfer.Status,
		Fee:                     transfer.Fee,
		NetAmount:               transfer.NetAmount,
		VerificationHash:        transfer.VerificationHash,
		EstimatedCompletionTime: o.estimateCompletion(transfer),
	}, nil
}

// GetBridgeStatus returns a snapshot of the transfer with its progress flags
func (o *Orchestrator) GetBridgeStatus(ctx context.Context, bridgeID string) (*entities.BridgeStatusResponse, error) {
	transfer, err := o.store.LoadByBridgeID(ctx, bridgeID)
	if err != nil {
		return nil, domainerrors.InternalError("failed to load bridge transfer", err)
	}
	if transfer == nil {
		return nil, domainerrors.TransferNotFoundError(bridgeID)
	}
	return &entities.BridgeStatusResponse{
		BridgeTransfer: transfer,
		Progress:       transfer.Progress(),
	}, nil
}

// SubmitValidatorSignature records a validator attestation for a transfer
func (o *Orchestrator) SubmitValidatorSignature(ctx context.Context, bridgeID, validatorID, signature string) (*entities.SignatureSubmissionResponse, error) {
	if validatorID == "" {
		return nil, domainerrors.ValidationError("validator_id", "validator id is required")
	}
	if signature == "" {
		return nil, domainerrors.ValidationError("signature", "signature is required")
	}

	result, transfer, err := o.OnSignature(ctx, bridgeID, validatorID, signature)
	if err != nil {
		return nil, err
	}
	return &entities.SignatureSubmissionResponse{
		Accepted:         result.Accepted,
		SignatureCount:   result.SignatureCount,
		ThresholdReached: result.QuorumReached,
		Status:           transfer.Status,
	}, nil
}

// GetSupportedChains lists enabled chains ordered by id
func (o *Orchestrator) GetSupportedChains() []entities.ChainConfig {
	chains := make([]entities.ChainConfig, 0, len(o.cfg.Chains))
	for _, c := range o.cfg.Chains {
		if c.Enabled {
			chains = append(chains, c)
		}
	}
	sort.Slice(chains, func(i, j int) bool { return chains[i].ID < chains[j].ID })
	return chains
}

// GetBridgeHealth checks every enabled chain. A chain whose adapter cannot
// report health is assumed reachable.
func (o *Orchestrator) GetBridgeHealth(ctx context.Context) *entities.BridgeHealth {
	chains := o.GetSupportedChains()
	active := make([]string, 0, len(chains))

	for _, c := range chains {
		checker, ok := o.adapters[c.ID].(HealthChecker)
		if !ok {
			active = append(active, c.ID)
			continue
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := checker.Ping(pingCtx)
		cancel()
		if err != nil {
			o.logger.Warn("Chain health check failed", zap.String("chain", c.ID), zap.Error(err))
			continue
		}
		active = append(active, c.ID)
	}

	status := HealthStatusHealthy
	switch {
	case len(active) == 0:
		status = HealthStatusUnhealthy
	case len(active) < len(chains):
		status = HealthStatusDegraded
	}

	return &entities.BridgeHealth{
		Status:       status,
		ActiveChains: active,
		Timestamp:    o.now(),
	}
}

func (o *Orchestrator) estimateCompletion(t *entities.BridgeTransfer) time.Time {
	eta := o.cfg.ValidationEstimate
	eta += o.cfg.Chains[t.SourceChain].FinalityWait()
	eta += o.cfg.Chains[t.DestinationChain].FinalityWait()
	return t.CreatedAt.Add(eta)
}
