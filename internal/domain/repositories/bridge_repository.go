package repositories

import (
	"context"

	"github.com/google/uuid"

	"github.com/rail-service/bridge_core/internal/domain/entities"
)

// BridgeRepository is the durable store of bridge transfers. Implementations
// are at-least-once; lookups return (nil, nil) when nothing matches.
// Records are never deleted.
type BridgeRepository interface {
	// Save inserts or fully replaces the record keyed by transfer.ID
	Save(ctx context.Context, transfer *entities.BridgeTransfer) error
	Load(ctx context.Context, id uuid.UUID) (*entities.BridgeTransfer, error)
	LoadByBridgeID(ctx context.Context, bridgeID string) (*entities.BridgeTransfer, error)
	GetByVerificationHash(ctx context.Context, hash string) (*entities.BridgeTransfer, error)
	ListByStatus(ctx context.Context, status entities.BridgeStatus) ([]*entities.BridgeTransfer, error)
}
