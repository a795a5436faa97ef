package repositories

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/rail-service/bridge_core/internal/domain/entities"
)

// MemoryBridgeRepository is an in-process bridge store used in tests and
// single-node deployments without a database. It stores and returns copies.
type MemoryBridgeRepository struct {
	mu       sync.RWMutex
	byID     map[uuid.UUID]*entities.BridgeTransfer
	byBridge map[string]uuid.UUID
	byHash   map[string]uuid.UUID
}

// NewMemoryBridgeRepository creates an empty store
func NewMemoryBridgeRepository() *MemoryBridgeRepository {
	return &MemoryBridgeRepository{
		byID:     make(map[uuid.UUID]*entities.BridgeTransfer),
		byBridge: make(map[string]uuid.UUID),
		byHash:   make(map[string]uuid.UUID),
	}
}

func (r *MemoryBridgeRepository) Save(ctx context.Context, transfer *entities.BridgeTransfer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byID[transfer.ID] = transfer.Clone()
	r.byBridge[transfer.BridgeID] = transfer.ID
	r.byHash[transfer.VerificationHash] = transfer.ID
	return nil
}

func (r *MemoryBridgeRepository) Load(ctx context.Context, id uuid.UUID) (*entities.BridgeTransfer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id].Clone(), nil
}

func (r *MemoryBridgeRepository) LoadByBridgeID(ctx context.Context, bridgeID string) (*entities.BridgeTransfer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byBridge[bridgeID]
	if !ok {
		return nil, nil
	}
	return r.byID[id].Clone(), nil
}

func (r *MemoryBridgeRepository) GetByVerificationHash(ctx context.Context, hash string) (*entities.BridgeTransfer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byHash[hash]
	if !ok {
		return nil, nil
	}
	return r.byID[id].Clone(), nil
}

func (r *MemoryBridgeRepository) ListByStatus(ctx context.Context, status entities.BridgeStatus) ([]*entities.BridgeTransfer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var transfers []*entities.BridgeTransfer
	for _, t := range r.byID {
		if t.Status == status {
			transfers = append(transfers, t.Clone())
		}
	}
	sort.Slice(transfers, func(i, j int) bool {
		return transfers[i].CreatedAt.Before(transfers[j].CreatedAt)
	})
	return transfers, nil
}
