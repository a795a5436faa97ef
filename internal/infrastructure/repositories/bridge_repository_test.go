package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rail-service/bridge_core/internal/domain/entities"
)

func newTransfer(status entities.BridgeStatus, createdAt time.Time) *entities.BridgeTransfer {
	id := uuid.New()
	return &entities.BridgeTransfer{
		ID:               id,
		BridgeID:         "br_" + id.String(),
		VerificationHash: "0x" + id.String(),
		Direction:        "SOLANA_TO_ETHEREUM",
		Amount:           decimal.NewFromInt(1000),
		Fee:              decimal.NewFromInt(12),
		NetAmount:        decimal.NewFromInt(988),
		Status:           status,
		CreatedAt:        createdAt,
		UpdatedAt:        createdAt,
	}
}

func TestMemoryBridgeRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryBridgeRepository()
	now := time.Now()

	t.Run("absent records load as nil", func(t *testing.T) {
		got, err := repo.Load(ctx, uuid.New())
		require.NoError(t, err)
		assert.Nil(t, got)

		got, err = repo.LoadByBridgeID(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, got)

		got, err = repo.GetByVerificationHash(ctx, "0xmissing")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("save and load by every key", func(t *testing.T) {
		transfer := newTransfer(entities.BridgeStatusInitiated, now)
		require.NoError(t, repo.Save(ctx, transfer))

		byID, err := repo.Load(ctx, transfer.ID)
		require.NoError(t, err)
		assert.Equal(t, transfer.BridgeID, byID.BridgeID)

		byBridge, err := repo.LoadByBridgeID(ctx, transfer.BridgeID)
		require.NoError(t, err)
		assert.Equal(t, transfer.ID, byBridge.ID)

		byHash, err := repo.GetByVerificationHash(ctx, transfer.VerificationHash)
		require.NoError(t, err)
		assert.Equal(t, transfer.ID, byHash.ID)
	})

	t.Run("returns copies", func(t *testing.T) {
		transfer := newTransfer(entities.BridgeStatusLocked, now)
		require.NoError(t, repo.Save(ctx, transfer))

		transfer.Status = entities.BridgeStatusFailed
		loaded, err := repo.Load(ctx, transfer.ID)
		require.NoError(t, err)
		assert.Equal(t, entities.BridgeStatusLocked, loaded.Status)

		loaded.Signatures = append(loaded.Signatures, entities.ValidatorSignature{ValidatorID: "v1"})
		again, err := repo.Load(ctx, transfer.ID)
		require.NoError(t, err)
		assert.Empty(t, again.Signatures)
	})

	t.Run("lists by status in creation order", func(t *testing.T) {
		repo := NewMemoryBridgeRepository()
		later := newTransfer(entities.BridgeStatusFailed, now.Add(time.Minute))
		earlier := newTransfer(entities.BridgeStatusFailed, now)
		other := newTransfer(entities.BridgeStatusCompleted, now)
		for _, tr := range []*entities.BridgeTransfer{later, earlier, other} {
			require.NoError(t, repo.Save(ctx, tr))
		}

		failed, err := repo.ListByStatus(ctx, entities.BridgeStatusFailed)
		require.NoError(t, err)
		require.Len(t, failed, 2)
		assert.Equal(t, earlier.ID, failed[0].ID)
		assert.Equal(t, later.ID, failed[1].ID)
	})
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	gets    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string][]byte)}
}

func (c *fakeCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = data
	return nil
}

func (c *fakeCache) Get(ctx context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	data, ok := c.entries[key]
	if !ok {
		return errors.New("cache miss")
	}
	return json.Unmarshal(data, dest)
}

func (c *fakeCache) Del(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *fakeCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

func TestCachedBridgeRepository(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("caches only terminal transfers", func(t *testing.T) {
		cache := newFakeCache()
		repo := NewCachedBridgeRepository(NewMemoryBridgeRepository(), cache, time.Minute, zap.NewNop())

		active := newTransfer(entities.BridgeStatusValidating, now)
		require.NoError(t, repo.Save(ctx, active))
		assert.False(t, cache.has(bridgeCachePrefix+active.BridgeID))

		done := newTransfer(entities.BridgeStatusCompleted, now)
		require.NoError(t, repo.Save(ctx, done))
		assert.True(t, cache.has(bridgeCachePrefix+done.BridgeID))

		got, err := repo.LoadByBridgeID(ctx, done.BridgeID)
		require.NoError(t, err)
		assert.Equal(t, done.ID, got.ID)
		assert.True(t, got.Amount.Equal(done.Amount))
	})

	t.Run("populates cache on terminal read", func(t *testing.T) {
		cache := newFakeCache()
		backing := NewMemoryBridgeRepository()
		repo := NewCachedBridgeRepository(backing, cache, time.Minute, zap.NewNop())

		refunded := newTransfer(entities.BridgeStatusRefunded, now)
		require.NoError(t, backing.Save(ctx, refunded))

		_, err := repo.LoadByBridgeID(ctx, refunded.BridgeID)
		require.NoError(t, err)
		assert.True(t, cache.has(bridgeCachePrefix+refunded.BridgeID))
	})

	t.Run("save refreshes stale entry", func(t *testing.T) {
		cache := newFakeCache()
		repo := NewCachedBridgeRepository(NewMemoryBridgeRepository(), cache, time.Minute, zap.NewNop())

		refunded := newTransfer(entities.BridgeStatusRefunded, now)
		require.NoError(t, repo.Save(ctx, refunded))

		refunded.RequiresManualReview = true
		require.NoError(t, repo.Save(ctx, refunded))

		got, err := repo.LoadByBridgeID(ctx, refunded.BridgeID)
		require.NoError(t, err)
		assert.True(t, got.RequiresManualReview)
	})

	t.Run("missing transfer is nil", func(t *testing.T) {
		repo := NewCachedBridgeRepository(NewMemoryBridgeRepository(), newFakeCache(), time.Minute, zap.NewNop())
		got, err := repo.LoadByBridgeID(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}
