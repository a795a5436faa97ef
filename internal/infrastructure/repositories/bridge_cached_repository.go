package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rail-service/bridge_core/internal/domain/entities"
	domainrepos "github.com/rail-service/bridge_core/internal/domain/repositories"
)

const bridgeCachePrefix = "bridge:transfer:"

// JSONCache is the subset of cache.RedisClient the cached repository needs
type JSONCache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Del(ctx context.Context, key string) error
}

// CachedBridgeRepository serves status lookups of finished transfers from
// Redis. Only terminal records are cached; everything else reads through.
type CachedBridgeRepository struct {
	next   domainrepos.BridgeRepository
	cache  JSONCache
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedBridgeRepository wraps next with a Redis read cache
func NewCachedBridgeRepository(next domainrepos.BridgeRepository, redis JSONCache, ttl time.Duration, logger *zap.Logger) *CachedBridgeRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CachedBridgeRepository{next: next, cache: redis, ttl: ttl, logger: logger}
}

func (r *CachedBridgeRepository) Save(ctx context.Context, t *entities.BridgeTransfer) error {
	if err := r.next.Save(ctx, t); err != nil {
		return err
	}
	// terminal records still pick up late provenance, so always refresh
	key := bridgeCachePrefix + t.BridgeID
	if err := r.cache.Del(ctx, key); err != nil {
		r.logger.Warn("Failed to invalidate bridge cache", zap.String("bridge_id", t.BridgeID), zap.Error(err))
	}
	if t.IsTerminal() {
		r.store(ctx, t)
	}
	return nil
}

func (r *CachedBridgeRepository) Load(ctx context.Context, id uuid.UUID) (*entities.BridgeTransfer, error) {
	return r.next.Load(ctx, id)
}

func (r *CachedBridgeRepository) LoadByBridgeID(ctx context.Context, bridgeID string) (*entities.BridgeTransfer, error) {
	var cached entities.BridgeTransfer
	if err := r.cache.Get(ctx, bridgeCachePrefix+bridgeID, &cached); err == nil {
		return &cached, nil
	}

	t, err := r.next.LoadByBridgeID(ctx, bridgeID)
	if err != nil || t == nil {
		return t, err
	}
	if t.IsTerminal() {
		r.store(ctx, t)
	}
	return t, nil
}

func (r *CachedBridgeRepository) GetByVerificationHash(ctx context.Context, hash string) (*entities.BridgeTransfer, error) {
	return r.next.GetByVerificationHash(ctx, hash)
}

func (r *CachedBridgeRepository) ListByStatus(ctx context.Context, status entities.BridgeStatus) ([]*entities.BridgeTransfer, error) {
	return r.next.ListByStatus(ctx, status)
}

func (r *CachedBridgeRepository) store(ctx context.Context, t *entities.BridgeTransfer) {
	if err := r.cache.Set(ctx, bridgeCachePrefix+t.BridgeID, t, r.ttl); err != nil {
		r.logger.Warn("Failed to cache bridge transfer", zap.String("bridge_id", t.BridgeID), zap.Error(err))
	}
}
