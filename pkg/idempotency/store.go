package idempotency

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rail-service/bridge_core/internal/infrastructure/cache"
)

// Record is a stored response keyed by the client's idempotency key. A
// pending record reserves the key while the first request is in flight.
type Record struct {
	Key            string    `json:"key"`
	Route          string    `json:"route"`
	RequestHash    string    `json:"request_hash"`
	Pending        bool      `json:"pending,omitempty"`
	ResponseStatus int       `json:"response_status"`
	ResponseBody   []byte    `json:"response_body"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Store persists idempotency records. Get returns nil, nil for unknown or
// expired keys.
type Store interface {
	Get(ctx context.Context, key string) (*Record, error)
	// Reserve stores a pending record unless the key is already taken and
	// reports whether the caller now owns the key.
	Reserve(ctx context.Context, pending *Record) (bool, error)
	// Create stores the final response, replacing the reservation
	Create(ctx context.Context, record *Record) error
	// Release drops a reservation so the key can be retried
	Release(ctx context.Context, key string) error
}

// MemoryStore keeps records in process
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record), now: time.Now}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.live(key)
	if r == nil {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) Reserve(ctx context.Context, pending *Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.live(pending.Key) != nil {
		return false, nil
	}
	cp := *pending
	cp.Pending = true
	s.records[pending.Key] = &cp
	return true, nil
}

func (s *MemoryStore) Create(ctx context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *record
	s.records[record.Key] = &cp
	return nil
}

func (s *MemoryStore) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.records[key]; ok && r.Pending {
		delete(s.records, key)
	}
	return nil
}

// live returns the unexpired record for key. Callers hold mu.
func (s *MemoryStore) live(key string) *Record {
	r, ok := s.records[key]
	if !ok {
		return nil
	}
	if !s.now().Before(r.ExpiresAt) {
		delete(s.records, key)
		return nil
	}
	return r
}

// Cache is the subset of cache.RedisClient the Redis store needs
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
	Get(ctx context.Context, key string, dest interface{}) error
	Del(ctx context.Context, key string) error
}

// RedisStore shares records across replicas, expiring them with the key TTL.
// Reservations use SET NX so only one replica runs a given key.
type RedisStore struct {
	cache Cache
}

func NewRedisStore(c Cache) *RedisStore {
	return &RedisStore{cache: c}
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Record, error) {
	var r Record
	if err := s.cache.Get(ctx, redisKey(key), &r); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

func (s *RedisStore) Reserve(ctx context.Context, pending *Record) (bool, error) {
	ttl := time.Until(pending.ExpiresAt)
	if ttl <= 0 {
		return false, nil
	}
	cp := *pending
	cp.Pending = true
	return s.cache.SetNX(ctx, redisKey(pending.Key), &cp, ttl)
}

func (s *RedisStore) Create(ctx context.Context, record *Record) error {
	ttl := time.Until(record.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	return s.cache.Set(ctx, redisKey(record.Key), record, ttl)
}

// Release deletes the key. Only the request that reserved it calls this,
// before it stored a response.
func (s *RedisStore) Release(ctx context.Context, key string) error {
	return s.cache.Del(ctx, redisKey(key))
}

func redisKey(key string) string {
	return "idempotency:" + key
}
