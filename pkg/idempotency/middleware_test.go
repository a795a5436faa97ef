package idempotency

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rail-service/bridge_core/internal/infrastructure/cache"
)

func setupRouter(store Store, status int) (*gin.Engine, *int32) {
	gin.SetMode(gin.TestMode)
	var calls int32
	router := gin.New()
	router.POST("/transfers", Middleware(store, time.Hour, zap.NewNop()), func(c *gin.Context) {
		n := atomic.AddInt32(&calls, 1)
		c.JSON(status, gin.H{"call": n})
	})
	router.POST("/other", Middleware(store, time.Hour, zap.NewNop()), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{})
	})
	return router, &calls
}

func post(router *gin.Engine, path, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestMiddleware(t *testing.T) {
	t.Run("replays stored response", func(t *testing.T) {
		router, calls := setupRouter(NewMemoryStore(), http.StatusCreated)

		first := post(router, "/transfers", "key-00000001", `{"amount":"1000"}`)
		second := post(router, "/transfers", "key-00000001", `{"amount":"1000"}`)

		assert.Equal(t, http.StatusCreated, first.Code)
		assert.Equal(t, http.StatusCreated, second.Code)
		assert.JSONEq(t, first.Body.String(), second.Body.String())
		assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
		assert.Equal(t, int32(1), atomic.LoadInt32(calls))
	})

	t.Run("without key every request runs", func(t *testing.T) {
		router, calls := setupRouter(NewMemoryStore(), http.StatusCreated)
		post(router, "/transfers", "", `{}`)
		post(router, "/transfers", "", `{}`)
		assert.Equal(t, int32(2), atomic.LoadInt32(calls))
	})

	t.Run("different body conflicts", func(t *testing.T) {
		router, calls := setupRouter(NewMemoryStore(), http.StatusCreated)
		post(router, "/transfers", "key-00000002", `{"amount":"1000"}`)
		w := post(router, "/transfers", "key-00000002", `{"amount":"2000"}`)

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Contains(t, w.Body.String(), "IDEMPOTENCY_KEY_CONFLICT")
		assert.Equal(t, int32(1), atomic.LoadInt32(calls))
	})

	t.Run("different route conflicts", func(t *testing.T) {
		router, _ := setupRouter(NewMemoryStore(), http.StatusCreated)
		post(router, "/transfers", "key-00000003", `{}`)
		w := post(router, "/other", "key-00000003", `{}`)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("invalid key", func(t *testing.T) {
		router, calls := setupRouter(NewMemoryStore(), http.StatusCreated)
		w := post(router, "/transfers", "bad key!", `{}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, int32(0), atomic.LoadInt32(calls))
	})

	t.Run("server errors are not stored", func(t *testing.T) {
		router, calls := setupRouter(NewMemoryStore(), http.StatusServiceUnavailable)
		post(router, "/transfers", "key-00000004", `{}`)
		post(router, "/transfers", "key-00000004", `{}`)
		assert.Equal(t, int32(2), atomic.LoadInt32(calls))
	})

	t.Run("client errors are stored", func(t *testing.T) {
		router, calls := setupRouter(NewMemoryStore(), http.StatusBadRequest)
		post(router, "/transfers", "key-00000005", `{}`)
		w := post(router, "/transfers", "key-00000005", `{}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, int32(1), atomic.LoadInt32(calls))
	})
}

func TestMiddleware_ConcurrentSameKey(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var calls int32
	entered := make(chan struct{})
	finish := make(chan struct{})
	router := gin.New()
	router.POST("/transfers", Middleware(NewMemoryStore(), time.Hour, zap.NewNop()), func(c *gin.Context) {
		atomic.AddInt32(&calls, 1)
		close(entered)
		<-finish
		c.JSON(http.StatusCreated, gin.H{"id": "t-1"})
	})

	var first *httptest.ResponseRecorder
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		first = post(router, "/transfers", "key-00000010", `{"amount":"1000"}`)
	}()
	<-entered

	second := post(router, "/transfers", "key-00000010", `{"amount":"1000"}`)
	assert.Equal(t, http.StatusConflict, second.Code)
	assert.Contains(t, second.Body.String(), "IDEMPOTENCY_KEY_IN_PROGRESS")

	close(finish)
	wg.Wait()
	assert.Equal(t, http.StatusCreated, first.Code)

	third := post(router, "/transfers", "key-00000010", `{"amount":"1000"}`)
	assert.Equal(t, http.StatusCreated, third.Code)
	assert.Equal(t, "true", third.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestMiddleware_ReleasesKey(t *testing.T) {
	t.Run("after a server error", func(t *testing.T) {
		store := NewMemoryStore()
		router, _ := setupRouter(store, http.StatusInternalServerError)
		post(router, "/transfers", "key-00000011", `{}`)

		r, err := store.Get(context.Background(), "key-00000011")
		require.NoError(t, err)
		assert.Nil(t, r)
	})

	t.Run("after a panic", func(t *testing.T) {
		gin.SetMode(gin.TestMode)
		store := NewMemoryStore()
		router := gin.New()
		router.Use(gin.Recovery())
		router.POST("/transfers", Middleware(store, time.Hour, zap.NewNop()), func(c *gin.Context) {
			panic("boom")
		})
		w := post(router, "/transfers", "key-00000012", `{}`)
		assert.Equal(t, http.StatusInternalServerError, w.Code)

		r, err := store.Get(context.Background(), "key-00000012")
		require.NoError(t, err)
		assert.Nil(t, r)
	})
}

func TestMemoryStore_Reserve(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	ok, err := store.Reserve(ctx, &Record{Key: "k", ExpiresAt: now.Add(time.Minute)})
	require.NoError(t, err)
	assert.True(t, ok)

	r, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.True(t, r.Pending)

	ok, err = store.Reserve(ctx, &Record{Key: "k", ExpiresAt: now.Add(time.Minute)})
	require.NoError(t, err)
	assert.False(t, ok)

	t.Run("release frees a pending key only", func(t *testing.T) {
		require.NoError(t, store.Release(ctx, "k"))
		ok, err := store.Reserve(ctx, &Record{Key: "k", ExpiresAt: now.Add(time.Minute)})
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, store.Create(ctx, &Record{Key: "k", ResponseStatus: 201, ExpiresAt: now.Add(time.Hour)}))
		require.NoError(t, store.Release(ctx, "k"))
		r, err := store.Get(ctx, "k")
		require.NoError(t, err)
		require.NotNil(t, r)
		assert.Equal(t, 201, r.ResponseStatus)
	})

	t.Run("expired reservation can be taken again", func(t *testing.T) {
		ok, err := store.Reserve(ctx, &Record{Key: "short", ExpiresAt: now.Add(time.Second)})
		require.NoError(t, err)
		require.True(t, ok)

		now = now.Add(time.Second)
		ok, err = store.Reserve(ctx, &Record{Key: "short", ExpiresAt: now.Add(time.Second)})
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestMemoryStore_Expiry(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	require.NoError(t, store.Create(context.Background(), &Record{Key: "k", ExpiresAt: now.Add(time.Minute)}))
	r, err := store.Get(context.Background(), "k")
	require.NoError(t, err)
	require.NotNil(t, r)

	now = now.Add(time.Minute)
	r, err = store.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Nil(t, r)
}

// fakeCache mimics cache.RedisClient semantics for Get misses
type fakeCache struct {
	data map[string]*Record
	ttl  time.Duration
	err  error
}

func (f *fakeCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	f.data[key] = value.(*Record)
	f.ttl = expiration
	return nil
}

func (f *fakeCache) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	f.data[key] = value.(*Record)
	f.ttl = expiration
	return true, nil
}

func (f *fakeCache) Del(ctx context.Context, key string) error {
	delete(f.data, key)
	return nil
}

func (f *fakeCache) Get(ctx context.Context, key string, dest interface{}) error {
	if f.err != nil {
		return f.err
	}
	r, ok := f.data[key]
	if !ok {
		return fmt.Errorf("key '%s': %w", key, cache.ErrCacheMiss)
	}
	*dest.(*Record) = *r
	return nil
}

func TestRedisStore(t *testing.T) {
	fc := &fakeCache{data: map[string]*Record{}}
	store := NewRedisStore(fc)
	ctx := context.Background()

	r, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, r)

	require.NoError(t, store.Create(ctx, &Record{Key: "k1", ResponseStatus: 201, ExpiresAt: time.Now().Add(time.Hour)}))
	assert.Contains(t, fc.data, "idempotency:k1")
	assert.Greater(t, fc.ttl, 59*time.Minute)

	r, err = store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, 201, r.ResponseStatus)

	require.NoError(t, store.Create(ctx, &Record{Key: "old", ExpiresAt: time.Now().Add(-time.Second)}))
	assert.NotContains(t, fc.data, "idempotency:old")

	fc.err = assert.AnError
	_, err = store.Get(ctx, "k1")
	assert.ErrorIs(t, err, assert.AnError)
}

func TestRedisStore_Reserve(t *testing.T) {
	fc := &fakeCache{data: map[string]*Record{}}
	store := NewRedisStore(fc)
	ctx := context.Background()

	ok, err := store.Reserve(ctx, &Record{Key: "k1", ExpiresAt: time.Now().Add(ReservationTTL)})
	require.NoError(t, err)
	assert.True(t, ok)
	require.Contains(t, fc.data, "idempotency:k1")
	assert.True(t, fc.data["idempotency:k1"].Pending)
	assert.Greater(t, fc.ttl, 4*time.Minute)

	ok, err = store.Reserve(ctx, &Record{Key: "k1", ExpiresAt: time.Now().Add(ReservationTTL)})
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Release(ctx, "k1"))
	assert.NotContains(t, fc.data, "idempotency:k1")

	ok, err = store.Reserve(ctx, &Record{Key: "stale", ExpiresAt: time.Now().Add(-time.Second)})
	require.NoError(t, err)
	assert.False(t, ok)

	fc.err = assert.AnError
	_, err = store.Reserve(ctx, &Record{Key: "k2", ExpiresAt: time.Now().Add(time.Minute)})
	assert.ErrorIs(t, err, assert.AnError)
}
