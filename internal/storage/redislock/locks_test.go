package redislock_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajivgeraev/flippy-books/internal/storage/redislock"
	"github.com/rajivgeraev/flippy-books/internal/trade"
)

func testBackend(t *testing.T) *redislock.Backend {
	t.Helper()
	addr := os.Getenv("FLIPPY_TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("Redis недоступен по адресу %s: %v", addr, err)
	}

	prefix := "flippy-test:" + uuid.NewString() + ":"
	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := client.Keys(ctx, prefix+"*").Result()
		if len(keys) > 0 {
			client.Del(ctx, keys...)
		}
		client.Close()
	})
	return redislock.New(client, prefix)
}

func TestBackend_LockPairBothOrNeither(t *testing.T) {
	backend := testBackend(t)
	ctx := context.Background()
	x, y, z := uuid.New(), uuid.New(), uuid.New()
	first, second := uuid.New(), uuid.New()

	require.NoError(t, backend.TryLockPair(ctx, x, y, first))
	require.NoError(t, backend.TryLockPair(ctx, x, y, first), "same trade may re-lock its books")

	err := backend.TryLockPair(ctx, y, z, second)
	var unavailable *trade.BookUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, y, unavailable.BookID)
	assert.Equal(t, first, unavailable.TradeID)

	_, locked, err := backend.Holder(ctx, z)
	require.NoError(t, err)
	assert.False(t, locked)

	snapshot, err := backend.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[uuid.UUID]uuid.UUID{x: first, y: first}, snapshot)
}

func TestBackend_ReleaseHeld(t *testing.T) {
	backend := testBackend(t)
	ctx := context.Background()
	x, y := uuid.New(), uuid.New()
	owner := uuid.New()

	require.NoError(t, backend.TryLockPair(ctx, x, y, owner))
	require.NoError(t, backend.ReleaseHeld(ctx, x, uuid.New()))

	holder, locked, err := backend.Holder(ctx, x)
	require.NoError(t, err)
	assert.True(t, locked)
	assert.Equal(t, owner, holder)

	require.NoError(t, backend.ReleaseHeld(ctx, x, owner))
	require.NoError(t, backend.Release(ctx, y))
	require.NoError(t, backend.Release(ctx, y))

	snapshot, err := backend.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snapshot)
}

func TestBackend_ConcurrentOverlap(t *testing.T) {
	backend := testBackend(t)
	ctx := context.Background()
	shared := uuid.New()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			first, second := trade.OrderPair(uuid.New(), shared)
			if backend.TryLockPair(ctx, first, second, uuid.New()) == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)

	snapshot, err := backend.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snapshot, 2)
}
