package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/erp/catalog-exchange/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedLocker_SerializesSameKey(t *testing.T) {
	locker := NewKeyedLocker()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(ctx, "t/articles/A-1")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			inside++
			maxSeen = max(maxSeen, inside)
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Zero(t, locker.Len(), "idle keys are dropped")
}

func TestKeyedLocker_IndependentKeys(t *testing.T) {
	locker := NewKeyedLocker()
	ctx := context.Background()

	unlockA, err := locker.Lock(ctx, "t/articles/A-1")
	require.NoError(t, err)
	defer unlockA()

	unlockB, err := locker.Lock(ctx, "t/articles/A-2")
	require.NoError(t, err)
	unlockB()

	assert.Equal(t, 1, locker.Len())
}

func TestKeyedLocker_ContextCancelled(t *testing.T) {
	locker := NewKeyedLocker()

	unlock, err := locker.Lock(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock() // second call is a no-op
	assert.Zero(t, locker.Len())

	again, err := locker.Lock(context.Background(), "k")
	require.NoError(t, err)
	again()
}

func TestNewBackend_RedisDisabled(t *testing.T) {
	backend, err := NewBackend(config.RedisConfig{Enabled: false}, time.Second)
	require.NoError(t, err)
	defer backend.Close()

	assert.False(t, backend.Distributed)
	assert.IsType(t, &KeyedLocker{}, backend.Locker)
	assert.IsType(t, &InMemoryIdempotencyStore{}, backend.Idempotency)
}

func TestNewBackend_RedisUnreachable(t *testing.T) {
	cfg := config.RedisConfig{Enabled: true, Host: "127.0.0.1", Port: 1}

	t.Run("falls back by default", func(t *testing.T) {
		backend, err := NewBackend(cfg, time.Second)
		require.NoError(t, err)
		defer backend.Close()
		assert.False(t, backend.Distributed)
	})

	t.Run("fails when fallback is disabled", func(t *testing.T) {
		_, err := NewBackend(cfg, time.Second, WithInMemoryFallback(false))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "redis required but unavailable")
	})
}
