package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMemoryStore(t *testing.T) {
	tests := []struct {
		name     string
		interval time.Duration
		want     time.Duration
	}{
		{"default interval", 0, 10 * time.Minute},
		{"custom interval", 5 * time.Minute, 5 * time.Minute},
		{"negative interval", -time.Minute, 10 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore(tt.interval)
			defer store.Close()
			assert.Equal(t, tt.want, store.gcInterval)
		})
	}
}

func TestMemoryStore_Counters(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	defer store.Close()
	ctx := context.Background()

	t.Run("increments per key", func(t *testing.T) {
		for want := int64(1); want <= 3; want++ {
			count, err := store.Increment(ctx, "collect:10.0.0.1", time.Minute)
			require.NoError(t, err)
			assert.Equal(t, want, count)
		}

		count, err := store.Increment(ctx, "collect:10.0.0.2", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("get reports count and window end", func(t *testing.T) {
		count, expiry, err := store.Get(ctx, "collect:10.0.0.1")
		require.NoError(t, err)
		assert.Equal(t, int64(3), count)
		assert.WithinDuration(t, time.Now().Add(time.Minute), expiry, time.Second)
	})

	t.Run("unknown key is empty", func(t *testing.T) {
		count, expiry, err := store.Get(ctx, "collect:unknown")
		require.NoError(t, err)
		assert.Zero(t, count)
		assert.True(t, expiry.IsZero())
	})

	t.Run("reset drops the counter", func(t *testing.T) {
		require.NoError(t, store.Reset(ctx, "collect:10.0.0.1"))
		require.NoError(t, store.Reset(ctx, "collect:never-seen"))

		count, _, err := store.Get(ctx, "collect:10.0.0.1")
		require.NoError(t, err)
		assert.Zero(t, count)
	})
}

func TestMemoryStore_WindowExpiry(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	defer store.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.Increment(ctx, "collect:short", 50*time.Millisecond)
		require.NoError(t, err)
	}
	_, err := store.Increment(ctx, "collect:long", time.Hour)
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)

	count, _, err := store.Get(ctx, "collect:short")
	require.NoError(t, err)
	assert.Zero(t, count)

	store.cleanup()
	assert.Equal(t, 1, store.Len())

	count, err = store.Increment(ctx, "collect:short", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestMemoryStore_ConcurrentIncrement(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	defer store.Close()
	ctx := context.Background()

	const workers, hits = 50, 100
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < hits; j++ {
				_, err := store.Increment(ctx, "collect:shared", time.Minute)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	count, _, err := store.Get(ctx, "collect:shared")
	require.NoError(t, err)
	assert.Equal(t, int64(workers*hits), count)
}

func TestMemoryStore_Close(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
}
