package cache_test

import (
	"context"
	"testing"
	"time"

	"eggdash/cache"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	backend, err := cache.NewRedisBackend(ctx, mr.Addr())
	require.NoError(t, err)
	defer backend.Close()

	_, ok, err := backend.Get(ctx, "all_feeds")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, backend.Set(ctx, "all_feeds", []byte(`[{"feed_id":1}]`), time.Minute))

	value, ok, err := backend.Get(ctx, "all_feeds")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `[{"feed_id":1}]`, string(value))

	mr.FastForward(time.Minute)

	_, ok, err = backend.Get(ctx, "all_feeds")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisBackendFlushOnlyOwnKeys(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	require.NoError(t, mr.Set("someone-else", "keep"))

	backend, err := cache.NewRedisBackend(ctx, mr.Addr())
	require.NoError(t, err)
	defer backend.Close()

	store := cache.New(backend)
	for _, key := range []string{"all_feeds", "recently_desc"} {
		_, err := store.Fetch(ctx, key, time.Hour, func(ctx context.Context) ([]byte, error) {
			return []byte("value"), nil
		})
		require.NoError(t, err)
	}

	count, err := store.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.True(t, mr.Exists("someone-else"))
}

func TestRedisBackendUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := cache.NewRedisBackend(ctx, addr)
	assert.Error(t, err)
}
