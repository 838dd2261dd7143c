package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exercise(t *testing.T, c Cache) {
	ctx := context.Background()

	_, ok, err := c.GetBytes(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.SetBytes(ctx, "estimations:all", []byte(`{"AAPL":{}}`), time.Minute))
	b, ok, err := c.GetBytes(ctx, "estimations:all")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"AAPL":{}}`, string(b))

	require.NoError(t, c.Delete(ctx, "estimations:all", "other"))
	_, ok, _ = c.GetBytes(ctx, "estimations:all")
	assert.False(t, ok)

	got, err := c.TryLock(ctx, "run", time.Minute)
	require.NoError(t, err)
	assert.True(t, got)
	got, err = c.TryLock(ctx, "run", time.Minute)
	require.NoError(t, err)
	assert.False(t, got, "second holder must wait")
	require.NoError(t, c.Unlock(ctx, "run"))
	got, _ = c.TryLock(ctx, "run", time.Minute)
	assert.True(t, got)
}

func TestTTLCache(t *testing.T) {
	exercise(t, NewTTLCache())
}

func TestTTLCacheExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewTTLCache()
	require.NoError(t, c.SetBytes(ctx, "k", []byte("v"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	_, ok, _ := c.GetBytes(ctx, "k")
	assert.False(t, ok)
}

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	c := NewRedisCache(RedisConfig{Addr: mr.Addr(), Prefix: "test"})
	defer c.Close()

	require.NoError(t, c.Ping(context.Background()))
	exercise(t, c)

	require.NoError(t, c.SetBytes(context.Background(), "k", []byte("v"), time.Second))
	assert.True(t, mr.Exists("test:k"), "keys are namespaced")
	mr.FastForward(2 * time.Second)
	_, ok, _ := c.GetBytes(context.Background(), "k")
	assert.False(t, ok)
}
