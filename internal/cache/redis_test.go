// SPDX-License-Identifier: MIT

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *RedisCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisCache(client)
}

func TestRedisCache_SetGet(t *testing.T) {
	ctx := context.Background()
	mr, c := setupMiniRedis(t)

	c.Set(ctx, "stats:org1", []byte(`{"total":3}`), 5*time.Minute)
	val, ok := c.Get(ctx, "stats:org1")
	require.True(t, ok)
	assert.JSONEq(t, `{"total":3}`, string(val))
	assert.True(t, mr.Exists(keyPrefix+"stats:org1"))

	_, ok = c.Get(ctx, "missing")
	assert.False(t, ok)

	mr.Set("unrelated", "x")
	assert.Equal(t, Stats{Hits: 1, Misses: 1, Sets: 1, CurrentSize: 1}, c.Stats())
}

func TestRedisCache_TTL(t *testing.T) {
	ctx := context.Background()
	mr, c := setupMiniRedis(t)
	c.Set(ctx, "k", []byte("v"), time.Minute)
	assert.Equal(t, time.Minute, mr.TTL(keyPrefix+"k"))

	mr.FastForward(time.Minute + time.Second)
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestRedisCache_Delete(t *testing.T) {
	ctx := context.Background()
	_, c := setupMiniRedis(t)
	c.Set(ctx, "k", []byte("v"), time.Minute)
	c.Delete(ctx, "k")
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestRedisCache_HealthCheck(t *testing.T) {
	ctx := context.Background()
	mr, c := setupMiniRedis(t)
	require.NoError(t, c.HealthCheck(ctx))
	mr.Close()
	assert.Error(t, c.HealthCheck(ctx))
}

func TestRedisCache_Loader(t *testing.T) {
	ctx := context.Background()
	_, c := setupMiniRedis(t)
	l := NewLoader[map[string]int](c, time.Minute)
	calls := 0
	load := func(context.Context) (map[string]int, error) {
		calls++
		return map[string]int{"campaigns": 4}, nil
	}
	for i := 0; i < 3; i++ {
		v, err := l.Get(ctx, "stats:org1", load)
		require.NoError(t, err)
		assert.Equal(t, 4, v["campaigns"])
	}
	assert.Equal(t, 1, calls)
}
