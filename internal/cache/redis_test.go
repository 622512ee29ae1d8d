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

func setupRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewFromClient(client), mr
}

func TestRedis_GetSetDel(t *testing.T) {
	c, _ := setupRedis(t)
	ctx := context.Background()

	val, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, val)

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	val, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", val)

	require.NoError(t, c.Del(ctx, "k"))
	val, _ = c.Get(ctx, "k")
	assert.Empty(t, val)
}

func TestRedis_SetNXExcludesSecondHolder(t *testing.T) {
	c, mr := setupRedis(t)
	ctx := context.Background()

	ok, err := c.SetNX(ctx, "lock", "token-a", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.SetNX(ctx, "lock", "token-b", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(2 * time.Second)

	ok, err = c.SetNX(ctx, "lock", "token-b", time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "lock should be free after its TTL")
}

func TestRedis_DelIfEquals(t *testing.T) {
	c, mr := setupRedis(t)
	ctx := context.Background()

	_, err := c.SetNX(ctx, "lock", "token-a", time.Minute)
	require.NoError(t, err)

	released, err := c.DelIfEquals(ctx, "lock", "token-b")
	require.NoError(t, err)
	assert.False(t, released)
	assert.True(t, mr.Exists("lock"))

	released, err = c.DelIfEquals(ctx, "lock", "token-a")
	require.NoError(t, err)
	assert.True(t, released)
	assert.False(t, mr.Exists("lock"))
}

func TestRedis_Health(t *testing.T) {
	c, mr := setupRedis(t)
	require.NoError(t, c.Health(context.Background()))

	mr.Close()
	assert.Error(t, c.Health(context.Background()))
}
