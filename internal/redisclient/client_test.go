package redisclient

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	return NewFromRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()})), mr
}

func TestStockKey(t *testing.T) {
	assert.Equal(t, "inventory:product:3", StockKey(KindProduct, 3, false))
	assert.Equal(t, "inventory:parameter-set:9:ship-later", StockKey(KindParameterSet, 9, true))
}

func TestReserveStock(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	key := StockKey(KindProduct, 1, false)

	require.NoError(t, c.InitInventory(ctx, key, 5, 0))

	ok, err := c.ReserveStock(ctx, key, 3)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.ReserveStock(ctx, key, 3)
	require.NoError(t, err)
	assert.False(t, ok, "only 2 left")

	available, reserved, err := c.GetInventory(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 2, available)
	assert.Equal(t, 3, reserved)
}

func TestReserveStockNotCached(t *testing.T) {
	c, _ := newTestClient(t)

	_, err := c.ReserveStock(context.Background(), StockKey(KindSessionTicket, 4, false), 1)
	assert.ErrorIs(t, err, ErrStockNotCached)
}

func TestReleaseAndCommit(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	key := StockKey(KindSessionTicket, 2, false)

	require.NoError(t, c.InitInventory(ctx, key, 10, 0))
	_, err := c.ReserveStock(ctx, key, 4)
	require.NoError(t, err)

	require.NoError(t, c.ReleaseStock(ctx, key, 1))
	require.NoError(t, c.CommitStock(ctx, key, 3))

	available, reserved, err := c.GetInventory(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 7, available)
	assert.Equal(t, 0, reserved)

	// releasing more than reserved never inflates available
	require.NoError(t, c.ReleaseStock(ctx, key, 5))
	available, reserved, err = c.GetInventory(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 7, available)
	assert.Equal(t, 0, reserved)
}

func TestLocksAndIdempotency(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	ok, err := c.AcquireLock(ctx, "checkout:abc", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.AcquireLock(ctx, "checkout:abc", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.ReleaseLock(ctx, "checkout:abc"))
	assert.False(t, mr.Exists("lock:checkout:abc"))

	val, err := c.GetIdempotencyKey(ctx, "k1")
	require.NoError(t, err)
	assert.Empty(t, val)

	require.NoError(t, c.SetIdempotencyKey(ctx, "k1", "42", time.Minute))
	val, err = c.GetIdempotencyKey(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "42", val)
}
