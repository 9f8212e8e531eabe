package redisq

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnipost/internal/config"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := New(config.Redis{Addr: mr.Addr()})
	t.Cleanup(func() { c.Close() })
	require.NoError(t, c.Connect(context.Background()))
	return c, mr
}

func TestLeaseIsExclusive(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	a, b := NewLease(c), NewLease(c)

	ok, err := a.Acquire(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Acquire(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// only the holder can release
	require.NoError(t, b.Release(ctx, "sweep"))
	ok, err = b.Acquire(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, a.Release(ctx, "sweep"))
	ok, err = b.Acquire(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLeaseExpires(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestClient(t)
	a, b := NewLease(c), NewLease(c)

	ok, err := a.Acquire(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)

	ok, err = b.Acquire(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// a's late release leaves b's lease alone
	require.NoError(t, a.Release(ctx, "sweep"))
	assert.True(t, mr.Exists("sweep"))
}

func TestConnectFailsWhenUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(config.Redis{Addr: mr.Addr(), LeaseKey: "omnipost:sweep"})
	defer c.Close()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := c.Connect(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), c.Cfg.Addr)
}
