package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnipost/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Chdir(t.TempDir())
	cfg, err := config.Parse()
	require.NoError(t, err)
	return cfg
}

func TestNewWiresEverything(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	assert.DirExists(t, a.Cfg.Paths.CookiesDir)
	assert.DirExists(t, a.Cfg.Paths.VideosDir)
	assert.Nil(t, a.Redis)
	assert.Nil(t, a.Revalidator.Lease)
	assert.Same(t, a.Registry, a.Orchestrator.Registry)

	res, err := a.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Stale)
}

func TestNewUsesRedisLeaseWhenReachable(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Redis.Addr = mr.Addr()

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	assert.NotNil(t, a.Redis)
	assert.NotNil(t, a.Revalidator.Lease)

	_, err = a.Sweep(context.Background())
	require.NoError(t, err)
	assert.False(t, mr.Exists(cfg.Redis.LeaseKey))
}

func TestNewFallsBackWithoutRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Redis.Addr = mr.Addr()
	mr.Close()

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	assert.Nil(t, a.Redis)
	assert.Nil(t, a.Revalidator.Lease)
}

func TestRunStopsWithContext(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.Port = 0
	cfg.HTTP.ShutdownTimeout = time.Second
	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, 0, a.Workers.Running())
}
