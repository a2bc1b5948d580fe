package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopReportCacheNeverHits(t *testing.T) {
	ctx := context.Background()
	var c ReportCache = NoopReportCache{}
	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisReportCacheInvalidate(t *testing.T) {
	addr := os.Getenv("POSSETTLE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("POSSETTLE_TEST_REDIS_ADDR is not set")
	}
	ctx := context.Background()
	client := NewRedisClient(addr, "", 0)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())

	c := NewRedisReportCache(client)
	require.NoError(t, c.Set(ctx, "daily:2026-03-01", []byte(`{"ok":true}`), time.Minute))

	got, ok, err := c.Get(ctx, "daily:2026-03-01")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"ok":true}`, string(got))

	require.NoError(t, c.Invalidate(ctx))
	_, ok, err = c.Get(ctx, "daily:2026-03-01")
	require.NoError(t, err)
	assert.False(t, ok)
}
