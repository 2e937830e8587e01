package rediscache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestRedisCache_GetSetDel(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "tracking:CRY-123-4567:snapshot", []byte(`{"ok":true}`), time.Minute))

	b, ok, err := c.Get(ctx, "tracking:CRY-123-4567:snapshot")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte(`{"ok":true}`), b)

	require.NoError(t, c.Del(ctx, "tracking:CRY-123-4567:snapshot"))
	_, ok, err = c.Get(ctx, "tracking:CRY-123-4567:snapshot")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisCache_GetMiss(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())

	_, ok, err := c.Get(context.Background(), "nope")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRateLimiter_Allow(t *testing.T) {
	mr := miniredis.RunT(t)
	rl := NewRateLimiter(mr.Addr())

	ctx := context.Background()
	ok, n, err := rl.Allow(ctx, "rl:track:10.0.0.1", 2, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), n)

	ok, n, _ = rl.Allow(ctx, "rl:track:10.0.0.1", 2, time.Minute)
	require.True(t, ok)
	require.Equal(t, int64(2), n)

	ok, n, _ = rl.Allow(ctx, "rl:track:10.0.0.1", 2, time.Minute)
	require.False(t, ok)
	require.Equal(t, int64(3), n)
}
