package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisLimiter(t *testing.T, perMinute int) (*RedisLimiter, *miniredis.Miniredis, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	l, err := NewRedisLimiter("redis://"+mr.Addr(), perMinute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	now := time.Date(2026, 1, 1, 12, 0, 10, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, mr, &now
}

func TestRedisLimiterWindow(t *testing.T) {
	l, _, now := newRedisLimiter(t, 3)
	ctx := context.Background()

	for i := range 3 {
		ok, err := l.Allow(ctx, "write:Alex")
		require.NoError(t, err)
		assert.True(t, ok, "request %d within the window budget", i)
	}
	ok, err := l.Allow(ctx, "write:Alex")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.Allow(ctx, "write:Sophia CSM")
	require.NoError(t, err)
	assert.True(t, ok, "keys count separately")

	*now = now.Add(time.Minute)
	ok, err = l.Allow(ctx, "write:Alex")
	require.NoError(t, err)
	assert.True(t, ok, "next window starts fresh")
}

func TestRedisLimiterSharedAcrossInstances(t *testing.T) {
	a, mr, now := newRedisLimiter(t, 2)
	b, err := NewRedisLimiter("redis://"+mr.Addr(), 2)
	require.NoError(t, err)
	defer func() { _ = b.Close() }()
	b.now = func() time.Time { return *now }
	ctx := context.Background()

	ok, _ := a.Allow(ctx, "auth:10.0.0.1")
	assert.True(t, ok)
	ok, _ = b.Allow(ctx, "auth:10.0.0.1")
	assert.True(t, ok)
	ok, _ = a.Allow(ctx, "auth:10.0.0.1")
	assert.False(t, ok, "both instances draw from one budget")
}

func TestRedisLimiterCountersExpire(t *testing.T) {
	l, mr, _ := newRedisLimiter(t, 5)
	_, err := l.Allow(context.Background(), "k")
	require.NoError(t, err)
	require.Len(t, mr.Keys(), 1)

	mr.FastForward(3 * time.Minute)
	assert.Empty(t, mr.Keys())
}

func TestRedisLimiterReportsOutage(t *testing.T) {
	l, mr, _ := newRedisLimiter(t, 5)
	mr.Close()
	_, err := l.Allow(context.Background(), "k")
	assert.Error(t, err)
}

func TestNewSelectsBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	tests := []struct {
		name string
		opts Options
		want string
	}{
		{name: "disabled", opts: Options{PerMinute: 0, Burst: 5}, want: "disabled"},
		{name: "memory", opts: Options{PerMinute: 60, Burst: 5}, want: "memory"},
		{name: "redis", opts: Options{PerMinute: 60, Burst: 5, RedisURL: "redis://" + mr.Addr()}, want: "redis"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, kind, err := New(tt.opts)
			require.NoError(t, err)
			defer func() { _ = l.Close() }()
			assert.Equal(t, tt.want, kind)
		})
	}

	_, _, err := New(Options{PerMinute: 1, RedisURL: "not-a-url"})
	assert.Error(t, err)
}
