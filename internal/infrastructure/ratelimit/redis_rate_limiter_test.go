package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/contatto/internal/infrastructure/ratelimit"
)

var limits = ratelimit.Limits{Burst: 2, PerMinute: 60}

func TestLocalLimiter_BurstThenRefill(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := ratelimit.NewLocalLimiter(limits, clock)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := l.Allow(ctx, "PO21CE63")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
	d, _ := l.Allow(ctx, "PO21CE63")
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Second, d.RetryAfter)

	other, _ := l.Allow(ctx, "OTHER")
	assert.True(t, other.Allowed, "buckets are per key")

	clock.Advance(time.Second)
	d, _ = l.Allow(ctx, "PO21CE63")
	assert.True(t, d.Allowed)
}

func TestLocalLimiter_Cleanup(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := ratelimit.NewLocalLimiter(limits, clock)
	ctx := context.Background()

	_, _ = l.Allow(ctx, "A")
	clock.Advance(time.Minute)
	_, _ = l.Allow(ctx, "B")
	assert.Equal(t, 1, l.Cleanup(30*time.Second))
	assert.Equal(t, 1, l.Size())

	require.NoError(t, l.Reset(ctx, "B"))
	assert.Equal(t, 0, l.Size())
}

func newRedisLimiter(t *testing.T) (*ratelimit.RedisLimiter, *miniredis.Miniredis, clockwork.FakeClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := clockwork.NewFakeClock()
	rl, err := ratelimit.NewRedisLimiter(client, limits, "test:rl", clock, nil)
	require.NoError(t, err)
	return rl, mr, clock
}

func TestRedisLimiter_Allow(t *testing.T) {
	rl, mr, clock := newRedisLimiter(t)
	ctx := context.Background()

	d, err := rl.Allow(ctx, "PO21CE63")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.Limit)
	assert.Equal(t, 1, d.Remaining)
	assert.True(t, mr.Exists("test:rl:PO21CE63"))

	d, _ = rl.Allow(ctx, "PO21CE63")
	assert.True(t, d.Allowed)

	d, err = rl.Allow(ctx, "PO21CE63")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Second, d.RetryAfter)

	clock.Advance(time.Second)
	d, _ = rl.Allow(ctx, "PO21CE63")
	assert.True(t, d.Allowed)
}

func TestRedisLimiter_Reset(t *testing.T) {
	rl, mr, _ := newRedisLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = rl.Allow(ctx, "A")
	}
	require.NoError(t, rl.Reset(ctx, "A"))
	assert.False(t, mr.Exists("test:rl:A"))

	d, _ := rl.Allow(ctx, "A")
	assert.True(t, d.Allowed)
}

func TestRedisLimiter_FallsBackWhenRedisDown(t *testing.T) {
	rl, mr, _ := newRedisLimiter(t)
	mr.Close()
	ctx := context.Background()

	d, err := rl.Allow(ctx, "A")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	_, _ = rl.Allow(ctx, "A")
	d, _ = rl.Allow(ctx, "A")
	assert.False(t, d.Allowed)
}

func TestNewRedisLimiter_RequiresClient(t *testing.T) {
	_, err := ratelimit.NewRedisLimiter(nil, limits, "", nil, nil)
	assert.Error(t, err)
}
