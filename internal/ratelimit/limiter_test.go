package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orblabs/keygate/internal/ratelimit/store"
)

// fixedClock returns a clock function pinned to the given time.
func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

var testTime = time.Date(2024, 3, 15, 10, 30, 45, 0, time.UTC)

func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	s := store.NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })
	return NewLimiter(s, WithClock(fixedClock(testTime)))
}

func TestLimiter_AllowWithinLimit(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()
	limits := Limits{PerMinute: 5, PerDay: 100}

	for i := 1; i <= 5; i++ {
		result := limiter.Allow(ctx, "key-1", limits)
		assert.True(t, result.Allowed, "request %d should be allowed", i)
		assert.Equal(t, 5-i, result.Minute.Remaining)
		assert.Equal(t, 100-i, result.Day.Remaining)
	}
}

func TestLimiter_MinuteLimitExceeded(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()
	limits := Limits{PerMinute: 3, PerDay: 100}

	for i := 0; i < 3; i++ {
		result := limiter.Allow(ctx, "key-1", limits)
		require.True(t, result.Allowed)
	}

	result := limiter.Allow(ctx, "key-1", limits)
	assert.False(t, result.Allowed)
	assert.Equal(t, WindowMinute, result.Exceeded)
	assert.Equal(t, 0, result.Minute.Remaining)

	// Headers are present on denial, including Retry-After.
	headers := result.Headers()
	assert.Equal(t, "3", headers["X-RateLimit-Limit-Minute"])
	assert.Equal(t, "0", headers["X-RateLimit-Remaining-Minute"])
	assert.NotEmpty(t, headers["Retry-After"])
}

func TestLimiter_DayLimitExceeded(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()
	limits := Limits{PerMinute: 100, PerDay: 2}

	limiter.Allow(ctx, "key-1", limits)
	limiter.Allow(ctx, "key-1", limits)

	result := limiter.Allow(ctx, "key-1", limits)
	assert.False(t, result.Allowed)
	assert.Equal(t, WindowDay, result.Exceeded)
	assert.Equal(t, 0, result.Day.Remaining)
}

func TestLimiter_RemainingMonotonic(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()
	limits := Limits{PerMinute: 10, PerDay: 100}

	prev := 10
	for i := 0; i < 10; i++ {
		result := limiter.Allow(ctx, "key-1", limits)
		assert.Less(t, result.Minute.Remaining, prev)
		prev = result.Minute.Remaining
	}
	assert.Equal(t, 0, prev)
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()
	limits := Limits{PerMinute: 1, PerDay: 100}

	result := limiter.Allow(ctx, "key-1", limits)
	require.True(t, result.Allowed)

	result = limiter.Allow(ctx, "key-1", limits)
	assert.False(t, result.Allowed)

	result = limiter.Allow(ctx, "key-2", limits)
	assert.True(t, result.Allowed, "another key has its own buckets")
}

func TestLimiter_ZeroLimitsUseDefaults(t *testing.T) {
	limiter := newTestLimiter(t)

	result := limiter.Allow(context.Background(), "key-1", Limits{})
	assert.True(t, result.Allowed)
	assert.Equal(t, DefaultLimits().PerMinute, result.Minute.Limit)
	assert.Equal(t, DefaultLimits().PerDay, result.Day.Limit)
}

func TestLimiter_FailOpenOnStoreError(t *testing.T) {
	s := store.NewMemoryStore()
	require.NoError(t, s.Close())

	// A cancelled context forces every store call to fail.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	limiter := NewLimiter(s, WithClock(fixedClock(testTime)))
	result := limiter.Allow(ctx, "key-1", Limits{PerMinute: 1, PerDay: 1})

	assert.True(t, result.Allowed, "store errors must fail open")
	assert.Equal(t, 1, result.Minute.Remaining)
}

func TestLimiter_WindowResets(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	current := testTime
	limiter := NewLimiter(
		store.NewRedisStore(client, "test:", nil),
		WithClock(func() time.Time { return current }),
	)
	ctx := context.Background()
	limits := Limits{PerMinute: 1, PerDay: 100}

	result := limiter.Allow(ctx, "key-1", limits)
	require.True(t, result.Allowed)

	result = limiter.Allow(ctx, "key-1", limits)
	require.False(t, result.Allowed)

	// The next minute lands in a fresh bucket.
	current = current.Add(time.Minute)
	result = limiter.Allow(ctx, "key-1", limits)
	assert.True(t, result.Allowed)
}

func TestBucketKey(t *testing.T) {
	at := time.Date(2024, 3, 15, 10, 30, 45, 0, time.UTC)

	assert.Equal(t, "key-1#minute#202403151030", BucketKey("key-1", WindowMinute, at))
	assert.Equal(t, "key-1#day#20240315", BucketKey("key-1", WindowDay, at))
}

func TestWindowResets(t *testing.T) {
	at := time.Date(2024, 3, 15, 10, 30, 45, 0, time.UTC)

	assert.Equal(t, time.Date(2024, 3, 15, 10, 31, 0, 0, time.UTC).Unix(), minuteReset(at))
	assert.Equal(t, time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC).Unix(), dayReset(at))
}

func TestResult_Headers_Allowed(t *testing.T) {
	result := &Result{
		Allowed: true,
		Minute:  WindowResult{Limit: 60, Remaining: 59, Reset: 1700000060},
		Day:     WindowResult{Limit: 10000, Remaining: 9999, Reset: 1700086400},
	}

	headers := result.Headers()
	assert.Equal(t, "60", headers["X-RateLimit-Limit-Minute"])
	assert.Equal(t, "59", headers["X-RateLimit-Remaining-Minute"])
	assert.Equal(t, "1700000060", headers["X-RateLimit-Reset-Minute"])
	assert.Equal(t, "10000", headers["X-RateLimit-Limit-Day"])
	assert.Equal(t, "9999", headers["X-RateLimit-Remaining-Day"])
	assert.Equal(t, "1700086400", headers["X-RateLimit-Reset-Day"])
	assert.NotContains(t, headers, "Retry-After")
}
