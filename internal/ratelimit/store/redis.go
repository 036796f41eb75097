package store

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"github.com/orblabs/keygate/internal/observability"
)

// Prometheus metrics for counter store operations.
var (
	counterStoreOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_store_operations_total",
			Help: "Total number of rate limit counter store operations",
		},
		[]string{"operation", "status"},
	)

	counterStoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ratelimit_store_operation_duration_seconds",
			Help:    "Duration of rate limit counter store operations in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation"},
	)
)

// incrementWithExpiryScript atomically increments a counter and sets
// the expiration on first write.
// KEYS[1] = key
// ARGV[1] = delta
// ARGV[2] = expiration in seconds
var incrementWithExpiryScript = redis.NewScript(`
	local current = redis.call('INCRBY', KEYS[1], ARGV[1])
	if current == tonumber(ARGV[1]) then
		redis.call('EXPIRE', KEYS[1], ARGV[2])
	end
	return current
`)

// RedisStore implements Store using Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger observability.Logger
	closed bool
	mu     sync.Mutex
}

// NewRedisStore wraps an existing Redis client as a counter store.
func NewRedisStore(client *redis.Client, prefix string, logger observability.Logger) *RedisStore {
	if prefix == "" {
		prefix = "ratelimit:"
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	return &RedisStore{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

// prefixKey adds the prefix to the key.
func (s *RedisStore) prefixKey(key string) string {
	return s.prefix + key
}

// IncrementWithExpiry implements Store using a Lua script for atomicity.
func (s *RedisStore) IncrementWithExpiry(
	ctx context.Context,
	key string,
	delta int64,
	expiration time.Duration,
) (int64, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("context error before redis incr with expiry: %w", err)
	}

	expirationSecs := int64(expiration.Seconds())
	if expirationSecs < 1 {
		expirationSecs = 1
	}

	result, err := incrementWithExpiryScript.Run(ctx, s.client, []string{s.prefixKey(key)}, delta, expirationSecs).Result()

	counterStoreOperationDuration.WithLabelValues("increment_with_expiry").Observe(time.Since(start).Seconds())

	if err != nil {
		counterStoreOperationsTotal.WithLabelValues("increment_with_expiry", "error").Inc()
		return 0, fmt.Errorf("redis script error: %w", err)
	}

	val, ok := result.(int64)
	if !ok {
		counterStoreOperationsTotal.WithLabelValues("increment_with_expiry", "error").Inc()
		return 0, fmt.Errorf("redis script returned unexpected type: %T", result)
	}

	counterStoreOperationsTotal.WithLabelValues("increment_with_expiry", "success").Inc()
	return val, nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) (int64, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("context error before redis get: %w", err)
	}

	val, err := s.client.Get(ctx, s.prefixKey(key)).Result()

	counterStoreOperationDuration.WithLabelValues("get").Observe(time.Since(start).Seconds())

	if err == redis.Nil {
		counterStoreOperationsTotal.WithLabelValues("get", "not_found").Inc()
		return 0, &ErrKeyNotFound{Key: key}
	}
	if err != nil {
		counterStoreOperationsTotal.WithLabelValues("get", "error").Inc()
		return 0, fmt.Errorf("redis get error: %w", err)
	}

	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		counterStoreOperationsTotal.WithLabelValues("get", "error").Inc()
		return 0, fmt.Errorf("failed to parse value: %w", err)
	}

	counterStoreOperationsTotal.WithLabelValues("get", "success").Inc()
	return n, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error before redis del: %w", err)
	}

	err := s.client.Del(ctx, s.prefixKey(key)).Err()

	counterStoreOperationDuration.WithLabelValues("delete").Observe(time.Since(start).Seconds())

	if err != nil {
		counterStoreOperationsTotal.WithLabelValues("delete", "error").Inc()
		return fmt.Errorf("redis del error: %w", err)
	}

	counterStoreOperationsTotal.WithLabelValues("delete", "success").Inc()
	return nil
}

// Close implements Store. The wrapped client may be shared; Close only
// marks this store closed and leaves the client to its owner.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// Ensure RedisStore implements Store.
var _ Store = (*RedisStore)(nil)
