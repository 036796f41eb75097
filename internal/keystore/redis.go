package keystore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"github.com/orblabs/keygate/internal/keycodec"
	"github.com/orblabs/keygate/internal/observability"
)

// Prometheus metrics for key store operations.
var (
	keystoreOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keystore_operations_total",
			Help: "Total number of key store operations",
		},
		[]string{"operation", "status"},
	)

	keystoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "keystore_operation_duration_seconds",
			Help:    "Duration of key store operations in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation"},
	)
)

// createScript atomically reserves the tuple slot and writes the
// record with its indexes. Returning early on a failed SETNX keeps the
// one-active-key-per-tuple invariant a single atomic write instead of
// a check-then-act sequence.
//
// KEYS[1] = tuple index key
// KEYS[2] = record key
// KEYS[3] = hash index key
// KEYS[4] = application set key
// ARGV[1] = key_id
// ARGV[2] = record JSON
// ARGV[3] = "1" when the tuple slot must be reserved
var createScript = redis.NewScript(`
	if ARGV[3] == '1' then
		if redis.call('SETNX', KEYS[1], ARGV[1]) == 0 then
			return 'tuple'
		end
	end
	if redis.call('SETNX', KEYS[2], ARGV[2]) == 0 then
		if ARGV[3] == '1' then
			redis.call('DEL', KEYS[1])
		end
		return 'exists'
	end
	redis.call('SET', KEYS[3], ARGV[1])
	redis.call('SADD', KEYS[4], ARGV[1])
	return 'ok'
`)

// RedisStore implements Store using Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger observability.Logger
	closed bool
	mu     sync.Mutex
}

// RedisConfig holds configuration for the Redis key store.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string

	PoolSize     int
	MinIdleConns int
	MaxRetries   int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	Logger observability.Logger
}

// DefaultRedisConfig returns a RedisConfig with default values.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Address:      "localhost:6379",
		Prefix:       "keys:",
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// NewRedisStore creates a new Redis-backed key store and verifies
// connectivity with a ping.
func NewRedisStore(config *RedisConfig) (*RedisStore, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Address,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		MaxRetries:   config.MaxRetries,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{
		client: client,
		prefix: config.Prefix,
		logger: logger,
	}, nil
}

// NewRedisStoreWithClient wraps an existing client. Used by tests.
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "keys:"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		logger: observability.NopLogger(),
	}
}

func (s *RedisStore) recordKey(keyID string) string  { return s.prefix + "record:" + keyID }
func (s *RedisStore) hashKey(hash string) string     { return s.prefix + "hash:" + hash }
func (s *RedisStore) nextHashKey(hash string) string { return s.prefix + "next:" + hash }
func (s *RedisStore) tupleKey(tuple string) string   { return s.prefix + "tuple:" + tuple }
func (s *RedisStore) appKey(appID string) string     { return s.prefix + "app:" + appID }

// Create implements Store.
func (s *RedisStore) Create(ctx context.Context, record *Record) error {
	start := time.Now()

	data, err := json.Marshal(record)
	if err != nil {
		keystoreOperationsTotal.WithLabelValues("create", "error").Inc()
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	reserveTuple := "0"
	if !record.Status.IsTerminal() {
		reserveTuple = "1"
	}

	keys := []string{
		s.tupleKey(record.TupleKey()),
		s.recordKey(record.KeyID),
		s.hashKey(record.KeyHash),
		s.appKey(record.ApplicationID),
	}

	result, err := createScript.Run(ctx, s.client, keys, record.KeyID, string(data), reserveTuple).Result()
	keystoreOperationDuration.WithLabelValues("create").Observe(time.Since(start).Seconds())
	if err != nil {
		keystoreOperationsTotal.WithLabelValues("create", "error").Inc()
		return fmt.Errorf("redis create error: %w", err)
	}

	switch result {
	case "ok":
		if record.NextKeyHash != "" {
			if err := s.client.Set(ctx, s.nextHashKey(record.NextKeyHash), record.KeyID, 0).Err(); err != nil {
				keystoreOperationsTotal.WithLabelValues("create", "error").Inc()
				return fmt.Errorf("redis create error: %w", err)
			}
		}
		keystoreOperationsTotal.WithLabelValues("create", "success").Inc()
		return nil
	case "tuple":
		keystoreOperationsTotal.WithLabelValues("create", "conflict").Inc()
		return ErrActiveKeyExists
	case "exists":
		keystoreOperationsTotal.WithLabelValues("create", "conflict").Inc()
		return ErrKeyExists
	default:
		keystoreOperationsTotal.WithLabelValues("create", "error").Inc()
		return fmt.Errorf("redis create returned unexpected result: %v", result)
	}
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, keyID string) (*Record, error) {
	return s.getRecord(ctx, "get", s.recordKey(keyID))
}

// GetByHash implements Store.
func (s *RedisStore) GetByHash(ctx context.Context, hash string) (*Record, error) {
	return s.getIndirect(ctx, "get_by_hash", s.hashKey(hash))
}

// GetByNextHash implements Store.
func (s *RedisStore) GetByNextHash(ctx context.Context, hash string) (*Record, error) {
	return s.getIndirect(ctx, "get_by_next_hash", s.nextHashKey(hash))
}

// FindCurrent implements Store.
func (s *RedisStore) FindCurrent(
	ctx context.Context,
	applicationID string,
	env keycodec.Environment,
	keyType keycodec.KeyType,
) (*Record, error) {
	return s.getIndirect(ctx, "find_current", s.tupleKey(TupleKey(applicationID, env, keyType)))
}

// getIndirect resolves an index key to a key_id and loads the record.
func (s *RedisStore) getIndirect(ctx context.Context, operation, indexKey string) (*Record, error) {
	start := time.Now()

	keyID, err := s.client.Get(ctx, indexKey).Result()
	if err == redis.Nil {
		keystoreOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
		keystoreOperationsTotal.WithLabelValues(operation, "not_found").Inc()
		return nil, ErrKeyNotFound
	}
	if err != nil {
		keystoreOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
		keystoreOperationsTotal.WithLabelValues(operation, "error").Inc()
		return nil, fmt.Errorf("redis get error: %w", err)
	}

	return s.getRecord(ctx, operation, s.recordKey(keyID))
}

// getRecord loads and unmarshals a record by its storage key.
func (s *RedisStore) getRecord(ctx context.Context, operation, storageKey string) (*Record, error) {
	start := time.Now()

	data, err := s.client.Get(ctx, storageKey).Result()
	keystoreOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())

	if err == redis.Nil {
		keystoreOperationsTotal.WithLabelValues(operation, "not_found").Inc()
		return nil, ErrKeyNotFound
	}
	if err != nil {
		keystoreOperationsTotal.WithLabelValues(operation, "error").Inc()
		return nil, fmt.Errorf("redis get error: %w", err)
	}

	var record Record
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		keystoreOperationsTotal.WithLabelValues(operation, "error").Inc()
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}

	keystoreOperationsTotal.WithLabelValues(operation, "success").Inc()
	return &record, nil
}

// Update implements Store.
func (s *RedisStore) Update(ctx context.Context, record *Record) error {
	start := time.Now()

	old, err := s.getRecord(ctx, "update_read", s.recordKey(record.KeyID))
	if err != nil {
		return err
	}

	data, err := json.Marshal(record)
	if err != nil {
		keystoreOperationsTotal.WithLabelValues("update", "error").Inc()
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.recordKey(record.KeyID), string(data), 0)

	if old.KeyHash != record.KeyHash {
		pipe.Del(ctx, s.hashKey(old.KeyHash))
		pipe.Set(ctx, s.hashKey(record.KeyHash), record.KeyID, 0)
	}

	if old.NextKeyHash != record.NextKeyHash {
		if old.NextKeyHash != "" {
			pipe.Del(ctx, s.nextHashKey(old.NextKeyHash))
		}
		if record.NextKeyHash != "" {
			pipe.Set(ctx, s.nextHashKey(record.NextKeyHash), record.KeyID, 0)
		}
	}

	// A terminal transition releases the tuple slot so a new key can be
	// generated for the same (application, environment, type).
	if record.Status.IsTerminal() && !old.Status.IsTerminal() {
		pipe.Del(ctx, s.tupleKey(record.TupleKey()))
	}

	_, err = pipe.Exec(ctx)
	keystoreOperationDuration.WithLabelValues("update").Observe(time.Since(start).Seconds())
	if err != nil {
		keystoreOperationsTotal.WithLabelValues("update", "error").Inc()
		return fmt.Errorf("redis update error: %w", err)
	}

	keystoreOperationsTotal.WithLabelValues("update", "success").Inc()
	return nil
}

// List implements Store.
func (s *RedisStore) List(ctx context.Context, applicationID string, filter ListFilter) ([]*Record, error) {
	start := time.Now()

	keyIDs, err := s.client.SMembers(ctx, s.appKey(applicationID)).Result()
	if err != nil {
		keystoreOperationDuration.WithLabelValues("list").Observe(time.Since(start).Seconds())
		keystoreOperationsTotal.WithLabelValues("list", "error").Inc()
		return nil, fmt.Errorf("redis smembers error: %w", err)
	}

	records := make([]*Record, 0, len(keyIDs))
	for _, keyID := range keyIDs {
		record, err := s.getRecord(ctx, "list", s.recordKey(keyID))
		if err != nil {
			if err == ErrKeyNotFound {
				// Dangling set member; skip.
				s.logger.Warn("dangling application set member",
					observability.String("application_id", applicationID),
					observability.String("key_id", keyID),
				)
				continue
			}
			keystoreOperationDuration.WithLabelValues("list").Observe(time.Since(start).Seconds())
			return nil, err
		}
		if matchesFilter(record, filter) {
			records = append(records, record)
		}
	}

	sortRecords(records)

	keystoreOperationDuration.WithLabelValues("list").Observe(time.Since(start).Seconds())
	keystoreOperationsTotal.WithLabelValues("list", "success").Inc()
	return records, nil
}

// Close implements Store. Close is idempotent.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

// Client returns the underlying Redis client.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Ensure RedisStore implements Store.
var _ Store = (*RedisStore)(nil)
