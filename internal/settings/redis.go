package settings

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/orblabs/keygate/internal/keycodec"
)

// RedisStore implements Store using Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "settings:"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisStore) scopeKey(applicationID string, env keycodec.Environment) string {
	return s.prefix + ScopeKey(applicationID, env)
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, applicationID string, env keycodec.Environment) (*AppSettings, error) {
	data, err := s.client.Get(ctx, s.scopeKey(applicationID, env)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get error: %w", err)
	}

	var settings AppSettings
	if err := json.Unmarshal([]byte(data), &settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}
	return &settings, nil
}

// Upsert implements Store.
func (s *RedisStore) Upsert(ctx context.Context, settings *AppSettings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	if err := s.client.Set(ctx, s.scopeKey(settings.ApplicationID, settings.Environment), string(data), 0).Err(); err != nil {
		return fmt.Errorf("redis set error: %w", err)
	}
	return nil
}

// Close implements Store. The wrapped client is shared, so Close is a
// no-op; the owner of the client closes it.
func (s *RedisStore) Close() error {
	return nil
}

// Ensure RedisStore implements Store.
var _ Store = (*RedisStore)(nil)
