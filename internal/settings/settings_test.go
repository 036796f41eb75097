package settings

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orblabs/keygate/internal/keycodec"
)

func newTestStores(t *testing.T) map[string]Store {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  NewRedisStore(client, "test:"),
	}
}

func TestStore_UpsertAndGet(t *testing.T) {
	for name, store := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			entry := &AppSettings{
				ApplicationID:  "app-1",
				Environment:    keycodec.EnvProduction,
				AllowedOrigins: []string{"https://example.com", "https://*.example.org"},
				RateLimits:     RateLimits{PerMinute: 10, PerDay: 500},
				UpdatedAt:      1700000000,
			}
			require.NoError(t, store.Upsert(ctx, entry))

			got, err := store.Get(ctx, "app-1", keycodec.EnvProduction)
			require.NoError(t, err)
			assert.Equal(t, entry.AllowedOrigins, got.AllowedOrigins)
			assert.Equal(t, 10, got.RateLimits.PerMinute)
			assert.Equal(t, 500, got.RateLimits.PerDay)

			// Same application, different environment: separate scope.
			_, err = store.Get(ctx, "app-1", keycodec.EnvStaging)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_UpsertReplaces(t *testing.T) {
	for name, store := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, store.Upsert(ctx, &AppSettings{
				ApplicationID:  "app-1",
				Environment:    keycodec.EnvProduction,
				AllowedOrigins: []string{"https://a.com"},
			}))
			require.NoError(t, store.Upsert(ctx, &AppSettings{
				ApplicationID: "app-1",
				Environment:   keycodec.EnvProduction,
			}))

			got, err := store.Get(ctx, "app-1", keycodec.EnvProduction)
			require.NoError(t, err)
			assert.Empty(t, got.AllowedOrigins)
		})
	}
}

func TestStore_GetMissing(t *testing.T) {
	for name, store := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(context.Background(), "nobody", keycodec.EnvTest)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestMemoryStore_CloneIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	entry := &AppSettings{
		ApplicationID:  "app-1",
		Environment:    keycodec.EnvProduction,
		AllowedOrigins: []string{"https://a.com"},
	}
	require.NoError(t, store.Upsert(ctx, entry))

	entry.AllowedOrigins[0] = "https://evil.com"

	got, err := store.Get(ctx, "app-1", keycodec.EnvProduction)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.com"}, got.AllowedOrigins)
}
