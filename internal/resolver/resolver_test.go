package resolver

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orblabs/keygate/internal/keystore"
	"github.com/orblabs/keygate/internal/lifecycle"
	"github.com/orblabs/keygate/internal/ratelimit"
	"github.com/orblabs/keygate/internal/ratelimit/store"
	"github.com/orblabs/keygate/internal/settings"
)

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()

	keys := keystore.NewMemoryStore()
	settingsStore := settings.NewMemoryStore()
	counters := store.NewMemoryStore()
	t.Cleanup(func() {
		_ = keys.Close()
		_ = settingsStore.Close()
		_ = counters.Close()
	})

	at := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	clock := func() time.Time { return at }

	svc := lifecycle.NewService(keys, settingsStore,
		ratelimit.NewLimiter(counters, ratelimit.WithClock(clock)),
		lifecycle.WithClock(clock),
		lifecycle.WithMetrics(lifecycle.NewMetricsWithRegisterer("test", prometheus.NewRegistry())),
	)

	return New(svc, settingsStore, WithClock(clock))
}

func dispatch(t *testing.T, r *Resolver, field string, args any) *Envelope {
	t.Helper()
	raw, err := json.Marshal(args)
	require.NoError(t, err)
	return r.Dispatch(context.Background(), &Request{Field: field, Arguments: raw})
}

func generateTestKey(t *testing.T, r *Resolver, keyType string) *generatedKeyItem {
	t.Helper()
	env := dispatch(t, r, "GenerateKey", map[string]any{
		"applicationId":  "app-1",
		"organizationId": "org-1",
		"environment":    "PRODUCTION",
		"keyType":        keyType,
	})
	require.Equal(t, http.StatusOK, env.Code)
	item, ok := env.Item.(*generatedKeyItem)
	require.True(t, ok)
	return item
}

func TestDispatch_GenerateKey(t *testing.T) {
	r := newTestResolver(t)

	env := dispatch(t, r, "GenerateKey", map[string]any{
		"applicationId":  "app-1",
		"organizationId": "org-1",
		"environment":    "PRODUCTION",
		"keyType":        "SECRET",
	})

	assert.Equal(t, http.StatusOK, env.Code)
	assert.True(t, env.Success)
	assert.Contains(t, env.Message, "never be shown again")

	item := env.Item.(*generatedKeyItem)
	assert.Regexp(t, `^sk_prod_[0-9a-f]{32}$`, item.Key)
	assert.Equal(t, keystore.StatusActive, item.Status)
}

func TestDispatch_GenerateKey_DuplicateTuple(t *testing.T) {
	r := newTestResolver(t)
	generateTestKey(t, r, "SECRET")

	env := dispatch(t, r, "GenerateKey", map[string]any{
		"applicationId":  "app-1",
		"organizationId": "org-1",
		"environment":    "PRODUCTION",
		"keyType":        "SECRET",
	})

	assert.Equal(t, http.StatusBadRequest, env.Code)
	assert.False(t, env.Success)
	assert.Contains(t, env.Message, "[AAM100]")
}

func TestDispatch_UnknownField(t *testing.T) {
	r := newTestResolver(t)

	env := r.Dispatch(context.Background(), &Request{Field: "DeleteEverything"})
	assert.Equal(t, http.StatusBadRequest, env.Code)
	assert.Contains(t, env.Message, "[AAM001]")
}

func TestDispatch_MalformedArguments(t *testing.T) {
	r := newTestResolver(t)

	env := r.Dispatch(context.Background(), &Request{
		Field:     "GenerateKey",
		Arguments: json.RawMessage(`{"applicationId": 42}`),
	})
	assert.Equal(t, http.StatusBadRequest, env.Code)
	assert.Contains(t, env.Message, "[AAM001]")
}

func TestDispatch_ValidateKey(t *testing.T) {
	r := newTestResolver(t)
	item := generateTestKey(t, r, "SECRET")

	env := dispatch(t, r, "ValidateKey", map[string]any{"key": item.Key})

	require.Equal(t, http.StatusOK, env.Code)
	result := env.Item.(*lifecycle.ValidationResult)
	assert.True(t, result.Valid)
	assert.Equal(t, "app-1", result.ApplicationID)

	require.NotEmpty(t, env.RateLimitHeaders)
	assert.Contains(t, env.RateLimitHeaders, "X-RateLimit-Remaining-Minute")
	assert.NotContains(t, env.RateLimitHeaders, "Retry-After")
}

func TestDispatch_ValidateKey_Unknown(t *testing.T) {
	r := newTestResolver(t)

	env := dispatch(t, r, "ValidateKey", map[string]any{
		"key": "sk_prod_00000000000000000000000000000000",
	})
	assert.Equal(t, http.StatusBadRequest, env.Code)
	assert.Contains(t, env.Message, "[AAM200]")
	assert.Nil(t, env.Item)
}

func TestDispatch_ValidateKey_RateLimited(t *testing.T) {
	r := newTestResolver(t)

	dispatch(t, r, "UpsertAppSettings", map[string]any{
		"applicationId": "app-1",
		"environment":   "PRODUCTION",
		"rateLimits":    map[string]any{"perMinute": 1},
	})
	item := generateTestKey(t, r, "SECRET")

	env := dispatch(t, r, "ValidateKey", map[string]any{"key": item.Key})
	require.Equal(t, http.StatusOK, env.Code)

	env = dispatch(t, r, "ValidateKey", map[string]any{"key": item.Key})
	assert.Equal(t, http.StatusTooManyRequests, env.Code)
	assert.Contains(t, env.Message, "[AAM300]")
	require.NotEmpty(t, env.RateLimitHeaders, "429 must carry headers for backoff")
	assert.NotEmpty(t, env.RateLimitHeaders["Retry-After"])
	assert.Equal(t, "0", env.RateLimitHeaders["X-RateLimit-Remaining-Minute"])
}

func TestDispatch_RotationFlow(t *testing.T) {
	r := newTestResolver(t)
	item := generateTestKey(t, r, "SECRET")

	env := dispatch(t, r, "RotateKey", map[string]any{
		"applicationId": "app-1",
		"environment":   "PRODUCTION",
		"keyType":       "SECRET",
	})
	require.Equal(t, http.StatusOK, env.Code)
	rotated := env.Item.(*rotatedKeyItem)
	assert.Regexp(t, `^sk_prod_[0-9a-f]{32}$`, rotated.NewKey)
	assert.Equal(t, keystore.StatusRotating, rotated.Status)
	assert.Contains(t, env.Message, "never be shown again")

	env = dispatch(t, r, "CompleteRotation", map[string]any{"keyId": item.KeyID})
	require.Equal(t, http.StatusOK, env.Code)
	meta := env.Item.(*lifecycle.KeyMetadata)
	assert.Equal(t, keystore.StatusActive, meta.Status)

	// The pre-rotation credential is dead.
	env = dispatch(t, r, "ValidateKey", map[string]any{"key": item.Key})
	assert.Equal(t, http.StatusBadRequest, env.Code)

	env = dispatch(t, r, "ValidateKey", map[string]any{"key": rotated.NewKey})
	assert.Equal(t, http.StatusOK, env.Code)
}

func TestDispatch_RevokeKey(t *testing.T) {
	r := newTestResolver(t)
	item := generateTestKey(t, r, "SECRET")

	env := dispatch(t, r, "RevokeKey", map[string]any{"keyId": item.KeyID})
	require.Equal(t, http.StatusOK, env.Code)
	meta := env.Item.(*lifecycle.KeyMetadata)
	assert.Equal(t, keystore.StatusRevoked, meta.Status)

	env = dispatch(t, r, "RevokeKey", map[string]any{"keyId": item.KeyID})
	assert.Equal(t, http.StatusBadRequest, env.Code)
	assert.Contains(t, env.Message, "[AAM103]")
}

func TestDispatch_ListKeys(t *testing.T) {
	r := newTestResolver(t)
	generateTestKey(t, r, "SECRET")
	generateTestKey(t, r, "PUBLISHABLE")

	env := dispatch(t, r, "ListKeys", map[string]any{"applicationId": "app-1"})
	require.Equal(t, http.StatusOK, env.Code)
	items := env.Items.([]*lifecycle.KeyMetadata)
	assert.Len(t, items, 2)

	// The listing never leaks secret material.
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "hash")
}

func TestDispatch_SettingsRoundTrip(t *testing.T) {
	r := newTestResolver(t)

	env := dispatch(t, r, "UpsertAppSettings", map[string]any{
		"applicationId":  "app-1",
		"environment":    "PRODUCTION",
		"allowedOrigins": []string{"https://app.example.com"},
		"rateLimits":     map[string]any{"perMinute": 10, "perDay": 100},
	})
	require.Equal(t, http.StatusOK, env.Code)

	env = dispatch(t, r, "GetAppSettings", map[string]any{
		"applicationId": "app-1",
		"environment":   "PRODUCTION",
	})
	require.Equal(t, http.StatusOK, env.Code)
	item := env.Item.(*settingsItem)
	assert.Equal(t, []string{"https://app.example.com"}, item.AllowedOrigins)
	assert.Equal(t, 10, item.RateLimits.PerMinute)
	assert.Equal(t, 100, item.RateLimits.PerDay)
}

func TestDispatch_GetAppSettings_Absent(t *testing.T) {
	r := newTestResolver(t)

	env := dispatch(t, r, "GetAppSettings", map[string]any{
		"applicationId": "app-1",
		"environment":   "PRODUCTION",
	})
	require.Equal(t, http.StatusOK, env.Code, "absent settings are not an error")
	item := env.Item.(*settingsItem)
	assert.Empty(t, item.AllowedOrigins)
	assert.Zero(t, item.RateLimits.PerMinute)
}

func TestDispatch_UpsertAppSettings_Validation(t *testing.T) {
	r := newTestResolver(t)

	env := dispatch(t, r, "UpsertAppSettings", map[string]any{
		"environment": "PRODUCTION",
	})
	assert.Equal(t, http.StatusBadRequest, env.Code)
	assert.Contains(t, env.Message, "[AAM001]")

	env = dispatch(t, r, "UpsertAppSettings", map[string]any{
		"applicationId": "app-1",
		"environment":   "QA",
	})
	assert.Equal(t, http.StatusBadRequest, env.Code)
	assert.Contains(t, env.Message, "[AAM002]")
}
