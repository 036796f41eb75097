package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orblabs/keygate/internal/config"
	"github.com/orblabs/keygate/internal/keystore"
	"github.com/orblabs/keygate/internal/lifecycle"
	"github.com/orblabs/keygate/internal/ratelimit"
	ratelimitstore "github.com/orblabs/keygate/internal/ratelimit/store"
	"github.com/orblabs/keygate/internal/resolver"
	"github.com/orblabs/keygate/internal/settings"
)

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()

	keys := keystore.NewMemoryStore()
	settingsStore := settings.NewMemoryStore()
	limiter := ratelimit.NewLimiter(ratelimitstore.NewMemoryStore())

	svc := lifecycle.NewService(keys, settingsStore, limiter)
	res := resolver.New(svc, settingsStore)

	cfg := config.DefaultConfig().Server
	cfg.ClientRPS = 0 // transport limiter off unless a test enables it

	return New(cfg, res, opts...)
}

func doResolve(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/resolve", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	return rec
}

func TestServer_ResolveGenerateKey(t *testing.T) {
	s := newTestServer(t)

	rec := doResolve(t, s, `{
		"field": "GenerateKey",
		"arguments": {
			"applicationId": "app-1",
			"organizationId": "org-1",
			"environment": "PRODUCTION",
			"keyType": "SECRET"
		}
	}`)

	require.Equal(t, http.StatusOK, rec.Code)

	var env resolver.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.True(t, env.Success)
	assert.Equal(t, http.StatusOK, env.Code)

	item, ok := env.Item.(map[string]any)
	require.True(t, ok)
	assert.Regexp(t, `^sk_prod_[0-9a-f]{32}$`, item["key"])
}

func TestServer_ResolveErrorStatusMatchesEnvelope(t *testing.T) {
	s := newTestServer(t)

	rec := doResolve(t, s, `{
		"field": "GenerateKey",
		"arguments": {"applicationId": ""}
	}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var env resolver.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.False(t, env.Success)
	assert.Equal(t, http.StatusBadRequest, env.Code)
	assert.Contains(t, env.Message, "[AAM001]")
}

func TestServer_ResolveUnknownField(t *testing.T) {
	s := newTestServer(t)

	rec := doResolve(t, s, `{"field": "DeleteEverything"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "[AAM001]")
}

func TestServer_ResolveMalformedBody(t *testing.T) {
	s := newTestServer(t)

	rec := doResolve(t, s, `{not json`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "[AAM001]")
}

func TestServer_RateLimitHeadersOnResponse(t *testing.T) {
	s := newTestServer(t)

	rec := doResolve(t, s, `{
		"field": "GenerateKey",
		"arguments": {
			"applicationId": "app-1",
			"organizationId": "org-1",
			"environment": "PRODUCTION",
			"keyType": "SECRET"
		}
	}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var env resolver.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	item := env.Item.(map[string]any)
	plaintext := item["key"].(string)

	rec = doResolve(t, s, fmt.Sprintf(`{
		"field": "ValidateKey",
		"arguments": {"key": %q}
	}`, plaintext))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Limit-Minute"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Remaining-Minute"))
}

func TestServer_RequestIDEchoed(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-abc")

	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)

	assert.Equal(t, "req-abc", rec.Header().Get("X-Request-ID"))
}

func TestServer_RequestIDGenerated(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)

	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_Healthz(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestServer_HealthzFailingCheck(t *testing.T) {
	s := newTestServer(t, WithHealthCheck(func(ctx context.Context) error {
		return errors.New("redis unreachable")
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "unhealthy")
}

func TestServer_Metrics(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_ClientRateLimit(t *testing.T) {
	keys := keystore.NewMemoryStore()
	settingsStore := settings.NewMemoryStore()
	limiter := ratelimit.NewLimiter(ratelimitstore.NewMemoryStore())

	svc := lifecycle.NewService(keys, settingsStore, limiter)
	res := resolver.New(svc, settingsStore)

	cfg := config.DefaultConfig().Server
	cfg.ClientRPS = 1
	cfg.ClientBurst = 2

	s := New(cfg, res)

	var denied bool
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		rec := httptest.NewRecorder()
		s.Engine().ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			denied = true
			assert.Contains(t, rec.Body.String(), "[AAM300]")
		}
	}
	assert.True(t, denied, "expected transport limiter to deny after burst")
}

func TestServer_Shutdown(t *testing.T) {
	s := newTestServer(t)

	// Shutdown before Start is a no-op.
	assert.NoError(t, s.Shutdown(context.Background()))
}
