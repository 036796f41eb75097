package origin

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orblabs/keygate/internal/keycodec"
	"github.com/orblabs/keygate/internal/settings"
)

func newTestValidator(t *testing.T, origins []string, env keycodec.Environment) *Validator {
	t.Helper()

	store := settings.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	if origins != nil {
		err := store.Upsert(context.Background(), &settings.AppSettings{
			ApplicationID:  "app-1",
			Environment:    env,
			AllowedOrigins: origins,
			UpdatedAt:      time.Now().Unix(),
		})
		require.NoError(t, err)
	}

	return NewValidator(store, nil)
}

func TestValidator_NoSettingsAllows(t *testing.T) {
	v := newTestValidator(t, nil, keycodec.EnvProduction)

	err := v.Validate(context.Background(), "app-1", keycodec.EnvProduction, "https://evil.example")
	assert.NoError(t, err)
}

func TestValidator_EmptyListAllows(t *testing.T) {
	v := newTestValidator(t, []string{}, keycodec.EnvProduction)

	err := v.Validate(context.Background(), "app-1", keycodec.EnvProduction, "https://anywhere.example")
	assert.NoError(t, err)
}

func TestValidator_OriginRequired(t *testing.T) {
	v := newTestValidator(t, []string{"https://app.example.com"}, keycodec.EnvProduction)

	err := v.Validate(context.Background(), "app-1", keycodec.EnvProduction, "")
	assert.ErrorIs(t, err, ErrOriginRequired)
}

func TestValidator_ExactMatch(t *testing.T) {
	v := newTestValidator(t, []string{"https://app.example.com"}, keycodec.EnvProduction)
	ctx := context.Background()

	assert.NoError(t, v.Validate(ctx, "app-1", keycodec.EnvProduction, "https://app.example.com"))
	assert.ErrorIs(t,
		v.Validate(ctx, "app-1", keycodec.EnvProduction, "https://other.example.com"),
		ErrOriginNotAllowed,
	)
}

func TestValidator_FailsOpenOnLookupError(t *testing.T) {
	store := settings.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	v := NewValidator(store, nil)

	// A cancelled context forces the settings lookup to fail with
	// something other than ErrNotFound.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := v.Validate(ctx, "app-1", keycodec.EnvProduction, "https://anywhere.example")
	assert.NoError(t, err, "infrastructure errors must fail open")
}

func TestMatches(t *testing.T) {
	tests := []struct {
		name    string
		allowed string
		origin  string
		env     keycodec.Environment
		want    bool
	}{
		{
			name:    "exact match",
			allowed: "https://app.example.com",
			origin:  "https://app.example.com",
			env:     keycodec.EnvProduction,
			want:    true,
		},
		{
			name:    "exact match is case insensitive",
			allowed: "https://App.Example.com",
			origin:  "https://app.example.com",
			env:     keycodec.EnvProduction,
			want:    true,
		},
		{
			name:    "trailing slash is ignored",
			allowed: "https://app.example.com/",
			origin:  "https://app.example.com",
			env:     keycodec.EnvProduction,
			want:    true,
		},
		{
			name:    "different host does not match",
			allowed: "https://app.example.com",
			origin:  "https://api.example.com",
			env:     keycodec.EnvProduction,
			want:    false,
		},
		{
			name:    "scheme must match exactly",
			allowed: "https://app.example.com",
			origin:  "http://app.example.com",
			env:     keycodec.EnvProduction,
			want:    false,
		},
		{
			name:    "wildcard matches subdomain",
			allowed: "https://*.example.com",
			origin:  "https://app.example.com",
			env:     keycodec.EnvProduction,
			want:    true,
		},
		{
			name:    "wildcard matches nested subdomain",
			allowed: "https://*.example.com",
			origin:  "https://a.b.example.com",
			env:     keycodec.EnvProduction,
			want:    true,
		},
		{
			name:    "wildcard matches bare base domain",
			allowed: "https://*.example.com",
			origin:  "https://example.com",
			env:     keycodec.EnvProduction,
			want:    true,
		},
		{
			name:    "wildcard does not match suffix lookalike",
			allowed: "https://*.example.com",
			origin:  "https://evilexample.com",
			env:     keycodec.EnvProduction,
			want:    false,
		},
		{
			name:    "wildcard scheme mismatch",
			allowed: "https://*.example.com",
			origin:  "http://app.example.com",
			env:     keycodec.EnvProduction,
			want:    false,
		},
		{
			name:    "localhost allowed in development",
			allowed: "http://localhost",
			origin:  "http://localhost:3000",
			env:     keycodec.EnvDevelopment,
			want:    true,
		},
		{
			name:    "loopback address allowed in test",
			allowed: "http://localhost:3000",
			origin:  "http://127.0.0.1:3000",
			env:     keycodec.EnvTest,
			want:    true,
		},
		{
			name:    "localhost rejected in production even with exact entry",
			allowed: "http://localhost:3000",
			origin:  "http://localhost:3000",
			env:     keycodec.EnvProduction,
			want:    false,
		},
		{
			name:    "localhost rejected in staging",
			allowed: "http://localhost",
			origin:  "http://localhost",
			env:     keycodec.EnvStaging,
			want:    false,
		},
		{
			name:    "localhost needs a localhost entry",
			allowed: "https://app.example.com",
			origin:  "http://localhost:3000",
			env:     keycodec.EnvDevelopment,
			want:    false,
		},
		{
			name:    "empty origin never matches",
			allowed: "https://app.example.com",
			origin:  "",
			env:     keycodec.EnvProduction,
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(tt.allowed, tt.origin, tt.env))
		})
	}
}

func TestValidator_LocalhostOnlyInDevelopment(t *testing.T) {
	ctx := context.Background()

	dev := newTestValidator(t, []string{"http://localhost:3000"}, keycodec.EnvDevelopment)
	assert.NoError(t, dev.Validate(ctx, "app-1", keycodec.EnvDevelopment, "http://localhost:3000"))

	prod := newTestValidator(t, []string{"http://localhost:3000"}, keycodec.EnvProduction)
	assert.ErrorIs(t,
		prod.Validate(ctx, "app-1", keycodec.EnvProduction, "http://localhost:3000"),
		ErrOriginNotAllowed,
	)
}
