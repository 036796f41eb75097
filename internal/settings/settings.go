// Package settings stores per-(application, environment) configuration:
// the allowed-origins list consumed by the origin validator and the
// rate-limit overrides consumed by the limiter.
//
// Absent settings are not an error for consumers: both the origin
// validator and the limiter treat a missing entry as "no restrictions
// configured" and fall back to their defaults.
package settings

import (
	"context"
	"errors"

	"github.com/orblabs/keygate/internal/keycodec"
)

// ErrNotFound indicates no settings exist for the scope.
var ErrNotFound = errors.New("settings not found")

// RateLimits holds per-window request limits. Zero values mean "use the
// service defaults".
type RateLimits struct {
	// PerMinute is the per-minute request limit.
	PerMinute int `json:"per_minute,omitempty"`

	// PerDay is the per-day request limit.
	PerDay int `json:"per_day,omitempty"`
}

// AppSettings is the configuration for one (application, environment).
type AppSettings struct {
	ApplicationID string               `json:"application_id"`
	Environment   keycodec.Environment `json:"environment"`

	// AllowedOrigins is the origin allow-list for publishable keys. An
	// empty list means no origin restrictions.
	AllowedOrigins []string `json:"allowed_origins,omitempty"`

	// RateLimits overrides the default per-key limits.
	RateLimits RateLimits `json:"rate_limits,omitempty"`

	UpdatedAt int64 `json:"updated_at"`
}

// ScopeKey builds the composite lookup key for a settings entry.
func ScopeKey(applicationID string, env keycodec.Environment) string {
	return applicationID + "#" + string(env)
}

// Store is the persistence abstraction for application settings.
type Store interface {
	// Get retrieves settings for the scope, or ErrNotFound.
	Get(ctx context.Context, applicationID string, env keycodec.Environment) (*AppSettings, error)

	// Upsert creates or replaces settings for the scope.
	Upsert(ctx context.Context, s *AppSettings) error

	// Close releases store resources.
	Close() error
}
