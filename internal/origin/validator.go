// Package origin enforces per-application origin allow-lists for
// publishable keys.
//
// The validator fails OPEN in two places, on purpose: when no
// allow-list is configured (applications that never set restrictions
// keep working), and when evaluation hits an unexpected internal
// error (availability over strictness for this specific path). Once
// an allow-list exists, a request without an origin fails.
package origin

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/orblabs/keygate/internal/keycodec"
	"github.com/orblabs/keygate/internal/observability"
	"github.com/orblabs/keygate/internal/settings"
)

// Common errors.
var (
	// ErrOriginRequired indicates restrictions are configured but the
	// request declared no origin.
	ErrOriginRequired = errors.New("origin required")

	// ErrOriginNotAllowed indicates the declared origin matched no
	// allow-list entry.
	ErrOriginNotAllowed = errors.New("origin not allowed")
)

// localhostHosts are the hosts treated as local development origins.
var localhostHosts = map[string]bool{
	"localhost": true,
	"127.0.0.1": true,
}

// Validator evaluates request origins against stored allow-lists.
type Validator struct {
	settings settings.Store
	logger   observability.Logger
}

// NewValidator creates a new origin validator.
func NewValidator(settingsStore settings.Store, logger observability.Logger) *Validator {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Validator{
		settings: settingsStore,
		logger:   logger,
	}
}

// Validate checks the declared origin for (applicationID, env).
// A nil return means allowed.
func (v *Validator) Validate(
	ctx context.Context,
	applicationID string,
	env keycodec.Environment,
	requestOrigin string,
) error {
	entry, err := v.settings.Get(ctx, applicationID, env)
	if err != nil {
		if errors.Is(err, settings.ErrNotFound) {
			// No configuration: restrictions were never set up.
			return nil
		}
		// Infrastructure errors fail open to avoid breaking existing
		// integrations; the key checks upstream already failed closed.
		v.logger.Warn("origin settings lookup failed, failing open",
			observability.String("application_id", applicationID),
			observability.String("environment", string(env)),
			observability.Error(err),
		)
		return nil
	}

	if len(entry.AllowedOrigins) == 0 {
		return nil
	}

	if requestOrigin == "" {
		return ErrOriginRequired
	}

	for _, allowed := range entry.AllowedOrigins {
		if Matches(allowed, requestOrigin, env) {
			return nil
		}
	}

	return ErrOriginNotAllowed
}

// Matches reports whether a single allow-list entry matches the
// request origin under the environment's rules.
func Matches(allowed, requestOrigin string, env keycodec.Environment) bool {
	allowed = strings.TrimRight(strings.TrimSpace(allowed), "/")
	requestOrigin = strings.TrimRight(strings.TrimSpace(requestOrigin), "/")

	if allowed == "" || requestOrigin == "" {
		return false
	}

	// Localhost origins only ever count in development-like
	// environments, and only when the allow-list itself carries a
	// localhost entry. This holds even for an exact match: a production
	// allow-list cannot admit localhost.
	if isLocalhostOrigin(requestOrigin) {
		if env != keycodec.EnvDevelopment && env != keycodec.EnvTest {
			return false
		}
		return isLocalhostOrigin(allowed)
	}

	// Exact match.
	if strings.EqualFold(allowed, requestOrigin) {
		return true
	}

	// Wildcard subdomain: https://*.example.com matches any subdomain
	// and the bare base domain.
	return matchesWildcard(allowed, requestOrigin)
}

// matchesWildcard handles entries of the form {scheme}://*.{base}.
func matchesWildcard(allowed, requestOrigin string) bool {
	scheme, rest, ok := strings.Cut(allowed, "://")
	if !ok || !strings.HasPrefix(rest, "*.") {
		return false
	}
	base := strings.TrimPrefix(rest, "*.")
	if base == "" {
		return false
	}

	reqScheme, reqHost, ok := strings.Cut(requestOrigin, "://")
	if !ok || !strings.EqualFold(scheme, reqScheme) {
		return false
	}

	reqHost = strings.ToLower(reqHost)
	base = strings.ToLower(base)

	return reqHost == base || strings.HasSuffix(reqHost, "."+base)
}

// isLocalhostOrigin reports whether the origin points at localhost or
// the loopback address, with an optional port.
func isLocalhostOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return localhostHosts[strings.ToLower(u.Hostname())]
}
