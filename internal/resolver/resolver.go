// Package resolver dispatches field-name-routed requests to the
// lifecycle service and renders every outcome, success or failure, as
// the uniform response envelope. No error ever escapes Dispatch; the
// caller always receives a well-formed envelope.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/orblabs/keygate/internal/audit"
	"github.com/orblabs/keygate/internal/keycodec"
	"github.com/orblabs/keygate/internal/lifecycle"
	"github.com/orblabs/keygate/internal/observability"
	"github.com/orblabs/keygate/internal/settings"
)

// plaintextNotice is returned with every response that carries a
// plaintext credential. Only the hash is stored, so this is the one
// chance to save it.
const plaintextNotice = "store this key now: it will never be shown again"

// Request is the inbound dispatch envelope. Field names are the
// external contract.
type Request struct {
	Field     string          `json:"field"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Identity  map[string]any  `json:"identity,omitempty"`
}

// Resolver routes requests by field name.
type Resolver struct {
	svc      *lifecycle.Service
	settings settings.Store
	audit    audit.Logger
	logger   observability.Logger
	now      func() time.Time
}

// Option is a functional option for the resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithAuditLogger sets the audit logger.
func WithAuditLogger(a audit.Logger) Option {
	return func(r *Resolver) {
		r.audit = a
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
	}
}

// New creates a new resolver over the lifecycle service and the
// settings store.
func New(svc *lifecycle.Service, settingsStore settings.Store, opts ...Option) *Resolver {
	r := &Resolver{
		svc:      svc,
		settings: settingsStore,
		audit:    audit.NewNoopLogger(),
		logger:   observability.NopLogger(),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Dispatch routes the request to its field handler.
func (r *Resolver) Dispatch(ctx context.Context, req *Request) *Envelope {
	switch req.Field {
	case "GenerateKey":
		return r.generateKey(ctx, req.Arguments)
	case "ValidateKey":
		return r.validateKey(ctx, req.Arguments)
	case "RotateKey":
		return r.rotateKey(ctx, req.Arguments)
	case "CompleteRotation":
		return r.completeRotation(ctx, req.Arguments)
	case "RevokeKey":
		return r.revokeKey(ctx, req.Arguments)
	case "ListKeys":
		return r.listKeys(ctx, req.Arguments)
	case "UpsertAppSettings":
		return r.upsertAppSettings(ctx, req.Arguments)
	case "GetAppSettings":
		return r.getAppSettings(ctx, req.Arguments)
	default:
		r.logger.Warn("unknown resolver field", observability.String("field", req.Field))
		return failure(lifecycle.InvalidFieldError("field"))
	}
}

// decode unmarshals the arguments into the field's input shape.
func decode(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return lifecycle.InvalidFieldError("arguments")
	}
	return nil
}

type generateArgs struct {
	ApplicationID  string   `json:"applicationId"`
	OrganizationID string   `json:"organizationId"`
	Environment    string   `json:"environment"`
	KeyType        string   `json:"keyType,omitempty"`
	Permissions    []string `json:"permissions,omitempty"`
	ExpiresAt      int64    `json:"expiresAt,omitempty"`
}

// generatedKeyItem is the only response shape that ever carries the
// plaintext of a freshly minted primary credential.
type generatedKeyItem struct {
	*lifecycle.KeyMetadata
	Key string `json:"key"`
}

func (r *Resolver) generateKey(ctx context.Context, raw json.RawMessage) *Envelope {
	var args generateArgs
	if err := decode(raw, &args); err != nil {
		return failure(err)
	}

	result, err := r.svc.GenerateKey(ctx, lifecycle.GenerateInput{
		ApplicationID:  args.ApplicationID,
		OrganizationID: args.OrganizationID,
		Environment:    args.Environment,
		KeyType:        args.KeyType,
		Permissions:    args.Permissions,
		ExpiresAt:      args.ExpiresAt,
	})
	if err != nil {
		return failure(err)
	}

	return okMessage(plaintextNotice, &generatedKeyItem{
		KeyMetadata: result.Key,
		Key:         result.Plaintext,
	})
}

type validateArgs struct {
	Key    string `json:"key"`
	Origin string `json:"origin,omitempty"`
}

func (r *Resolver) validateKey(ctx context.Context, raw json.RawMessage) *Envelope {
	var args validateArgs
	if err := decode(raw, &args); err != nil {
		return failure(err)
	}

	result, err := r.svc.ValidateKey(ctx, args.Key, args.Origin)
	if err != nil {
		env := failure(err)
		// A rate-limit denial still reports the window state so the
		// caller can back off correctly.
		if result != nil && result.RateLimit != nil {
			env.RateLimitHeaders = result.RateLimit.Headers()
		}
		return env
	}

	env := ok(result)
	env.RateLimitHeaders = result.RateLimit.Headers()
	return env
}

type rotateArgs struct {
	ApplicationID string `json:"applicationId"`
	Environment   string `json:"environment"`
	KeyType       string `json:"keyType,omitempty"`
}

// rotatedKeyItem carries the pending credential's plaintext exactly
// once, alongside the rotating record's metadata.
type rotatedKeyItem struct {
	*lifecycle.KeyMetadata
	NewKey string `json:"newKey"`
}

func (r *Resolver) rotateKey(ctx context.Context, raw json.RawMessage) *Envelope {
	var args rotateArgs
	if err := decode(raw, &args); err != nil {
		return failure(err)
	}

	result, err := r.svc.RotateKey(ctx, lifecycle.RotateInput{
		ApplicationID: args.ApplicationID,
		Environment:   args.Environment,
		KeyType:       args.KeyType,
	})
	if err != nil {
		return failure(err)
	}

	return okMessage(plaintextNotice, &rotatedKeyItem{
		KeyMetadata: result.Key,
		NewKey:      result.NewPlaintext,
	})
}

type completeRotationArgs struct {
	KeyID string `json:"keyId"`
}

func (r *Resolver) completeRotation(ctx context.Context, raw json.RawMessage) *Envelope {
	var args completeRotationArgs
	if err := decode(raw, &args); err != nil {
		return failure(err)
	}

	meta, err := r.svc.CompleteRotation(ctx, args.KeyID)
	if err != nil {
		return failure(err)
	}
	return ok(meta)
}

type revokeArgs struct {
	KeyID         string `json:"keyId,omitempty"`
	ApplicationID string `json:"applicationId,omitempty"`
	Environment   string `json:"environment,omitempty"`
}

func (r *Resolver) revokeKey(ctx context.Context, raw json.RawMessage) *Envelope {
	var args revokeArgs
	if err := decode(raw, &args); err != nil {
		return failure(err)
	}

	meta, err := r.svc.RevokeKey(ctx, lifecycle.RevokeInput{
		KeyID:         args.KeyID,
		ApplicationID: args.ApplicationID,
		Environment:   args.Environment,
	})
	if err != nil {
		return failure(err)
	}
	return ok(meta)
}

type listArgs struct {
	ApplicationID string `json:"applicationId"`
	Environment   string `json:"environment,omitempty"`
	KeyType       string `json:"keyType,omitempty"`
	Limit         int    `json:"limit,omitempty"`
	NextToken     string `json:"nextToken,omitempty"`
}

func (r *Resolver) listKeys(ctx context.Context, raw json.RawMessage) *Envelope {
	var args listArgs
	if err := decode(raw, &args); err != nil {
		return failure(err)
	}

	result, err := r.svc.ListKeys(ctx, lifecycle.ListInput{
		ApplicationID: args.ApplicationID,
		Environment:   args.Environment,
		KeyType:       args.KeyType,
		Limit:         args.Limit,
		NextToken:     args.NextToken,
	})
	if err != nil {
		return failure(err)
	}

	env := &Envelope{
		Code:      200,
		Success:   true,
		Items:     result.Keys,
		NextToken: result.NextToken,
	}
	return env
}

type rateLimitsArgs struct {
	PerMinute int `json:"perMinute,omitempty"`
	PerDay    int `json:"perDay,omitempty"`
}

type upsertSettingsArgs struct {
	ApplicationID  string         `json:"applicationId"`
	Environment    string         `json:"environment"`
	AllowedOrigins []string       `json:"allowedOrigins,omitempty"`
	RateLimits     rateLimitsArgs `json:"rateLimits,omitempty"`
}

// settingsItem is the external view of an application's settings.
type settingsItem struct {
	ApplicationID  string         `json:"applicationId"`
	Environment    string         `json:"environment"`
	AllowedOrigins []string       `json:"allowedOrigins,omitempty"`
	RateLimits     rateLimitsArgs `json:"rateLimits"`
	UpdatedAt      int64          `json:"updatedAt"`
}

func settingsItemOf(s *settings.AppSettings) *settingsItem {
	return &settingsItem{
		ApplicationID:  s.ApplicationID,
		Environment:    string(s.Environment),
		AllowedOrigins: s.AllowedOrigins,
		RateLimits: rateLimitsArgs{
			PerMinute: s.RateLimits.PerMinute,
			PerDay:    s.RateLimits.PerDay,
		},
		UpdatedAt: s.UpdatedAt,
	}
}

func (r *Resolver) upsertAppSettings(ctx context.Context, raw json.RawMessage) *Envelope {
	var args upsertSettingsArgs
	if err := decode(raw, &args); err != nil {
		return failure(err)
	}
	if args.ApplicationID == "" {
		return failure(lifecycle.MissingFieldError("applicationId"))
	}
	env, err := keycodec.ParseEnvironment(args.Environment)
	if err != nil {
		return failure(lifecycle.InvalidEnvironmentError(args.Environment))
	}
	if args.RateLimits.PerMinute < 0 || args.RateLimits.PerDay < 0 {
		return failure(lifecycle.InvalidFieldError("rateLimits"))
	}

	entry := &settings.AppSettings{
		ApplicationID:  args.ApplicationID,
		Environment:    env,
		AllowedOrigins: args.AllowedOrigins,
		RateLimits: settings.RateLimits{
			PerMinute: args.RateLimits.PerMinute,
			PerDay:    args.RateLimits.PerDay,
		},
		UpdatedAt: r.now().UTC().Unix(),
	}

	if err := r.settings.Upsert(ctx, entry); err != nil {
		r.logger.Error("settings upsert failed",
			observability.String("application_id", args.ApplicationID),
			observability.Error(err),
		)
		r.audit.LogEvent(ctx, audit.SettingsEvent(audit.OutcomeFailure).
			WithKey("", args.ApplicationID, string(env), ""))
		return failure(lifecycle.ErrInternal)
	}

	r.audit.LogEvent(ctx, audit.SettingsEvent(audit.OutcomeSuccess).
		WithKey("", args.ApplicationID, string(env), ""))

	return ok(settingsItemOf(entry))
}

type getSettingsArgs struct {
	ApplicationID string `json:"applicationId"`
	Environment   string `json:"environment"`
}

func (r *Resolver) getAppSettings(ctx context.Context, raw json.RawMessage) *Envelope {
	var args getSettingsArgs
	if err := decode(raw, &args); err != nil {
		return failure(err)
	}
	if args.ApplicationID == "" {
		return failure(lifecycle.MissingFieldError("applicationId"))
	}
	env, err := keycodec.ParseEnvironment(args.Environment)
	if err != nil {
		return failure(lifecycle.InvalidEnvironmentError(args.Environment))
	}

	entry, err := r.settings.Get(ctx, args.ApplicationID, env)
	if err != nil {
		if errors.Is(err, settings.ErrNotFound) {
			// Absent settings are a normal state: no restrictions configured.
			return ok(settingsItemOf(&settings.AppSettings{
				ApplicationID: args.ApplicationID,
				Environment:   env,
			}))
		}
		r.logger.Error("settings lookup failed",
			observability.String("application_id", args.ApplicationID),
			observability.Error(err),
		)
		return failure(lifecycle.ErrInternal)
	}

	return ok(settingsItemOf(entry))
}
