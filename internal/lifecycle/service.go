// Package lifecycle orchestrates the API key state machine: generate,
// validate, rotate, complete-rotation, revoke, and list.
//
// A record moves ACTIVE -> ROTATING -> ACTIVE through the two-phase
// rotation protocol and reaches REVOKED or EXPIRED terminally. Key
// lookup and status checks fail CLOSED; origin validation and rate
// limiting fail OPEN on infrastructure errors. The asymmetry is
// deliberate: applications that never configured restrictions must
// keep working when the settings or counter backend is unhealthy,
// while an unverifiable credential must never authenticate.
package lifecycle

import (
	"context"
	"encoding/base64"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orblabs/keygate/internal/audit"
	"github.com/orblabs/keygate/internal/keycodec"
	"github.com/orblabs/keygate/internal/keystore"
	"github.com/orblabs/keygate/internal/observability"
	"github.com/orblabs/keygate/internal/origin"
	"github.com/orblabs/keygate/internal/ratelimit"
	"github.com/orblabs/keygate/internal/settings"
)

// List pagination bounds.
const (
	defaultListLimit = 50
	maxListLimit     = 100
)

// Service orchestrates the key lifecycle operations over the injected
// stores. It is constructed once per process; all state lives in the
// backing stores.
type Service struct {
	keys     keystore.Store
	settings settings.Store
	origins  *origin.Validator
	limiter  *ratelimit.Limiter
	audit    audit.Logger
	logger   observability.Logger
	metrics  *Metrics
	now      func() time.Time

	// defaults is the only mutable field: it can be swapped at runtime
	// by a configuration reload.
	defaultsMu sync.RWMutex
	defaults   ratelimit.Limits
}

// Option is a functional option for the service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithAuditLogger sets the audit logger.
func WithAuditLogger(a audit.Logger) Option {
	return func(s *Service) {
		s.audit = a
	}
}

// WithMetrics sets the metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithDefaultLimits sets the rate limits applied when no per-application
// override exists.
func WithDefaultLimits(limits ratelimit.Limits) Option {
	return func(s *Service) {
		s.defaults = limits
	}
}

// NewService creates a new lifecycle service.
func NewService(keys keystore.Store, settingsStore settings.Store, limiter *ratelimit.Limiter, opts ...Option) *Service {
	s := &Service{
		keys:     keys,
		settings: settingsStore,
		limiter:  limiter,
		audit:    audit.NewNoopLogger(),
		logger:   observability.NopLogger(),
		now:      time.Now,
		defaults: ratelimit.DefaultLimits(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.metrics == nil {
		s.metrics = NewMetrics("keygate")
	}
	s.origins = origin.NewValidator(settingsStore, s.logger)

	return s
}

// KeyMetadata is the externally visible view of a record. It never
// carries the stored hashes or any plaintext.
type KeyMetadata struct {
	KeyID          string               `json:"keyId"`
	ApplicationID  string               `json:"applicationId"`
	OrganizationID string               `json:"organizationId"`
	Environment    keycodec.Environment `json:"environment"`
	KeyType        keycodec.KeyType     `json:"keyType"`
	KeyPrefix      string               `json:"keyPrefix"`
	Status         keystore.Status      `json:"status"`
	Permissions    []string             `json:"permissions,omitempty"`
	ExpiresAt      int64                `json:"expiresAt,omitempty"`
	LastUsedAt     int64                `json:"lastUsedAt,omitempty"`
	CreatedAt      int64                `json:"createdAt"`
	UpdatedAt      int64                `json:"updatedAt"`
}

func metadataOf(r *keystore.Record) *KeyMetadata {
	return &KeyMetadata{
		KeyID:          r.KeyID,
		ApplicationID:  r.ApplicationID,
		OrganizationID: r.OrganizationID,
		Environment:    r.Environment,
		KeyType:        r.KeyType,
		KeyPrefix:      r.KeyPrefix,
		Status:         r.Status,
		Permissions:    append([]string(nil), r.Permissions...),
		ExpiresAt:      r.ExpiresAt,
		LastUsedAt:     r.LastUsedAt,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

// GenerateInput is the input for GenerateKey.
type GenerateInput struct {
	ApplicationID  string
	OrganizationID string
	Environment    string
	KeyType        string
	Permissions    []string
	ExpiresAt      int64
}

// GenerateResult carries the new record's metadata and, exactly once,
// the plaintext credential. The plaintext is irrecoverable afterwards.
type GenerateResult struct {
	Key       *KeyMetadata
	Plaintext string
}

// GenerateKey mints a new credential for the tuple. It fails with
// ErrActiveKeyExists while any ACTIVE or ROTATING key occupies the
// (application, environment, type) slot; the caller must rotate or
// revoke first.
func (s *Service) GenerateKey(ctx context.Context, input GenerateInput) (*GenerateResult, error) {
	if input.ApplicationID == "" {
		return nil, s.generateFailed(ctx, MissingFieldError("applicationId"))
	}
	if input.OrganizationID == "" {
		return nil, s.generateFailed(ctx, MissingFieldError("organizationId"))
	}

	env, err := keycodec.ParseEnvironment(input.Environment)
	if err != nil {
		return nil, s.generateFailed(ctx, InvalidEnvironmentError(input.Environment))
	}
	keyType, err := keycodec.ParseKeyType(input.KeyType)
	if err != nil {
		return nil, s.generateFailed(ctx, InvalidKeyTypeError(input.KeyType))
	}

	now := s.now().UTC()
	if input.ExpiresAt != 0 && input.ExpiresAt <= now.Unix() {
		return nil, s.generateFailed(ctx, InvalidExpiryError())
	}

	gen, err := keycodec.Generate(keyType, env)
	if err != nil {
		s.logger.Error("credential generation failed", observability.Error(err))
		return nil, s.generateFailed(ctx, ErrInternal)
	}

	record := &keystore.Record{
		KeyID:          uuid.New().String(),
		ApplicationID:  input.ApplicationID,
		OrganizationID: input.OrganizationID,
		Environment:    env,
		KeyType:        keyType,
		KeyHash:        gen.Hash,
		KeyPrefix:      gen.DisplayPrefix,
		Status:         keystore.StatusActive,
		Permissions:    input.Permissions,
		ExpiresAt:      input.ExpiresAt,
		CreatedAt:      now.Unix(),
		UpdatedAt:      now.Unix(),
	}

	if err := s.keys.Create(ctx, record); err != nil {
		if errors.Is(err, keystore.ErrActiveKeyExists) {
			return nil, s.generateFailed(ctx, ErrActiveKeyExists)
		}
		s.logger.Error("key record create failed",
			observability.String("application_id", input.ApplicationID),
			observability.Error(err),
		)
		return nil, s.generateFailed(ctx, ErrInternal)
	}

	s.metrics.RecordOperation("generate", "success")
	s.audit.LogEvent(ctx, audit.LifecycleEvent(audit.ActionKeyGenerate, audit.OutcomeSuccess).
		WithKey(record.KeyID, record.ApplicationID, string(record.Environment), string(record.KeyType)))

	return &GenerateResult{
		Key:       metadataOf(record),
		Plaintext: gen.Plaintext,
	}, nil
}

func (s *Service) generateFailed(ctx context.Context, opErr *Error) error {
	s.metrics.RecordOperation("generate", "failure")
	s.audit.LogEvent(ctx, audit.LifecycleEvent(audit.ActionKeyGenerate, audit.OutcomeFailure).
		WithCode(opErr.Code))
	return opErr
}

// ValidationResult is the success context returned to the caller. It
// never carries hashes or plaintext.
type ValidationResult struct {
	Valid          bool                 `json:"valid"`
	IsRotationKey  bool                 `json:"isRotationKey,omitempty"`
	KeyID          string               `json:"keyId"`
	ApplicationID  string               `json:"applicationId"`
	OrganizationID string               `json:"organizationId"`
	Environment    keycodec.Environment `json:"environment"`
	KeyType        keycodec.KeyType     `json:"keyType"`
	Permissions    []string             `json:"permissions,omitempty"`

	// RateLimit carries both windows' state so callers can self-throttle.
	// It is present on rate-limit denials too.
	RateLimit *ratelimit.Result `json:"-"`
}

// ValidateKey authenticates a plaintext credential. Checks run in a
// fixed order: lookup (primary hash, then rotation fallback), revoked,
// expired status, lazy expiry write-back, origin (publishable keys
// only), rate limit, last-used touch. On a rate-limit denial the
// returned result still carries the window state for headers.
func (s *Service) ValidateKey(ctx context.Context, plaintext, requestOrigin string) (*ValidationResult, error) {
	start := s.now()

	if plaintext == "" {
		s.metrics.RecordValidation("failure", "not_found", s.now().Sub(start))
		return nil, MissingFieldError("key")
	}

	record, isRotationKey, err := s.lookup(ctx, keycodec.Hash(plaintext))
	if err != nil {
		reason := "not_found"
		code := AsError(err)
		if code == ErrInternal {
			reason = "internal"
		}
		s.metrics.RecordValidation("failure", reason, s.now().Sub(start))
		s.audit.LogEvent(ctx, audit.ValidationEvent(audit.OutcomeFailure).WithCode(code.Code))
		return nil, err
	}

	if record.Status == keystore.StatusRevoked {
		return nil, s.validateFailed(ctx, record, "revoked", start)
	}
	if record.Status == keystore.StatusExpired {
		return nil, s.validateFailed(ctx, record, "expired", start)
	}

	now := s.now().UTC()
	if expired := s.observeExpiry(ctx, record, now.Unix()); expired {
		return nil, s.validateFailed(ctx, record, "expired", start)
	}

	if record.KeyType == keycodec.KeyTypePublishable {
		if err := s.origins.Validate(ctx, record.ApplicationID, record.Environment, requestOrigin); err != nil {
			s.metrics.RecordValidation("failure", "origin", s.now().Sub(start))
			s.audit.LogEvent(ctx, audit.SecurityEvent(audit.ActionOriginDenied, audit.OutcomeDenied).
				WithKey(record.KeyID, record.ApplicationID, string(record.Environment), string(record.KeyType)).
				WithOrigin(requestOrigin).
				WithCode(ErrOriginNotAllowed.Code))
			return nil, ErrOriginNotAllowed
		}
	}

	rl := s.limiter.Allow(ctx, record.KeyID, s.limitsFor(ctx, record))
	if !rl.Allowed {
		s.metrics.RecordValidation("failure", "rate_limited", s.now().Sub(start))
		s.audit.LogEvent(ctx, audit.SecurityEvent(audit.ActionRateLimitExceeded, audit.OutcomeDenied).
			WithKey(record.KeyID, record.ApplicationID, string(record.Environment), string(record.KeyType)).
			WithCode(ErrRateLimited.Code).
			WithMetadata("window", string(rl.Exceeded)))
		return &ValidationResult{RateLimit: rl}, ErrRateLimited
	}

	s.touchLastUsed(ctx, record, now.Unix())

	s.metrics.RecordValidation("success", "none", s.now().Sub(start))
	s.audit.LogEvent(ctx, audit.ValidationEvent(audit.OutcomeSuccess).
		WithKey(record.KeyID, record.ApplicationID, string(record.Environment), string(record.KeyType)).
		WithDuration(s.now().Sub(start)))

	return &ValidationResult{
		Valid:          true,
		IsRotationKey:  isRotationKey,
		KeyID:          record.KeyID,
		ApplicationID:  record.ApplicationID,
		OrganizationID: record.OrganizationID,
		Environment:    record.Environment,
		KeyType:        record.KeyType,
		Permissions:    append([]string(nil), record.Permissions...),
		RateLimit:      rl,
	}, nil
}

// lookup finds the record by primary hash, falling back to the pending
// rotation hash so both credentials authenticate during the
// dual-validity window.
func (s *Service) lookup(ctx context.Context, hash string) (*keystore.Record, bool, error) {
	record, err := s.keys.GetByHash(ctx, hash)
	if err == nil {
		return record, false, nil
	}
	if !errors.Is(err, keystore.ErrKeyNotFound) {
		s.logger.Error("key lookup failed", observability.Error(err))
		return nil, false, ErrInternal
	}

	record, err = s.keys.GetByNextHash(ctx, hash)
	if err != nil {
		if errors.Is(err, keystore.ErrKeyNotFound) {
			return nil, false, ErrInvalidKey
		}
		s.logger.Error("rotation key lookup failed", observability.Error(err))
		return nil, false, ErrInternal
	}

	// A pending hash only authenticates while the rotation is open.
	if record.Status != keystore.StatusRotating {
		return nil, false, ErrInvalidKey
	}
	return record, true, nil
}

// observeExpiry checks the record's expiry and, when passed, writes the
// terminal EXPIRED status back. Validation is the only expiry trigger;
// there is no background sweep. The write is best effort: a failed
// write-back still rejects the request.
func (s *Service) observeExpiry(ctx context.Context, record *keystore.Record, nowEpoch int64) bool {
	if !record.IsExpiredAt(nowEpoch) {
		return false
	}

	record.Status = keystore.StatusExpired
	record.NextKeyHash = ""
	record.NextKeyPrefix = ""
	record.UpdatedAt = nowEpoch
	if err := s.keys.Update(ctx, record); err != nil {
		s.logger.Warn("lazy expiry write-back failed",
			observability.String("key_id", record.KeyID),
			observability.Error(err),
		)
	} else {
		s.audit.LogEvent(ctx, audit.LifecycleEvent(audit.ActionKeyExpire, audit.OutcomeSuccess).
			WithKey(record.KeyID, record.ApplicationID, string(record.Environment), string(record.KeyType)))
	}
	return true
}

// SetDefaultLimits swaps the fallback rate limits. Called on
// configuration reload; in-flight validations keep the limits they
// already resolved.
func (s *Service) SetDefaultLimits(limits ratelimit.Limits) {
	s.defaultsMu.Lock()
	s.defaults = limits
	s.defaultsMu.Unlock()
}

// limitsFor resolves the rate limits for the record's scope. Settings
// lookups fail open to the configured defaults.
func (s *Service) limitsFor(ctx context.Context, record *keystore.Record) ratelimit.Limits {
	s.defaultsMu.RLock()
	limits := s.defaults
	s.defaultsMu.RUnlock()

	entry, err := s.settings.Get(ctx, record.ApplicationID, record.Environment)
	if err != nil {
		if !errors.Is(err, settings.ErrNotFound) {
			s.logger.Warn("rate limit settings lookup failed, using defaults",
				observability.String("application_id", record.ApplicationID),
				observability.Error(err),
			)
		}
		return limits
	}

	if entry.RateLimits.PerMinute > 0 {
		limits.PerMinute = entry.RateLimits.PerMinute
	}
	if entry.RateLimits.PerDay > 0 {
		limits.PerDay = entry.RateLimits.PerDay
	}
	return limits
}

// touchLastUsed updates the usage timestamp. Best effort: a failed
// write never fails the validation.
func (s *Service) touchLastUsed(ctx context.Context, record *keystore.Record, nowEpoch int64) {
	record.LastUsedAt = nowEpoch
	record.UpdatedAt = nowEpoch
	if err := s.keys.Update(ctx, record); err != nil {
		s.logger.Warn("last_used_at touch failed",
			observability.String("key_id", record.KeyID),
			observability.Error(err),
		)
	}
}

func (s *Service) validateFailed(ctx context.Context, record *keystore.Record, reason string, start time.Time) error {
	s.metrics.RecordValidation("failure", reason, s.now().Sub(start))
	// The caller sees the generic code regardless of which check failed;
	// only the audit trail records the real reason.
	s.audit.LogEvent(ctx, audit.ValidationEvent(audit.OutcomeFailure).
		WithKey(record.KeyID, record.ApplicationID, string(record.Environment), string(record.KeyType)).
		WithCode(ErrInvalidKey.Code).
		WithMetadata("reason", reason))
	return ErrInvalidKey
}

// RotateInput is the input for RotateKey.
type RotateInput struct {
	ApplicationID string
	Environment   string
	KeyType       string
}

// RotateResult carries the rotated record's metadata and, exactly once,
// the new plaintext credential.
type RotateResult struct {
	Key          *KeyMetadata
	NewPlaintext string
}

// RotateKey opens the dual-validity window for the tuple's current key.
// The new credential is stored as the pending hash; both the old and
// the new plaintext authenticate until CompleteRotation. Rotating an
// already-ROTATING key replaces the pending credential.
func (s *Service) RotateKey(ctx context.Context, input RotateInput) (*RotateResult, error) {
	if input.ApplicationID == "" {
		return nil, s.rotateFailed(ctx, MissingFieldError("applicationId"))
	}
	env, err := keycodec.ParseEnvironment(input.Environment)
	if err != nil {
		return nil, s.rotateFailed(ctx, InvalidEnvironmentError(input.Environment))
	}
	keyType, err := keycodec.ParseKeyType(input.KeyType)
	if err != nil {
		return nil, s.rotateFailed(ctx, InvalidKeyTypeError(input.KeyType))
	}

	record, err := s.keys.FindCurrent(ctx, input.ApplicationID, env, keyType)
	if err != nil {
		if errors.Is(err, keystore.ErrKeyNotFound) {
			return nil, s.rotateFailed(ctx, ErrNoActiveKey)
		}
		s.logger.Error("current key lookup failed", observability.Error(err))
		return nil, s.rotateFailed(ctx, ErrInternal)
	}

	// The replacement credential is always of the record's own type.
	gen, err := keycodec.Generate(record.KeyType, record.Environment)
	if err != nil {
		s.logger.Error("credential generation failed", observability.Error(err))
		return nil, s.rotateFailed(ctx, ErrInternal)
	}

	now := s.now().UTC().Unix()
	record.NextKeyHash = gen.Hash
	record.NextKeyPrefix = gen.DisplayPrefix
	record.Status = keystore.StatusRotating
	record.UpdatedAt = now

	if err := s.keys.Update(ctx, record); err != nil {
		s.logger.Error("rotation update failed",
			observability.String("key_id", record.KeyID),
			observability.Error(err),
		)
		return nil, s.rotateFailed(ctx, ErrInternal)
	}

	s.metrics.RecordOperation("rotate", "success")
	s.audit.LogEvent(ctx, audit.LifecycleEvent(audit.ActionKeyRotate, audit.OutcomeSuccess).
		WithKey(record.KeyID, record.ApplicationID, string(record.Environment), string(record.KeyType)))

	return &RotateResult{
		Key:          metadataOf(record),
		NewPlaintext: gen.Plaintext,
	}, nil
}

func (s *Service) rotateFailed(ctx context.Context, opErr *Error) error {
	s.metrics.RecordOperation("rotate", "failure")
	s.audit.LogEvent(ctx, audit.LifecycleEvent(audit.ActionKeyRotate, audit.OutcomeFailure).
		WithCode(opErr.Code))
	return opErr
}

// CompleteRotation promotes the pending credential to the primary slot
// and permanently invalidates the pre-rotation plaintext.
func (s *Service) CompleteRotation(ctx context.Context, keyID string) (*KeyMetadata, error) {
	if keyID == "" {
		return nil, s.completeFailed(ctx, MissingFieldError("keyId"))
	}

	record, err := s.keys.Get(ctx, keyID)
	if err != nil {
		if errors.Is(err, keystore.ErrKeyNotFound) {
			return nil, s.completeFailed(ctx, ErrInvalidKey)
		}
		s.logger.Error("key lookup failed", observability.Error(err))
		return nil, s.completeFailed(ctx, ErrInternal)
	}

	if record.Status != keystore.StatusRotating || record.NextKeyHash == "" {
		return nil, s.completeFailed(ctx, ErrNotRotating)
	}

	record.KeyHash = record.NextKeyHash
	record.KeyPrefix = record.NextKeyPrefix
	record.NextKeyHash = ""
	record.NextKeyPrefix = ""
	record.Status = keystore.StatusActive
	record.UpdatedAt = s.now().UTC().Unix()

	if err := s.keys.Update(ctx, record); err != nil {
		s.logger.Error("rotation completion update failed",
			observability.String("key_id", record.KeyID),
			observability.Error(err),
		)
		return nil, s.completeFailed(ctx, ErrInternal)
	}

	s.metrics.RecordOperation("complete_rotation", "success")
	s.audit.LogEvent(ctx, audit.LifecycleEvent(audit.ActionRotationComplete, audit.OutcomeSuccess).
		WithKey(record.KeyID, record.ApplicationID, string(record.Environment), string(record.KeyType)))

	return metadataOf(record), nil
}

func (s *Service) completeFailed(ctx context.Context, opErr *Error) error {
	s.metrics.RecordOperation("complete_rotation", "failure")
	s.audit.LogEvent(ctx, audit.LifecycleEvent(audit.ActionRotationComplete, audit.OutcomeFailure).
		WithCode(opErr.Code))
	return opErr
}

// RevokeInput addresses the key to revoke, either directly by KeyID or
// by (ApplicationID, Environment), which revokes the current key of
// every type in that scope.
type RevokeInput struct {
	KeyID         string
	ApplicationID string
	Environment   string
}

// RevokeKey terminates a key immediately. There is no grace period:
// the hash (and any pending rotation hash) never authenticates again.
func (s *Service) RevokeKey(ctx context.Context, input RevokeInput) (*KeyMetadata, error) {
	if input.KeyID != "" {
		record, err := s.keys.Get(ctx, input.KeyID)
		if err != nil {
			if errors.Is(err, keystore.ErrKeyNotFound) {
				return nil, s.revokeFailed(ctx, ErrInvalidKey)
			}
			s.logger.Error("key lookup failed", observability.Error(err))
			return nil, s.revokeFailed(ctx, ErrInternal)
		}
		return s.revokeRecord(ctx, record)
	}

	if input.ApplicationID == "" {
		return nil, s.revokeFailed(ctx, MissingFieldError("keyId or applicationId"))
	}
	env, err := keycodec.ParseEnvironment(input.Environment)
	if err != nil {
		return nil, s.revokeFailed(ctx, InvalidEnvironmentError(input.Environment))
	}

	// Scope addressing revokes the current key of each type.
	var latest *KeyMetadata
	for _, keyType := range []keycodec.KeyType{keycodec.KeyTypeSecret, keycodec.KeyTypePublishable} {
		record, err := s.keys.FindCurrent(ctx, input.ApplicationID, env, keyType)
		if err != nil {
			if errors.Is(err, keystore.ErrKeyNotFound) {
				continue
			}
			s.logger.Error("current key lookup failed", observability.Error(err))
			return nil, s.revokeFailed(ctx, ErrInternal)
		}
		meta, err := s.revokeRecord(ctx, record)
		if err != nil {
			return nil, err
		}
		if latest == nil || meta.CreatedAt > latest.CreatedAt {
			latest = meta
		}
	}

	if latest == nil {
		return nil, s.revokeFailed(ctx, ErrInvalidKey)
	}
	return latest, nil
}

func (s *Service) revokeRecord(ctx context.Context, record *keystore.Record) (*KeyMetadata, error) {
	if record.Status == keystore.StatusRevoked {
		return nil, s.revokeFailed(ctx, ErrAlreadyRevoked)
	}
	if record.Status == keystore.StatusExpired {
		return nil, s.revokeFailed(ctx, ErrInvalidKey)
	}

	record.Status = keystore.StatusRevoked
	record.NextKeyHash = ""
	record.NextKeyPrefix = ""
	record.UpdatedAt = s.now().UTC().Unix()

	if err := s.keys.Update(ctx, record); err != nil {
		s.logger.Error("revoke update failed",
			observability.String("key_id", record.KeyID),
			observability.Error(err),
		)
		return nil, s.revokeFailed(ctx, ErrInternal)
	}

	s.metrics.RecordOperation("revoke", "success")
	s.audit.LogEvent(ctx, audit.LifecycleEvent(audit.ActionKeyRevoke, audit.OutcomeSuccess).
		WithKey(record.KeyID, record.ApplicationID, string(record.Environment), string(record.KeyType)))

	return metadataOf(record), nil
}

func (s *Service) revokeFailed(ctx context.Context, opErr *Error) error {
	s.metrics.RecordOperation("revoke", "failure")
	s.audit.LogEvent(ctx, audit.LifecycleEvent(audit.ActionKeyRevoke, audit.OutcomeFailure).
		WithCode(opErr.Code))
	return opErr
}

// ListInput is the input for ListKeys.
type ListInput struct {
	ApplicationID string
	Environment   string
	KeyType       string
	Limit         int
	NextToken     string
}

// ListResult is one page of key metadata.
type ListResult struct {
	Keys      []*KeyMetadata
	NextToken string
}

// ListKeys returns metadata for an application's keys, newest first.
// Output never includes hashes or plaintext.
func (s *Service) ListKeys(ctx context.Context, input ListInput) (*ListResult, error) {
	if input.ApplicationID == "" {
		return nil, s.listFailed(MissingFieldError("applicationId"))
	}

	var filter keystore.ListFilter
	if input.Environment != "" {
		env, err := keycodec.ParseEnvironment(input.Environment)
		if err != nil {
			return nil, s.listFailed(InvalidEnvironmentError(input.Environment))
		}
		filter.Environment = env
	}
	if input.KeyType != "" {
		keyType, err := keycodec.ParseKeyType(input.KeyType)
		if err != nil {
			return nil, s.listFailed(InvalidKeyTypeError(input.KeyType))
		}
		filter.KeyType = keyType
	}

	limit := input.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	offset, err := decodeListToken(input.NextToken)
	if err != nil {
		return nil, s.listFailed(InvalidFieldError("nextToken"))
	}

	records, err := s.keys.List(ctx, input.ApplicationID, filter)
	if err != nil {
		s.logger.Error("key list failed",
			observability.String("application_id", input.ApplicationID),
			observability.Error(err),
		)
		return nil, s.listFailed(ErrInternal)
	}

	if offset > len(records) {
		offset = len(records)
	}
	end := offset + limit
	if end > len(records) {
		end = len(records)
	}

	result := &ListResult{
		Keys: make([]*KeyMetadata, 0, end-offset),
	}
	for _, record := range records[offset:end] {
		result.Keys = append(result.Keys, metadataOf(record))
	}
	if end < len(records) {
		result.NextToken = encodeListToken(end)
	}

	s.metrics.RecordOperation("list", "success")
	return result, nil
}

func (s *Service) listFailed(opErr *Error) error {
	s.metrics.RecordOperation("list", "failure")
	return opErr
}

// List tokens are opaque to callers: a base64 offset into the sorted
// record list.
func encodeListToken(offset int) string {
	return base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(offset)))
}

func decodeListToken(token string) (int, error) {
	if token == "" {
		return 0, nil
	}
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return 0, err
	}
	offset, err := strconv.Atoi(string(raw))
	if err != nil || offset < 0 {
		return 0, errors.New("invalid list token")
	}
	return offset, nil
}
