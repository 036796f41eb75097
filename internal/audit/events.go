package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of audit event.
type EventType string

// Event types.
const (
	EventTypeLifecycle  EventType = "lifecycle"
	EventTypeValidation EventType = "validation"
	EventTypeSecurity   EventType = "security"
	EventTypeSettings   EventType = "settings"
)

// Action represents the action being audited.
type Action string

// Common actions.
const (
	// Lifecycle actions
	ActionKeyGenerate      Action = "key_generate"
	ActionKeyRotate        Action = "key_rotate"
	ActionRotationComplete Action = "rotation_complete"
	ActionKeyRevoke        Action = "key_revoke"
	ActionKeyExpire        Action = "key_expire"

	// Validation actions
	ActionKeyValidate Action = "key_validate"

	// Security actions
	ActionRateLimitExceeded Action = "rate_limit_exceeded"
	ActionOriginDenied      Action = "origin_denied"

	// Settings actions
	ActionSettingsUpdate Action = "settings_update"
)

// Outcome represents the outcome of an audited action.
type Outcome string

// Outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeDenied  Outcome = "denied"
)

// Level represents the audit severity level.
type Level string

// Levels.
const (
	LevelInfo Level = "info"
	LevelWarn Level = "warn"
)

// Event represents an audit event.
type Event struct {
	// ID is a unique identifier for the event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the type of event.
	Type EventType `json:"type"`

	// Action is the action being audited.
	Action Action `json:"action"`

	// Outcome is the outcome of the action.
	Outcome Outcome `json:"outcome"`

	// Level is the audit level.
	Level Level `json:"level"`

	// KeyID is the key record involved, if any.
	KeyID string `json:"key_id,omitempty"`

	// ApplicationID is the owning application.
	ApplicationID string `json:"application_id,omitempty"`

	// Environment is the key environment.
	Environment string `json:"environment,omitempty"`

	// KeyType is the key type (publishable or secret).
	KeyType string `json:"key_type,omitempty"`

	// Origin is the declared request origin, for validation events.
	Origin string `json:"origin,omitempty"`

	// Code is the machine-readable error code on failures.
	Code string `json:"code,omitempty"`

	// Metadata contains additional metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// TraceID is the trace ID for distributed tracing.
	TraceID string `json:"trace_id,omitempty"`

	// SpanID is the span ID for distributed tracing.
	SpanID string `json:"span_id,omitempty"`

	// Duration is how long the action took.
	Duration time.Duration `json:"duration,omitempty"`
}

// NewEvent creates a new audit event with default values.
func NewEvent(eventType EventType, action Action, outcome Outcome) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Action:    action,
		Outcome:   outcome,
		Level:     LevelInfo,
	}
}

// WithKey sets the key record fields.
func (e *Event) WithKey(keyID, applicationID, environment, keyType string) *Event {
	e.KeyID = keyID
	e.ApplicationID = applicationID
	e.Environment = environment
	e.KeyType = keyType
	return e
}

// WithOrigin sets the declared request origin.
func (e *Event) WithOrigin(origin string) *Event {
	e.Origin = origin
	return e
}

// WithCode sets the error code.
func (e *Event) WithCode(code string) *Event {
	e.Code = code
	return e
}

// WithMetadata adds metadata to the event.
func (e *Event) WithMetadata(key string, value interface{}) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// WithDuration sets the duration.
func (e *Event) WithDuration(duration time.Duration) *Event {
	e.Duration = duration
	return e
}

// WithLevel sets the audit level.
func (e *Event) WithLevel(level Level) *Event {
	e.Level = level
	return e
}

// LifecycleEvent creates a lifecycle audit event.
func LifecycleEvent(action Action, outcome Outcome) *Event {
	return NewEvent(EventTypeLifecycle, action, outcome)
}

// ValidationEvent creates a validation audit event.
func ValidationEvent(outcome Outcome) *Event {
	return NewEvent(EventTypeValidation, ActionKeyValidate, outcome)
}

// SecurityEvent creates a security audit event. Security events are
// always logged at warn level.
func SecurityEvent(action Action, outcome Outcome) *Event {
	return NewEvent(EventTypeSecurity, action, outcome).
		WithLevel(LevelWarn)
}

// SettingsEvent creates a settings audit event.
func SettingsEvent(outcome Outcome) *Event {
	return NewEvent(EventTypeSettings, ActionSettingsUpdate, outcome)
}
