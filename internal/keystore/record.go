// Package keystore persists API key records and their lookup indexes.
//
// Records are keyed by key_id with secondary lookup by credential hash,
// by rotation (next) hash, and by the (application, environment, type)
// tuple that at most one ACTIVE or ROTATING record may occupy.
package keystore

import (
	"github.com/orblabs/keygate/internal/keycodec"
)

// Status is the lifecycle state of a key record.
type Status string

// Lifecycle states. REVOKED and EXPIRED are terminal.
const (
	StatusActive   Status = "ACTIVE"
	StatusRotating Status = "ROTATING"
	StatusRevoked  Status = "REVOKED"
	StatusExpired  Status = "EXPIRED"
)

// IsTerminal reports whether no transition may leave this state.
func (s Status) IsTerminal() bool {
	return s == StatusRevoked || s == StatusExpired
}

// Record is one issued credential. Only hashes of the plaintext are
// stored; the plaintext itself is irrecoverable after first display.
type Record struct {
	// KeyID is the opaque unique identifier (primary key).
	KeyID string `json:"key_id"`

	// ApplicationID scopes the key to an application.
	ApplicationID string `json:"application_id"`

	// OrganizationID scopes the key to an organization.
	OrganizationID string `json:"organization_id"`

	// Environment scopes the key to a deployment stage.
	Environment keycodec.Environment `json:"environment"`

	// KeyType is PUBLISHABLE or SECRET. Immutable after creation.
	KeyType keycodec.KeyType `json:"key_type"`

	// KeyHash is the SHA-256 hex digest of the current active plaintext.
	KeyHash string `json:"key_hash"`

	// NextKeyHash is the hash of a credential awaiting rotation
	// completion. Present only while Status is ROTATING.
	NextKeyHash string `json:"next_key_hash,omitempty"`

	// NextKeyPrefix is the display form of the pending credential. It is
	// promoted to KeyPrefix when the rotation completes and cleared
	// together with NextKeyHash.
	NextKeyPrefix string `json:"next_key_prefix,omitempty"`

	// KeyPrefix is the truncated display form for UI identification.
	KeyPrefix string `json:"key_prefix"`

	// Status is the lifecycle state.
	Status Status `json:"status"`

	// Permissions is an optional list of scope strings.
	Permissions []string `json:"permissions,omitempty"`

	// ExpiresAt is the optional expiry in epoch seconds (0 = never).
	ExpiresAt int64 `json:"expires_at,omitempty"`

	// LastUsedAt is updated on every successful validation, best effort.
	LastUsedAt int64 `json:"last_used_at,omitempty"`

	// CreatedAt and UpdatedAt are epoch seconds.
	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// IsExpiredAt reports whether the record's expiry has passed at the
// given epoch second. Records without an expiry never expire.
func (r *Record) IsExpiredAt(now int64) bool {
	return r.ExpiresAt > 0 && now > r.ExpiresAt
}

// TupleKey is the composite uniqueness key: at most one ACTIVE or
// ROTATING record may exist per tuple at any time.
func (r *Record) TupleKey() string {
	return TupleKey(r.ApplicationID, r.Environment, r.KeyType)
}

// TupleKey builds the composite (application, environment, type) key.
func TupleKey(applicationID string, env keycodec.Environment, keyType keycodec.KeyType) string {
	return applicationID + "#" + string(env) + "#" + string(keyType)
}

// Clone returns a deep copy of the record so callers cannot mutate
// store-internal state.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	if r.Permissions != nil {
		cp.Permissions = append([]string(nil), r.Permissions...)
	}
	return &cp
}
