// Package keycodec generates and hashes opaque bearer credentials.
//
// A credential has the form {type}_{env}_{32 hex chars}, e.g.
// sk_prod_0f3a... Only the SHA-256 hex digest of the plaintext is ever
// persisted; there is no decryption path. The generate and rotate
// operations are therefore the only points where plaintext exists.
package keycodec

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// KeyType distinguishes publishable (client-side) from secret
// (server-side) credentials.
type KeyType string

// Key types.
const (
	KeyTypePublishable KeyType = "PUBLISHABLE"
	KeyTypeSecret      KeyType = "SECRET"
	KeyTypeUnknown     KeyType = ""
)

// Environment scopes a credential to a deployment stage.
type Environment string

// Environments.
const (
	EnvProduction  Environment = "PRODUCTION"
	EnvStaging     Environment = "STAGING"
	EnvDevelopment Environment = "DEVELOPMENT"
	EnvTest        Environment = "TEST"
	EnvPreview     Environment = "PREVIEW"
)

// Common errors.
var (
	// ErrInvalidKeyType indicates an unrecognized key type value.
	ErrInvalidKeyType = errors.New("invalid key type")

	// ErrInvalidEnvironment indicates an unrecognized environment value.
	ErrInvalidEnvironment = errors.New("invalid environment")
)

// randomHexLen is the number of hex characters of random material in a
// credential. 32 hex chars = 128 bits, which keeps the birthday bound on
// hash collisions negligible.
const randomHexLen = 32

// displayPrefixRandomChars is how many random characters the display
// prefix exposes. Four characters are enough for UI identification and
// carry no authentication weight.
const displayPrefixRandomChars = 4

// legacySecretPrefix is the pre-rename secret key prefix. Keys minted
// under it still detect as SECRET.
const legacySecretPrefix = "orb_"

var typePrefixes = map[KeyType]string{
	KeyTypePublishable: "pk",
	KeyTypeSecret:      "sk",
}

var envPrefixes = map[Environment]string{
	EnvProduction:  "prod",
	EnvStaging:     "stag",
	EnvDevelopment: "dev",
	EnvTest:        "test",
	EnvPreview:     "prev",
}

// ParseKeyType parses a key type string (case-insensitive). An empty
// string defaults to SECRET.
func ParseKeyType(s string) (KeyType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return KeyTypeSecret, nil
	case string(KeyTypePublishable):
		return KeyTypePublishable, nil
	case string(KeyTypeSecret):
		return KeyTypeSecret, nil
	default:
		return KeyTypeUnknown, fmt.Errorf("%w: %q", ErrInvalidKeyType, s)
	}
}

// ParseEnvironment parses an environment string (case-insensitive).
func ParseEnvironment(s string) (Environment, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(EnvProduction):
		return EnvProduction, nil
	case string(EnvStaging):
		return EnvStaging, nil
	case string(EnvDevelopment):
		return EnvDevelopment, nil
	case string(EnvTest):
		return EnvTest, nil
	case string(EnvPreview):
		return EnvPreview, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidEnvironment, s)
	}
}

// GeneratedKey is the result of minting a new credential. Plaintext is
// returned to the caller exactly once and never persisted.
type GeneratedKey struct {
	// Plaintext is the full bearer credential.
	Plaintext string

	// Hash is the SHA-256 hex digest of Plaintext.
	Hash string

	// DisplayPrefix is the truncated display form, e.g. sk_prod_0f3a****.
	DisplayPrefix string
}

// Generate mints a new credential for the given type and environment
// using cryptographically secure random material.
func Generate(keyType KeyType, env Environment) (*GeneratedKey, error) {
	typePrefix, ok := typePrefixes[keyType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKeyType, keyType)
	}

	envPrefix, ok := envPrefixes[env]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEnvironment, env)
	}

	buf := make([]byte, randomHexLen/2)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to read random material: %w", err)
	}
	random := hex.EncodeToString(buf)

	plaintext := typePrefix + "_" + envPrefix + "_" + random

	return &GeneratedKey{
		Plaintext:     plaintext,
		Hash:          Hash(plaintext),
		DisplayPrefix: typePrefix + "_" + envPrefix + "_" + random[:displayPrefixRandomChars] + "****",
	}, nil
}

// Hash returns the SHA-256 hex digest of the plaintext. It is
// deterministic: validation recomputes it to look a credential up by
// hash, since no decryption path exists.
func Hash(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// DetectType inspects the credential prefix only. The result carries no
// authentication weight by itself.
func DetectType(plaintext string) KeyType {
	switch {
	case strings.HasPrefix(plaintext, "pk_"):
		return KeyTypePublishable
	case strings.HasPrefix(plaintext, "sk_"):
		return KeyTypeSecret
	case strings.HasPrefix(plaintext, legacySecretPrefix):
		return KeyTypeSecret
	default:
		return KeyTypeUnknown
	}
}
