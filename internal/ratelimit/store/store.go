// Package store provides counter storage backends for rate limiting.
package store

import (
	"context"
	"time"
)

// Store is the counter storage interface. Buckets are identified by an
// opaque string key and self-delete via TTL; no manual cleanup is
// required of callers.
type Store interface {
	// IncrementWithExpiry atomically increments the counter for the key
	// by delta and sets the expiration if the key is new. It returns the
	// post-increment count.
	IncrementWithExpiry(ctx context.Context, key string, delta int64, expiration time.Duration) (int64, error)

	// Get retrieves the current count for the key.
	Get(ctx context.Context, key string) (int64, error)

	// Delete removes the key from the store.
	Delete(ctx context.Context, key string) error

	// Close closes the store and releases resources.
	Close() error
}

// ErrKeyNotFound is returned when a key is not found in the store.
type ErrKeyNotFound struct {
	Key string
}

func (e *ErrKeyNotFound) Error() string {
	return "key not found: " + e.Key
}

// IsKeyNotFound returns true if the error is a key not found error.
func IsKeyNotFound(err error) bool {
	_, ok := err.(*ErrKeyNotFound)
	return ok
}
