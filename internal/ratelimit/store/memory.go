package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// maxCASRetries bounds CAS retry attempts to prevent spinning under
// high contention.
const maxCASRetries = 100

// entry represents a stored counter with expiration.
type entry struct {
	value      int64
	expiration time.Time
}

// MemoryStore implements Store using in-memory storage.
type MemoryStore struct {
	data    sync.Map
	cleanup *time.Ticker
	done    chan struct{}
	mu      sync.Mutex
	closed  bool
}

// NewMemoryStore creates a new in-memory counter store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		cleanup: time.NewTicker(time.Minute),
		done:    make(chan struct{}),
	}

	go s.startCleanup()

	return s
}

// IncrementWithExpiry implements Store.
func (s *MemoryStore) IncrementWithExpiry(
	ctx context.Context,
	key string,
	delta int64,
	expiration time.Duration,
) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var exp time.Time
	if expiration > 0 {
		exp = time.Now().Add(expiration)
	}

	for retries := 0; retries < maxCASRetries; retries++ {
		value, ok := s.data.Load(key)
		if !ok {
			newEntry := &entry{value: delta, expiration: exp}
			if actual, loaded := s.data.LoadOrStore(key, newEntry); loaded {
				value = actual
			} else {
				return delta, nil
			}
		}

		e := value.(*entry)

		// An expired bucket restarts at delta with a fresh expiration.
		if !e.expiration.IsZero() && time.Now().After(e.expiration) {
			newEntry := &entry{value: delta, expiration: exp}
			if s.data.CompareAndSwap(key, e, newEntry) {
				return delta, nil
			}
			continue
		}

		newEntry := &entry{
			value:      e.value + delta,
			expiration: e.expiration,
		}
		if s.data.CompareAndSwap(key, e, newEntry) {
			return newEntry.value, nil
		}
		// CAS failed, retry.
	}

	return 0, fmt.Errorf("increment failed: max retries (%d) exceeded", maxCASRetries)
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	value, ok := s.data.Load(key)
	if !ok {
		return 0, &ErrKeyNotFound{Key: key}
	}

	e := value.(*entry)
	if !e.expiration.IsZero() && time.Now().After(e.expiration) {
		s.data.Delete(key)
		return 0, &ErrKeyNotFound{Key: key}
	}

	return e.value, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.data.Delete(key)
	return nil
}

// Close implements Store. Close is idempotent.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	s.cleanup.Stop()
	close(s.done)

	return nil
}

// startCleanup periodically removes expired entries.
func (s *MemoryStore) startCleanup() {
	for {
		select {
		case <-s.cleanup.C:
			s.cleanupExpired()
		case <-s.done:
			return
		}
	}
}

// cleanupExpired removes all expired entries.
func (s *MemoryStore) cleanupExpired() {
	now := time.Now()

	s.data.Range(func(key, value interface{}) bool {
		e := value.(*entry)
		if !e.expiration.IsZero() && now.After(e.expiration) {
			s.data.Delete(key)
		}
		return true
	})
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
