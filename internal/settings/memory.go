package settings

import (
	"context"
	"sync"

	"github.com/orblabs/keygate/internal/keycodec"
)

// MemoryStore implements Store using an in-memory map.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*AppSettings
}

// NewMemoryStore creates a new in-memory settings store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*AppSettings),
	}
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, applicationID string, env keycodec.Environment) (*AppSettings, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[ScopeKey(applicationID, env)]
	if !ok {
		return nil, ErrNotFound
	}
	return entry.clone(), nil
}

// Upsert implements Store.
func (s *MemoryStore) Upsert(ctx context.Context, settings *AppSettings) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[ScopeKey(settings.ApplicationID, settings.Environment)] = settings.clone()
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}

func (a *AppSettings) clone() *AppSettings {
	if a == nil {
		return nil
	}
	cp := *a
	if a.AllowedOrigins != nil {
		cp.AllowedOrigins = append([]string(nil), a.AllowedOrigins...)
	}
	return &cp
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
