package keystore

import (
	"context"
	"sync"

	"github.com/orblabs/keygate/internal/keycodec"
)

// MemoryStore implements Store using in-memory maps. It is used in
// tests and single-node deployments.
type MemoryStore struct {
	mu         sync.RWMutex
	byID       map[string]*Record
	byHash     map[string]string // key hash -> key_id
	byNextHash map[string]string // next key hash -> key_id
	byTuple    map[string]string // tuple key -> key_id (ACTIVE/ROTATING only)
}

// NewMemoryStore creates a new in-memory key store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:       make(map[string]*Record),
		byHash:     make(map[string]string),
		byNextHash: make(map[string]string),
		byTuple:    make(map[string]string),
	}
}

// Create implements Store.
func (s *MemoryStore) Create(ctx context.Context, record *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[record.KeyID]; exists {
		return ErrKeyExists
	}

	// Conditional create keyed by the tuple closes the duplicate-active
	// race: the reservation and the existence check are one map write
	// under the lock.
	tuple := record.TupleKey()
	if !record.Status.IsTerminal() {
		if _, taken := s.byTuple[tuple]; taken {
			return ErrActiveKeyExists
		}
		s.byTuple[tuple] = record.KeyID
	}

	stored := record.Clone()
	s.byID[record.KeyID] = stored
	s.byHash[record.KeyHash] = record.KeyID
	if record.NextKeyHash != "" {
		s.byNextHash[record.NextKeyHash] = record.KeyID
	}

	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, keyID string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.byID[keyID]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return record.Clone(), nil
}

// GetByHash implements Store.
func (s *MemoryStore) GetByHash(ctx context.Context, hash string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	keyID, ok := s.byHash[hash]
	if !ok {
		return nil, ErrKeyNotFound
	}
	record, ok := s.byID[keyID]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return record.Clone(), nil
}

// GetByNextHash implements Store.
func (s *MemoryStore) GetByNextHash(ctx context.Context, hash string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	keyID, ok := s.byNextHash[hash]
	if !ok {
		return nil, ErrKeyNotFound
	}
	record, ok := s.byID[keyID]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return record.Clone(), nil
}

// FindCurrent implements Store.
func (s *MemoryStore) FindCurrent(
	ctx context.Context,
	applicationID string,
	env keycodec.Environment,
	keyType keycodec.KeyType,
) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	keyID, ok := s.byTuple[TupleKey(applicationID, env, keyType)]
	if !ok {
		return nil, ErrKeyNotFound
	}
	record, ok := s.byID[keyID]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return record.Clone(), nil
}

// Update implements Store.
func (s *MemoryStore) Update(ctx context.Context, record *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.byID[record.KeyID]
	if !ok {
		return ErrKeyNotFound
	}

	s.reconcileIndexes(old, record)
	s.byID[record.KeyID] = record.Clone()

	return nil
}

// reconcileIndexes moves secondary index entries from the old to the
// new version of a record. Caller holds the write lock.
func (s *MemoryStore) reconcileIndexes(old, updated *Record) {
	if old.KeyHash != updated.KeyHash {
		delete(s.byHash, old.KeyHash)
		s.byHash[updated.KeyHash] = updated.KeyID
	}

	if old.NextKeyHash != updated.NextKeyHash {
		if old.NextKeyHash != "" {
			delete(s.byNextHash, old.NextKeyHash)
		}
		if updated.NextKeyHash != "" {
			s.byNextHash[updated.NextKeyHash] = updated.KeyID
		}
	}

	// A terminal transition frees the tuple slot for a future generate.
	tuple := updated.TupleKey()
	if updated.Status.IsTerminal() {
		if s.byTuple[tuple] == updated.KeyID {
			delete(s.byTuple, tuple)
		}
	} else if s.byTuple[tuple] == "" {
		s.byTuple[tuple] = updated.KeyID
	}
}

// List implements Store.
func (s *MemoryStore) List(ctx context.Context, applicationID string, filter ListFilter) ([]*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []*Record
	for _, record := range s.byID {
		if record.ApplicationID != applicationID {
			continue
		}
		if !matchesFilter(record, filter) {
			continue
		}
		records = append(records, record.Clone())
	}

	sortRecords(records)

	return records, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
