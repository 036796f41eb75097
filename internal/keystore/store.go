package keystore

import (
	"context"
	"errors"
	"sort"

	"github.com/orblabs/keygate/internal/keycodec"
)

// Common errors.
var (
	// ErrKeyNotFound indicates no record matched the lookup.
	ErrKeyNotFound = errors.New("key not found")

	// ErrKeyExists indicates a record with the same key_id already exists.
	ErrKeyExists = errors.New("key already exists")

	// ErrActiveKeyExists indicates an ACTIVE or ROTATING record already
	// occupies the (application, environment, type) tuple.
	ErrActiveKeyExists = errors.New("active key already exists for tuple")
)

// ListFilter narrows a List call. Zero values match everything.
type ListFilter struct {
	Environment keycodec.Environment
	KeyType     keycodec.KeyType
}

// Store is the persistence abstraction for key records.
//
// Create is a conditional write: it reserves the record's tuple slot
// atomically, so two concurrent creates for the same tuple cannot both
// succeed. Update reconciles the hash, next-hash, and tuple indexes and
// releases the tuple slot when the record reaches a terminal state.
type Store interface {
	// Create persists a new record. Returns ErrKeyExists if the key_id is
	// taken and ErrActiveKeyExists if the tuple slot is occupied.
	Create(ctx context.Context, record *Record) error

	// Get retrieves a record by key_id.
	Get(ctx context.Context, keyID string) (*Record, error)

	// GetByHash retrieves a record whose KeyHash matches.
	GetByHash(ctx context.Context, hash string) (*Record, error)

	// GetByNextHash retrieves a record whose NextKeyHash matches. Used as
	// the rotation fallback during validation.
	GetByNextHash(ctx context.Context, hash string) (*Record, error)

	// FindCurrent returns the ACTIVE or ROTATING record for the tuple, or
	// ErrKeyNotFound.
	FindCurrent(ctx context.Context, applicationID string, env keycodec.Environment, keyType keycodec.KeyType) (*Record, error)

	// Update overwrites an existing record and reconciles indexes.
	Update(ctx context.Context, record *Record) error

	// List returns all records for an application matching the filter,
	// ordered by creation time descending.
	List(ctx context.Context, applicationID string, filter ListFilter) ([]*Record, error)

	// Close releases store resources.
	Close() error
}

// sortRecords orders records by creation time descending, breaking
// ties by key_id for determinism.
func sortRecords(records []*Record) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt != records[j].CreatedAt {
			return records[i].CreatedAt > records[j].CreatedAt
		}
		return records[i].KeyID < records[j].KeyID
	})
}

// matchesFilter reports whether a record satisfies the filter.
func matchesFilter(r *Record, filter ListFilter) bool {
	if filter.Environment != "" && r.Environment != filter.Environment {
		return false
	}
	if filter.KeyType != "" && r.KeyType != filter.KeyType {
		return false
	}
	return true
}
