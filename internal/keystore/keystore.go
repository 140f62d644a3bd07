// Package keystore defines the storage port for per-principal encryption
// keys and provides directory, SQLite and in-memory adapters. The store's
// lifecycle (when it is loaded and flushed) belongs to the caller; the
// encryption layer only sees this interface.
package keystore

import (
	"errors"

	"nbgrade/internal/types"
)

// ErrNotFound is returned by Get when no key record exists for a principal.
var ErrNotFound = errors.New("keystore: key not found")

// Store persists key records. Implementations must treat records as
// immutable: Put for an already-known principal replaces the record
// (key rotation), it never merges.
type Store interface {
	// Get returns the record for the given principal or ErrNotFound.
	Get(principalID string) (types.KeyRecord, error)

	// Put stores the record, replacing any existing one.
	Put(rec types.KeyRecord) error

	// List returns every stored record in unspecified order.
	List() ([]types.KeyRecord, error)
}
