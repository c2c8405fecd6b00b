// Package storage persists wallet state in a key-value database. The record
// store and per-network namespaces are built on the DB interface so tests run
// against the in-memory store and the daemon runs against badger.
package storage

import "errors"

// ErrNotFound is returned by Get when no value exists for the key.
var ErrNotFound = errors.New("storage: key not found")

// DB is a flat key-value store with prefix iteration.
type DB interface {
	// Get returns the value for key, or an error wrapping ErrNotFound.
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	// Delete removes a key. Deleting a missing key is not an error.
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	// ForEach calls fn for every key under prefix, in ascending key order
	// where the backing store supports it. The callback may retain neither
	// slice. A non-nil error from fn stops the walk and is returned.
	ForEach(prefix []byte, fn func(key, value []byte) error) error
	Close() error
}
