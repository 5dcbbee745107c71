// Package kvstore provides the ordered byte-string store everything above it
// is built on. Keys are plain bytes and iterate in lexicographic order.
package kvstore

import (
	"errors"
)

// ErrNotFound is returned by Get for missing keys.
var ErrNotFound = errors.New("kvstore: key not found")

// Entry is a single key/value pair returned by a range scan.
type Entry struct {
	Key   []byte
	Value []byte
}

// Store is an ordered byte-string store with prefix scans. Implementations
// must be safe for concurrent use.
type Store interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	// Scan returns all entries whose key starts with prefix, in key order.
	Scan(prefix []byte) ([]Entry, error)
	Close() error
}
