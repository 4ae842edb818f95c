// Package storage provides the namespaced key/value blob store that holds
// pairing credentials.
//
// A namespace groups the keys of one paired device. Two implementations
// live here: MemoryStore for tests and FileStore (a single CBOR file) for the
// CLI. Package badgerstore adds a Badger-backed Store for hosts that already
// run Badger.
package storage

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned by Get when the key does not exist.
	ErrNotFound = errors.New("storage: not found")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("storage: closed")

	// ErrInvalidKey is returned for an empty namespace or key, or one
	// containing the separator.
	ErrInvalidKey = errors.New("storage: invalid key")
)

// Store is a namespaced blob store.
//
// All methods must be safe for concurrent use. Get returns a copy the caller
// may keep; Put copies value.
type Store interface {
	Get(namespace, key string) ([]byte, error)
	Put(namespace, key string, value []byte) error
	Delete(namespace, key string) error
}

// separator joins namespace and key in flat key spaces.
const separator = "/"

// ValidateKey checks namespace and key for use with a flat key space.
func ValidateKey(namespace, key string) error {
	if namespace == "" || key == "" ||
		strings.Contains(namespace, separator) || strings.Contains(key, separator) {
		return ErrInvalidKey
	}
	return nil
}

// FlatKey joins a validated namespace and key.
func FlatKey(namespace, key string) string {
	return namespace + separator + key
}
