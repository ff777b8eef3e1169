// Package store implements a key-value store backed in-memory or by SQLite.
//
// It is used as the nutrition lookup cache: repeated meals hit the external
// nutrition database only once per TTL window.
package store

import "context"

// Store is a generic interface for a key-value store.
type Store interface {
	// Get retrieves a value for a given key.
	// It must return (nil, nil) if the key is not found.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores a value for a given key.
	Set(ctx context.Context, key string, value []byte) error
	// Close closes the store and releases any resources.
	Close() error
}
