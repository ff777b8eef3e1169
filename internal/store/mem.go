package store

import (
	"context"
	"time"

	"macrolog/internal/util/syncx"
)

// MemStore is a [Store] that keeps entries in process memory. It backs the
// nutrition cache in development, where losing lookups on restart only costs
// a few extra database queries.
type MemStore struct {
	ttl   time.Duration
	cache syncx.Map[string, cacheEntry]
}

// NewMemStore creates a MemStore whose entries expire after ttl without
// access. A background goroutine sweeps expired entries until ctx is
// canceled.
func NewMemStore(ctx context.Context, ttl time.Duration) *MemStore {
	s := &MemStore{ttl: ttl}
	go s.cleanup(ctx)
	return s
}

type cacheEntry struct {
	value        []byte
	lastAccessed time.Time
}

func (s *MemStore) cleanup(ctx context.Context) {
	ticker := time.NewTicker(s.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cache.Range(func(key string, entry cacheEntry) bool {
				if time.Since(entry.lastAccessed) > s.ttl {
					s.cache.Delete(key)
				}
				return true
			})
		case <-ctx.Done():
			return
		}
	}
}

// Get returns the value for key, or nil when the key is absent or its entry
// expired. A hit refreshes the entry's expiry.
func (s *MemStore) Get(_ context.Context, key string) ([]byte, error) {
	entry, ok := s.cache.Load(key)
	if !ok {
		return nil, nil
	}

	if time.Since(entry.lastAccessed) > s.ttl {
		s.cache.Delete(key)
		return nil, nil
	}

	entry.lastAccessed = time.Now()
	s.cache.Store(key, entry)

	// Callers get a copy; the cached bytes are never aliased.
	return append([]byte(nil), entry.value...), nil
}

// Set stores value under key, resetting its expiry.
func (s *MemStore) Set(_ context.Context, key string, value []byte) error {
	s.cache.Store(key, cacheEntry{
		value:        append([]byte(nil), value...),
		lastAccessed: time.Now(),
	})
	return nil
}

// Close is a no-op for MemStore.
func (s *MemStore) Close() error { return nil }
