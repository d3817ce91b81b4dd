// Package cache provides the key/value and capped-list storage capability the
// catalog layer paginates over. Two interchangeable backends exist: a
// process-local map and a shared Valkey/Redis store. When the host runs
// multiple worker processes the shared backend is the only source of
// cross-worker cache consistency.
package cache

import (
	"context"
	"time"
)

// Store is the capability surface implemented identically by both backends.
//
// Value entries (Get/Set) carry their own TTL and back the search-query
// cache. List entries (AppendCapped/List) are append-only ordered sequences
// capped FIFO and back the default feed catalogs.
type Store interface {
	// Get returns the value entry for key, reporting whether it exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores a value entry. A zero ttl stores without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// AppendCapped appends one item to the ordered list at key, then
	// truncates from the oldest end if the list exceeds maxItems. A
	// positive ttl refreshes the list's expiry; zero leaves it unexpiring.
	// It returns the resulting length.
	AppendCapped(ctx context.Context, key string, item []byte, maxItems int, ttl time.Duration) (int64, error)
	// List returns the ordered items stored at key, oldest first. A
	// missing key yields an empty slice.
	List(ctx context.Context, key string) ([][]byte, error)
	// DeletePrefix removes every entry whose key starts with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
	// Close releases backend resources.
	Close(ctx context.Context) error
}
