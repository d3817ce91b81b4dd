package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	items     [][]byte
	expiresAt time.Time // zero means no expiry
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

type memoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

// NewMemory returns the process-local backend. It is fast but invisible to
// other worker processes and lost on restart; it is selected when no shared
// backend is configured.
func NewMemory() Store {
	return &memoryStore{entries: make(map[string]*memoryEntry)}
}

func (s *memoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok || entry.value == nil {
		return nil, false, nil
	}
	if entry.expired(time.Now()) {
		delete(s.entries, key)
		return nil, false, nil
	}
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, true, nil
}

func (s *memoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := &memoryEntry{value: make([]byte, len(value))}
	copy(entry.value, value)
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	s.entries[key] = entry
	return nil
}

func (s *memoryStore) AppendCapped(_ context.Context, key string, item []byte, maxItems int, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok || entry.expired(time.Now()) {
		entry = &memoryEntry{}
		s.entries[key] = entry
	}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	stored := make([]byte, len(item))
	copy(stored, item)
	entry.items = append(entry.items, stored)
	if maxItems > 0 && len(entry.items) > maxItems {
		// FIFO eviction: drop from the oldest end.
		overflow := len(entry.items) - maxItems
		entry.items = append([][]byte(nil), entry.items[overflow:]...)
	}
	return int64(len(entry.items)), nil
}

func (s *memoryStore) List(_ context.Context, key string) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	if entry.expired(time.Now()) {
		delete(s.entries, key)
		return nil, nil
	}
	out := make([][]byte, len(entry.items))
	for i, item := range entry.items {
		buf := make([]byte, len(item))
		copy(buf, item)
		out[i] = buf
	}
	return out, nil
}

func (s *memoryStore) DeletePrefix(_ context.Context, prefix string) error {
	if prefix == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.entries {
		if strings.HasPrefix(key, prefix) {
			delete(s.entries, key)
		}
	}
	return nil
}

func (s *memoryStore) Ping(context.Context) error {
	return nil
}

func (s *memoryStore) Close(context.Context) error {
	return nil
}
