package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"
)

type windowEntry struct {
	count       int64
	windowStart time.Time
	resetTime   time.Time
}

// MemoryStore keeps fixed-window counters in process memory guarded by a
// single mutex. Suitable for single-instance deployments and tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*windowEntry
}

// NewMemoryStore constructs an empty in-memory counter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*windowEntry)}
}

// Increment implements Store.
func (s *MemoryStore) Increment(_ context.Context, key string, window time.Duration, now time.Time) (Counter, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Counter{}, ErrInvalidKey
	}
	if window <= 0 {
		window = DefaultWindow
	}
	now = now.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || !now.Before(entry.resetTime) {
		entry = &windowEntry{
			count:       1,
			windowStart: now,
			resetTime:   now.Add(window),
		}
		s.entries[key] = entry
		return Counter{Count: 1, ResetTime: entry.resetTime, IsNewWindow: true}, nil
	}

	entry.count++
	return Counter{Count: entry.count, ResetTime: entry.resetTime}, nil
}

// Decrement implements Store.
func (s *MemoryStore) Decrement(_ context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrInvalidKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.entries[key]; ok && entry.count > 0 {
		entry.count--
	}
	return nil
}

// CleanupExpired implements Store.
func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.entries {
		if limit > 0 && removed >= limit {
			break
		}
		if !now.Before(entry.resetTime) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of tracked counters, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
