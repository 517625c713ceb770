package repository

import (
	"context"
	"sync"
	"time"
)

// MemorySeenStore is the in-process SeenStore used without Redis or as a fallback.
type MemorySeenStore struct {
	mu         sync.Mutex
	seen       map[string]time.Time
	rateLimits map[string]*rateLimitEntry
}

func NewMemorySeenStore() *MemorySeenStore {
	return &MemorySeenStore{
		seen:       make(map[string]time.Time),
		rateLimits: make(map[string]*rateLimitEntry),
	}
}

func (r *MemorySeenStore) MarkSeen(_ context.Context, key string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if expiresAt, ok := r.seen[key]; ok && now.Before(expiresAt) {
		return false, nil
	}
	r.seen[key] = now.Add(ttl)
	return true, nil
}

func (r *MemorySeenStore) Forget(_ context.Context, key string) error {
	r.mu.Lock()
	delete(r.seen, key)
	r.mu.Unlock()
	return nil
}

type rateLimitEntry struct {
	count     int
	expiresAt time.Time
}

func (r *MemorySeenStore) CheckRateLimit(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	entry, ok := r.rateLimits[key]
	if !ok || now.After(entry.expiresAt) {
		entry = &rateLimitEntry{expiresAt: now.Add(window)}
		r.rateLimits[key] = entry
	}
	entry.count++

	return entry.count <= limit, nil
}

// Sweep drops expired entries.
func (r *MemorySeenStore) Sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for k, expiresAt := range r.seen {
		if now.After(expiresAt) {
			delete(r.seen, k)
		}
	}
	for k, entry := range r.rateLimits {
		if now.After(entry.expiresAt) {
			delete(r.rateLimits, k)
		}
	}
}
