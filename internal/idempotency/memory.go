package idempotency

import (
	"context"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

// sweepInterval bounds how often Begin scans for expired entries.
const sweepInterval = time.Minute

type memoryEntry struct {
	rec     Record
	expires time.Time
}

// MemoryStore keeps records in process memory. Only suitable for a single
// replica.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
	swept   time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string]memoryEntry{}, now: time.Now}
}

// Begin implements Store.
func (s *MemoryStore) Begin(_ context.Context, key string, ttl time.Duration) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if now.Sub(s.swept) >= sweepInterval {
		s.sweep(now)
	}
	if e, ok := s.entries[key]; ok && now.Before(e.expires) {
		return e.rec, false, nil
	}
	s.entries[key] = memoryEntry{expires: now.Add(ttl)}
	return Record{}, true, nil
}

// Complete implements Store.
func (s *MemoryStore) Complete(_ context.Context, key string, rec Record, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Done = true
	s.entries[key] = memoryEntry{rec: rec, expires: s.now().Add(ttl)}
	return nil
}

// Abort implements Store.
func (s *MemoryStore) Abort(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) sweep(now time.Time) {
	for key, e := range s.entries {
		if !now.Before(e.expires) {
			delete(s.entries, key)
		}
	}
	s.swept = now
}
