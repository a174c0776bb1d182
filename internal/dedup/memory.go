package dedup

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process TTL dedup set. Used in tests and as the
// gatekeeper's local idempotency set.
type MemoryStore struct {
	mu   sync.Mutex
	m    map[string]time.Time // key -> expiry
	q    []memItem            // insertion order
	head int                  // pop index

	now func() time.Time // test hook
}

type memItem struct {
	key    string
	expiry time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		m:   make(map[string]time.Time),
		now: time.Now,
	}
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.m[key]
	if !ok {
		return false, nil
	}
	return !exp.Before(s.now()), nil
}

func (s *MemoryStore) MarkSeen(_ context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Second
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	exp := s.now().Add(ttl)
	s.m[key] = exp
	s.q = append(s.q, memItem{key: key, expiry: exp})
	s.evictLocked()
	return nil
}

// SeenOrMark is a combined check-and-record for callers that burn a key
// on first sight; returns true when key was already live.
func (s *MemoryStore) SeenOrMark(key string, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if exp, ok := s.m[key]; ok && !exp.Before(now) {
		return true
	}
	exp := now.Add(ttl)
	s.m[key] = exp
	s.q = append(s.q, memItem{key: key, expiry: exp})
	s.evictLocked()
	return false
}

// evictLocked pops expired entries from the front of the insertion queue.
// Only deletes a map entry when it still carries the queued expiry, so a
// re-marked key is not dropped early.
func (s *MemoryStore) evictLocked() {
	now := s.now()
	for s.head < len(s.q) {
		it := s.q[s.head]
		if !it.expiry.Before(now) {
			break
		}
		if exp, ok := s.m[it.key]; ok && exp.Equal(it.expiry) {
			delete(s.m, it.key)
		}
		s.head++
	}
	// compact so the slice does not grow forever
	if s.head > 4096 && s.head*2 > len(s.q) {
		newQ := make([]memItem, 0, len(s.q)-s.head)
		newQ = append(newQ, s.q[s.head:]...)
		s.q = newQ
		s.head = 0
	}
}

func (s *MemoryStore) Close() error { return nil }
