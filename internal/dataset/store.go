// Package dataset correlates pre-settlement features with settlement
// outcomes and accumulates the labeled examples the trainer consumes.
package dataset

import (
	"context"
	"sync"

	"github.com/chenzhangda16/riskpipe/internal/feature"
)

// Example is one labeled training record. Y is 1 when the settlement
// succeeded and 0 for every failure outcome.
type Example struct {
	Ts int64          `json:"ts"`
	X  feature.Vector `json:"x"`
	Y  int            `json:"y"`
}

// Store persists labeled examples. Implementations keep at most their
// configured cap, discarding the oldest records first.
type Store interface {
	Append(ctx context.Context, batch []Example) error
	Recent(ctx context.Context, limit int) ([]Example, error)
	Close() error
}

// MemoryStore keeps examples in process. Used in tests and single-node
// development setups.
type MemoryStore struct {
	mu       sync.Mutex
	examples []Example
	cap      int
}

func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 50000
	}
	return &MemoryStore{cap: capacity}
}

func (s *MemoryStore) Append(_ context.Context, batch []Example) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.examples = append(s.examples, batch...)
	if over := len(s.examples) - s.cap; over > 0 {
		s.examples = append([]Example(nil), s.examples[over:]...)
	}
	return nil
}

func (s *MemoryStore) Recent(_ context.Context, limit int) ([]Example, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.examples)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Example, n)
	copy(out, s.examples[len(s.examples)-n:])
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
