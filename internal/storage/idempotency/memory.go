package idempotency

import (
	"sync"

	"github.com/vadiminshakov/copier/internal/domain"
)

// MemoryStore keeps processed keys for the process lifetime only.
type MemoryStore struct {
	mu  sync.RWMutex
	set *keySet
}

// NewMemoryStore creates an empty store remembering retention events.
func NewMemoryStore(retention int) *MemoryStore {
	return &MemoryStore{set: newKeySet(retention)}
}

func (s *MemoryStore) IsProcessed(key domain.IdempotencyKey) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set.has(key)
}

func (s *MemoryStore) MarkProcessed(key domain.IdempotencyKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set.add(key)
	return nil
}

func (s *MemoryStore) Import(keys []domain.IdempotencyKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		s.set.add(k)
	}
	return nil
}

func (s *MemoryStore) Export() []domain.IdempotencyKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set.list()
}

func (s *MemoryStore) Close() error { return nil }
