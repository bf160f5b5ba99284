package idempotency

import "github.com/vadiminshakov/copier/internal/domain"

// keySet holds processed keys for the most recent retention events. Adding a
// key for a new event beyond the limit evicts every key of the oldest event.
// Not safe for concurrent use.
type keySet struct {
	retention int
	keys      map[domain.IdempotencyKey]struct{}
	accounts  map[string][]string
	order     []string
}

func newKeySet(retention int) *keySet {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &keySet{
		retention: retention,
		keys:      make(map[domain.IdempotencyKey]struct{}),
		accounts:  make(map[string][]string),
	}
}

func (s *keySet) has(k domain.IdempotencyKey) bool {
	_, ok := s.keys[k]
	return ok
}

// add reports whether k was new and returns the keys evicted to make room.
func (s *keySet) add(k domain.IdempotencyKey) (bool, []domain.IdempotencyKey) {
	if s.has(k) {
		return false, nil
	}

	var evicted []domain.IdempotencyKey
	if _, known := s.accounts[k.EventID]; !known {
		s.order = append(s.order, k.EventID)
		for len(s.order) > s.retention {
			evicted = append(evicted, s.evictOldest()...)
		}
	}

	s.keys[k] = struct{}{}
	s.accounts[k.EventID] = append(s.accounts[k.EventID], k.AccountID)
	return true, evicted
}

func (s *keySet) evictOldest() []domain.IdempotencyKey {
	oldest := s.order[0]
	s.order = s.order[1:]

	evicted := make([]domain.IdempotencyKey, 0, len(s.accounts[oldest]))
	for _, acc := range s.accounts[oldest] {
		k := domain.IdempotencyKey{EventID: oldest, AccountID: acc}
		delete(s.keys, k)
		evicted = append(evicted, k)
	}
	delete(s.accounts, oldest)
	return evicted
}

func (s *keySet) list() []domain.IdempotencyKey {
	out := make([]domain.IdempotencyKey, 0, len(s.keys))
	for _, ev := range s.order {
		for _, acc := range s.accounts[ev] {
			out = append(out, domain.IdempotencyKey{EventID: ev, AccountID: acc})
		}
	}
	return out
}

func (s *keySet) len() int { return len(s.keys) }
