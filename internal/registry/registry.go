// Package registry provides the follower account list consumed by the copier.
package registry

import (
	"sync"

	"github.com/vadiminshakov/copier/internal/domain"
)

// Registry lists follower accounts in a stable order.
type Registry interface {
	List() []domain.Account
}

// Static is an in-memory registry seeded from configuration.
type Static struct {
	mu       sync.RWMutex
	accounts []domain.Account
}

// NewStatic returns a registry holding a copy of accounts.
func NewStatic(accounts []domain.Account) *Static {
	s := &Static{}
	s.Replace(accounts)
	return s
}

// List returns a snapshot in declaration order.
func (s *Static) List() []domain.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Account, len(s.accounts))
	copy(out, s.accounts)
	return out
}

// Get looks an account up by id.
func (s *Static) Get(id string) (domain.Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.accounts {
		if a.ID == id {
			return a, true
		}
	}
	return domain.Account{}, false
}

// Replace swaps the whole account list.
func (s *Static) Replace(accounts []domain.Account) {
	cp := make([]domain.Account, len(accounts))
	copy(cp, accounts)
	s.mu.Lock()
	s.accounts = cp
	s.mu.Unlock()
}
