package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BalanceSnapshot available amounts per asset for one account.
// Stale is set when the most recent refresh failed.
type BalanceSnapshot struct {
	Assets    map[string]decimal.Decimal `json:"assets"`
	Stale     bool                       `json:"stale"`
	UpdatedAt time.Time                  `json:"updated_at"`
}

// NewBalanceSnapshot creates a fresh snapshot from exchange data.
func NewBalanceSnapshot(assets map[string]decimal.Decimal, at time.Time) BalanceSnapshot {
	copied := make(map[string]decimal.Decimal, len(assets))
	for k, v := range assets {
		copied[k] = v
	}
	return BalanceSnapshot{Assets: copied, UpdatedAt: at}
}

// ZeroSnapshot is returned for accounts that have never been refreshed.
func ZeroSnapshot(pair Pair) BalanceSnapshot {
	return BalanceSnapshot{
		Assets: map[string]decimal.Decimal{
			pair.Base():  decimal.Zero,
			pair.Quote(): decimal.Zero,
		},
		Stale: true,
	}
}

// Get returns the amount for asset or zero if not present.
func (s BalanceSnapshot) Get(asset string) decimal.Decimal {
	if v, ok := s.Assets[asset]; ok {
		return v
	}
	return decimal.Zero
}

// Clone returns a deep copy.
func (s BalanceSnapshot) Clone() BalanceSnapshot {
	c := NewBalanceSnapshot(s.Assets, s.UpdatedAt)
	c.Stale = s.Stale
	return c
}
