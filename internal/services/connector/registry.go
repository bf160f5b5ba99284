package connector

import (
	"sort"
	"sync"

	"github.com/vadiminshakov/copier/internal/domain"
)

// Factory builds a connector for an account environment.
type Factory func(env domain.Environment) Connector

// Registry maps exchanges to connector factories. Connectors are built once
// per (exchange, environment) and reused.
type Registry struct {
	mu        sync.Mutex
	factories map[domain.Exchange]Factory
	built     map[registryKey]Connector
}

type registryKey struct {
	exchange domain.Exchange
	env      domain.Environment
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[domain.Exchange]Factory),
		built:     make(map[registryKey]Connector),
	}
}

// NewDefaultRegistry registers every supported exchange. precision overrides
// default amount precision per exchange.
func NewDefaultRegistry(precision map[domain.Exchange]Precision) *Registry {
	r := NewRegistry()
	withPrecision := func(ex domain.Exchange) []Option {
		if p, ok := precision[ex]; ok {
			return []Option{WithPrecision(p)}
		}
		return nil
	}
	r.Register(domain.ExchangeBinance, func(env domain.Environment) Connector {
		return NewBinance(env, withPrecision(domain.ExchangeBinance)...)
	})
	r.Register(domain.ExchangeBitget, func(env domain.Environment) Connector {
		return NewBitget(env, withPrecision(domain.ExchangeBitget)...)
	})
	r.Register(domain.ExchangeBybit, func(env domain.Environment) Connector {
		return NewBybit(env, withPrecision(domain.ExchangeBybit)...)
	})
	return r
}

// Register installs or replaces the factory for exchange.
func (r *Registry) Register(exchange domain.Exchange, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[exchange] = f
	for k := range r.built {
		if k.exchange == exchange {
			delete(r.built, k)
		}
	}
}

// Resolve returns the connector serving account, or false when its exchange
// is not registered.
func (r *Registry) Resolve(account domain.Account) (Connector, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := registryKey{exchange: account.Exchange, env: account.Environment}
	if c, ok := r.built[key]; ok {
		return c, true
	}
	f, ok := r.factories[account.Exchange]
	if !ok {
		return nil, false
	}
	c := f(account.Environment)
	r.built[key] = c
	return c, true
}

// Exchanges lists registered exchanges in name order.
func (r *Registry) Exchanges() []domain.Exchange {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Exchange, 0, len(r.factories))
	for ex := range r.factories {
		out = append(out, ex)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
