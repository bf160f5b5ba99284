// Package balance caches follower balances, refreshed by background polling
// and on demand.
package balance

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/copier/internal/domain"
	"github.com/vadiminshakov/copier/internal/events"
	"github.com/vadiminshakov/copier/internal/metrics"
	"github.com/vadiminshakov/copier/internal/services/connector"
)

// DefaultPollInterval is used when the configured interval is not positive.
const DefaultPollInterval = 5 * time.Second

// ErrUnknownAccount is returned when refreshing an account the registry does not list.
var ErrUnknownAccount = errors.New("unknown account")

// ErrNoConnector is returned when an account's exchange has no registered connector.
var ErrNoConnector = errors.New("no connector for exchange")

// Accounts lists the accounts whose balances are tracked.
type Accounts interface {
	List() []domain.Account
}

// Resolver finds the connector serving an account.
type Resolver interface {
	Resolve(account domain.Account) (connector.Connector, bool)
}

// Cache holds one snapshot per account. Writes are serialised per account; a
// failed refresh keeps known values and only flips the stale flag.
type Cache struct {
	accounts   Accounts
	connectors Resolver
	pair       domain.Pair
	interval   time.Duration
	logger     *zap.Logger
	now        func() time.Time

	updates *events.BalanceBroadcaster

	mu        sync.RWMutex
	snapshots map[string]domain.BalanceSnapshot
	locks     map[string]*sync.Mutex
	loops     map[string]struct{}
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCache creates a cache. Background work started by TriggerRefresh and
// Register runs until Close.
func NewCache(accounts Accounts, connectors Resolver, pair domain.Pair, interval time.Duration, logger *zap.Logger) *Cache {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Cache{
		accounts:   accounts,
		connectors: connectors,
		pair:       pair,
		interval:   interval,
		logger:     logger.With(zap.String("component", "balance")),
		now:        time.Now,
		updates:    events.NewBalanceBroadcaster(0),
		snapshots:  make(map[string]domain.BalanceSnapshot),
		locks:      make(map[string]*sync.Mutex),
		loops:      make(map[string]struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Get returns a copy of the last snapshot, or a stale zero snapshot if the
// account was never refreshed. It never performs I/O.
func (c *Cache) Get(accountID string) domain.BalanceSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.snapshots[accountID]; ok {
		return s.Clone()
	}
	return domain.ZeroSnapshot(c.pair)
}

func (c *Cache) accountLock(accountID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[accountID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[accountID] = l
	}
	return l
}

func (c *Cache) lookup(accountID string) (domain.Account, bool) {
	for _, a := range c.accounts.List() {
		if a.ID == accountID {
			return a, true
		}
	}
	return domain.Account{}, false
}

// RefreshOne queries the account's connector and replaces its snapshot. On
// any failure the previous snapshot is kept and marked stale.
func (c *Cache) RefreshOne(ctx context.Context, accountID string) error {
	l := c.accountLock(accountID)
	l.Lock()
	defer l.Unlock()

	account, ok := c.lookup(accountID)
	if !ok {
		c.markStale(accountID)
		return errors.Wrap(ErrUnknownAccount, accountID)
	}
	conn, ok := c.connectors.Resolve(account)
	if !ok {
		c.markStale(accountID)
		return errors.Wrapf(ErrNoConnector, "%s (%s)", account.Exchange, accountID)
	}

	assets, err := conn.GetBalance(ctx, account.Credentials)
	if err != nil {
		c.markStale(accountID)
		metrics.BalanceRefreshTotal.WithLabelValues(metrics.ResultFailed).Inc()
		return errors.Wrapf(err, "refresh balance of %s", accountID)
	}

	snapshot := domain.NewBalanceSnapshot(assets, c.now())
	c.mu.Lock()
	c.snapshots[accountID] = snapshot
	c.mu.Unlock()
	c.updates.Publish(events.BalanceUpdate{AccountID: accountID, Snapshot: snapshot.Clone()})

	metrics.BalanceRefreshTotal.WithLabelValues(metrics.ResultOK).Inc()
	metrics.SetStale(accountID, false)
	return nil
}

func (c *Cache) markStale(accountID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.snapshots[accountID]
	if ok {
		s = s.Clone()
	} else {
		s = domain.ZeroSnapshot(c.pair)
	}
	s.Stale = true
	c.snapshots[accountID] = s
	metrics.SetStale(accountID, true)
	c.updates.Publish(events.BalanceUpdate{AccountID: accountID, Snapshot: s.Clone()})
}

// Subscribe returns a channel receiving every snapshot write, fresh or stale.
// Slow readers miss updates rather than block refreshes.
func (c *Cache) Subscribe() chan events.BalanceUpdate {
	return c.updates.Subscribe()
}

// Unsubscribe closes a channel returned by Subscribe.
func (c *Cache) Unsubscribe(ch chan events.BalanceUpdate) {
	c.updates.Unsubscribe(ch)
}

// spawn runs fn in the background unless the cache is closed.
func (c *Cache) spawn(fn func(ctx context.Context)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn(c.ctx)
	}()
	return true
}

// TriggerRefresh schedules an asynchronous RefreshOne without blocking.
func (c *Cache) TriggerRefresh(accountID string) {
	c.spawn(func(ctx context.Context) {
		if err := c.RefreshOne(ctx, accountID); err != nil && ctx.Err() == nil {
			c.logger.Warn("triggered balance refresh failed", zap.String("account", accountID), zap.Error(err))
		}
	})
}

// PollLoop refreshes the account every poll interval until ctx is done.
func (c *Cache) PollLoop(ctx context.Context, accountID string) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if err := c.RefreshOne(ctx, accountID); err != nil && ctx.Err() == nil {
			c.logger.Warn("balance poll failed", zap.String("account", accountID), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Register starts the account's poll loop. It reports false if a loop is
// already running or the cache is closed.
func (c *Cache) Register(accountID string) bool {
	c.mu.Lock()
	if _, ok := c.loops[accountID]; ok || c.closed {
		c.mu.Unlock()
		return false
	}
	c.loops[accountID] = struct{}{}
	c.mu.Unlock()

	return c.spawn(func(ctx context.Context) {
		c.PollLoop(ctx, accountID)
	})
}

// StartAll refreshes every listed account once, then registers its poll loop.
func (c *Cache) StartAll(ctx context.Context) {
	accounts := c.accounts.List()
	for _, a := range accounts {
		if err := c.RefreshOne(ctx, a.ID); err != nil {
			c.logger.Warn("initial balance refresh failed", zap.String("account", a.ID), zap.Error(err))
		}
	}
	for _, a := range accounts {
		c.Register(a.ID)
	}
	c.logger.Info("balance polling started", zap.Int("accounts", len(accounts)), zap.Duration("interval", c.interval))
}

// Close stops every poll loop and pending refresh and waits for them.
func (c *Cache) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}
