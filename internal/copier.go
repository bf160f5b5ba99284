package internal

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/copier/internal/domain"
	"github.com/vadiminshakov/copier/internal/services/watcher"
)

// ErrAlreadyRunning is returned when Run is called twice.
var ErrAlreadyRunning = errors.New("copier is already running")

// LeaderWatcher streams leader fills. Events must be closed when Run returns.
type LeaderWatcher interface {
	Run(ctx context.Context) error
	Events() <-chan domain.FillEvent
	State() watcher.State
}

// WatcherFactory builds a watcher for the given leader credentials.
type WatcherFactory func(creds domain.Credentials) LeaderWatcher

type copyDispatcher interface {
	Dispatch(ctx context.Context, ev domain.FillEvent)
	Enable()
	Disable()
	Enabled() bool
	LastResults() map[string]domain.DispatchResult
}

type balanceCache interface {
	StartAll(ctx context.Context)
	Get(accountID string) domain.BalanceSnapshot
	Close()
}

type closer interface {
	Close() error
}

// Status is a point-in-time view of the copier.
type Status struct {
	Enabled     bool   `json:"enabled"`
	Running     bool   `json:"running"`
	LeaderState string `json:"leader_state"`
}

type leaderRun struct {
	watcher LeaderWatcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// Copier wires the leader watcher to the dispatcher and owns the follower
// balance cache and the idempotency store.
type Copier struct {
	newWatcher WatcherFactory
	dispatcher copyDispatcher
	balances   balanceCache
	store      closer
	logger     *zap.Logger

	mu       sync.Mutex
	leader   domain.Credentials
	runCtx   context.Context
	current  *leaderRun
	// draining is a cancelled run SetLeader gave up waiting for.
	draining *leaderRun
}

// NewCopier creates a copier. The watcher is not started until Run.
func NewCopier(leader domain.Credentials, newWatcher WatcherFactory, d copyDispatcher, balances balanceCache, store closer, logger *zap.Logger) *Copier {
	return &Copier{
		newWatcher: newWatcher,
		dispatcher: d,
		balances:   balances,
		store:      store,
		leader:     leader,
		logger:     logger.With(zap.String("component", "copier")),
	}
}

// Run starts balance polling and the leader watcher, then dispatches fills in
// emission order until ctx is cancelled.
func (c *Copier) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.runCtx != nil {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.runCtx = ctx
	c.mu.Unlock()

	c.balances.StartAll(ctx)

	c.mu.Lock()
	if ctx.Err() == nil && c.current == nil && c.draining == nil {
		c.startLocked()
	}
	c.mu.Unlock()

	c.logger.Info("copier started", zap.Bool("enabled", c.dispatcher.Enabled()))
	<-ctx.Done()

	c.mu.Lock()
	c.stopLocked()
	c.runCtx = nil
	c.mu.Unlock()

	c.logger.Info("copier stopped")
	return ctx.Err()
}

func (c *Copier) startLocked() {
	w := c.newWatcher(c.leader)
	wctx, cancel := context.WithCancel(c.runCtx)
	run := &leaderRun{watcher: w, cancel: cancel, done: make(chan struct{})}
	dispatchCtx := c.runCtx

	var g errgroup.Group
	g.Go(func() error {
		if err := w.Run(wctx); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error("leader watcher stopped", zap.Error(err))
		}
		return nil
	})
	g.Go(func() error {
		for ev := range w.Events() {
			c.dispatcher.Dispatch(dispatchCtx, ev)
		}
		return nil
	})
	go func() {
		_ = g.Wait()
		close(run.done)
	}()

	c.current = run
}

func (c *Copier) stopLocked() {
	if c.draining != nil {
		<-c.draining.done
		c.draining = nil
	}
	if c.current == nil {
		return
	}
	c.current.cancel()
	<-c.current.done
	c.current = nil
}

// restartAfter starts the pending leader once old has fully stopped.
func (c *Copier) restartAfter(old *leaderRun) {
	<-old.done

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.draining != old {
		return
	}
	c.draining = nil
	if c.runCtx != nil && c.runCtx.Err() == nil && c.current == nil {
		c.startLocked()
		c.logger.Info("leader replaced after delayed teardown", zap.Stringer("leader", c.leader))
	}
}

// SetLeader swaps the leader credentials. A running watcher is torn down
// completely before the replacement starts. If ctx ends first the error is
// returned and the replacement starts as soon as the old watcher is gone.
func (c *Copier) SetLeader(ctx context.Context, creds domain.Credentials) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.leader = creds
	if c.runCtx == nil {
		return nil
	}

	if c.current != nil {
		c.current.cancel()
		select {
		case <-c.current.done:
		case <-ctx.Done():
			old := c.current
			c.current = nil
			c.draining = old
			go c.restartAfter(old)
			return errors.Wrap(ctx.Err(), "wait for leader watcher teardown")
		}
		c.current = nil
	}
	if c.draining != nil {
		// a replacement is already queued behind the draining run
		return nil
	}

	c.startLocked()
	c.logger.Info("leader replaced", zap.Stringer("leader", creds))
	return nil
}

func (c *Copier) Enable()  { c.dispatcher.Enable() }
func (c *Copier) Disable() { c.dispatcher.Disable() }

// LastResults returns the per-account results of the latest dispatch cycle.
func (c *Copier) LastResults() map[string]domain.DispatchResult {
	return c.dispatcher.LastResults()
}

// Balance returns the cached snapshot for a follower.
func (c *Copier) Balance(accountID string) domain.BalanceSnapshot {
	return c.balances.Get(accountID)
}

// Status reports the dispatcher flag and the leader connection state.
func (c *Copier) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{Enabled: c.dispatcher.Enabled(), Running: c.runCtx != nil, LeaderState: "STOPPED"}
	switch {
	case c.current != nil:
		st.LeaderState = c.current.watcher.State().String()
	case c.draining != nil:
		st.LeaderState = watcher.StateReconnecting.String()
	case c.runCtx != nil:
		st.LeaderState = watcher.StateConnecting.String()
	}
	return st
}

// Close stops balance polling and releases the idempotency store.
func (c *Copier) Close() error {
	c.balances.Close()
	if c.store == nil {
		return nil
	}
	return errors.Wrap(c.store.Close(), "close idempotency store")
}
