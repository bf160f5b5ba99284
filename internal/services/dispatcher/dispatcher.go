// Package dispatcher sizes and places follower copies of each leader fill.
package dispatcher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/copier/internal/domain"
	"github.com/vadiminshakov/copier/internal/metrics"
	"github.com/vadiminshakov/copier/internal/services/connector"
	"github.com/vadiminshakov/copier/internal/storage/idempotency"
)

const (
	ReasonZeroQuote = "zero quote_amt"
	ReasonZeroBase  = "zero base_amt"
)

var one = decimal.NewFromInt(1)

// Accounts lists follower accounts in a stable order.
type Accounts interface {
	List() []domain.Account
}

// Resolver finds the connector serving an account.
type Resolver interface {
	Resolve(account domain.Account) (connector.Connector, bool)
}

// Balances exposes cached follower balances.
type Balances interface {
	Get(accountID string) domain.BalanceSnapshot
	TriggerRefresh(accountID string)
}

// Journal records finished cycles.
type Journal interface {
	Save(cycle domain.DispatchCycle) error
}

// Config tunes a Dispatcher.
type Config struct {
	Pair domain.Pair
	// MaxParallelPerExchange bounds concurrent orders per exchange within one
	// fill. Values below 2 place orders sequentially in listing order.
	MaxParallelPerExchange int
	Enabled                bool
}

// Dispatcher processes one fill event at a time.
type Dispatcher struct {
	cfg        Config
	accounts   Accounts
	connectors Resolver
	balances   Balances
	store      idempotency.Store
	journal    Journal
	logger     *zap.Logger

	enabled atomic.Bool
	cycle   sync.Mutex

	resultsMu sync.RWMutex
	results   map[string]domain.DispatchResult
}

// New creates a dispatcher.
func New(cfg Config, accounts Accounts, connectors Resolver, balances Balances, store idempotency.Store, logger *zap.Logger) *Dispatcher {
	d := &Dispatcher{
		cfg:        cfg,
		accounts:   accounts,
		connectors: connectors,
		balances:   balances,
		store:      store,
		logger:     logger.With(zap.String("component", "dispatcher")),
		results:    make(map[string]domain.DispatchResult),
	}
	d.enabled.Store(cfg.Enabled)
	return d
}

// SetJournal installs j. Call it before the first Dispatch.
func (d *Dispatcher) SetJournal(j Journal) {
	d.journal = j
}

func (d *Dispatcher) Enable()       { d.enabled.Store(true) }
func (d *Dispatcher) Disable()      { d.enabled.Store(false) }
func (d *Dispatcher) Enabled() bool { return d.enabled.Load() }

// LastResults returns a copy of the most recent cycle's per-account results.
func (d *Dispatcher) LastResults() map[string]domain.DispatchResult {
	d.resultsMu.RLock()
	defer d.resultsMu.RUnlock()
	out := make(map[string]domain.DispatchResult, len(d.results))
	for k, v := range d.results {
		out[k] = v
	}
	return out
}

func (d *Dispatcher) record(accountID string, r domain.DispatchResult) {
	d.resultsMu.Lock()
	defer d.resultsMu.Unlock()
	d.results[accountID] = r
}

// Ratios returns the leader's spent share of its quote and base balances,
// clamped to [0, 1].
func Ratios(ev domain.FillEvent) (quote, base decimal.Decimal) {
	return ratio(ev.QuoteFilled, ev.LeaderPreQuote), ratio(ev.BaseFilled, ev.LeaderPreBase)
}

func ratio(filled, pre decimal.Decimal) decimal.Decimal {
	if !pre.IsPositive() {
		pre = domain.PreBalanceEpsilon
	}
	r := filled.Div(pre)
	if r.IsNegative() {
		return decimal.Zero
	}
	if r.GreaterThan(one) {
		return one
	}
	return r
}

// Dispatch copies ev to every active follower. Concurrent calls are
// serialised; the enabled flag is read once at the start.
func (d *Dispatcher) Dispatch(ctx context.Context, ev domain.FillEvent) {
	d.cycle.Lock()
	defer d.cycle.Unlock()

	if !d.enabled.Load() {
		d.logger.Debug("dispatcher disabled, fill ignored", zap.String("event_id", ev.EventID))
		return
	}

	start := time.Now()
	defer metrics.ObserveDispatch(start)

	d.resultsMu.Lock()
	d.results = make(map[string]domain.DispatchResult)
	d.resultsMu.Unlock()

	quoteRatio, baseRatio := Ratios(ev)
	logger := d.logger.With(zap.String("event_id", ev.EventID), zap.Stringer("side", ev.Side))
	logger.Info("dispatching fill",
		zap.Stringer("quote_ratio", quoteRatio),
		zap.Stringer("base_ratio", baseRatio))

	active := make([]domain.Account, 0)
	for _, a := range d.accounts.List() {
		if a.IsActive() {
			active = append(active, a)
		}
	}

	if d.cfg.MaxParallelPerExchange < 2 {
		for _, a := range active {
			d.copyTo(ctx, logger, ev, a, quoteRatio, baseRatio)
		}
	} else {
		d.fanOut(ctx, logger, ev, active, quoteRatio, baseRatio)
	}

	if d.journal != nil {
		cycle := domain.DispatchCycle{Event: ev, Results: d.LastResults(), At: time.Now().UTC()}
		if err := d.journal.Save(cycle); err != nil {
			logger.Error("failed to journal dispatch cycle", zap.Error(err))
		}
	}
}

// fanOut runs exchanges concurrently, each bounded to MaxParallelPerExchange
// orders in flight.
func (d *Dispatcher) fanOut(ctx context.Context, logger *zap.Logger, ev domain.FillEvent, accounts []domain.Account, quoteRatio, baseRatio decimal.Decimal) {
	byExchange := make(map[domain.Exchange][]domain.Account)
	var order []domain.Exchange
	for _, a := range accounts {
		if _, ok := byExchange[a.Exchange]; !ok {
			order = append(order, a.Exchange)
		}
		byExchange[a.Exchange] = append(byExchange[a.Exchange], a)
	}

	var outer errgroup.Group
	for _, ex := range order {
		group := byExchange[ex]
		outer.Go(func() error {
			var inner errgroup.Group
			inner.SetLimit(d.cfg.MaxParallelPerExchange)
			for _, a := range group {
				inner.Go(func() error {
					d.copyTo(ctx, logger, ev, a, quoteRatio, baseRatio)
					return nil
				})
			}
			return inner.Wait()
		})
	}
	_ = outer.Wait()
}

func (d *Dispatcher) copyTo(ctx context.Context, logger *zap.Logger, ev domain.FillEvent, account domain.Account, quoteRatio, baseRatio decimal.Decimal) {
	logger = logger.With(zap.String("account", account.ID), zap.String("exchange", string(account.Exchange)))
	key := domain.IdempotencyKey{EventID: ev.EventID, AccountID: account.ID}

	if d.store.IsProcessed(key) {
		logger.Debug("fill already copied to account")
		return
	}

	conn, ok := d.connectors.Resolve(account)
	if !ok {
		logger.Debug("no connector for exchange, account skipped")
		return
	}

	snapshot := d.balances.Get(account.ID)
	quoteAmt := decimal.Max(decimal.Zero, snapshot.Get(d.cfg.Pair.Quote()).Mul(quoteRatio))
	baseAmt := decimal.Max(decimal.Zero, snapshot.Get(d.cfg.Pair.Base()).Mul(baseRatio))

	req := connector.OrderRequest{
		Side:          ev.Side,
		Symbol:        d.cfg.Pair.Symbol(),
		ClientOrderID: connector.ClientOrderID(key),
	}
	places := conn.Precision().For(ev.Side)
	if ev.Side == domain.SideBuy {
		req.QuoteAmount = connector.Truncate(quoteAmt, places)
		if !req.QuoteAmount.IsPositive() {
			d.skip(logger, account, ReasonZeroQuote)
			return
		}
	} else {
		req.BaseAmount = connector.Truncate(baseAmt, places)
		if !req.BaseAmount.IsPositive() {
			d.skip(logger, account, ReasonZeroBase)
			return
		}
	}

	order, err := conn.PlaceMarketOrder(ctx, account.Credentials, req)
	if err != nil {
		reason := connector.Reason(err)
		d.record(account.ID, domain.Failed(reason))
		metrics.OrdersTotal.WithLabelValues(string(account.Exchange), metrics.ResultFailed).Inc()
		logger.Warn("follower order failed", zap.String("reason", reason), zap.Error(err))
		return
	}

	if err := d.store.MarkProcessed(key); err != nil {
		logger.Error("failed to persist idempotency key", zap.Error(err))
	}
	d.balances.TriggerRefresh(account.ID)
	d.record(account.ID, domain.Succeeded(order))
	metrics.OrdersTotal.WithLabelValues(string(account.Exchange), metrics.ResultPlaced).Inc()

	logger.Info("follower order placed",
		zap.String("order_id", order.OrderID),
		zap.Stringer("quote_amount", req.QuoteAmount),
		zap.Stringer("base_amount", req.BaseAmount))
}

func (d *Dispatcher) skip(logger *zap.Logger, account domain.Account, reason string) {
	d.record(account.ID, domain.Failed(reason))
	metrics.OrdersTotal.WithLabelValues(string(account.Exchange), metrics.ResultSkipped).Inc()
	logger.Info("follower order skipped", zap.String("reason", reason))
}
