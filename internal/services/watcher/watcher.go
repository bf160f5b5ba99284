// Package watcher turns the leader's private order stream into fill events
// carrying reconstructed pre-trade balances.
package watcher

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/vadiminshakov/copier/internal/domain"
	"github.com/vadiminshakov/copier/internal/metrics"
	"github.com/vadiminshakov/copier/internal/services/stream"
)

// ErrListenKeyExpired is returned when the exchange invalidates the listen key.
var ErrListenKeyExpired = errors.New("listen key expired")

// ErrMalformedMessage is returned for frames that are not valid JSON or carry
// unparsable fields.
var ErrMalformedMessage = errors.New("malformed stream message")

const (
	eventExecutionReport = "executionReport"
	eventAccountPosition = "outboundAccountPosition"
	eventListenKeyExpire = "listenKeyExpired"

	orderStatusFilled = "FILLED"
	orderTypeMarket   = "MARKET"
)

// State is the watcher connection state.
type State int32

const (
	StateConnecting State = iota
	StateStreaming
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateStreaming:
		return "STREAMING"
	case StateReconnecting:
		return "RECONNECTING"
	default:
		return "UNKNOWN"
	}
}

// BalanceSource reads free balances out of band.
type BalanceSource interface {
	GetBalance(ctx context.Context, creds domain.Credentials) (map[string]decimal.Decimal, error)
}

// Config configures a Watcher.
type Config struct {
	Pair        domain.Pair
	Credentials domain.Credentials
	Stream      stream.Config
	// EventBuffer is the capacity of the Events channel. Zero means unbuffered.
	EventBuffer int
}

type pendingFill struct {
	eventID     string
	side        domain.Side
	quoteFilled decimal.Decimal
	baseFilled  decimal.Decimal
}

// Watcher consumes the leader stream. Run it once; Events is closed when Run returns.
type Watcher struct {
	cfg      Config
	balances BalanceSource
	stream   *stream.Stream
	logger   *zap.Logger

	state  atomic.Int32
	events chan domain.FillEvent

	// estimates and pending are touched only from the stream goroutine; the
	// mutex keeps HandleMessage safe when driven directly.
	mu        sync.Mutex
	estimates map[string]decimal.Decimal
	pending   *pendingFill
}

// New builds a watcher reading the leader stream through keys and dialer.
func New(cfg Config, balances BalanceSource, keys stream.ListenKeyAPI, dialer stream.Dialer, logger *zap.Logger) *Watcher {
	w := &Watcher{
		cfg:       cfg,
		balances:  balances,
		logger:    logger.With(zap.String("component", "watcher"), zap.Stringer("pair", cfg.Pair)),
		events:    make(chan domain.FillEvent, cfg.EventBuffer),
		estimates: make(map[string]decimal.Decimal),
	}
	w.stream = stream.New(keys, dialer, cfg.Stream, stream.Hooks{
		OnConnecting:   w.onConnecting,
		OnConnected:    w.onConnected,
		OnDisconnected: w.onDisconnected,
	}, logger)
	return w
}

// Events delivers fill events in emission order.
func (w *Watcher) Events() <-chan domain.FillEvent {
	return w.events
}

// State returns the current connection state.
func (w *Watcher) State() State {
	return State(w.state.Load())
}

// Run streams until ctx is cancelled and returns after full teardown.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.events)
	w.setState(StateConnecting)
	return w.stream.Run(ctx, w.HandleMessage)
}

func (w *Watcher) setState(s State) {
	if old := State(w.state.Swap(int32(s))); old != s {
		w.logger.Debug("state changed", zap.Stringer("from", old), zap.Stringer("to", s))
	}
}

func (w *Watcher) onConnecting() {
	w.setState(StateConnecting)
	w.mu.Lock()
	w.pending = nil
	w.mu.Unlock()
}

func (w *Watcher) onConnected(ctx context.Context) {
	w.Seed(ctx)
	w.setState(StateStreaming)
	w.logger.Info("leader stream connected")
}

func (w *Watcher) onDisconnected(err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	w.setState(StateReconnecting)
	metrics.StreamReconnectsTotal.Inc()
	w.logger.Warn("leader stream disconnected", zap.Error(err))
}

// Seed refreshes the free balance estimates out of band. A failure keeps the
// previous estimates.
func (w *Watcher) Seed(ctx context.Context) {
	bal, err := w.balances.GetBalance(ctx, w.cfg.Credentials)
	if err != nil {
		w.logger.Warn("failed to seed leader balances", zap.Error(err))
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, asset := range []string{w.cfg.Pair.Base(), w.cfg.Pair.Quote()} {
		w.estimates[asset] = bal[asset]
	}
}

// HandleMessage processes one stream frame. Frames may be bare events or
// wrapped in a combined-stream envelope.
func (w *Watcher) HandleMessage(ctx context.Context, data []byte) error {
	if !gjson.ValidBytes(data) {
		return errors.Wrapf(ErrMalformedMessage, "invalid json %q", truncate(data))
	}

	msg := gjson.ParseBytes(data)
	if inner := msg.Get("data"); inner.IsObject() {
		msg = inner
	}

	switch msg.Get("e").String() {
	case eventExecutionReport:
		return w.handleExecutionReport(msg)
	case eventAccountPosition:
		return w.handleAccountPosition(ctx, msg)
	case eventListenKeyExpire:
		return ErrListenKeyExpired
	default:
		return nil
	}
}

func (w *Watcher) handleExecutionReport(msg gjson.Result) error {
	if msg.Get("X").String() != orderStatusFilled || msg.Get("o").String() != orderTypeMarket {
		return nil
	}
	// fills on other pairs do not move this pair's balances
	if symbol := msg.Get("s").String(); !strings.EqualFold(symbol, w.cfg.Pair.Symbol()) {
		w.logger.Debug("ignoring fill on another symbol", zap.String("symbol", symbol))
		return nil
	}

	side, err := domain.ParseSide(msg.Get("S").String())
	if err != nil {
		return errors.Wrap(ErrMalformedMessage, err.Error())
	}
	quote, err := decimalField(msg, "Z")
	if err != nil {
		return err
	}
	base, err := decimalField(msg, "z")
	if err != nil {
		return err
	}

	fill := &pendingFill{
		eventID:     msg.Get("i").String(),
		side:        side,
		quoteFilled: quote,
		baseFilled:  base,
	}

	w.mu.Lock()
	if w.pending != nil {
		w.logger.Warn("overwriting unreconciled fill",
			zap.String("dropped_event_id", w.pending.eventID),
			zap.String("event_id", fill.eventID))
	}
	w.pending = fill
	w.mu.Unlock()

	w.logger.Debug("leader fill pending", zap.String("event_id", fill.eventID), zap.Stringer("side", side))
	return nil
}

func (w *Watcher) handleAccountPosition(ctx context.Context, msg gjson.Result) error {
	updates := make(map[string]decimal.Decimal)
	for _, b := range msg.Get("B").Array() {
		asset := strings.ToUpper(b.Get("a").String())
		free, err := decimalField(b, "f")
		if err != nil {
			return err
		}
		updates[asset] = free
	}

	w.mu.Lock()
	for asset, free := range updates {
		w.estimates[asset] = free
	}
	fill := w.pending
	w.pending = nil
	postQuote := w.estimates[w.cfg.Pair.Quote()]
	postBase := w.estimates[w.cfg.Pair.Base()]
	w.mu.Unlock()

	if fill == nil {
		return nil
	}

	ev := Reconstruct(fill.eventID, fill.side, fill.quoteFilled, fill.baseFilled, postQuote, postBase)
	return w.emit(ctx, ev)
}

func (w *Watcher) emit(ctx context.Context, ev domain.FillEvent) error {
	select {
	case w.events <- ev:
	case <-ctx.Done():
		return ctx.Err()
	}

	metrics.FillEventsTotal.WithLabelValues(ev.Side.String()).Inc()
	w.logger.Info("leader fill",
		zap.String("event_id", ev.EventID),
		zap.Stringer("side", ev.Side),
		zap.Stringer("quote_filled", ev.QuoteFilled),
		zap.Stringer("base_filled", ev.BaseFilled),
		zap.Stringer("pre_quote", ev.LeaderPreQuote),
		zap.Stringer("pre_base", ev.LeaderPreBase))
	return nil
}

// Reconstruct reverses a fill's effect on post-trade free balances. A BUY
// spent quote and received base; a SELL did the opposite.
func Reconstruct(eventID string, side domain.Side, quoteFilled, baseFilled, postQuote, postBase decimal.Decimal) domain.FillEvent {
	var preQuote, preBase decimal.Decimal
	if side == domain.SideBuy {
		preQuote = postQuote.Add(quoteFilled)
		preBase = postBase.Sub(baseFilled)
	} else {
		preQuote = postQuote.Sub(quoteFilled)
		preBase = postBase.Add(baseFilled)
	}
	return domain.NewFillEvent(eventID, side, quoteFilled, baseFilled, preQuote, preBase)
}

func decimalField(r gjson.Result, field string) (decimal.Decimal, error) {
	v := r.Get(field)
	if !v.Exists() {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero, errors.Wrapf(ErrMalformedMessage, "field %s: %v", field, err)
	}
	return d, nil
}

func truncate(data []byte) string {
	const limit = 128
	if len(data) > limit {
		return string(data[:limit]) + "..."
	}
	return string(data)
}
