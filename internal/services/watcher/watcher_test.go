package watcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/copier/internal/domain"
	"github.com/vadiminshakov/copier/internal/services/stream"
)

type staticBalances struct {
	mu    sync.Mutex
	bal   map[string]decimal.Decimal
	err   error
	calls int
}

func (s *staticBalances) GetBalance(ctx context.Context, creds domain.Credentials) (map[string]decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.bal, s.err
}

type singleKey struct{}

func (singleKey) Start(ctx context.Context) (string, error)       { return "lk", nil }
func (singleKey) Keepalive(ctx context.Context, key string) error { return nil }
func (singleKey) Close(ctx context.Context, key string) error     { return nil }

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestWatcher(bal *staticBalances) *Watcher {
	return New(Config{Pair: domain.DefaultPair, EventBuffer: 4}, bal, singleKey{}, nil, zap.NewNop())
}

const (
	buyReport  = `{"e":"executionReport","s":"BTCUSDT","i":1001,"S":"BUY","o":"MARKET","X":"FILLED","Z":"10.0","z":"0.0002"}`
	sellReport = `{"e":"executionReport","s":"BTCUSDT","i":1002,"S":"SELL","o":"MARKET","X":"FILLED","Z":"60.0","z":"0.001"}`
)

func TestWatcher_BuyReconstruction(t *testing.T) {
	w := newTestWatcher(&staticBalances{})
	ctx := context.Background()

	require.NoError(t, w.HandleMessage(ctx, []byte(buyReport)))
	require.NoError(t, w.HandleMessage(ctx, []byte(`{"e":"outboundAccountPosition","B":[{"a":"USDT","f":"90.0","l":"0"},{"a":"BTC","f":"0.0012","l":"0"}]}`)))

	ev := <-w.Events()
	assert.Equal(t, "1001", ev.EventID)
	assert.Equal(t, domain.SideBuy, ev.Side)
	assert.True(t, ev.LeaderPreQuote.Equal(d("100")), ev.LeaderPreQuote.String())
	assert.True(t, ev.LeaderPreBase.Equal(d("0.001")), ev.LeaderPreBase.String())
	assert.True(t, ev.QuoteFilled.Equal(d("10")))
}

func TestWatcher_SellReconstruction(t *testing.T) {
	w := newTestWatcher(&staticBalances{})
	ctx := context.Background()

	require.NoError(t, w.HandleMessage(ctx, []byte(sellReport)))
	require.NoError(t, w.HandleMessage(ctx, []byte(`{"e":"outboundAccountPosition","B":[{"a":"BTC","f":"0.999"},{"a":"USDT","f":"160"}]}`)))

	ev := <-w.Events()
	assert.Equal(t, domain.SideSell, ev.Side)
	assert.True(t, ev.LeaderPreBase.Equal(d("1.0")), ev.LeaderPreBase.String())
	assert.True(t, ev.LeaderPreQuote.Equal(d("100")), ev.LeaderPreQuote.String())
}

func TestWatcher_UsesSeededEstimatesForMissingAssets(t *testing.T) {
	bal := &staticBalances{bal: map[string]decimal.Decimal{"BTC": d("0.5"), "USDT": d("1000")}}
	w := newTestWatcher(bal)
	ctx := context.Background()
	w.Seed(ctx)

	require.NoError(t, w.HandleMessage(ctx, []byte(buyReport)))
	// only the quote asset changed in this update
	require.NoError(t, w.HandleMessage(ctx, []byte(`{"e":"outboundAccountPosition","B":[{"a":"USDT","f":"990"}]}`)))

	ev := <-w.Events()
	assert.True(t, ev.LeaderPreQuote.Equal(d("1000")))
	assert.True(t, ev.LeaderPreBase.Equal(d("0.4998")))
}

func TestWatcher_FloorsAtEpsilon(t *testing.T) {
	w := newTestWatcher(&staticBalances{})
	ctx := context.Background()

	require.NoError(t, w.HandleMessage(ctx, []byte(buyReport)))
	require.NoError(t, w.HandleMessage(ctx, []byte(`{"e":"outboundAccountPosition","B":[{"a":"USDT","f":"0"},{"a":"BTC","f":"0"}]}`)))

	ev := <-w.Events()
	assert.True(t, ev.LeaderPreBase.Equal(domain.PreBalanceEpsilon))
	assert.True(t, ev.LeaderPreQuote.Equal(d("10")))
}

func TestWatcher_IgnoresIrrelevantMessages(t *testing.T) {
	w := newTestWatcher(&staticBalances{})
	ctx := context.Background()

	msgs := []string{
		`{"e":"executionReport","i":1,"S":"BUY","o":"LIMIT","X":"FILLED","Z":"1","z":"1"}`,
		`{"e":"executionReport","i":2,"S":"BUY","o":"MARKET","X":"PARTIALLY_FILLED","Z":"1","z":"1"}`,
		`{"e":"balanceUpdate","a":"USDT","d":"5"}`,
		`{"result":null,"id":1}`,
		`{"e":"outboundAccountPosition","B":[{"a":"USDT","f":"5"}]}`,
	}
	for _, m := range msgs {
		require.NoError(t, w.HandleMessage(ctx, []byte(m)))
	}
	assert.Len(t, w.Events(), 0)
}

func TestWatcher_IgnoresFillsOnOtherSymbols(t *testing.T) {
	w := newTestWatcher(&staticBalances{})
	ctx := context.Background()

	for _, m := range []string{
		`{"e":"executionReport","s":"ETHUSDT","i":77,"S":"BUY","o":"MARKET","X":"FILLED","Z":"500","z":"0.2"}`,
		`{"e":"executionReport","i":78,"S":"BUY","o":"MARKET","X":"FILLED","Z":"500","z":"0.2"}`,
		`{"e":"outboundAccountPosition","B":[{"a":"USDT","f":"500"},{"a":"ETH","f":"0.2"}]}`,
	} {
		require.NoError(t, w.HandleMessage(ctx, []byte(m)))
	}
	assert.Len(t, w.Events(), 0)

	// a matching fill after the foreign one still reconciles
	require.NoError(t, w.HandleMessage(ctx, []byte(buyReport)))
	require.NoError(t, w.HandleMessage(ctx, []byte(`{"e":"outboundAccountPosition","B":[{"a":"USDT","f":"90.0"},{"a":"BTC","f":"0.0012"}]}`)))
	ev := <-w.Events()
	assert.Equal(t, "1001", ev.EventID)
	assert.True(t, ev.LeaderPreQuote.Equal(d("100")))
}

func TestWatcher_LaterFillOverwritesPending(t *testing.T) {
	w := newTestWatcher(&staticBalances{})
	ctx := context.Background()

	require.NoError(t, w.HandleMessage(ctx, []byte(buyReport)))
	require.NoError(t, w.HandleMessage(ctx, []byte(sellReport)))
	require.NoError(t, w.HandleMessage(ctx, []byte(`{"e":"outboundAccountPosition","B":[{"a":"BTC","f":"0.999"},{"a":"USDT","f":"160"}]}`)))

	require.Len(t, w.Events(), 1)
	ev := <-w.Events()
	assert.Equal(t, "1002", ev.EventID)
}

func TestWatcher_CombinedStreamEnvelope(t *testing.T) {
	w := newTestWatcher(&staticBalances{})
	ctx := context.Background()

	require.NoError(t, w.HandleMessage(ctx, []byte(`{"stream":"lk","data":`+buyReport+`}`)))
	require.NoError(t, w.HandleMessage(ctx, []byte(`{"stream":"lk","data":{"e":"outboundAccountPosition","B":[{"a":"USDT","f":"90"},{"a":"BTC","f":"0.0002"}]}}`)))

	ev := <-w.Events()
	assert.Equal(t, "1001", ev.EventID)
}

func TestWatcher_Errors(t *testing.T) {
	w := newTestWatcher(&staticBalances{})
	ctx := context.Background()

	assert.ErrorIs(t, w.HandleMessage(ctx, []byte(`{not json`)), ErrMalformedMessage)
	assert.ErrorIs(t, w.HandleMessage(ctx, []byte(`{"e":"listenKeyExpired"}`)), ErrListenKeyExpired)
	assert.ErrorIs(t, w.HandleMessage(ctx, []byte(`{"e":"executionReport","s":"BTCUSDT","S":"BUY","o":"MARKET","X":"FILLED","Z":"abc"}`)), ErrMalformedMessage)
}

func TestWatcher_SeedFailureKeepsEstimates(t *testing.T) {
	bal := &staticBalances{bal: map[string]decimal.Decimal{"BTC": d("1"), "USDT": d("50")}}
	w := newTestWatcher(bal)
	ctx := context.Background()
	w.Seed(ctx)

	bal.mu.Lock()
	bal.err = errors.New("timeout")
	bal.mu.Unlock()
	w.Seed(ctx)

	require.NoError(t, w.HandleMessage(ctx, []byte(sellReport)))
	require.NoError(t, w.HandleMessage(ctx, []byte(`{"e":"outboundAccountPosition","B":[]}`)))
	ev := <-w.Events()
	assert.True(t, ev.LeaderPreBase.Equal(d("1.001")))
}

func TestWatcher_RunOverWebsocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		c.WriteMessage(websocket.TextMessage, []byte(buyReport))
		c.WriteMessage(websocket.TextMessage, []byte(`{"e":"outboundAccountPosition","B":[{"a":"USDT","f":"90"}]}`))
		<-done
	}))
	defer srv.Close()
	defer close(done)

	bal := &staticBalances{bal: map[string]decimal.Decimal{"BTC": d("0"), "USDT": d("100")}}
	w := New(Config{
		Pair:   domain.DefaultPair,
		Stream: stream.Config{BaseURL: "ws" + strings.TrimPrefix(srv.URL, "http"), HeartbeatInterval: time.Second},
	}, bal, singleKey{}, nil, zap.NewNop())
	assert.Equal(t, StateConnecting, w.State())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()

	select {
	case ev := <-w.Events():
		assert.True(t, ev.LeaderPreQuote.Equal(d("100")))
		assert.Equal(t, StateStreaming, w.State())
	case <-time.After(2 * time.Second):
		t.Fatal("no fill event")
	}

	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
	_, open := <-w.Events()
	assert.False(t, open)
	assert.Equal(t, 1, bal.calls)
}

func TestReconstruct(t *testing.T) {
	ev := Reconstruct("x", domain.SideBuy, d("10"), d("0.5"), d("90"), d("0.1"))
	assert.True(t, ev.LeaderPreQuote.Equal(d("100")))
	assert.True(t, ev.LeaderPreBase.Equal(domain.PreBalanceEpsilon))
}
