package connector

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/copier/internal/domain"
)

var binanceCreds = domain.Credentials{APIKey: "binance-key", APISecret: "binance-secret"}

// verifyBinanceSignature checks the hex HMAC over query (minus signature) + body.
func verifyBinanceSignature(t *testing.T, r *http.Request, body string) {
	t.Helper()
	raw := r.URL.RawQuery
	idx := strings.Index(raw, "&signature=")
	if idx < 0 {
		idx = strings.Index(raw, "signature=")
		require.GreaterOrEqual(t, idx, 0, "signature missing")
	}
	payload := raw[:idx]
	got := r.URL.Query().Get("signature")

	mac := hmac.New(sha256.New, []byte(binanceCreds.APISecret))
	mac.Write([]byte(payload + body))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), got)
	assert.Equal(t, binanceCreds.APIKey, r.Header.Get("X-MBX-APIKEY"))
}

func TestBinance_GetBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/account", r.URL.Path)
		verifyBinanceSignature(t, r, "")
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"balances":[{"asset":"BTC","free":"0.5","locked":"0.1"},{"asset":"USDT","free":"10.25","locked":"0"}]}`)
	}))
	defer srv.Close()

	c := NewBinance(domain.EnvironmentTest, WithBaseURL(srv.URL))
	balances, err := c.GetBalance(context.Background(), binanceCreds)
	require.NoError(t, err)
	assert.True(t, balances["BTC"].Equal(decimal.RequireFromString("0.5")))
	assert.True(t, balances["USDT"].Equal(decimal.RequireFromString("10.25")))
}

func TestBinance_PlaceMarketOrder_BuyUsesQuoteOrderQty(t *testing.T) {
	var form url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v3/order", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		verifyBinanceSignature(t, r, string(body))
		form, _ = url.ParseQuery(string(body))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"symbol":"BTCUSDT","orderId":42,"clientOrderId":"cp1","status":"FILLED","executedQty":"0.0002","cummulativeQuoteQty":"10.00","side":"BUY","type":"MARKET"}`)
	}))
	defer srv.Close()

	c := NewBinance(domain.EnvironmentTest, WithBaseURL(srv.URL))
	res, err := c.PlaceMarketOrder(context.Background(), binanceCreds, OrderRequest{
		Side:          domain.SideBuy,
		Symbol:        "BTCUSDT",
		QuoteAmount:   decimal.RequireFromString("10"),
		ClientOrderID: "cp1",
	})
	require.NoError(t, err)

	params := mergedParams(form)
	assert.Equal(t, "10", params.Get("quoteOrderQty"))
	assert.Empty(t, params.Get("quantity"))
	assert.Equal(t, "MARKET", params.Get("type"))
	assert.Equal(t, "BUY", params.Get("side"))
	assert.Equal(t, "cp1", params.Get("newClientOrderId"))

	assert.Equal(t, "42", res.OrderID)
	assert.Equal(t, "FILLED", res.Status)
	assert.True(t, res.ExecutedQuote.Equal(decimal.NewFromInt(10)))
	assert.NotEmpty(t, res.Raw)
}

func TestBinance_PlaceMarketOrder_SellUsesQuantity(t *testing.T) {
	var params url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		form, _ := url.ParseQuery(string(body))
		params = mergedParams(form)
		for k, v := range r.URL.Query() {
			params[k] = v
		}
		io.WriteString(w, `{"symbol":"BTCUSDT","orderId":7,"status":"FILLED","executedQty":"0.001","cummulativeQuoteQty":"60"}`)
	}))
	defer srv.Close()

	c := NewBinance(domain.EnvironmentLive, WithBaseURL(srv.URL))
	_, err := c.PlaceMarketOrder(context.Background(), binanceCreds, OrderRequest{
		Side:       domain.SideSell,
		Symbol:     "BTCUSDT",
		BaseAmount: decimal.RequireFromString("0.001"),
	})
	require.NoError(t, err)
	assert.Equal(t, "0.001", params.Get("quantity"))
	assert.Empty(t, params.Get("quoteOrderQty"))
	assert.Equal(t, "SELL", params.Get("side"))
}

func TestBinance_PlaceMarketOrder_ErrorKeepsExchangeBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"code":-2010,"msg":"Account has insufficient balance for requested action."}`)
	}))
	defer srv.Close()

	c := NewBinance(domain.EnvironmentTest, WithBaseURL(srv.URL))
	_, err := c.PlaceMarketOrder(context.Background(), binanceCreds, OrderRequest{
		Side:        domain.SideBuy,
		Symbol:      "BTCUSDT",
		QuoteAmount: decimal.NewFromInt(5),
	})
	require.Error(t, err)

	var oe *OrderError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, domain.ExchangeBinance, oe.Exchange)
	assert.Contains(t, Reason(err), "insufficient balance")
	assert.Contains(t, Reason(err), "-2010")
}

func TestBinance_PlaceMarketOrder_InvalidAmountSkipsNetwork(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := NewBinance(domain.EnvironmentTest, WithBaseURL(srv.URL))
	_, err := c.PlaceMarketOrder(context.Background(), binanceCreds, OrderRequest{
		Side:   domain.SideBuy,
		Symbol: "BTCUSDT",
	})
	assert.ErrorIs(t, err, ErrInvalidAmount)
	assert.False(t, called)
}

// mergedParams returns form values; go-binance sends order params in the body.
func mergedParams(form url.Values) url.Values {
	out := url.Values{}
	for k, v := range form {
		out[k] = v
	}
	return out
}
