package connector

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/vadiminshakov/copier/internal/clients"
	"github.com/vadiminshakov/copier/internal/domain"
)

const (
	bitgetAssetsPath     = "/api/v2/spot/account/assets"
	bitgetPlaceOrderPath = "/api/v2/spot/trade/place-order"
	bitgetSuccessCode    = "00000"
)

// Bitget trades spot through the v2 REST API.
type Bitget struct {
	env       domain.Environment
	opts      options
	precision Precision
}

// NewBitget returns a Bitget spot connector for env; test and demo use paper trading.
func NewBitget(env domain.Environment, opts ...Option) *Bitget {
	o, p := buildOptions(BitgetPrecision, opts)
	return &Bitget{env: env, opts: o, precision: p}
}

func (b *Bitget) client(creds domain.Credentials) *clients.BitgetClient {
	return clients.NewBitgetClient(creds, b.env, b.opts.baseURL, b.opts.httpClient)
}

// Precision implements Connector.
func (b *Bitget) Precision() Precision { return b.precision }

// GetBalance implements Connector.
func (b *Bitget) GetBalance(ctx context.Context, creds domain.Credentials) (map[string]decimal.Decimal, error) {
	resp, err := b.client(creds).Get(ctx, bitgetAssetsPath, nil)
	if err != nil {
		return nil, &OrderError{Exchange: domain.ExchangeBitget, Op: "get balance", Err: err}
	}
	if err := bitgetCheck("get balance", resp); err != nil {
		return nil, err
	}

	balances := make(map[string]decimal.Decimal)
	for _, item := range gjson.GetBytes(resp.Body, "data").Array() {
		coin := strings.ToUpper(item.Get("coin").String())
		if coin == "" {
			continue
		}
		available, err := decimal.NewFromString(item.Get("available").String())
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse bitget %s balance", coin)
		}
		balances[coin] = available
	}

	return balances, nil
}

type bitgetOrderBody struct {
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	OrderType string `json:"orderType"`
	Force     string `json:"force"`
	Size      string `json:"size"`
	ClientOID string `json:"clientOid,omitempty"`
}

// PlaceMarketOrder implements Connector. Bitget sizes market BUY orders in
// quote and market SELL orders in base through the same size field.
func (b *Bitget) PlaceMarketOrder(ctx context.Context, creds domain.Credentials, req OrderRequest) (*domain.OrderResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	body := bitgetOrderBody{
		Symbol:    req.Symbol,
		Side:      strings.ToLower(req.Side.String()),
		OrderType: "market",
		Force:     "gtc",
		Size:      req.Amount().String(),
		ClientOID: req.ClientOrderID,
	}

	resp, err := b.client(creds).Post(ctx, bitgetPlaceOrderPath, body)
	if err != nil {
		return nil, &OrderError{Exchange: domain.ExchangeBitget, Op: "place market order", Err: err}
	}
	if err := bitgetCheck("place market order", resp); err != nil {
		return nil, err
	}

	data := gjson.GetBytes(resp.Body, "data")
	result := &domain.OrderResult{
		OrderID:       data.Get("orderId").String(),
		ClientOrderID: data.Get("clientOid").String(),
		Symbol:        req.Symbol,
		Side:          req.Side,
		Raw:           json.RawMessage(resp.Body),
	}
	if req.Side == domain.SideBuy {
		result.ExecutedQuote = req.QuoteAmount
	} else {
		result.ExecutedBase = req.BaseAmount
	}

	return result, nil
}

func bitgetCheck(op string, resp *clients.BitgetResponse) error {
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return &OrderError{
			Exchange:   domain.ExchangeBitget,
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       string(resp.Body),
			Err:        errors.Errorf("unexpected status %d", resp.StatusCode),
		}
	}
	if code := gjson.GetBytes(resp.Body, "code").String(); code != bitgetSuccessCode {
		return &OrderError{
			Exchange:   domain.ExchangeBitget,
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       string(resp.Body),
			Err:        errors.Errorf("bitget code %s: %s", code, gjson.GetBytes(resp.Body, "msg").String()),
		}
	}
	return nil
}
