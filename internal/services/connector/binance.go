package connector

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/copier/internal/clients"
	"github.com/vadiminshakov/copier/internal/domain"
)

// Binance trades spot via the go-binance client, which signs requests with a
// hex HMAC-SHA256 over the query string and the X-MBX-APIKEY header.
type Binance struct {
	env       domain.Environment
	opts      options
	precision Precision
}

// NewBinance returns a Binance spot connector for env.
func NewBinance(env domain.Environment, opts ...Option) *Binance {
	o, p := buildOptions(BinancePrecision, opts)
	return &Binance{env: env, opts: o, precision: p}
}

func (b *Binance) client(creds domain.Credentials) *binance.Client {
	return clients.NewBinanceClient(creds, b.env, b.opts.baseURL, b.opts.httpClient)
}

// Precision implements Connector.
func (b *Binance) Precision() Precision { return b.precision }

// GetBalance implements Connector.
func (b *Binance) GetBalance(ctx context.Context, creds domain.Credentials) (map[string]decimal.Decimal, error) {
	account, err := b.client(creds).NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, binanceError("get balance", err)
	}

	balances := make(map[string]decimal.Decimal, len(account.Balances))
	for _, bal := range account.Balances {
		free, err := decimal.NewFromString(bal.Free)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse binance %s balance", bal.Asset)
		}
		balances[bal.Asset] = free
	}

	return balances, nil
}

// PlaceMarketOrder implements Connector. BUY uses quoteOrderQty, SELL uses quantity.
func (b *Binance) PlaceMarketOrder(ctx context.Context, creds domain.Credentials, req OrderRequest) (*domain.OrderResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	svc := b.client(creds).NewCreateOrderService().
		Symbol(req.Symbol).
		Type(binance.OrderTypeMarket).
		NewOrderRespType(binance.NewOrderRespTypeFULL)
	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}

	if req.Side == domain.SideBuy {
		svc = svc.Side(binance.SideTypeBuy).QuoteOrderQty(req.QuoteAmount.String())
	} else {
		svc = svc.Side(binance.SideTypeSell).Quantity(req.BaseAmount.String())
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return nil, binanceError("place market order", err)
	}

	raw, _ := json.Marshal(res)
	executedBase, _ := decimal.NewFromString(res.ExecutedQuantity)
	executedQuote, _ := decimal.NewFromString(res.CummulativeQuoteQuantity)

	return &domain.OrderResult{
		OrderID:       strconv.FormatInt(res.OrderID, 10),
		ClientOrderID: res.ClientOrderID,
		Symbol:        res.Symbol,
		Side:          req.Side,
		Status:        string(res.Status),
		ExecutedBase:  executedBase,
		ExecutedQuote: executedQuote,
		Raw:           raw,
	}, nil
}

// binanceError keeps the exchange's {"code","msg"} reply as the error body.
func binanceError(op string, err error) error {
	oe := &OrderError{Exchange: domain.ExchangeBinance, Op: op, Err: err}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		body, _ := json.Marshal(apiErr)
		oe.Body = string(body)
	}
	return oe
}
