package connector

import (
	"context"
	"encoding/json"

	"github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/copier/internal/clients"
	"github.com/vadiminshakov/copier/internal/domain"
)

// Bybit trades spot through the V5 unified account API. Spot market BUY
// quantities are denominated in quote, SELL quantities in base.
type Bybit struct {
	env       domain.Environment
	opts      options
	precision Precision
}

// NewBybit returns a Bybit spot connector for env.
func NewBybit(env domain.Environment, opts ...Option) *Bybit {
	o, p := buildOptions(BybitPrecision, opts)
	return &Bybit{env: env, opts: o, precision: p}
}

func (b *Bybit) client(creds domain.Credentials) *bybit.Client {
	return clients.NewBybitClient(creds, b.env, b.opts.baseURL, b.opts.httpClient)
}

// Precision implements Connector.
func (b *Bybit) Precision() Precision { return b.precision }

// GetBalance implements Connector. Available is the wallet balance minus the
// amount locked by open orders.
func (b *Bybit) GetBalance(ctx context.Context, creds domain.Credentials) (map[string]decimal.Decimal, error) {
	res, err := b.client(creds).V5().Account().GetWalletBalance(bybit.AccountTypeV5("UNIFIED"), nil)
	if err != nil {
		return nil, &OrderError{Exchange: domain.ExchangeBybit, Op: "get balance", Err: err}
	}

	balances := make(map[string]decimal.Decimal)
	for _, account := range res.Result.List {
		for _, coin := range account.Coin {
			if coin.WalletBalance == "" {
				continue
			}
			total, err := decimal.NewFromString(coin.WalletBalance)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to parse bybit %s balance", coin.Coin)
			}
			locked := decimal.Zero
			if coin.Locked != "" {
				if locked, err = decimal.NewFromString(coin.Locked); err != nil {
					return nil, errors.Wrapf(err, "failed to parse bybit %s locked amount", coin.Coin)
				}
			}
			available := decimal.Max(decimal.Zero, total.Sub(locked))
			balances[string(coin.Coin)] = balances[string(coin.Coin)].Add(available)
		}
	}

	return balances, nil
}

// PlaceMarketOrder implements Connector.
func (b *Bybit) PlaceMarketOrder(ctx context.Context, creds domain.Credentials, req OrderRequest) (*domain.OrderResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	side := bybit.SideBuy
	if req.Side == domain.SideSell {
		side = bybit.SideSell
	}

	param := bybit.V5CreateOrderParam{
		Category:  bybit.CategoryV5Spot,
		Symbol:    bybit.SymbolV5(req.Symbol),
		Side:      side,
		OrderType: bybit.OrderTypeMarket,
		Qty:       req.Amount().String(),
	}
	if req.ClientOrderID != "" {
		linkID := req.ClientOrderID
		param.OrderLinkID = &linkID
	}

	res, err := b.client(creds).V5().Order().CreateOrder(param)
	if err != nil {
		return nil, &OrderError{Exchange: domain.ExchangeBybit, Op: "place market order", Err: err}
	}

	raw, _ := json.Marshal(res.Result)
	result := &domain.OrderResult{
		OrderID:       res.Result.OrderID,
		ClientOrderID: res.Result.OrderLinkID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Raw:           raw,
	}
	if req.Side == domain.SideBuy {
		result.ExecutedQuote = req.QuoteAmount
	} else {
		result.ExecutedBase = req.BaseAmount
	}

	return result, nil
}
