// Package connector places market orders and reads balances on the supported
// exchanges behind a single interface.
package connector

import (
	"context"
	"net/http"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/copier/internal/domain"
)

// ErrInvalidAmount is returned when the side-relevant order amount is not positive.
var ErrInvalidAmount = errors.New("order amount must be positive")

// Connector is the capability set every exchange variant provides.
type Connector interface {
	// GetBalance returns available (free) amounts keyed by asset.
	GetBalance(ctx context.Context, creds domain.Credentials) (map[string]decimal.Decimal, error)
	// PlaceMarketOrder submits a market order. BUY orders are sized by
	// req.QuoteAmount, SELL orders by req.BaseAmount.
	PlaceMarketOrder(ctx context.Context, creds domain.Credentials, req OrderRequest) (*domain.OrderResult, error)
	// Precision returns the decimal places the exchange accepts for amounts.
	Precision() Precision
}

// OrderRequest describes a market order.
type OrderRequest struct {
	Side          domain.Side
	Symbol        string
	QuoteAmount   decimal.Decimal
	BaseAmount    decimal.Decimal
	ClientOrderID string
}

// Amount returns the amount that sizes the order for its side.
func (r OrderRequest) Amount() decimal.Decimal {
	if r.Side == domain.SideBuy {
		return r.QuoteAmount
	}
	return r.BaseAmount
}

// Validate checks side and sizing before any I/O happens.
func (r OrderRequest) Validate() error {
	if r.Side != domain.SideBuy && r.Side != domain.SideSell {
		return errors.Errorf("unknown order side %q", r.Side)
	}
	if r.Symbol == "" {
		return errors.New("order symbol is required")
	}
	if !r.Amount().IsPositive() {
		if r.Side == domain.SideBuy {
			return errors.Wrap(ErrInvalidAmount, "quote amount required for BUY orders")
		}
		return errors.Wrap(ErrInvalidAmount, "base amount required for SELL orders")
	}
	return nil
}

type options struct {
	baseURL    string
	httpClient *http.Client
	precision  *Precision
}

// Option tunes a connector.
type Option func(*options)

// WithBaseURL points the connector at a different REST endpoint.
func WithBaseURL(u string) Option {
	return func(o *options) {
		o.baseURL = u
	}
}

// WithHTTPClient replaces the HTTP client used for REST calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithPrecision overrides the default amount precision.
func WithPrecision(p Precision) Option {
	return func(o *options) {
		o.precision = &p
	}
}

func buildOptions(defaultPrecision Precision, opts []Option) (options, Precision) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	p := defaultPrecision
	if o.precision != nil {
		p = *o.precision
	}
	return o, p
}
