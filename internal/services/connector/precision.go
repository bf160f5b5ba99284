package connector

import (
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/copier/internal/domain"
)

// Precision number of decimal places accepted for quote and base amounts.
type Precision struct {
	Quote int32 `yaml:"quote"`
	Base  int32 `yaml:"base"`
}

// For returns the places that apply to the side-relevant amount.
func (p Precision) For(side domain.Side) int32 {
	if side == domain.SideBuy {
		return p.Quote
	}
	return p.Base
}

// Truncate drops digits beyond places without rounding, so the result never
// exceeds amount.
func Truncate(amount decimal.Decimal, places int32) decimal.Decimal {
	return amount.Truncate(places)
}

var (
	BinancePrecision = Precision{Quote: 2, Base: 5}
	BitgetPrecision  = Precision{Quote: 2, Base: 6}
	BybitPrecision   = Precision{Quote: 2, Base: 6}
)
