package domain

import (
	"github.com/shopspring/decimal"
)

// PreBalanceEpsilon is the floor applied to reconstructed leader balances so
// ratio computation never divides by zero.
var PreBalanceEpsilon = decimal.New(1, -9)

// FillEvent is one fully filled leader market order together with the leader's
// balances reconstructed as they were right before the trade.
type FillEvent struct {
	EventID        string          `json:"event_id"`
	Side           Side            `json:"side"`
	QuoteFilled    decimal.Decimal `json:"quote_filled"`
	BaseFilled     decimal.Decimal `json:"base_filled"`
	LeaderPreQuote decimal.Decimal `json:"leader_pre_quote_balance"`
	LeaderPreBase  decimal.Decimal `json:"leader_pre_base_balance"`
}

// NewFillEvent builds a FillEvent, flooring both pre-trade balances at PreBalanceEpsilon.
func NewFillEvent(eventID string, side Side, quoteFilled, baseFilled, preQuote, preBase decimal.Decimal) FillEvent {
	return FillEvent{
		EventID:        eventID,
		Side:           side,
		QuoteFilled:    decimal.Max(quoteFilled, decimal.Zero),
		BaseFilled:     decimal.Max(baseFilled, decimal.Zero),
		LeaderPreQuote: decimal.Max(preQuote, PreBalanceEpsilon),
		LeaderPreBase:  decimal.Max(preBase, PreBalanceEpsilon),
	}
}
