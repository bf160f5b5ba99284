package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// IdempotencyKey identifies one (leader fill, follower account) pair.
type IdempotencyKey struct {
	EventID   string `json:"event_id"`
	AccountID string `json:"account_id"`
}

// String returns the compact event|account form.
func (k IdempotencyKey) String() string {
	return fmt.Sprintf("%s|%s", k.EventID, k.AccountID)
}

// OrderResult normalized exchange response for a placed market order.
type OrderResult struct {
	OrderID       string          `json:"order_id"`
	ClientOrderID string          `json:"client_order_id,omitempty"`
	Symbol        string          `json:"symbol"`
	Side          Side            `json:"side"`
	Status        string          `json:"status,omitempty"`
	ExecutedBase  decimal.Decimal `json:"executed_base"`
	ExecutedQuote decimal.Decimal `json:"executed_quote"`
	Raw           json.RawMessage `json:"raw,omitempty"`
}

// DispatchResult is the outcome of copying one fill to one account.
type DispatchResult struct {
	Success bool         `json:"success"`
	Data    *OrderResult `json:"data,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// Succeeded builds a successful result.
func Succeeded(order *OrderResult) DispatchResult {
	return DispatchResult{Success: true, Data: order}
}

// Failed builds a failed result with a human-readable reason.
func Failed(reason string) DispatchResult {
	return DispatchResult{Success: false, Error: reason}
}

// DispatchCycle records one fill and the per-account outcome of copying it.
type DispatchCycle struct {
	Event   FillEvent                 `json:"event"`
	Results map[string]DispatchResult `json:"results"`
	At      time.Time                 `json:"at"`
}

// CycleRecord is a journaled cycle together with its log index.
type CycleRecord struct {
	Index uint64        `json:"index"`
	Cycle DispatchCycle `json:"cycle"`
}
