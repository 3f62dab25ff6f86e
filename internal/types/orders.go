package types

import (
	"github.com/shopspring/decimal"
)

// OrderIntent is the validated inbound request to place an order. The
// authentication layer supplies ClientID; PortfolioID is an opaque
// reference owned by the portfolio service and validated at write time.
type OrderIntent struct {
	ClientID    string          `json:"client_id"`
	PortfolioID string          `json:"portfolio_id" binding:"required"`
	Symbol      string          `json:"symbol" binding:"required"`
	Side        string          `json:"side" binding:"required"`       // BUY or SELL
	OrderType   string          `json:"order_type" binding:"required"` // MARKET or LIMIT
	Quantity    decimal.Decimal `json:"quantity"`
	LimitPrice  decimal.Decimal `json:"limit_price"`
}

// EstimatedCost is the capital the intent requires up front. Market orders
// reserve against the limit-free notional supplied by the caller; limit
// orders reserve quantity * limit price.
func (i *OrderIntent) EstimatedCost() decimal.Decimal {
	return i.Quantity.Mul(i.LimitPrice)
}

// Fill reports an execution confirmed by the broker for an order.
type Fill struct {
	PortfolioID string          `json:"portfolio_id" binding:"required"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	BrokerRef   string          `json:"broker_ref"`
}

// Notional is the capital consumed by the fill.
func (f *Fill) Notional() decimal.Decimal {
	return f.Quantity.Mul(f.Price)
}

// PlacementResult is returned by a successful PlaceOrder workflow.
type PlacementResult struct {
	OrderID    string `json:"order_id"`
	EntryID    string `json:"entry_id"`
	BrokerRef  string `json:"broker_ref"`
	Replayed   bool   `json:"replayed,omitempty"`
	EventCount int    `json:"event_count,omitempty"`
}
