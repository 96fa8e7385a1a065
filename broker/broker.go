// Package broker defines the narrow exchange adapter interface the trading
// core calls through. Each exchange is a variant implementation selected
// once at startup; trading logic never branches on the venue inline.
package broker

import (
	"context"
	"time"

	"github.com/rmorriss/tradegate/signal"
)

// ConditionalKind distinguishes the two resting exit orders placed alongside
// an entry.
type ConditionalKind string

const (
	StopLoss   ConditionalKind = "stop_loss"
	TakeProfit ConditionalKind = "take_profit"
)

// Balance is the account state fetched at cycle start.
type Balance struct {
	Total float64
	Free  float64
}

// OrderRequest is a market order for a sized position.
type OrderRequest struct {
	Instrument string
	Direction  signal.Direction
	Quantity   float64
	Leverage   int
}

// ConditionalRequest places a resting stop or target order against an open
// position. Direction is the direction of the position being protected, so
// the venue can place the closing order on the correct side.
type ConditionalRequest struct {
	Instrument   string
	Direction    signal.Direction
	Kind         ConditionalKind
	TriggerPrice float64
	Quantity     float64
}

// Receipt confirms an accepted order. FillPrice is the price actually
// filled, which may differ from the price the position was sized at.
type Receipt struct {
	OrderID    string
	Instrument string
	FillPrice  float64
	Quantity   float64
	Time       time.Time
}

// Adapter is the capability set the coordinator requires from an exchange.
// All calls may block on network I/O and must honor ctx cancellation; they
// are the only suspension points in a trading cycle.
type Adapter interface {
	FetchBalance(ctx context.Context) (Balance, error)
	LastPrice(ctx context.Context, instrument string) (float64, error)
	SetLeverage(ctx context.Context, instrument string, leverage int) error
	PlaceOrder(ctx context.Context, req OrderRequest) (Receipt, error)
	PlaceConditional(ctx context.Context, req ConditionalRequest) (string, error)
	ClosePosition(ctx context.Context, instrument string, quantity float64) (Receipt, error)
	CancelConditionals(ctx context.Context, instrument string) error
}
