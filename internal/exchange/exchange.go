// Package exchange defines the boundary the risk gate pipeline consumes
// from a venue REST client. Per spec.md §1 the client itself is out of
// scope; only the operations it must expose are specified here, plus a
// deterministic in-memory fake used by tests and local runs.
package exchange

import (
	"context"
	"time"
)

// Candle is one OHLCV bar as returned by the klines endpoint.
type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
	Closed   bool
}

// PositionShape describes the shape of a position the pipeline cares
// about for the reconciliation guard: flat, a one-way/hedge long, or
// anything else (short or unsupported hedge configuration).
type PositionShape int

const (
	ShapeFlat PositionShape = iota
	ShapeLong
	ShapeOther
)

// Position mirrors the exchange's reported position for one symbol and
// position index.
type Position struct {
	Symbol      string
	PositionIdx int
	Size        float64 // signed: positive long, negative short
}

// Shape classifies this position for the reconciliation guard.
func (p Position) Shape() PositionShape {
	switch {
	case p.Size == 0:
		return ShapeFlat
	case p.Size > 0:
		return ShapeLong
	default:
		return ShapeOther
	}
}

// MarginInfo is the exchange's margin-ratio reading for a symbol.
type MarginInfo struct {
	Found       bool
	MarginRatio float64
}

// ClosedTrade is a single closed-PnL record from the exchange.
type ClosedTrade struct {
	OrderID     string
	CreatedTime time.Time
	RealizedPnL float64
}

// OrderRequest is what the pipeline hands the exchange to open a
// bracketed position: entry + take-profit + stop-loss in one call.
type OrderRequest struct {
	Symbol      string
	Side        string
	Quantity    float64
	TakeProfit  float64
	StopLoss    float64
	TriggerBy   string
	PositionIdx int
	OrderLinkID string
	ReduceOnly  bool
}

// Precision describes a symbol's exchange-enforced quantity rounding.
type Precision struct {
	QtyStep float64
	MinQty  float64
}

// Client is the set of exchange operations the risk gate pipeline
// consumes. A real implementation talks to a venue's REST API (out of
// scope here); Fake below is a deterministic in-memory stand-in.
type Client interface {
	Klines(ctx context.Context, symbol string, limit int) ([]Candle, error)
	WalletEquity(ctx context.Context) (float64, error)
	Position(ctx context.Context, symbol string, positionIdx int) (Position, error)
	Margin(ctx context.Context, symbol string, positionIdx int) (MarginInfo, error)
	ClosedPnL(ctx context.Context, symbol string, since time.Time) ([]ClosedTrade, error)
	PlaceBracketOrder(ctx context.Context, req OrderRequest) error
	SetLeverage(ctx context.Context, symbol string, leverage float64) error
	Precision(ctx context.Context, symbol string) (Precision, error)
}
