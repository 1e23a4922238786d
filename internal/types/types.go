// Package types holds the wire and domain records shared across the bus,
// the paper broker, and the risk gate pipeline.
package types

import "time"

type OrderType string
type Side string

const (
	OrderTypeMarket     OrderType = "market"
	OrderTypeLimit      OrderType = "limit"
	OrderTypeStopMarket OrderType = "stop_market"

	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Order is an order intent produced by the risk gate pipeline or a manual
// operator and consumed exactly once by the paper broker.
type Order struct {
	ID         string    `json:"id"`
	ClientID   string    `json:"client_id"`
	Symbol     string    `json:"symbol"`
	Type       string    `json:"type"`
	Side       string    `json:"side"`
	Price      float64   `json:"price"`
	StopPrice  float64   `json:"stop_price"`
	Quantity   float64   `json:"quantity"`
	ReduceOnly bool      `json:"reduce_only"`
	Timestamp  time.Time `json:"timestamp"`
	IsShadow   bool      `json:"is_shadow"`
}

// Validate enforces the Order Intent invariants from the data model:
// quantity > 0, limit orders require a price, stop_market orders require
// a stop price.
func (o Order) Validate() error {
	if o.Quantity <= 0 {
		return errQuantity
	}
	switch OrderType(o.Type) {
	case OrderTypeLimit:
		if o.Price <= 0 {
			return errLimitPrice
		}
	case OrderTypeStopMarket:
		if o.StopPrice <= 0 {
			return errStopPrice
		}
	case OrderTypeMarket:
	default:
		return ErrUnknownType
	}
	if Side(o.Side) != SideBuy && Side(o.Side) != SideSell {
		return ErrUnknownSide
	}
	return nil
}

// ExecutionReport is a single fill (or rejection) outcome for an order
// intent. One intent may produce 1..N reports for partial fills.
type ExecutionReport struct {
	OrderID       string    `json:"order_id"`
	ClientID      string    `json:"client_id"`
	Symbol        string    `json:"symbol"`
	Executed      bool      `json:"executed"`
	Price         float64   `json:"price"`
	MarkPrice     float64   `json:"mark_price"`
	Quantity      float64   `json:"quantity"`
	Fees          float64   `json:"fees"`
	Funding       float64   `json:"funding"`
	RealizedPnL   float64   `json:"realized_pnl"`
	SlippageBps   float64   `json:"slippage_bps"`
	Maker         bool      `json:"maker"`
	AckLatencyMs  float64   `json:"ack_latency_ms"`
	FillLatencyMs float64   `json:"fill_latency_ms"`
	Mode          string    `json:"mode"`
	RunID         string    `json:"run_id"`
	Timestamp     time.Time `json:"timestamp"`
	IsShadow      bool      `json:"is_shadow"`
	Error         string    `json:"error,omitempty"`
	ReduceOnly    bool      `json:"reduce_only"`
	OrderType     string    `json:"order_type"`
	StopPrice     float64   `json:"stop_price,omitempty"`
	InitialPrice  float64   `json:"initial_price,omitempty"`
}

// MarketData is the wire payload published on market.data.
type MarketData struct {
	Symbol       string    `json:"symbol"`
	BestBid      float64   `json:"best_bid"`
	BestAsk      float64   `json:"best_ask"`
	BidSize      float64   `json:"bid_size"`
	AskSize      float64   `json:"ask_size"`
	LastPrice    float64   `json:"last_price"`
	LastSide     string    `json:"last_side"`
	LastSize     float64   `json:"last_size"`
	FundingRate  float64   `json:"funding_rate"`
	Timestamp    time.Time `json:"timestamp"`
	OrderFlowImb float64   `json:"order_flow_imbalance,omitempty"`
}

// ReplayControl is the payload accepted on replay.control.
type ReplayControl struct {
	Command   string `json:"command"`
	Timestamp string `json:"timestamp,omitempty"`
}

type validationError string

func (e validationError) Error() string { return string(e) }

const (
	errQuantity   = validationError("quantity must be > 0")
	errLimitPrice = validationError("limit order requires a price")
	errStopPrice  = validationError("stop_market order requires a stop price")

	// ErrUnknownType and ErrUnknownSide mark an order shape the broker
	// has never heard of, as opposed to a well-formed order that merely
	// fails a sizing/price check. Per spec.md §4.5 these are dropped
	// with a log line and no execution report, so HandleOrder checks
	// for them specifically rather than routing them through reject().
	ErrUnknownType = validationError("unknown order type")
	ErrUnknownSide = validationError("unknown order side")
)
