package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Fake is a deterministic in-memory Client used by the pipeline's tests
// and by local/replay runs where no real venue connection exists.
type Fake struct {
	mu sync.Mutex

	Candles     map[string][]Candle
	Equity      float64
	Positions   map[string]Position
	Margins     map[string]MarginInfo
	ClosedTrade map[string][]ClosedTrade
	Precisions  map[string]Precision
	Leverage    map[string]float64
	Placed      []OrderRequest

	// FailNext, if > 0, causes the next N calls to PlaceBracketOrder to
	// return an error, to exercise the pipeline's retry/backoff path.
	FailNext int
}

// NewFake returns an empty Fake exchange.
func NewFake() *Fake {
	return &Fake{
		Candles:     make(map[string][]Candle),
		Positions:   make(map[string]Position),
		Margins:     make(map[string]MarginInfo),
		ClosedTrade: make(map[string][]ClosedTrade),
		Precisions:  make(map[string]Precision),
		Leverage:    make(map[string]float64),
	}
}

func (f *Fake) Klines(_ context.Context, symbol string, limit int) ([]Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	candles := f.Candles[symbol]
	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	out := make([]Candle, len(candles))
	copy(out, candles)
	return out, nil
}

func (f *Fake) WalletEquity(_ context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Equity, nil
}

func (f *Fake) Position(_ context.Context, symbol string, positionIdx int) (Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pos, ok := f.Positions[key(symbol, positionIdx)]
	if !ok {
		return Position{Symbol: symbol, PositionIdx: positionIdx}, nil
	}
	return pos, nil
}

func (f *Fake) Margin(_ context.Context, symbol string, positionIdx int) (MarginInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Margins[key(symbol, positionIdx)], nil
}

func (f *Fake) ClosedPnL(_ context.Context, symbol string, since time.Time) ([]ClosedTrade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ClosedTrade
	for _, t := range f.ClosedTrade[symbol] {
		if !t.CreatedTime.Before(since) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *Fake) PlaceBracketOrder(_ context.Context, req OrderRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailNext > 0 {
		f.FailNext--
		return fmt.Errorf("fake exchange: simulated order placement failure")
	}
	f.Placed = append(f.Placed, req)
	return nil
}

func (f *Fake) SetLeverage(_ context.Context, symbol string, leverage float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Leverage[symbol] = leverage
	return nil
}

func (f *Fake) Precision(_ context.Context, symbol string) (Precision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.Precisions[symbol]; ok {
		return p, nil
	}
	return Precision{QtyStep: 0.001, MinQty: 0.001}, nil
}

func key(symbol string, positionIdx int) string {
	return fmt.Sprintf("%s#%d", symbol, positionIdx)
}
