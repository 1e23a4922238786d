// Package feed implements a synthetic testnet/paper market-data
// generator: a random-walk price process with a derived spread and
// order-flow imbalance, used when no replay source or real venue feed is
// configured. Generalized from feed_handler.go's generateMockData.
package feed

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/autovant/perp-paper-core/internal/metrics"
	"github.com/autovant/perp-paper-core/internal/types"
)

// Generator produces one synthetic MarketData tick per call to Next, for
// one symbol, with a persistent random walk and ATR estimate.
type Generator struct {
	mu           sync.Mutex
	symbol       string
	random       *rand.Rand
	lastPrice    float64
	atrEstimate  float64
}

// NewGenerator builds a Generator seeded from startPrice (defaults to
// 50000 if <= 0).
func NewGenerator(symbol string, startPrice float64, seed int64) *Generator {
	if startPrice <= 0 {
		startPrice = 50000
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{
		symbol:      symbol,
		random:      rand.New(rand.NewSource(seed)),
		lastPrice:   startPrice,
		atrEstimate: 100,
	}
}

// Next advances the random walk by one tick and returns the resulting
// snapshot.
func (g *Generator) Next() types.MarketData {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	drift := g.random.NormFloat64() * 25
	price := math.Max(1000, g.lastPrice+drift)
	spread := math.Max(price*0.0004, 2)
	g.atrEstimate = g.atrEstimate*0.85 + spread*0.15

	bestBid := price - spread/2
	bestAsk := price + spread/2
	bidSize := 50 + g.random.Float64()*50
	askSize := 50 + g.random.Float64()*50

	lastSide := "buy"
	if price < g.lastPrice {
		lastSide = "sell"
	}
	lastQty := (bidSize + askSize) * 0.25
	funding := 0.0001 * math.Sin(float64(now.UnixNano()%int64(time.Hour))/float64(time.Hour)*2*math.Pi)
	ofi := (bidSize - askSize) * spread

	snapshot := types.MarketData{
		Symbol:       g.symbol,
		BestBid:      bestBid,
		BestAsk:      bestAsk,
		BidSize:      bidSize,
		AskSize:      askSize,
		LastPrice:    price,
		LastSide:     lastSide,
		LastSize:     lastQty,
		FundingRate:  funding,
		Timestamp:    now,
		OrderFlowImb: ofi,
	}

	spreadAtr := (spread / math.Max(g.atrEstimate, 1)) * 100
	metrics.MarketSpreadATRPercent.WithLabelValues(g.symbol).Set(spreadAtr)

	g.lastPrice = price
	return snapshot
}
