package feed

import "testing"

func TestGenerator_NextProducesPositivePrices(t *testing.T) {
	g := NewGenerator("BTCUSDT", 50000, 7)
	for i := 0; i < 50; i++ {
		tick := g.Next()
		if tick.LastPrice <= 0 {
			t.Fatalf("expected a positive last price, got %v", tick.LastPrice)
		}
		if tick.BestAsk <= tick.BestBid {
			t.Fatalf("expected best ask > best bid, got bid=%v ask=%v", tick.BestBid, tick.BestAsk)
		}
		if tick.Symbol != "BTCUSDT" {
			t.Fatalf("expected symbol to stay BTCUSDT, got %v", tick.Symbol)
		}
	}
}

func TestGenerator_DefaultsStartPrice(t *testing.T) {
	g := NewGenerator("ETHUSDT", 0, 1)
	if g.lastPrice != 50000 {
		t.Fatalf("expected default start price 50000, got %v", g.lastPrice)
	}
}
