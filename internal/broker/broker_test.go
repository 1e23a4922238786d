package broker

import (
	"sync"
	"testing"
	"time"

	"github.com/autovant/perp-paper-core/internal/market"
	"github.com/autovant/perp-paper-core/internal/types"
)

type reportCollector struct {
	mu      sync.Mutex
	reports []types.ExecutionReport
}

func (c *reportCollector) publish(r types.ExecutionReport) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, r)
	return nil
}

func (c *reportCollector) all() []types.ExecutionReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.ExecutionReport, len(c.reports))
	copy(out, c.reports)
	return out
}

func newTestBroker(t *testing.T, cfg Config, mode string) (*Broker, *market.Store, *reportCollector) {
	t.Helper()
	store := market.New()
	collector := &reportCollector{}
	b, err := New(cfg, store, collector.publish, "test-run", mode, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b, store, collector
}

func baseConfig() Config {
	cfg := DefaultConfig()
	cfg.Seed = 42
	cfg.Latency.MeanMs = 1
	cfg.Latency.P95Ms = 2
	return cfg
}

func TestHandleOrder_MarketBuy(t *testing.T) {
	b, store, coll := newTestBroker(t, baseConfig(), "paper")
	store.Update(types.MarketData{Symbol: "BTCUSDT", BestBid: 99.95, BestAsk: 100.05, Timestamp: time.Now()})

	order := types.Order{ID: "o1", ClientID: "c1", Symbol: "BTCUSDT", Type: "market", Side: "buy", Quantity: 1}
	b.HandleOrder(order)

	reports := coll.all()
	if len(reports) != 1 {
		t.Fatalf("expected 1 report, got %d", len(reports))
	}
	r := reports[0]
	if !r.Executed {
		t.Fatalf("expected executed report, got %+v", r)
	}
	if r.Price <= 100.05 {
		t.Errorf("expected slippage-inflated buy price > best ask, got %.4f", r.Price)
	}
	if r.SlippageBps < 0 || r.SlippageBps > baseConfig().MaxSlippageBps {
		t.Errorf("slippage out of bounds: %.4f", r.SlippageBps)
	}
	pos := store.Position("BTCUSDT")
	if pos.Size != 1 {
		t.Errorf("expected position size 1, got %.4f", pos.Size)
	}
}

func TestHandleOrder_NoMarketSnapshot_DropsSilently(t *testing.T) {
	b, _, coll := newTestBroker(t, baseConfig(), "paper")
	b.HandleOrder(types.Order{ID: "o1", ClientID: "c1", Symbol: "ETHUSDT", Type: "market", Side: "buy", Quantity: 1})
	if len(coll.all()) != 0 {
		t.Fatalf("expected no report for unknown symbol, got %d", len(coll.all()))
	}
}

func TestHandleOrder_LiveModeRejects(t *testing.T) {
	b, store, coll := newTestBroker(t, baseConfig(), "live")
	store.Update(types.MarketData{Symbol: "BTCUSDT", BestBid: 99.95, BestAsk: 100.05, Timestamp: time.Now()})
	b.HandleOrder(types.Order{ID: "o1", ClientID: "c1", Symbol: "BTCUSDT", Type: "market", Side: "buy", Quantity: 1})

	reports := coll.all()
	if len(reports) != 1 || reports[0].Executed || reports[0].Error == "" {
		t.Fatalf("expected one rejected report with error set, got %+v", reports)
	}
}

func TestHandleOrder_InvalidQuantity_RejectsWithClientID(t *testing.T) {
	b, store, coll := newTestBroker(t, baseConfig(), "paper")
	store.Update(types.MarketData{Symbol: "BTCUSDT", BestBid: 99.95, BestAsk: 100.05, Timestamp: time.Now()})
	b.HandleOrder(types.Order{ID: "o1", ClientID: "c1", Symbol: "BTCUSDT", Type: "market", Side: "buy", Quantity: 0})

	reports := coll.all()
	if len(reports) != 1 || reports[0].Executed {
		t.Fatalf("expected one rejected report, got %+v", reports)
	}
}

func TestHandleOrder_UnknownType_DropsWithNoReport(t *testing.T) {
	b, store, coll := newTestBroker(t, baseConfig(), "paper")
	store.Update(types.MarketData{Symbol: "BTCUSDT", BestBid: 99.95, BestAsk: 100.05, Timestamp: time.Now()})
	b.HandleOrder(types.Order{ID: "o1", ClientID: "c1", Symbol: "BTCUSDT", Type: "iceberg", Side: "buy", Quantity: 1})

	if len(coll.all()) != 0 {
		t.Fatalf("expected no report for an unrecognized order type, got %d", len(coll.all()))
	}
}

func TestHandleOrder_UnknownSide_DropsWithNoReport(t *testing.T) {
	b, store, coll := newTestBroker(t, baseConfig(), "paper")
	store.Update(types.MarketData{Symbol: "BTCUSDT", BestBid: 99.95, BestAsk: 100.05, Timestamp: time.Now()})
	b.HandleOrder(types.Order{ID: "o1", ClientID: "c1", Symbol: "BTCUSDT", Type: "market", Side: "hold", Quantity: 1})

	if len(coll.all()) != 0 {
		t.Fatalf("expected no report for an unrecognized order side, got %d", len(coll.all()))
	}
}

func TestHandleOrder_MakerLimitPartialFills(t *testing.T) {
	cfg := baseConfig()
	cfg.PartialFill.Enabled = true
	cfg.PartialFill.MaxSlices = 4
	cfg.PartialFill.MinSlicePct = 0.15

	b, store, coll := newTestBroker(t, cfg, "paper")
	store.Update(types.MarketData{Symbol: "BTCUSDT", BestBid: 99.50, BestAsk: 99.60, Timestamp: time.Now()})

	order := types.Order{ID: "o1", ClientID: "c1", Symbol: "BTCUSDT", Type: "limit", Side: "buy", Price: 99.00, Quantity: 10}
	b.HandleOrder(order)

	reports := coll.all()
	if len(reports) < 1 || len(reports) > 4 {
		t.Fatalf("expected 1..4 reports, got %d", len(reports))
	}
	var sum float64
	for _, r := range reports {
		if !r.Maker {
			t.Errorf("expected all slices to be maker fills")
		}
		if r.SlippageBps != 0 {
			t.Errorf("expected zero slippage on maker fills, got %.4f", r.SlippageBps)
		}
		sum += r.Quantity
	}
	if diff := sum - 10; diff > 1e-6 || diff < -1e-6 {
		t.Errorf("expected quantities to sum to 10, got %.6f", sum)
	}
}

func TestHandleOrder_DedupRepeatsNoNewMutation(t *testing.T) {
	b, store, coll := newTestBroker(t, baseConfig(), "paper")
	store.Update(types.MarketData{Symbol: "BTCUSDT", BestBid: 99.95, BestAsk: 100.05, Timestamp: time.Now()})

	order := types.Order{ID: "o1", ClientID: "c1", Symbol: "BTCUSDT", Type: "market", Side: "buy", Quantity: 1}
	b.HandleOrder(order)
	first := coll.all()
	posAfterFirst := store.Position("BTCUSDT")

	b.HandleOrder(order)
	second := coll.all()
	posAfterSecond := store.Position("BTCUSDT")

	if len(second) != len(first)*2 {
		t.Fatalf("expected the prior report to be repeated once, got %d vs %d", len(second), len(first))
	}
	if posAfterFirst.Size != posAfterSecond.Size {
		t.Errorf("expected no new position mutation on dedup repeat: %v vs %v", posAfterFirst, posAfterSecond)
	}
}

func TestApplyPositionFill_CrossesThroughZero(t *testing.T) {
	pos := &market.Position{Size: 2, AvgPrice: 100}
	realized := applyPositionFill(pos, types.SideSell, 5, 110)
	if realized != (110-100)*2 {
		t.Errorf("expected realized pnl on the closed 2, got %.4f", realized)
	}
	if pos.Size != -3 {
		t.Errorf("expected leftover short position of -3, got %.4f", pos.Size)
	}
	if pos.AvgPrice != 110 {
		t.Errorf("expected new short opened at fill price 110, got %.4f", pos.AvgPrice)
	}
}
