package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/autovant/perp-paper-core/internal/alert"
	"github.com/autovant/perp-paper-core/internal/exchange"
	"github.com/autovant/perp-paper-core/internal/market"
	"github.com/autovant/perp-paper-core/internal/riskstate"
	"github.com/autovant/perp-paper-core/internal/signal"
	"github.com/autovant/perp-paper-core/internal/types"
)

type orderCollector struct {
	orders []types.Order
}

func (c *orderCollector) publish(o types.Order) error {
	c.orders = append(c.orders, o)
	return nil
}

func baseSafetyConfig(symbol string) SafetyConfig {
	return SafetyConfig{
		Symbol:                   symbol,
		Enabled:                  true,
		ConsecutiveLossLimit:     3,
		SessionMaxTrades:         10,
		SessionMaxRuntimeMinutes: 0,
		MaxMarginRatio:           0.8,
		MaxDailyLossPct:          0.05,
		DrawdownThresholdPct:     0.2,
		RequestsPerSecond:        0,
		RequestsPerMinute:        0,
		RiskPct:                  0.01,
		StopLossPct:              0.02,
		TakeProfitPct:            0.04,
		CashDeployCapPct:         0.5,
		Leverage:                 3,
		PositionIdx:              0,
		TriggerBy:                TriggerLastPrice,
		EarlyExitOnCross:         true,
	}
}

// risingCandles builds n closed candles that gently decline (keeping the
// fast moving average below the slow one) and then jump sharply on the
// final bar, producing exactly one bull cross at the last close.
func risingCandles(n int, start time.Time) []exchange.Candle {
	candles := make([]exchange.Candle, n)
	price := 150.0
	for i := 0; i < n; i++ {
		if i == n-1 {
			price += 10
		} else {
			price -= 0.1
		}
		candles[i] = exchange.Candle{
			OpenTime: start.Add(time.Duration(i) * time.Minute),
			Open:     price,
			High:     price,
			Low:      price,
			Close:    price,
			Volume:   10,
			Closed:   true,
		}
	}
	return candles
}

func newTestPipeline(t *testing.T, cfg SafetyConfig) (*Pipeline, *exchange.Fake, *orderCollector) {
	t.Helper()
	p, fake, coll, _ := newTestPipelineWithMarket(t, cfg)
	return p, fake, coll
}

func newTestPipelineWithMarket(t *testing.T, cfg SafetyConfig) (*Pipeline, *exchange.Fake, *orderCollector, *market.Store) {
	t.Helper()
	fake := exchange.NewFake()
	coll := &orderCollector{}
	riskPath := t.TempDir() + "/risk.json"
	risk := riskstate.New(riskPath, alert.LogSink{})
	marketStore := market.New()
	sig := signal.MovingAverageCross(5, 20)

	p, err := New(cfg, fake, risk, marketStore, nil, alert.LogSink{}, sig, coll.publish, "paper", "test-run")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p, fake, coll, marketStore
}

// S1: a normal cycle with no existing position, flat reconciliation, and
// a bull cross produces exactly one market-buy entry intent.
func TestRunCycle_NormalSession_EmitsEntry(t *testing.T) {
	cfg := baseSafetyConfig("BTCUSDT")
	p, fake, coll := newTestPipeline(t, cfg)

	fake.Equity = 10000
	fake.Precisions["BTCUSDT"] = exchange.Precision{QtyStep: 0.001, MinQty: 0.001}
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fake.Candles["BTCUSDT"] = risingCandles(40, start)

	p.Reconcile(context.Background())
	if p.reconBlocked {
		t.Fatalf("expected reconciliation to not block on a flat account")
	}

	if err := p.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	if len(coll.orders) != 1 {
		t.Fatalf("expected exactly one order intent, got %d", len(coll.orders))
	}
	order := coll.orders[0]
	if order.Side != string(types.SideBuy) || order.Type != string(types.OrderTypeMarket) {
		t.Fatalf("expected a market buy intent, got %+v", order)
	}
	if order.Quantity <= 0 {
		t.Fatalf("expected positive sized quantity, got %v", order.Quantity)
	}
	if p.currentPositionQty != order.Quantity {
		t.Fatalf("pipeline did not record its own fill-ahead position: got %v want %v", p.currentPositionQty, order.Quantity)
	}

	if len(fake.Placed) != 1 {
		t.Fatalf("expected exactly one bracket order placed against the exchange client, got %d", len(fake.Placed))
	}
	placed := fake.Placed[0]
	if placed.Side != string(types.SideBuy) || placed.Quantity != order.Quantity {
		t.Fatalf("expected the bracket order to mirror the bus entry intent, got %+v", placed)
	}
	if placed.TakeProfit <= 0 || placed.StopLoss <= 0 {
		t.Fatalf("expected a bracketed take-profit and stop-loss, got %+v", placed)
	}
	if placed.OrderLinkID == "" {
		t.Fatalf("expected a deterministic order_link_id, got %+v", placed)
	}
}

// When the exchange rejects the bracket order placement, the pipeline
// reports no entry: no bus intent is published and position/session
// state are left untouched.
func TestRunCycle_BracketOrderPlacementFails_NoEntryRecorded(t *testing.T) {
	cfg := baseSafetyConfig("BTCUSDT")
	p, fake, coll := newTestPipeline(t, cfg)

	fake.Equity = 10000
	fake.Precisions["BTCUSDT"] = exchange.Precision{QtyStep: 0.001, MinQty: 0.001}
	fake.FailNext = len(exchange.Backoff) + 1 // exhaust every retry attempt
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fake.Candles["BTCUSDT"] = risingCandles(40, start)

	p.Reconcile(context.Background())
	if err := p.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	if len(coll.orders) != 0 {
		t.Fatalf("expected no bus intent when the bracket order placement fails, got %d", len(coll.orders))
	}
	if len(fake.Placed) != 0 {
		t.Fatalf("expected no successful placement recorded, got %d", len(fake.Placed))
	}
	if p.currentPositionQty != 0 {
		t.Fatalf("expected position state to stay untouched after a failed placement, got %v", p.currentPositionQty)
	}
}

// S2: once the consecutive-loss circuit breaker has latched, the cycle
// aborts before any market data fetch or order emission.
func TestRunCycle_CircuitBreakerBlocksEntry(t *testing.T) {
	cfg := baseSafetyConfig("ETHUSDT")
	p, fake, coll := newTestPipeline(t, cfg)

	fake.Equity = 10000
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fake.Candles["ETHUSDT"] = risingCandles(40, start)

	for i := 0; i < cfg.ConsecutiveLossLimit; i++ {
		if _, err := p.risk.RecordTrade(-10, start.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatalf("RecordTrade: %v", err)
		}
	}

	p.Reconcile(context.Background())
	if err := p.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	if len(coll.orders) != 0 {
		t.Fatalf("expected no order intents once the circuit breaker is latched, got %d", len(coll.orders))
	}
}

// S3: a margin ratio above the configured maximum blocks new entries but
// does not error the cycle.
func TestRunCycle_MarginBlocksEntry(t *testing.T) {
	cfg := baseSafetyConfig("BTCUSDT")
	p, fake, coll := newTestPipeline(t, cfg)

	fake.Equity = 10000
	fake.Margins[key("BTCUSDT", cfg.PositionIdx)] = exchange.MarginInfo{Found: true, MarginRatio: 0.95}
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fake.Candles["BTCUSDT"] = risingCandles(40, start)

	p.Reconcile(context.Background())
	if err := p.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	if len(coll.orders) != 0 {
		t.Fatalf("expected margin block to suppress the entry, got %d orders", len(coll.orders))
	}
}

// S5: a pre-existing incompatible (short) position found at startup
// latches the reconciliation block, which then suppresses every future
// cycle until cleared externally.
func TestReconcile_IncompatiblePosition_BlocksEntries(t *testing.T) {
	cfg := baseSafetyConfig("BTCUSDT")
	p, fake, coll := newTestPipeline(t, cfg)

	fake.Equity = 10000
	fake.Positions[key("BTCUSDT", cfg.PositionIdx)] = exchange.Position{Symbol: "BTCUSDT", PositionIdx: cfg.PositionIdx, Size: -2}
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fake.Candles["BTCUSDT"] = risingCandles(40, start)

	p.Reconcile(context.Background())
	if !p.reconBlocked {
		t.Fatalf("expected an incompatible short position to latch the reconciliation block")
	}

	if err := p.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(coll.orders) != 0 {
		t.Fatalf("expected the reconciliation block to suppress all entries, got %d orders", len(coll.orders))
	}
}

// Reconciliation adopt: reconciling onto an existing long adopts its
// size without blocking, and the pipeline will not re-enter while that
// position is still open.
func TestReconcile_ExistingLong_AdoptsAndSkipsEntry(t *testing.T) {
	cfg := baseSafetyConfig("BTCUSDT")
	p, fake, coll := newTestPipeline(t, cfg)

	fake.Equity = 10000
	fake.Positions[key("BTCUSDT", cfg.PositionIdx)] = exchange.Position{Symbol: "BTCUSDT", PositionIdx: cfg.PositionIdx, Size: 1.5}
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fake.Candles["BTCUSDT"] = risingCandles(40, start)

	p.Reconcile(context.Background())
	if p.reconBlocked {
		t.Fatalf("an existing long should be adopted, not blocked")
	}
	if p.currentPositionQty != 1.5 {
		t.Fatalf("expected adopted position size 1.5, got %v", p.currentPositionQty)
	}

	if err := p.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(coll.orders) != 0 {
		t.Fatalf("expected no new entry while a position is already open, got %d orders", len(coll.orders))
	}
}

// When a market store is wired in, a cycle's account refresh logs the
// broker's own mark/unrealized-PnL reading without altering any pipeline
// decision (the store is purely informational here).
func TestRunCycle_LogsBrokerMarkWhenMarketStoreWired(t *testing.T) {
	cfg := baseSafetyConfig("BTCUSDT")
	p, fake, coll, marketStore := newTestPipelineWithMarket(t, cfg)

	fake.Equity = 10000
	marketStore.MutatePosition("BTCUSDT", func(pos *market.Position) {
		pos.Size = 0.5
		pos.AvgPrice = 100
		pos.MarkPrice = 110
	})
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fake.Candles["BTCUSDT"] = risingCandles(40, start)

	p.Reconcile(context.Background())
	if err := p.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(coll.orders) != 1 {
		t.Fatalf("expected the wired market store not to change entry behavior, got %d orders", len(coll.orders))
	}
}

// key mirrors exchange.Fake's unexported map-key format so tests can seed
// its Positions/Margins maps directly.
func key(symbol string, positionIdx int) string {
	return fmt.Sprintf("%s#%d", symbol, positionIdx)
}
