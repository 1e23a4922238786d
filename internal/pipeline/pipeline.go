package pipeline

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/autovant/perp-paper-core/internal/alert"
	"github.com/autovant/perp-paper-core/internal/exchange"
	"github.com/autovant/perp-paper-core/internal/market"
	"github.com/autovant/perp-paper-core/internal/ratelimit"
	"github.com/autovant/perp-paper-core/internal/riskstate"
	"github.com/autovant/perp-paper-core/internal/signal"
	"github.com/autovant/perp-paper-core/internal/types"
)

const minClosedCandles = 35
const closedPnLPollInterval = 5 * time.Minute

// OrderPublisher hands a finished order intent off to the bus.
type OrderPublisher func(types.Order) error

// Pipeline is the per-symbol risk-gated order cycle driver (C6).
type Pipeline struct {
	cfg     SafetyConfig
	client  exchange.Client
	risk    *riskstate.Store
	market  *market.Store
	limiter *ratelimit.Limiter
	sink    alert.Sink
	signal  signal.Func
	publish OrderPublisher
	mode    string
	runID   string

	reconciled         bool
	reconBlocked       bool
	currentPositionQty float64
	entryEquity        float64
	lastClosedCandle   time.Time
	lastClosedPnLCheck time.Time
	sessionTradeCount  int
	sessionStart       time.Time
	leverageSet        bool
}

// New builds a Pipeline for one symbol.
func New(cfg SafetyConfig, client exchange.Client, risk *riskstate.Store, marketStore *market.Store, limiter *ratelimit.Limiter, sink alert.Sink, signalFn signal.Func, publish OrderPublisher, mode, runID string) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		sink = alert.LogSink{}
	}
	return &Pipeline{
		cfg:          cfg,
		client:       client,
		risk:         risk,
		market:       marketStore,
		limiter:      limiter,
		sink:         sink,
		signal:       signalFn,
		publish:      publish,
		mode:         mode,
		runID:        runID,
		sessionStart: time.Now(),
	}, nil
}

// Reconcile runs the startup-time reconciliation guard exactly once.
// Callers must invoke this before the first RunCycle.
func (p *Pipeline) Reconcile(ctx context.Context) {
	if p.reconciled {
		return
	}
	p.reconcile(ctx)
}

// RunCycle runs one cycle per candle interval for this symbol, per the
// ordered sequence in spec.md §4.6. The pipeline never runs two cycles
// concurrently for the same symbol; callers must serialize RunCycle
// calls (e.g. one ticker goroutine per symbol).
func (p *Pipeline) RunCycle(ctx context.Context) error {
	// 1. Enablement.
	if !p.cfg.Enabled {
		return nil
	}

	// 2. Account refresh.
	equity, position, err := p.refreshAccount(ctx)
	if err != nil {
		log.Printf("pipeline[%s]: account refresh failed: %v", p.cfg.Symbol, err)
		return nil
	}
	if equity <= 0 {
		log.Printf("pipeline[%s]: non-positive equity %.4f, aborting cycle", p.cfg.Symbol, equity)
		return nil
	}
	p.currentPositionQty = position
	p.logBrokerMark()

	// 3. Closed-PnL ingestion, at most once per 5 minutes.
	p.ingestClosedPnL(ctx, equity)

	// 4. Risk gates, in order.
	if blocked, reason := p.checkRiskGates(equity); blocked {
		log.Printf("pipeline[%s]: cycle aborted: %s", p.cfg.Symbol, reason)
		return nil
	}

	// 5. Session gates.
	sessionCapped := p.checkSessionGates()

	// 6. Market data.
	candles, err := exchangeRetry(ctx, func(c context.Context) ([]exchange.Candle, error) {
		return p.client.Klines(c, p.cfg.Symbol, 100)
	})
	if err != nil {
		log.Printf("pipeline[%s]: klines fetch failed after retries: %v", p.cfg.Symbol, err)
		return nil
	}
	closed := closedCandles(candles)
	if len(closed) < minClosedCandles {
		return nil
	}

	// 7. Duplicate-candle guard.
	last := closed[len(closed)-1]
	if !p.lastClosedCandle.IsZero() && last.OpenTime.Equal(p.lastClosedCandle) {
		return nil
	}

	// 8. Signal computation.
	result, ok := p.signal(closed)
	if !ok {
		return nil
	}
	p.lastClosedCandle = last.OpenTime

	if p.cfg.EarlyExitOnCross && result.BearCross && p.currentPositionQty > 0 {
		p.emitReduceOnlyExit(last.OpenTime, p.currentPositionQty)
		p.currentPositionQty = 0
		return nil
	}

	// 9. Position occupancy.
	if p.currentPositionQty > 0 {
		return nil
	}

	if !result.EnterLong {
		return nil
	}

	if sessionCapped {
		return nil
	}

	// 10. Pre-order checks.
	margin, err := exchangeRetry(ctx, func(c context.Context) (exchange.MarginInfo, error) {
		return p.client.Margin(c, p.cfg.Symbol, p.cfg.PositionIdx)
	})
	if err != nil {
		log.Printf("pipeline[%s]: margin fetch failed after retries: %v", p.cfg.Symbol, err)
		return nil
	}
	if margin.Found && margin.MarginRatio > p.cfg.MaxMarginRatio {
		p.sink.Emit(alert.CategoryMarginBlock, "margin ratio exceeds configured maximum", map[string]any{
			"symbol":       p.cfg.Symbol,
			"margin_ratio": margin.MarginRatio,
			"max":          p.cfg.MaxMarginRatio,
		})
		log.Printf("pipeline[%s]: SAFETY_MARGIN_BLOCK margin_ratio=%.4f max=%.4f", p.cfg.Symbol, margin.MarginRatio, p.cfg.MaxMarginRatio)
		return nil
	}

	if !p.leverageSet {
		if err := p.client.SetLeverage(ctx, p.cfg.Symbol, p.cfg.Leverage); err != nil {
			log.Printf("pipeline[%s]: set leverage failed: %v", p.cfg.Symbol, err)
		}
		p.leverageSet = true
	}

	precision, err := p.client.Precision(ctx, p.cfg.Symbol)
	if err != nil {
		log.Printf("pipeline[%s]: precision fetch failed: %v", p.cfg.Symbol, err)
		return nil
	}

	qty := sizeQty(equity, p.cfg.RiskPct, p.cfg.StopLossPct, result.Price, p.cfg.CashDeployCapPct, precision.QtyStep, precision.MinQty)
	if qty <= 0 {
		return nil
	}

	// 11. Order placement.
	if !p.emitEntry(ctx, last.OpenTime, qty, result.Price) {
		return nil
	}
	p.currentPositionQty = qty
	p.entryEquity = equity
	p.sessionTradeCount++

	return nil
}

func (p *Pipeline) refreshAccount(ctx context.Context) (float64, float64, error) {
	if p.limiter != nil {
		if err := p.limiter.Acquire(ctx); err != nil {
			return 0, 0, err
		}
	}
	equity, err := exchangeRetry(ctx, p.client.WalletEquity)
	if err != nil {
		return 0, 0, err
	}
	pos, err := exchangeRetry(ctx, func(c context.Context) (exchange.Position, error) {
		return p.client.Position(c, p.cfg.Symbol, p.cfg.PositionIdx)
	})
	if err != nil {
		return equity, 0, err
	}
	return equity, pos.Size, nil
}

// logBrokerMark reports the paper broker's own view of this symbol's
// mark price and unrealized PnL, when a market store is wired in. The
// pipeline does not act on this reading; it is informational, since the
// broker is the position's sole writer.
func (p *Pipeline) logBrokerMark() {
	if p.market == nil {
		return
	}
	pos := p.market.Position(p.cfg.Symbol)
	if pos.Size == 0 {
		return
	}
	log.Printf("pipeline[%s]: broker mark=%.4f unrealized_pnl=%.4f broker_size=%.8f",
		p.cfg.Symbol, pos.MarkPrice, pos.UnrealPnL, pos.Size)
}

func (p *Pipeline) ingestClosedPnL(ctx context.Context, equity float64) {
	if !p.lastClosedPnLCheck.IsZero() && time.Since(p.lastClosedPnLCheck) < closedPnLPollInterval {
		return
	}
	p.lastClosedPnLCheck = time.Now()

	since := time.Now().Add(-24 * time.Hour)
	trades, err := exchangeRetry(ctx, func(c context.Context) ([]exchange.ClosedTrade, error) {
		return p.client.ClosedPnL(c, p.cfg.Symbol, since)
	})
	if err != nil {
		log.Printf("pipeline[%s]: closed-pnl fetch failed: %v", p.cfg.Symbol, err)
		return
	}
	for _, t := range trades {
		if _, err := p.risk.RecordTrade(t.RealizedPnL, t.CreatedTime); err != nil {
			p.sink.Emit(alert.CategoryRuntimeError, "failed to persist risk state after trade ingestion", map[string]any{
				"symbol": p.cfg.Symbol,
				"error":  err.Error(),
			})
		}
	}
	if err := p.risk.UpdatePeak(equity); err != nil {
		p.sink.Emit(alert.CategoryRuntimeError, "failed to persist risk state after peak update", map[string]any{
			"symbol": p.cfg.Symbol,
			"error":  err.Error(),
		})
	}
}

func (p *Pipeline) checkRiskGates(equity float64) (bool, string) {
	if p.cfg.ConsecutiveLossLimit > 0 && p.risk.ConsecutiveLosses() >= p.cfg.ConsecutiveLossLimit {
		p.sink.Emit(alert.CategoryCircuitBreaker, "consecutive loss limit reached", map[string]any{
			"symbol":             p.cfg.Symbol,
			"consecutive_losses": p.risk.ConsecutiveLosses(),
			"limit":              p.cfg.ConsecutiveLossLimit,
		})
		return true, "SAFETY_CIRCUIT_BREAKER"
	}

	dailyPnL := p.risk.DailyPnL(time.Time{})
	if equity > 0 && p.cfg.MaxDailyLossPct > 0 {
		lossFrac := math.Abs(math.Min(dailyPnL, 0)) / equity
		if lossFrac > p.cfg.MaxDailyLossPct {
			p.sink.Emit(alert.CategoryDailyLoss, "daily loss limit exceeded", map[string]any{
				"symbol":    p.cfg.Symbol,
				"daily_pnl": dailyPnL,
				"equity":    equity,
				"limit_pct": p.cfg.MaxDailyLossPct,
			})
			return true, "SAFETY_DAILY_LOSS"
		}
	}

	if peak := p.risk.PeakEquity(); peak > 0 && p.cfg.DrawdownThresholdPct > 0 {
		dd := (peak - equity) / peak
		if dd > p.cfg.DrawdownThresholdPct {
			p.sink.Emit(alert.CategoryDrawdown, "drawdown threshold exceeded", map[string]any{
				"symbol":    p.cfg.Symbol,
				"peak":      peak,
				"equity":    equity,
				"drawdown":  dd,
				"threshold": p.cfg.DrawdownThresholdPct,
			})
			return true, "SAFETY_DRAWDOWN"
		}
	}

	if p.reconBlocked {
		p.sink.Emit(alert.CategoryReconBlock, "reconciliation guard still latched", map[string]any{
			"symbol": p.cfg.Symbol,
		})
		return true, "SAFETY_RECON_BLOCK"
	}

	return false, ""
}

func (p *Pipeline) checkSessionGates() bool {
	capped := false
	if p.cfg.SessionMaxTrades > 0 && p.sessionTradeCount >= p.cfg.SessionMaxTrades {
		p.sink.Emit(alert.CategorySessionTrades, "session trade cap reached", map[string]any{
			"symbol": p.cfg.Symbol,
			"count":  p.sessionTradeCount,
			"cap":    p.cfg.SessionMaxTrades,
		})
		capped = true
	}
	if p.cfg.SessionMaxRuntimeMinutes > 0 {
		runtime := time.Since(p.sessionStart)
		if runtime >= time.Duration(p.cfg.SessionMaxRuntimeMinutes)*time.Minute {
			p.sink.Emit(alert.CategorySessionRuntime, "session runtime cap reached", map[string]any{
				"symbol":          p.cfg.Symbol,
				"runtime_minutes": runtime.Minutes(),
				"cap_minutes":     p.cfg.SessionMaxRuntimeMinutes,
			})
			capped = true
		}
	}
	return capped
}

// emitEntry places a single bracketed market-long order (entry + take
// profit + stop loss, under a deterministic order_link_id) against the
// exchange client, per spec.md §4.6 step 11. The bus publish — which
// feeds the paper execution simulator and any dashboards — only happens
// once that placement has succeeded; on failure the cycle treats this as
// no entry and reports false so RunCycle leaves position/session state
// untouched.
func (p *Pipeline) emitEntry(ctx context.Context, candleTs time.Time, qty, price float64) bool {
	orderLinkID := fmt.Sprintf("entry-%s-%d", p.cfg.Symbol, candleTs.Unix())
	stopLoss := stopLossPrice(price, p.cfg.StopLossPct)
	takeProfit := takeProfitPrice(price, p.cfg.TakeProfitPct)

	req := exchange.OrderRequest{
		Symbol:      p.cfg.Symbol,
		Side:        string(types.SideBuy),
		Quantity:    qty,
		TakeProfit:  takeProfit,
		StopLoss:    stopLoss,
		TriggerBy:   string(p.cfg.TriggerBy),
		PositionIdx: p.cfg.PositionIdx,
		OrderLinkID: orderLinkID,
	}
	if err := exchange.WithRetry(ctx, func(c context.Context) error {
		return p.client.PlaceBracketOrder(c, req)
	}); err != nil {
		log.Printf("pipeline[%s]: bracket order placement failed after retries: %v", p.cfg.Symbol, err)
		return false
	}

	order := types.Order{
		ID:        uuid.NewString(),
		ClientID:  orderLinkID,
		Symbol:    p.cfg.Symbol,
		Type:      string(types.OrderTypeMarket),
		Side:      string(types.SideBuy),
		Price:     price,
		StopPrice: stopLoss,
		Quantity:  qty,
		Timestamp: time.Now(),
	}
	if p.publish != nil {
		if err := p.publish(order); err != nil {
			log.Printf("pipeline[%s]: failed to publish entry intent: %v", p.cfg.Symbol, err)
		}
	}
	log.Printf("pipeline[%s]: entry intent mode=%s qty=%.8f price=%.4f take_profit=%.4f stop_loss=%.4f",
		p.cfg.Symbol, p.mode, qty, price, takeProfit, stopLoss)
	return true
}

// emitReduceOnlyExit publishes exactly one reduce-only exit intent, per
// spec.md §4.6 step 8 and §9's resolution of the "two reduce-only
// orders" open question.
func (p *Pipeline) emitReduceOnlyExit(candleTs time.Time, qty float64) {
	order := types.Order{
		ID:         uuid.NewString(),
		ClientID:   fmt.Sprintf("exit-%s-%d", p.cfg.Symbol, candleTs.Unix()),
		Symbol:     p.cfg.Symbol,
		Type:       string(types.OrderTypeMarket),
		Side:       string(types.SideSell),
		Quantity:   qty,
		ReduceOnly: true,
		Timestamp:  time.Now(),
	}
	if p.publish != nil {
		if err := p.publish(order); err != nil {
			log.Printf("pipeline[%s]: failed to publish exit intent: %v", p.cfg.Symbol, err)
		}
	}
}

func closedCandles(candles []exchange.Candle) []exchange.Candle {
	out := make([]exchange.Candle, 0, len(candles))
	for _, c := range candles {
		if c.Closed {
			out = append(out, c)
		}
	}
	return out
}

// exchangeRetry adapts exchange.WithRetry's error-only signature to
// calls that also return a value.
func exchangeRetry[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var result T
	err := exchange.WithRetry(ctx, func(c context.Context) error {
		v, err := fn(c)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}
