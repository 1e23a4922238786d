package broker

import (
	"time"

	"github.com/autovant/perp-paper-core/internal/metrics"
	"github.com/autovant/perp-paper-core/internal/types"
)

// completeFill is the terminal step of the per-intent state machine in
// spec.md §4.5: WAIT(delay) -> LOCK -> APPLY -> PUBLISH -> UNLOCK. The
// store's lock is held across the full bookkeeping of this one slice so
// that report publication is serialized with position mutation per
// symbol, per the concurrency invariant in §4.5 and §5.
func (b *Broker) completeFill(order types.Order, slice fillSlice, maker bool) types.ExecutionReport {
	time.Sleep(time.Duration(slice.delayMs) * time.Millisecond)

	b.store.Lock()
	defer b.store.Unlock()

	pos := b.store.PositionLocked(order.Symbol)
	snap, _ := b.store.SnapshotLocked(order.Symbol)

	realized := applyPositionFill(pos, types.Side(order.Side), slice.quantity, slice.price)
	pos.MarkPrice = slice.markPrice
	pos.UnrealPnL = computeUnrealPnL(pos)

	feeRate := b.cfg.FeeBps / 10_000
	if maker {
		feeRate = b.cfg.MakerRebateBps / 10_000
	}
	fees := slice.price * slice.quantity * feeRate

	funding := 0.0
	if b.cfg.FundingEnabled {
		funding = slice.price * slice.quantity * snap.FundingRate
	}
	netRealized := realized - fees - funding

	b.recordMakerTaker(maker)
	metrics.SlippageBps.WithLabelValues(b.mode, b.runID).Observe(slice.slipBps)
	metrics.FillLatency.WithLabelValues(b.mode, b.runID).Observe(slice.delayMs / 1000.0)
	metrics.SignalAckLatency.WithLabelValues(b.mode, b.runID).Observe(slice.ackLatencyMs / 1000.0)

	report := types.ExecutionReport{
		OrderID:       order.ID,
		ClientID:      order.ClientID,
		Symbol:        order.Symbol,
		Executed:      true,
		Price:         slice.price,
		MarkPrice:     slice.markPrice,
		Quantity:      slice.quantity,
		Fees:          fees,
		Funding:       funding,
		RealizedPnL:   netRealized,
		SlippageBps:   slice.slipBps,
		Maker:         maker,
		AckLatencyMs:  slice.ackLatencyMs,
		FillLatencyMs: slice.delayMs,
		Mode:          b.mode,
		RunID:         b.runID,
		Timestamp:     time.Now(),
		IsShadow:      order.IsShadow,
		ReduceOnly:    order.ReduceOnly,
		OrderType:     order.Type,
		StopPrice:     order.StopPrice,
		InitialPrice:  order.Price,
	}

	b.publishReport(report)
	return report
}

func (b *Broker) recordMakerTaker(maker bool) {
	b.counterMu.Lock()
	defer b.counterMu.Unlock()
	if maker {
		b.makerCount++
	} else {
		b.takerCount++
	}
	total := b.makerCount + b.takerCount
	if total > 0 {
		metrics.MakerRatio.WithLabelValues(b.mode, b.runID).Set(b.makerCount / total)
	}
}
