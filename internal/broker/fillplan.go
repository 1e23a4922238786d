package broker

import (
	"math"

	"github.com/autovant/perp-paper-core/internal/market"
	"github.com/autovant/perp-paper-core/internal/types"
)

// fillSlice is one scheduled, independently-delayed completion of an
// order. Taker and stop orders produce exactly one slice; maker limit
// orders may produce 1..max_slices.
type fillSlice struct {
	delayMs      float64
	ackLatencyMs float64
	quantity     float64
	price        float64
	slipBps      float64
	markPrice    float64
}

// buildFillPlan implements the routing + slippage + partial-fill plan
// from spec.md §4.5. It is called synchronously from HandleOrder, which
// NATS guarantees is serialized per-subscription, so reads of b.random
// here need no additional lock.
func (b *Broker) buildFillPlan(orderType types.OrderType, side types.Side, price, quantity float64, snap market.Snapshot, maker bool) []fillSlice {
	mid := snap.Mid()
	if mid <= 0 {
		mid = price
	}
	ackLatency := b.sampleLatency()

	switch orderType {
	case types.OrderTypeMarket, types.OrderTypeStopMarket:
		slip := b.computeSlippage(side, snap)
		fillPrice := b.applySlippage(side, mid, snap, slip)
		return []fillSlice{{
			delayMs:      ackLatency,
			ackLatencyMs: ackLatency,
			quantity:     quantity,
			price:        fillPrice,
			slipBps:      slip,
			markPrice:    mid,
		}}

	case types.OrderTypeLimit:
		if !maker {
			slip := b.computeSlippage(side, snap)
			fillPrice := b.applySlippage(side, mid, snap, slip)
			return []fillSlice{{
				delayMs:      ackLatency,
				ackLatencyMs: ackLatency,
				quantity:     quantity,
				price:        fillPrice,
				slipBps:      slip,
				markPrice:    mid,
			}}
		}
		return b.makerPartialFillPlan(price, quantity, mid, ackLatency)
	}

	return nil
}

// makerPartialFillPlan implements the partial-fill allocation rule from
// spec.md §4.5: a uniformly-chosen slice count, a minimum allocation per
// slice (except the last, which absorbs the remainder), and a random
// draw within [min, max_alloc] for middle slices.
func (b *Broker) makerPartialFillPlan(price, quantity, mid, ackLatency float64) []fillSlice {
	if !b.cfg.PartialFill.Enabled || b.cfg.PartialFill.MaxSlices <= 1 {
		return []fillSlice{{
			delayMs:      ackLatency,
			ackLatencyMs: ackLatency,
			quantity:     quantity,
			price:        price,
			slipBps:      0,
			markPrice:    mid,
		}}
	}

	numSlices := b.random.Intn(b.cfg.PartialFill.MaxSlices) + 1

	minPct := b.cfg.PartialFill.MinSlicePct
	if minPct <= 0 {
		minPct = 1.0 / float64(numSlices)
	}
	minQty := quantity * minPct

	slices := make([]fillSlice, 0, numSlices)
	remaining := quantity
	for i := 0; i < numSlices; i++ {
		slicesLeft := numSlices - i
		var sliceQty float64
		if i == numSlices-1 {
			sliceQty = remaining
		} else {
			reserve := minQty * float64(slicesLeft-1)
			maxAlloc := remaining - reserve
			if maxAlloc <= minQty {
				sliceQty = math.Min(minQty, remaining)
			} else {
				sliceQty = minQty + b.random.Float64()*(maxAlloc-minQty)
			}
		}
		if sliceQty <= 0 {
			continue
		}
		remaining -= sliceQty
		delay := b.sampleLatency() * (1 + float64(i)*0.5)
		slices = append(slices, fillSlice{
			delayMs:      delay,
			ackLatencyMs: ackLatency,
			quantity:     sliceQty,
			price:        price,
			slipBps:      0,
			markPrice:    mid,
		})
	}
	if len(slices) > 0 && remaining > 1e-9 {
		slices[len(slices)-1].quantity += remaining
	}
	return slices
}

// computeSlippage implements the slippage model from spec.md §4.5.
func (b *Broker) computeSlippage(side types.Side, snap market.Snapshot) float64 {
	spreadBps := 0.0
	mid := snap.Mid()
	if mid > 0 && snap.BestBid > 0 && snap.BestAsk > 0 {
		spreadBps = (snap.BestAsk - snap.BestBid) / mid * 10_000
	}
	adverse := math.Max(0, snap.OrderFlow)
	if side == types.SideBuy {
		adverse = math.Max(0, -snap.OrderFlow)
	}
	slip := b.cfg.SlippageBps + spreadBps*b.cfg.SpreadCoeff + adverse*b.cfg.OFICoeff
	if slip > b.cfg.MaxSlippageBps {
		return b.cfg.MaxSlippageBps
	}
	if slip < 0 {
		return 0
	}
	return slip
}

// applySlippage inflates/deflates the taker fill price off top-of-book.
func (b *Broker) applySlippage(side types.Side, mid float64, snap market.Snapshot, slipBps float64) float64 {
	if side == types.SideBuy {
		base := mid
		if snap.BestAsk > 0 {
			base = snap.BestAsk
		}
		return base * (1 + slipBps/10_000)
	}
	base := mid
	if snap.BestBid > 0 {
		base = snap.BestBid
	}
	return base * (1 - slipBps/10_000)
}

// sampleLatency draws from a clamped-non-negative normal, per spec.md
// §4.5's latency model.
func (b *Broker) sampleLatency() float64 {
	lat := b.random.NormFloat64()*b.latencySig + b.cfg.Latency.MeanMs
	if lat < 0 {
		return 0
	}
	return lat
}
