package broker

import (
	"math"

	"github.com/autovant/perp-paper-core/internal/market"
	"github.com/autovant/perp-paper-core/internal/types"
)

// applyPositionFill implements the position accounting rule from
// spec.md §4.5: same-sign (or flat) fills grow the position and
// re-average; opposite-sign fills close up to |size| and realize PnL,
// with any leftover quantity opening a fresh position in the new sign.
// It mutates pos in place and returns the realized PnL from this fill.
func applyPositionFill(pos *market.Position, side types.Side, quantity, price float64) float64 {
	sign := 1.0
	if side == types.SideSell {
		sign = -1.0
	}

	size := pos.Size
	avg := pos.AvgPrice

	if size == 0 || size*sign >= 0 {
		totalQty := math.Abs(size) + quantity
		newAvg := avg
		if totalQty > 0 {
			newAvg = (avg*math.Abs(size) + price*quantity) / totalQty
		}
		pos.Size = size + quantity*sign
		pos.AvgPrice = newAvg
		return 0
	}

	closing := math.Min(math.Abs(size), quantity)
	var realized float64
	if size > 0 {
		realized = (price - avg) * closing
	} else {
		realized = (avg - price) * closing
	}

	remaining := math.Abs(size) - closing
	if remaining > 1e-12 {
		pos.Size = math.Copysign(remaining, size)
		pos.AvgPrice = avg
		return realized
	}

	leftover := quantity - closing
	if leftover > 1e-12 {
		pos.Size = leftover * sign
		pos.AvgPrice = price
	} else {
		pos.Size = 0
		pos.AvgPrice = 0
	}
	return realized
}

// computeUnrealPnL recomputes unrealized PnL for the current mark, per
// the Market Snapshot Store's mark-refresh rule.
func computeUnrealPnL(pos *market.Position) float64 {
	if pos.Size == 0 || pos.MarkPrice <= 0 {
		return 0
	}
	return (pos.MarkPrice - pos.AvgPrice) * pos.Size
}
