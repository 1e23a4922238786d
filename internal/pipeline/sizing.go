package pipeline

import "math"

// sizeQty implements the position sizing rule from spec.md §4.6.2.
func sizeQty(equity, riskPct, stopLossPct, price, cashDeployCapPct, qtyStep, minQty float64) float64 {
	if stopLossPct <= 0 || price <= 0 || equity <= 0 {
		return 0
	}

	riskDollars := equity * riskPct
	notionalFromRisk := riskDollars / stopLossPct
	deployCap := equity * cashDeployCapPct
	usdToDeploy := math.Min(notionalFromRisk, deployCap)
	qtyRaw := usdToDeploy / price

	qty := roundDown(qtyRaw, qtyStep)
	if qty < minQty {
		return 0
	}
	return qty
}

// roundDown floors qty to the nearest multiple of step.
func roundDown(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	return math.Floor(qty/step) * step
}

// takeProfitPrice and stopLossPrice compute the bracket levels from
// spec.md §4.6.2.
func takeProfitPrice(entry, takeProfitPct float64) float64 {
	return entry * (1 + takeProfitPct)
}

func stopLossPrice(entry, stopLossPct float64) float64 {
	return entry * (1 - stopLossPct)
}
