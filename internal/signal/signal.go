// Package signal defines the pluggable candle-signal boundary consumed
// by the risk gate pipeline. Per spec.md §1 the actual indicator math
// (moving averages, VWAP, RSI, ATR, ...) is explicitly out of scope;
// this package only specifies the function shape and ships the
// thinnest reference implementation (a moving-average cross) so the
// pipeline is runnable and testable end to end.
package signal

import "github.com/autovant/perp-paper-core/internal/exchange"

// Result is what signals(candles) returns: whether to enter a long, the
// previous-bar fast/slow values (for bull/bear cross detection), and
// the price to size against.
type Result struct {
	EnterLong bool
	BearCross bool
	PrevFast  float64
	PrevSlow  float64
	Price     float64
}

// Func is the pluggable signal computation the pipeline calls each
// cycle once it has >= 35 closed candles.
type Func func(candles []exchange.Candle) (Result, bool)

// MovingAverageCross is a minimal reference Func: fast/slow simple
// moving average cross. It exists only so the pipeline can be exercised
// end to end; real strategies supply their own Func.
func MovingAverageCross(fastPeriod, slowPeriod int) Func {
	return func(candles []exchange.Candle) (Result, bool) {
		if len(candles) < slowPeriod+1 {
			return Result{}, false
		}
		closes := make([]float64, len(candles))
		for i, c := range candles {
			closes[i] = c.Close
		}

		fastNow := sma(closes, len(closes)-1, fastPeriod)
		slowNow := sma(closes, len(closes)-1, slowPeriod)
		fastPrev := sma(closes, len(closes)-2, fastPeriod)
		slowPrev := sma(closes, len(closes)-2, slowPeriod)

		bullCross := fastPrev <= slowPrev && fastNow > slowNow
		bearCross := fastPrev >= slowPrev && fastNow < slowNow

		return Result{
			EnterLong: bullCross,
			BearCross: bearCross,
			PrevFast:  fastPrev,
			PrevSlow:  slowPrev,
			Price:     closes[len(closes)-1],
		}, true
	}
}

func sma(closes []float64, upTo, period int) float64 {
	if upTo+1 < period {
		period = upTo + 1
	}
	if period <= 0 {
		return 0
	}
	var sum float64
	for i := upTo - period + 1; i <= upTo; i++ {
		sum += closes[i]
	}
	return sum / float64(period)
}
