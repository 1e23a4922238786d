// Package perfreport accumulates execution reports into a rolling
// performance summary: trade count, win rate, total PnL, max drawdown
// and a per-trade Sharpe ratio over realized PnL. Adapted
// from reporter.go's stubbed PerformanceReport into a tracker actually
// fed by trading.executions.
package perfreport

import (
	"math"
	"sync"
	"time"

	"github.com/autovant/perp-paper-core/internal/types"
)

// Report is the wire payload published on the performance report
// subject.
type Report struct {
	TotalTrades int       `json:"total_trades"`
	WinRate     float64   `json:"win_rate"`
	TotalPnL    float64   `json:"total_pnl"`
	MaxDrawdown float64   `json:"max_drawdown"`
	SharpeRatio float64   `json:"sharpe_ratio"`
	Timestamp   time.Time `json:"timestamp"`
}

// Tracker consumes execution reports and maintains the running figures
// behind a Report snapshot. Safe for concurrent use.
type Tracker struct {
	mu sync.Mutex

	trades   int
	wins     int
	totalPnL float64
	equity   float64
	peak     float64
	maxDD    float64
	returns  []float64
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Observe folds one execution report's realized PnL into the running
// figures. Unfilled or zero-quantity reports (rejections, acks with no
// fill) are ignored.
func (t *Tracker) Observe(report types.ExecutionReport) {
	if !report.Executed || report.Quantity == 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// The broker reports RealizedPnL already net of fees and funding.
	net := report.RealizedPnL
	t.trades++
	if net > 0 {
		t.wins++
	}
	t.totalPnL += net
	t.returns = append(t.returns, net)

	t.equity += net
	if t.equity > t.peak {
		t.peak = t.equity
	}
	if t.peak > 0 {
		if dd := (t.peak - t.equity) / t.peak; dd > t.maxDD {
			t.maxDD = dd
		}
	}
}

// Snapshot computes a Report from the figures observed so far.
func (t *Tracker) Snapshot() Report {
	t.mu.Lock()
	defer t.mu.Unlock()

	var winRate float64
	if t.trades > 0 {
		winRate = float64(t.wins) / float64(t.trades)
	}

	return Report{
		TotalTrades: t.trades,
		WinRate:     winRate,
		TotalPnL:    t.totalPnL,
		MaxDrawdown: t.maxDD,
		SharpeRatio: sharpeRatio(t.returns),
		Timestamp:   time.Now(),
	}
}

// sharpeRatio computes the mean-over-stddev ratio of the return series,
// treating one trade as one sample and scaling by sqrt(n). It is not
// annualized: no time-based scaling is applied.
func sharpeRatio(returns []float64) float64 {
	n := len(returns)
	if n < 2 {
		return 0
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(n)

	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(n - 1)
	stddev := math.Sqrt(variance)
	if stddev == 0 {
		return 0
	}

	return (mean / stddev) * math.Sqrt(float64(n))
}
