package perfreport

import (
	"testing"
	"time"

	"github.com/autovant/perp-paper-core/internal/types"
)

func fill(pnl, fees float64) types.ExecutionReport {
	return types.ExecutionReport{
		Executed:    true,
		Quantity:    1,
		RealizedPnL: pnl,
		Fees:        fees,
		Timestamp:   time.Now(),
	}
}

func TestTracker_IgnoresUnfilledReports(t *testing.T) {
	tr := NewTracker()
	tr.Observe(types.ExecutionReport{Executed: false, Quantity: 1, RealizedPnL: 100})
	tr.Observe(types.ExecutionReport{Executed: true, Quantity: 0, RealizedPnL: 100})

	snap := tr.Snapshot()
	if snap.TotalTrades != 0 {
		t.Fatalf("expected 0 trades counted, got %d", snap.TotalTrades)
	}
}

func TestTracker_WinRateAndTotalPnL(t *testing.T) {
	tr := NewTracker()
	tr.Observe(fill(10, 1))  // realized 10 (already net of fees), win
	tr.Observe(fill(-5, 1))  // realized -5, loss
	tr.Observe(fill(20, 2))  // realized 20, win

	snap := tr.Snapshot()
	if snap.TotalTrades != 3 {
		t.Fatalf("expected 3 trades, got %d", snap.TotalTrades)
	}
	if snap.WinRate < 0.66 || snap.WinRate > 0.67 {
		t.Fatalf("expected win rate ~0.667, got %f", snap.WinRate)
	}
	wantPnL := 10.0 - 5.0 + 20.0
	if snap.TotalPnL != wantPnL {
		t.Fatalf("expected total pnl %f, got %f", wantPnL, snap.TotalPnL)
	}
}

func TestTracker_MaxDrawdownTracksPeakToTrough(t *testing.T) {
	tr := NewTracker()
	tr.Observe(fill(100, 0)) // equity 100, peak 100
	tr.Observe(fill(-50, 0)) // equity 50, drawdown 0.5
	tr.Observe(fill(10, 0))  // equity 60, still 0.5 max

	snap := tr.Snapshot()
	if snap.MaxDrawdown < 0.49 || snap.MaxDrawdown > 0.51 {
		t.Fatalf("expected max drawdown ~0.5, got %f", snap.MaxDrawdown)
	}
}

func TestTracker_SharpeZeroOnSingleTrade(t *testing.T) {
	tr := NewTracker()
	tr.Observe(fill(10, 0))

	snap := tr.Snapshot()
	if snap.SharpeRatio != 0 {
		t.Fatalf("expected sharpe 0 with fewer than 2 samples, got %f", snap.SharpeRatio)
	}
}
