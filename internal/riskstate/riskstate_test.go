package riskstate

import (
	"path/filepath"
	"testing"
	"time"
)

func TestStore_LoadMissingFileIsNotError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "risk.json")
	s := New(path, nil)
	if err := s.Load(); err != nil {
		t.Fatalf("Load on missing file: %v", err)
	}
	if s.PeakEquity() != 0 {
		t.Fatalf("expected zero-value peak equity, got %v", s.PeakEquity())
	}
}

func TestStore_RecordTradeDedupsByTimestamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "risk.json")
	s := New(path, nil)
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	accepted, err := s.RecordTrade(-10, ts)
	if err != nil || !accepted {
		t.Fatalf("first RecordTrade: accepted=%v err=%v", accepted, err)
	}
	accepted, err = s.RecordTrade(-10, ts)
	if err != nil || accepted {
		t.Fatalf("duplicate RecordTrade should be rejected: accepted=%v err=%v", accepted, err)
	}
	if got := s.DailyPnL(ts); got != -10 {
		t.Fatalf("expected daily pnl -10 after dedup, got %v", got)
	}
	if s.ConsecutiveLosses() != 1 {
		t.Fatalf("expected consecutive losses 1, got %d", s.ConsecutiveLosses())
	}
}

func TestStore_ConsecutiveLossesResetsOnWin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "risk.json")
	s := New(path, nil)
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if _, err := s.RecordTrade(-10, ts); err != nil {
		t.Fatalf("RecordTrade loss: %v", err)
	}
	if _, err := s.RecordTrade(-10, ts.Add(time.Minute)); err != nil {
		t.Fatalf("RecordTrade loss: %v", err)
	}
	if s.ConsecutiveLosses() != 2 {
		t.Fatalf("expected 2 consecutive losses, got %d", s.ConsecutiveLosses())
	}
	if _, err := s.RecordTrade(5, ts.Add(2*time.Minute)); err != nil {
		t.Fatalf("RecordTrade win: %v", err)
	}
	if s.ConsecutiveLosses() != 0 {
		t.Fatalf("expected win to reset consecutive losses, got %d", s.ConsecutiveLosses())
	}
}

func TestStore_PeakEquityIsMonotonic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "risk.json")
	s := New(path, nil)

	if err := s.UpdatePeak(1000); err != nil {
		t.Fatalf("UpdatePeak: %v", err)
	}
	if err := s.UpdatePeak(800); err != nil {
		t.Fatalf("UpdatePeak: %v", err)
	}
	if s.PeakEquity() != 1000 {
		t.Fatalf("expected peak to stay at 1000 after a dip, got %v", s.PeakEquity())
	}
	if dd := s.Drawdown(800); dd < 0.19 || dd > 0.21 {
		t.Fatalf("expected drawdown ~0.2, got %v", dd)
	}
}

// S6: a restart reloads peak equity, daily PnL, and consecutive losses
// from disk, and continues deduping the same trade timestamps.
func TestStore_PersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "risk.json")
	ts := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	first := New(path, nil)
	if err := first.UpdatePeak(1000); err != nil {
		t.Fatalf("UpdatePeak: %v", err)
	}
	if _, err := first.RecordTrade(-50, ts); err != nil {
		t.Fatalf("RecordTrade: %v", err)
	}

	second := New(path, nil)
	if err := second.Load(); err != nil {
		t.Fatalf("Load after restart: %v", err)
	}
	if second.PeakEquity() != 1000 {
		t.Fatalf("expected peak equity 1000 after reload, got %v", second.PeakEquity())
	}
	if second.ConsecutiveLosses() != 1 {
		t.Fatalf("expected consecutive losses 1 after reload, got %d", second.ConsecutiveLosses())
	}
	if got := second.DailyPnL(ts); got != -50 {
		t.Fatalf("expected daily pnl -50 after reload, got %v", got)
	}

	accepted, err := second.RecordTrade(-50, ts)
	if err != nil || accepted {
		t.Fatalf("expected the same timestamp to stay deduped after reload: accepted=%v err=%v", accepted, err)
	}
}

func TestStore_SnapshotIsACopy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "risk.json")
	s := New(path, nil)
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := s.RecordTrade(25, ts); err != nil {
		t.Fatalf("RecordTrade: %v", err)
	}

	snap := s.Snapshot()
	snap.DailyPnLByDate["2026-01-01"] = 999

	if got := s.DailyPnL(ts); got != 25 {
		t.Fatalf("mutating the snapshot's map leaked into the store: got %v", got)
	}
}
