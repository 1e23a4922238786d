// Package riskstate implements the durable JSON snapshot of peak equity,
// per-day realized PnL, and consecutive-loss count that survives
// restarts and feeds the risk gate's safety checks.
package riskstate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/autovant/perp-paper-core/internal/alert"
)

// Snapshot is the on-disk / wire representation, matching the persisted
// state layout in spec.md §6.
type Snapshot struct {
	PeakEquity        float64            `json:"peak_equity"`
	DailyPnLByDate    map[string]float64 `json:"daily_pnl_by_date"`
	ConsecutiveLosses int                `json:"consecutive_losses"`
	SeenTradeTimes    []string           `json:"seen_trade_timestamps"`
}

// Store is the mutex-protected, single-writer, atomically-persisted
// risk state held by the risk gate pipeline.
type Store struct {
	mu   sync.Mutex
	path string
	sink alert.Sink

	peakEquity float64
	dailyPnL   map[string]float64
	consecLoss int
	seen       map[string]bool
	seenOrder  []string
}

// New creates an empty store that persists to path. If sink is nil, a
// LogSink is used.
func New(path string, sink alert.Sink) *Store {
	if sink == nil {
		sink = alert.LogSink{}
	}
	return &Store{
		path:     path,
		sink:     sink,
		dailyPnL: make(map[string]float64),
		seen:     make(map[string]bool),
	}
}

// Load reads path if present and parseable and seeds in-memory state
// from it. A missing file is not an error. A corrupt file is logged as
// SAFETY_STATE_LOAD failure and treated as empty, per spec.md §6.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("riskstate: read %s: %w", s.path, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.sink.Emit(alert.CategoryStateLoad, "risk state file corrupt, starting empty", map[string]any{
			"path":  s.path,
			"error": err.Error(),
		})
		return nil
	}

	s.peakEquity = snap.PeakEquity
	s.consecLoss = snap.ConsecutiveLosses
	if snap.DailyPnLByDate != nil {
		s.dailyPnL = snap.DailyPnLByDate
	}
	s.seen = make(map[string]bool, len(snap.SeenTradeTimes))
	s.seenOrder = append([]string(nil), snap.SeenTradeTimes...)
	for _, ts := range snap.SeenTradeTimes {
		s.seen[ts] = true
	}

	s.sink.Emit(alert.CategoryStateLoad, "risk state loaded from disk", map[string]any{
		"path":               s.path,
		"peak_equity":        s.peakEquity,
		"consecutive_losses": s.consecLoss,
	})
	return nil
}

// RecordTrade accepts a trade (pnl, timestamp) if its timestamp has not
// been seen before. On accept it updates the day's realized PnL bucket
// and the consecutive-loss counter, then persists. Returns whether the
// trade was newly accepted.
func (s *Store) RecordTrade(pnl float64, timestamp time.Time) (bool, error) {
	s.mu.Lock()
	key := timestamp.UTC().Format(time.RFC3339Nano)
	if s.seen[key] {
		s.mu.Unlock()
		return false, nil
	}
	s.seen[key] = true
	s.seenOrder = append(s.seenOrder, key)

	date := timestamp.UTC().Format("2006-01-02")
	s.dailyPnL[date] += pnl
	if pnl < 0 {
		s.consecLoss++
	} else {
		s.consecLoss = 0
	}
	s.mu.Unlock()

	return true, s.persist()
}

// UpdatePeak raises the peak-equity watermark monotonically; losses
// never decrease it.
func (s *Store) UpdatePeak(equity float64) error {
	s.mu.Lock()
	raised := equity > s.peakEquity
	if raised {
		s.peakEquity = equity
	}
	s.mu.Unlock()

	if !raised {
		return nil
	}
	return s.persist()
}

// DailyPnL returns the realized PnL recorded for date (UTC "today" if
// date is zero).
func (s *Store) DailyPnL(date time.Time) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if date.IsZero() {
		date = time.Now().UTC()
	}
	return s.dailyPnL[date.UTC().Format("2006-01-02")]
}

// Drawdown returns (peak-equity)/peak as a fraction, or 0 if no peak has
// been recorded yet.
func (s *Store) Drawdown(currentEquity float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peakEquity <= 0 {
		return 0
	}
	return (s.peakEquity - currentEquity) / s.peakEquity
}

// PeakEquity returns the current watermark.
func (s *Store) PeakEquity() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peakEquity
}

// ConsecutiveLosses returns the current streak count.
func (s *Store) ConsecutiveLosses() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consecLoss
}

// Snapshot returns a copy of the current in-memory state, for telemetry
// publication (cmd/riskbeacon) or tests.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	daily := make(map[string]float64, len(s.dailyPnL))
	for k, v := range s.dailyPnL {
		daily[k] = v
	}
	return Snapshot{
		PeakEquity:        s.peakEquity,
		DailyPnLByDate:    daily,
		ConsecutiveLosses: s.consecLoss,
		SeenTradeTimes:    append([]string(nil), s.seenOrder...),
	}
}

// Persist writes the current state to disk atomically (temp file then
// rename), as required for any risk-state writer.
func (s *Store) Persist() error { return s.persist() }

func (s *Store) persist() error {
	s.mu.Lock()
	snap := Snapshot{
		PeakEquity:        s.peakEquity,
		DailyPnLByDate:    make(map[string]float64, len(s.dailyPnL)),
		ConsecutiveLosses: s.consecLoss,
		SeenTradeTimes:    append([]string(nil), s.seenOrder...),
	}
	for k, v := range s.dailyPnL {
		snap.DailyPnLByDate[k] = v
	}
	path := s.path
	s.mu.Unlock()

	if path == "" {
		return nil
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("riskstate: marshal: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("riskstate: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("riskstate: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("riskstate: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("riskstate: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("riskstate: rename: %w", err)
	}
	return nil
}
