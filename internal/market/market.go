// Package market implements the per-symbol market snapshot store (C2):
// best bid/ask, last trade, funding, and an EMA-decayed order-flow
// imbalance accumulator, plus the position-mark refresh that fires on
// every snapshot.
package market

import (
	"math"
	"sync"
	"time"

	"github.com/autovant/perp-paper-core/internal/types"
)

// ofiDecay is the EMA decay factor applied to order-flow imbalance on
// every snapshot: OFI <- decay*OFI + signedLastSize.
const ofiDecay = 0.85

// Snapshot is the in-memory representation of one symbol's market state.
type Snapshot struct {
	BestBid     float64
	BestAsk     float64
	BidSize     float64
	AskSize     float64
	LastPrice   float64
	LastSide    string
	LastSize    float64
	FundingRate float64
	OrderFlow   float64
	Timestamp   time.Time
}

// Mid returns (bid+ask)/2, falling back to the last trade price when the
// spread is undefined.
func (s Snapshot) Mid() float64 {
	if s.BestBid > 0 && s.BestAsk > 0 {
		return (s.BestBid + s.BestAsk) / 2
	}
	return s.LastPrice
}

// Position mirrors a single symbol's signed size / average entry /
// mark / unrealized PnL, per the Position State data model.
type Position struct {
	Size      float64
	AvgPrice  float64
	MarkPrice float64
	UnrealPnL float64
}

// Store is the single-writer-per-symbol, mutex-guarded map the paper
// broker owns. It is also consulted (read-only) by the risk gate
// pipeline's mark lookup (logBrokerMark) when one is wired in.
type Store struct {
	mu        sync.Mutex
	snapshots map[string]*Snapshot
	positions map[string]*Position
}

// New returns an empty store.
func New() *Store {
	return &Store{
		snapshots: make(map[string]*Snapshot),
		positions: make(map[string]*Position),
	}
}

// Update applies an inbound MarketData message: refreshes the snapshot,
// updates the OFI accumulator, and — if a position exists for the
// symbol — recomputes its mark and unrealized PnL.
func (s *Store) Update(md types.MarketData) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.snapshots[md.Symbol]
	if !ok {
		snap = &Snapshot{}
		s.snapshots[md.Symbol] = snap
	}

	snap.BestBid = md.BestBid
	snap.BestAsk = md.BestAsk
	snap.BidSize = md.BidSize
	snap.AskSize = md.AskSize
	snap.LastPrice = md.LastPrice
	snap.LastSide = md.LastSide
	snap.LastSize = md.LastSize
	snap.FundingRate = md.FundingRate
	snap.Timestamp = md.Timestamp

	if md.LastSide != "" {
		signed := md.LastSize
		if md.LastSide == string(types.SideSell) {
			signed = -math.Abs(md.LastSize)
		}
		snap.OrderFlow = snap.OrderFlow*ofiDecay + signed
	}

	if pos, ok := s.positions[md.Symbol]; ok && pos.Size != 0 {
		mid := snap.Mid()
		pos.MarkPrice = mid
		pos.UnrealPnL = unrealized(pos, mid)
	}
}

// Snapshot returns a copy of the current snapshot for symbol, or false
// if none has arrived yet.
func (s *Store) Snapshot(symbol string) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[symbol]
	if !ok {
		return Snapshot{}, false
	}
	return *snap, true
}

// Position returns a copy of the current position for symbol.
func (s *Store) Position(symbol string) Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pos, ok := s.positions[symbol]; ok {
		return *pos
	}
	return Position{}
}

// MutatePosition runs fn against the live position for symbol under the
// store's lock, creating it if absent, and returns the post-mutation
// copy. Besides this, callers outside this package can mutate a position
// only through PositionLocked while holding Lock, as the paper broker
// does for a fill.
func (s *Store) MutatePosition(symbol string, fn func(*Position)) Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[symbol]
	if !ok {
		pos = &Position{}
		s.positions[symbol] = pos
	}
	fn(pos)
	return *pos
}

// Lock/Unlock expose the store's mutex so the paper broker can serialize
// a full fill's bookkeeping (market read + position mutation + report
// publish) under one critical section, per the concurrency invariant in
// spec.md §4.5 and §5.
func (s *Store) Lock()   { s.mu.Lock() }
func (s *Store) Unlock() { s.mu.Unlock() }

// SnapshotLocked and PositionLocked read state assuming the caller
// already holds the store's lock.
func (s *Store) SnapshotLocked(symbol string) (Snapshot, bool) {
	snap, ok := s.snapshots[symbol]
	if !ok {
		return Snapshot{}, false
	}
	return *snap, true
}

func (s *Store) PositionLocked(symbol string) *Position {
	pos, ok := s.positions[symbol]
	if !ok {
		pos = &Position{}
		s.positions[symbol] = pos
	}
	return pos
}

func unrealized(pos *Position, mark float64) float64 {
	if pos.Size == 0 || mark <= 0 {
		return 0
	}
	return (mark - pos.AvgPrice) * pos.Size
}
