// Package broker implements the paper-execution simulator (C5): latency,
// slippage, partial fills, fees, funding, position accounting, and
// execution-report publication. This is a direct generalization of
// execution_service.go's PaperBroker from the teacher repo.
package broker

import (
	"errors"
	"log"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/autovant/perp-paper-core/internal/alert"
	"github.com/autovant/perp-paper-core/internal/market"
	"github.com/autovant/perp-paper-core/internal/metrics"
	"github.com/autovant/perp-paper-core/internal/types"
)

// Publisher is anything the broker can hand a finished execution report
// to. cmd/execution wires this to bus.Publish[types.ExecutionReport].
type Publisher func(types.ExecutionReport) error

// Broker is the paper execution simulator. It owns no state of its own
// beyond bookkeeping caches (dedup, maker/taker counters); symbol market
// and position state live in the shared *market.Store so a risk gate
// pipeline wired to the same store can read marks (logBrokerMark)
// without going through the bus.
type Broker struct {
	cfg         Config
	store       *market.Store
	publish     Publisher
	runID       string
	mode        string
	sink        alert.Sink
	latencySig  float64
	random      *rand.Rand
	makerCount  float64
	takerCount  float64
	counterMu   sync.Mutex
	dedupMu     sync.Mutex
	dedup       map[string]dedupEntry
}

type dedupEntry struct {
	seenAt   time.Time
	rejected bool
	reports  []types.ExecutionReport
}

// New builds a Broker. mode is one of "live", "paper", "replay" and is
// echoed onto every report and metric label.
func New(cfg Config, store *market.Store, publish Publisher, runID, mode string, sink alert.Sink) (*Broker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		sink = alert.LogSink{}
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Broker{
		cfg:        cfg,
		store:      store,
		publish:    publish,
		runID:      runID,
		mode:       mode,
		sink:       sink,
		latencySig: deriveSigma(cfg.Latency.MeanMs, cfg.Latency.P95Ms),
		random:     rand.New(rand.NewSource(seed)),
		dedup:      make(map[string]dedupEntry),
	}, nil
}

// deriveSigma computes sigma for the clamped-non-negative normal used to
// sample ack latency, per spec.md §4.5.
func deriveSigma(mean, p95 float64) float64 {
	if p95 > mean {
		return math.Max((p95-mean)/1.645, 1.0)
	}
	if mean > 0 {
		return math.Max(mean*0.2, 1.0)
	}
	return 1.0
}

// UpdateMarket forwards a market data snapshot to the shared store.
func (b *Broker) UpdateMarket(md types.MarketData) {
	b.store.Update(md)
}

// HandleOrder implements the order reception contract from spec.md §4.5.
func (b *Broker) HandleOrder(order types.Order) {
	if b.mode == "live" {
		b.reject(order, "live execution not configured")
		return
	}

	if order.ClientID == "" {
		order.ClientID = order.ID
	}

	if prior, handled := b.checkDedup(order.ClientID); handled {
		if prior.rejected {
			return
		}
		for _, r := range prior.reports {
			b.publishReport(r)
		}
		return
	}

	if err := order.Validate(); err != nil {
		if errors.Is(err, types.ErrUnknownType) || errors.Is(err, types.ErrUnknownSide) {
			log.Printf("broker: dropping order %s with unrecognized shape: %v", order.ClientID, err)
			b.rememberDedup(order.ClientID, dedupEntry{seenAt: time.Now(), rejected: true})
			return
		}
		log.Printf("broker: rejecting invalid order %s: %v", order.ClientID, err)
		b.reject(order, err.Error())
		return
	}

	snap, ok := b.store.Snapshot(order.Symbol)
	if !ok {
		log.Printf("broker: no market snapshot for %s; dropping order %s", order.Symbol, order.ClientID)
		return
	}

	side := types.Side(order.Side)
	orderType := types.OrderType(order.Type)

	maker := orderType == types.OrderTypeLimit && !b.crossesSpread(orderType, side, order.Price, snap)

	slices := b.buildFillPlan(orderType, side, order.Price, order.Quantity, snap, maker)
	if len(slices) == 0 {
		return
	}

	reports := make([]types.ExecutionReport, 0, len(slices))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, slice := range slices {
		wg.Add(1)
		go func(slice fillSlice) {
			defer wg.Done()
			report := b.completeFill(order, slice, maker)
			mu.Lock()
			reports = append(reports, report)
			mu.Unlock()
		}(slice)
	}

	b.rememberDedup(order.ClientID, dedupEntry{seenAt: time.Now()})
	wg.Wait()
	b.finalizeDedup(order.ClientID, reports)
}

func (b *Broker) reject(order types.Order, reason string) {
	metrics.OrderRejects.WithLabelValues(b.mode, b.runID).Inc()
	if order.ClientID == "" {
		log.Printf("broker: rejecting order with no client id (%s): %s", order.ID, reason)
		return
	}
	report := types.ExecutionReport{
		OrderID:      order.ID,
		ClientID:     order.ClientID,
		Symbol:       order.Symbol,
		Executed:     false,
		Error:        reason,
		Mode:         b.mode,
		RunID:        b.runID,
		Timestamp:    time.Now(),
		IsShadow:     order.IsShadow,
		ReduceOnly:   order.ReduceOnly,
		OrderType:    order.Type,
		StopPrice:    order.StopPrice,
		InitialPrice: order.Price,
	}
	b.rememberDedup(order.ClientID, dedupEntry{seenAt: time.Now(), rejected: true})
	b.publishReport(report)
}

func (b *Broker) publishReport(report types.ExecutionReport) {
	if b.publish == nil {
		return
	}
	if err := b.publish(report); err != nil {
		log.Printf("broker: failed to publish execution report for %s: %v", report.ClientID, err)
	}
}

func (b *Broker) checkDedup(clientID string) (dedupEntry, bool) {
	b.dedupMu.Lock()
	defer b.dedupMu.Unlock()
	entry, ok := b.dedup[clientID]
	if !ok {
		return dedupEntry{}, false
	}
	window := time.Duration(b.cfg.DedupWindowSeconds) * time.Second
	if window > 0 && time.Since(entry.seenAt) > window {
		delete(b.dedup, clientID)
		return dedupEntry{}, false
	}
	return entry, true
}

func (b *Broker) rememberDedup(clientID string, entry dedupEntry) {
	b.dedupMu.Lock()
	defer b.dedupMu.Unlock()
	b.dedup[clientID] = entry
}

func (b *Broker) finalizeDedup(clientID string, reports []types.ExecutionReport) {
	b.dedupMu.Lock()
	defer b.dedupMu.Unlock()
	if entry, ok := b.dedup[clientID]; ok && !entry.rejected {
		entry.reports = reports
		b.dedup[clientID] = entry
	}
}

// crossesSpread implements the routing decision from spec.md §4.5: a
// buy crosses iff price >= best_ask (or mid if ask undefined);
// symmetric for sell. market/stop_market always cross (always taker).
func (b *Broker) crossesSpread(orderType types.OrderType, side types.Side, price float64, snap market.Snapshot) bool {
	if orderType != types.OrderTypeLimit {
		return true
	}
	mid := snap.Mid()
	if side == types.SideBuy {
		if snap.BestAsk > 0 {
			return price >= snap.BestAsk
		}
		return price >= mid
	}
	if snap.BestBid > 0 {
		return price <= snap.BestBid
	}
	return price <= mid
}
