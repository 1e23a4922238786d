package pipeline

import (
	"context"
	"log"

	"github.com/autovant/perp-paper-core/internal/alert"
	"github.com/autovant/perp-paper-core/internal/exchange"
)

// reconcile implements the startup-time reconciliation guard from
// spec.md §4.6.1. It runs exactly once, before any cycle. Exceptions
// from the query are logged and do not advance the guard: p.reconciled
// stays false, so a later call to Reconcile queries again. RunCycle does
// not call Reconcile itself.
func (p *Pipeline) reconcile(ctx context.Context) {
	pos, err := p.client.Position(ctx, p.cfg.Symbol, p.cfg.PositionIdx)
	if err != nil {
		log.Printf("pipeline[%s]: reconciliation query failed: %v", p.cfg.Symbol, err)
		return
	}

	switch pos.Shape() {
	case exchange.ShapeFlat:
		p.reconciled = true
	case exchange.ShapeLong:
		log.Printf("pipeline[%s]: SAFETY_RECON_ADOPT adopting existing long size=%.8f", p.cfg.Symbol, pos.Size)
		p.sink.Emit(alert.CategoryReconAdopt, "adopted existing long position on startup", map[string]any{
			"symbol": p.cfg.Symbol,
			"size":   pos.Size,
		})
		p.currentPositionQty = pos.Size
		p.reconciled = true
	default:
		log.Printf("pipeline[%s]: SAFETY_RECON_ADOPT then SAFETY_RECON_BLOCK: incompatible position shape size=%.8f", p.cfg.Symbol, pos.Size)
		p.sink.Emit(alert.CategoryReconAdopt, "found incompatible pre-existing position on startup", map[string]any{
			"symbol": p.cfg.Symbol,
			"size":   pos.Size,
		})
		p.sink.Emit(alert.CategoryReconBlock, "new entries blocked pending operator clearance", map[string]any{
			"symbol": p.cfg.Symbol,
		})
		p.reconBlocked = true
		p.reconciled = true
	}
}
