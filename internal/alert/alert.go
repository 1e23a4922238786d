// Package alert implements the structured ALERT[category] emission used
// by every safety trigger in the risk gate pipeline and paper broker.
package alert

import (
	"fmt"
	"log"
	"sort"
	"strings"
)

// Category names for alerts raised by the core. Sinks are free to ignore
// categories they don't care about.
const (
	CategoryCircuitBreaker  = "safety_circuit_breaker"
	CategoryDailyLoss       = "safety_daily_loss"
	CategoryDrawdown        = "safety_drawdown"
	CategoryMarginBlock     = "safety_margin_block"
	CategorySessionTrades   = "safety_session_trades"
	CategorySessionRuntime  = "safety_session_runtime"
	CategoryReconAdopt      = "safety_recon_adopt"
	CategoryReconBlock      = "safety_recon_block"
	CategoryStateLoad       = "safety_state_load"
	CategoryRateLimit       = "safety_rate_limit"
	CategoryRuntimeError    = "runtime_error"
)

// Sink is the polymorphic alert destination. Implementations must not
// acquire the paper broker's lock; they are called from pipeline and
// broker goroutines and must return quickly.
type Sink interface {
	Emit(category, message string, context map[string]any)
}

// LogSink is the default sink: one line per alert via the stdlib logger,
// of the form "ALERT[<category>]: <message> | context={k=v,...}".
type LogSink struct{}

// Emit logs the alert line.
func (LogSink) Emit(category, message string, context map[string]any) {
	log.Printf("%s", Format(category, message, context))
}

// Format renders an alert line without emitting it, so callers (tests,
// alternate sinks) can reuse the exact wire format.
func Format(category, message string, context map[string]any) string {
	keys := make([]string, 0, len(context))
	for k := range context {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%v", k, context[k]))
	}
	return fmt.Sprintf("ALERT[%s]: %s | context={%s}", category, message, strings.Join(pairs, ","))
}
