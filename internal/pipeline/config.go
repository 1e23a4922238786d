// Package pipeline implements the risk-gated order intent cycle (C6):
// per-symbol candle fetch, signal computation, an ordered sequence of
// safety gates, and the resulting bracketed order intent.
package pipeline

import "fmt"

// TriggerBy selects which price the exchange uses to evaluate TP/SL
// triggers.
type TriggerBy string

const (
	TriggerLastPrice  TriggerBy = "LastPrice"
	TriggerMarkPrice  TriggerBy = "MarkPrice"
	TriggerIndexPrice TriggerBy = "IndexPrice"
)

// SafetyConfig is the per-symbol Safety Config from spec.md §3.
type SafetyConfig struct {
	Symbol  string `json:"symbol"`
	Enabled bool   `json:"enabled"`

	ConsecutiveLossLimit     int `json:"consecutive_loss_limit,omitempty"` // 0 = disabled
	SessionMaxTrades         int `json:"session_max_trades,omitempty"`     // 0 = disabled
	SessionMaxRuntimeMinutes int `json:"session_max_runtime_minutes,omitempty"`

	MaxMarginRatio        float64 `json:"max_margin_ratio"`
	MaxDailyLossPct       float64 `json:"max_daily_loss_pct"`
	DrawdownThresholdPct  float64 `json:"drawdown_threshold_pct"`

	RequestsPerSecond int `json:"requests_per_second"`
	RequestsPerMinute int `json:"requests_per_minute"`

	RiskPct          float64 `json:"risk_pct"`
	StopLossPct      float64 `json:"stop_loss_pct"`
	TakeProfitPct    float64 `json:"take_profit_pct"`
	CashDeployCapPct float64 `json:"cash_deploy_cap_pct"`
	Leverage         float64 `json:"leverage"`

	PositionIdx      int       `json:"position_idx"`
	TriggerBy        TriggerBy `json:"trigger_by"`
	EarlyExitOnCross bool      `json:"early_exit_on_cross"`

	StateFile string `json:"state_file"`

	CandleIntervalMinutes int `json:"candle_interval_minutes"`
}

// Validate applies basic range checks; the pipeline treats a malformed
// config as a fatal configuration error per spec.md §7.
func (c SafetyConfig) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("safety config: symbol is required")
	}
	if c.StopLossPct < 0 || c.TakeProfitPct < 0 {
		return fmt.Errorf("safety config: stop_loss_pct/take_profit_pct must be non-negative")
	}
	if c.PositionIdx < 0 || c.PositionIdx > 2 {
		return fmt.Errorf("safety config: position_idx must be 0, 1, or 2")
	}
	switch c.TriggerBy {
	case TriggerLastPrice, TriggerMarkPrice, TriggerIndexPrice, "":
	default:
		return fmt.Errorf("safety config: invalid trigger_by %q", c.TriggerBy)
	}
	if c.CandleIntervalMinutes < 0 {
		return fmt.Errorf("safety config: candle_interval_minutes must be non-negative")
	}
	return nil
}
