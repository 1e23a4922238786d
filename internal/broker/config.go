package broker

import "fmt"

// LatencyConfig describes the ack-latency distribution sampled per slice.
type LatencyConfig struct {
	MeanMs float64 `json:"mean_ms"`
	P95Ms  float64 `json:"p95_ms"`
}

// PartialFillConfig controls maker-limit slicing.
type PartialFillConfig struct {
	Enabled     bool    `json:"enabled"`
	MinSlicePct float64 `json:"min_slice_pct"`
	MaxSlices   int     `json:"max_slices"`
}

// Config is the Paper Broker Configuration from the data model: an
// explicitly enumerated, validated record rather than a freeform
// options bag.
type Config struct {
	FeeBps         float64           `json:"fee_bps"`
	MakerRebateBps float64           `json:"maker_rebate_bps"`
	FundingEnabled bool              `json:"funding_enabled"`
	SlippageBps    float64           `json:"slippage_bps"`
	MaxSlippageBps float64           `json:"max_slippage_bps"`
	SpreadCoeff    float64           `json:"spread_slippage_coeff"`
	OFICoeff       float64           `json:"ofi_slippage_coeff"`
	Latency        LatencyConfig     `json:"latency_ms"`
	PartialFill    PartialFillConfig `json:"partial_fill"`
	Seed           int64             `json:"seed"`

	// DedupWindowSeconds is how long an idempotency key is remembered
	// for the "already-seen" repeat-or-drop contract in spec.md §4.5.
	DedupWindowSeconds int `json:"dedup_window_seconds"`
}

// Validate enforces the Paper Broker Configuration invariants.
func (c Config) Validate() error {
	if c.MaxSlippageBps < c.SlippageBps {
		return fmt.Errorf("max_slippage_bps (%.4f) must be >= slippage_bps (%.4f)", c.MaxSlippageBps, c.SlippageBps)
	}
	if c.Latency.P95Ms < c.Latency.MeanMs {
		return fmt.Errorf("latency_p95_ms (%.4f) must be >= latency_mean_ms (%.4f)", c.Latency.P95Ms, c.Latency.MeanMs)
	}
	if c.PartialFill.MaxSlices < 1 {
		return fmt.Errorf("partial_fill.max_slices must be >= 1")
	}
	if c.PartialFill.MinSlicePct < 0 || c.PartialFill.MinSlicePct > 1 {
		return fmt.Errorf("partial_fill.min_slice_pct must be in [0,1]")
	}
	if c.SpreadCoeff < 0 || c.OFICoeff < 0 {
		return fmt.Errorf("slippage coefficients must be non-negative")
	}
	return nil
}

// DefaultConfig mirrors the teacher's hardcoded defaults in
// execution_service.go's main(), now factored out as a named default.
func DefaultConfig() Config {
	return Config{
		FeeBps:         7,
		MakerRebateBps: -1,
		FundingEnabled: true,
		SlippageBps:    3,
		MaxSlippageBps: 10,
		SpreadCoeff:    0.5,
		OFICoeff:       0.35,
		Latency: LatencyConfig{
			MeanMs: 120,
			P95Ms:  300,
		},
		PartialFill: PartialFillConfig{
			Enabled:     true,
			MinSlicePct: 0.15,
			MaxSlices:   4,
		},
		DedupWindowSeconds: 300,
	}
}
