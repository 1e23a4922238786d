// Package metrics centralizes the Prometheus surface shared by the paper
// broker, the risk gate pipeline, and the feed/replay publishers. The
// teacher registers these per-service with duplicated var blocks; here
// they live in one registry so every process exposes the same names.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	TradingMode = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trading_mode",
			Help: "Set to 1 for the active mode label",
		},
		[]string{"mode"},
	)

	SignalAckLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "signal_ack_latency_seconds",
			Help:    "Latency between order intent receipt and simulated acknowledgement",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode", "run_id"},
	)

	FillLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "paper_fill_latency_seconds",
			Help:    "Latency between order ack and fill in the paper broker",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode", "run_id"},
	)

	SlippageBps = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "paper_slippage_bps",
			Help:    "Observed slippage in basis points",
			Buckets: []float64{0, 1, 2.5, 5, 7.5, 10, 15, 20},
		},
		[]string{"mode", "run_id"},
	)

	MakerRatio = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "paper_maker_ratio",
			Help: "Ratio of maker fills recorded by the paper broker",
		},
		[]string{"mode", "run_id"},
	)

	OrderRejects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paper_order_rejects_total",
			Help: "Total number of rejected orders",
		},
		[]string{"mode", "run_id"},
	)

	MarketSpreadATRPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "market_spread_atr_percent",
			Help: "Spread expressed as a percentage of ATR",
		},
		[]string{"symbol"},
	)
)

func init() {
	prometheus.MustRegister(
		TradingMode,
		SignalAckLatency,
		FillLatency,
		SlippageBps,
		MakerRatio,
		OrderRejects,
		MarketSpreadATRPercent,
	)
}
