// Command execution runs the paper execution simulator (C5): it
// subscribes to market data and order intents, simulates fills, and
// publishes execution reports.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/autovant/perp-paper-core/internal/alert"
	"github.com/autovant/perp-paper-core/internal/broker"
	"github.com/autovant/perp-paper-core/internal/bus"
	"github.com/autovant/perp-paper-core/internal/config"
	"github.com/autovant/perp-paper-core/internal/health"
	"github.com/autovant/perp-paper-core/internal/market"
	"github.com/autovant/perp-paper-core/internal/metrics"
	"github.com/autovant/perp-paper-core/internal/types"
)

func main() {
	appMode := config.String("APP_MODE", "paper")
	runID := os.Getenv("RUN_ID")
	if runID == "" {
		runID = fmt.Sprintf("%s-%d", appMode, time.Now().Unix())
	}

	cfg := broker.DefaultConfig()
	cfg.FeeBps = config.Float("PAPER_FEE_BPS", cfg.FeeBps)
	cfg.MakerRebateBps = config.Float("PAPER_MAKER_REBATE_BPS", cfg.MakerRebateBps)
	cfg.SlippageBps = config.Float("PAPER_SLIPPAGE_BPS", cfg.SlippageBps)
	cfg.MaxSlippageBps = config.Float("PAPER_MAX_SLIPPAGE_BPS", cfg.MaxSlippageBps)
	cfg.FundingEnabled = config.Bool("PAPER_FUNDING_ENABLED", cfg.FundingEnabled)
	cfg.Seed = int64(config.Int("PAPER_SEED", 0))

	metrics.TradingMode.With(prometheus.Labels{"mode": appMode}).Set(1)

	go func() {
		addr := config.String("METRICS_ADDR", ":8080")
		http.Handle("/metrics", promhttp.Handler())
		http.HandleFunc("/health", health.Handler)
		log.Printf("execution: prometheus metrics exposed on %s", addr)
		if err := http.ListenAndServe(addr, nil); err != nil {
			log.Printf("execution: metrics server error: %v", err)
		}
	}()

	natsURL := config.String("NATS_URL", "nats://localhost:4222")
	nc, err := bus.Connect(natsURL)
	if err != nil {
		log.Fatalf("execution: failed to connect to NATS: %v", err)
	}
	defer nc.Close()
	log.Printf("execution: connected to NATS at %s (mode=%s run_id=%s)", natsURL, appMode, runID)

	store := market.New()
	sink := alert.LogSink{}
	publish := func(report types.ExecutionReport) error {
		return bus.Publish(nc, bus.SubjectExecutions, report)
	}

	b, err := broker.New(cfg, store, publish, runID, appMode, sink)
	if err != nil {
		log.Fatalf("execution: invalid paper broker configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("execution: shutting down")
		cancel()
	}()

	if _, err := bus.Subscribe(nc, bus.SubjectMarketData, b.UpdateMarket); err != nil {
		log.Fatalf("execution: failed to subscribe to market data: %v", err)
	}
	if _, err := bus.Subscribe(nc, bus.SubjectOrders, b.HandleOrder); err != nil {
		log.Fatalf("execution: failed to subscribe to orders: %v", err)
	}

	<-ctx.Done()
	log.Println("execution: stopped")
}
