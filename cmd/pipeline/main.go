// Command pipeline runs the risk gate pipeline (C6): one per-symbol
// cycle driver per entry in the Safety Config file, each on its own
// candle-interval ticker, publishing order intents to trading.orders.
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/autovant/perp-paper-core/internal/alert"
	"github.com/autovant/perp-paper-core/internal/bus"
	"github.com/autovant/perp-paper-core/internal/config"
	"github.com/autovant/perp-paper-core/internal/exchange"
	"github.com/autovant/perp-paper-core/internal/health"
	"github.com/autovant/perp-paper-core/internal/metrics"
	"github.com/autovant/perp-paper-core/internal/pipeline"
	"github.com/autovant/perp-paper-core/internal/ratelimit"
	"github.com/autovant/perp-paper-core/internal/riskstate"
	tradingsignal "github.com/autovant/perp-paper-core/internal/signal"
	"github.com/autovant/perp-paper-core/internal/types"
)

func main() {
	appMode := config.String("APP_MODE", "paper")
	runID := os.Getenv("RUN_ID")
	if runID == "" {
		runID = appMode
	}

	configs, err := loadSafetyConfigs(config.String("SAFETY_CONFIG_FILE", "config/safety.json"))
	if err != nil {
		log.Fatalf("pipeline: failed to load safety config: %v", err)
	}
	if len(configs) == 0 {
		log.Fatal("pipeline: safety config file defines no symbols")
	}

	metrics.TradingMode.With(prometheus.Labels{"mode": appMode}).Set(1)

	go func() {
		addr := config.String("METRICS_ADDR", ":8083")
		http.Handle("/metrics", promhttp.Handler())
		http.HandleFunc("/health", health.Handler)
		log.Printf("pipeline: prometheus metrics exposed on %s", addr)
		if err := http.ListenAndServe(addr, nil); err != nil {
			log.Printf("pipeline: metrics server error: %v", err)
		}
	}()

	natsURL := config.String("NATS_URL", "nats://localhost:4222")
	nc, err := bus.Connect(natsURL)
	if err != nil {
		log.Fatalf("pipeline: failed to connect to NATS: %v", err)
	}
	defer nc.Close()
	log.Printf("pipeline: connected to NATS at %s (mode=%s symbols=%d)", natsURL, appMode, len(configs))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("pipeline: shutting down")
		cancel()
	}()

	exchangeClient := exchange.NewFake()
	sink := alert.LogSink{}

	var wg sync.WaitGroup
	for _, cfg := range configs {
		cfg := cfg
		statePath := cfg.StateFile
		if statePath == "" {
			statePath = "state/" + cfg.Symbol + ".json"
		}
		risk := riskstate.New(statePath, sink)
		if err := risk.Load(); err != nil {
			log.Printf("pipeline[%s]: risk state load failed: %v", cfg.Symbol, err)
		}

		limiter := ratelimit.New(cfg.RequestsPerSecond, cfg.RequestsPerMinute, sink)
		sig := tradingsignal.MovingAverageCross(5, 20)
		publish := func(o types.Order) error {
			return bus.Publish(nc, bus.SubjectOrders, o)
		}

		p, err := pipeline.New(cfg, exchangeClient, risk, nil, limiter, sink, sig, publish, appMode, runID)
		if err != nil {
			log.Fatalf("pipeline[%s]: invalid safety config: %v", cfg.Symbol, err)
		}
		p.Reconcile(ctx)

		interval := time.Duration(cfg.CandleIntervalMinutes) * time.Minute
		if interval <= 0 {
			interval = time.Minute
		}

		wg.Add(1)
		go func(symbol string, interval time.Duration) {
			defer wg.Done()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := p.RunCycle(ctx); err != nil {
						log.Printf("pipeline[%s]: cycle error: %v", symbol, err)
					}
				}
			}
		}(cfg.Symbol, interval)
	}

	wg.Wait()
	log.Println("pipeline: stopped")
}

func loadSafetyConfigs(path string) ([]pipeline.SafetyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var configs []pipeline.SafetyConfig
	if err := json.Unmarshal(data, &configs); err != nil {
		return nil, err
	}
	return configs, nil
}
