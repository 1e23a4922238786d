// Command riskbeacon periodically reads each symbol's durable risk state
// file and broadcasts a Risk State Snapshot on risk.state, for
// dashboards. It does not mutate state; cmd/pipeline is
// the sole writer.
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/autovant/perp-paper-core/internal/alert"
	"github.com/autovant/perp-paper-core/internal/bus"
	"github.com/autovant/perp-paper-core/internal/config"
	"github.com/autovant/perp-paper-core/internal/health"
	"github.com/autovant/perp-paper-core/internal/metrics"
	"github.com/autovant/perp-paper-core/internal/pipeline"
	"github.com/autovant/perp-paper-core/internal/riskstate"
)

// beaconSnapshot is the wire payload published on risk.state: a Risk
// State Snapshot tagged with the symbol it describes.
type beaconSnapshot struct {
	Symbol string `json:"symbol"`
	riskstate.Snapshot
}

func main() {
	appMode := config.String("APP_MODE", "paper")

	configs, err := loadSafetyConfigs(config.String("SAFETY_CONFIG_FILE", "config/safety.json"))
	if err != nil {
		log.Fatalf("riskbeacon: failed to load safety config: %v", err)
	}

	metrics.TradingMode.With(prometheus.Labels{"mode": appMode}).Set(1)

	go func() {
		addr := config.String("METRICS_ADDR", ":8084")
		http.Handle("/metrics", promhttp.Handler())
		http.HandleFunc("/health", health.Handler)
		log.Printf("riskbeacon: prometheus metrics exposed on %s", addr)
		if err := http.ListenAndServe(addr, nil); err != nil {
			log.Printf("riskbeacon: metrics server error: %v", err)
		}
	}()

	natsURL := config.String("NATS_URL", "nats://localhost:4222")
	nc, err := bus.Connect(natsURL)
	if err != nil {
		log.Fatalf("riskbeacon: failed to connect to NATS: %v", err)
	}
	defer nc.Close()
	log.Printf("riskbeacon: connected to NATS at %s (symbols=%d)", natsURL, len(configs))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("riskbeacon: shutting down")
		cancel()
	}()

	interval := time.Duration(config.Int("RISKBEACON_INTERVAL_SECONDS", 15)) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sink := alert.LogSink{}

	for {
		select {
		case <-ctx.Done():
			log.Println("riskbeacon: stopped")
			return
		case <-ticker.C:
			for _, cfg := range configs {
				statePath := cfg.StateFile
				if statePath == "" {
					statePath = "state/" + cfg.Symbol + ".json"
				}
				store := riskstate.New(statePath, sink)
				if err := store.Load(); err != nil {
					log.Printf("riskbeacon[%s]: load failed: %v", cfg.Symbol, err)
					continue
				}
				payload := beaconSnapshot{Symbol: cfg.Symbol, Snapshot: store.Snapshot()}
				if err := bus.Publish(nc, bus.SubjectRiskState, payload); err != nil {
					log.Printf("riskbeacon[%s]: publish failed: %v", cfg.Symbol, err)
				}
			}
		}
	}
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
