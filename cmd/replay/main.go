// Command replay plays back a CSV or Parquet historical source onto the
// market data subject, under pause/resume/seek control (C9).
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/autovant/perp-paper-core/internal/bus"
	"github.com/autovant/perp-paper-core/internal/config"
	"github.com/autovant/perp-paper-core/internal/health"
	"github.com/autovant/perp-paper-core/internal/metrics"
	"github.com/autovant/perp-paper-core/internal/replay"
	"github.com/autovant/perp-paper-core/internal/types"
)

func main() {
	appMode := config.String("APP_MODE", "replay")

	cfg := replay.Config{
		Source: config.String("REPLAY_SOURCE", "sample_data/btc_eth_4h.parquet"),
		Speed:  config.String("REPLAY_SPEED", "10x"),
		Start:  config.String("REPLAY_START", ""),
		End:    config.String("REPLAY_END", ""),
		Symbol: config.String("REPLAY_SYMBOL", "BTCUSDT"),
	}

	metrics.TradingMode.With(prometheus.Labels{"mode": appMode}).Set(1)

	go func() {
		addr := config.String("METRICS_ADDR", ":8082")
		http.Handle("/metrics", promhttp.Handler())
		http.HandleFunc("/health", health.Handler)
		log.Printf("replay: prometheus metrics exposed on %s", addr)
		if err := http.ListenAndServe(addr, nil); err != nil {
			log.Printf("replay: metrics server error: %v", err)
		}
	}()

	natsURL := config.String("NATS_URL", "nats://localhost:4222")
	nc, err := bus.Connect(natsURL)
	if err != nil {
		log.Fatalf("replay: failed to connect to NATS: %v", err)
	}
	defer nc.Close()
	log.Printf("replay: connected to NATS at %s (source=%s speed=%s)", natsURL, cfg.Source, cfg.Speed)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("replay: shutting down")
		cancel()
	}()

	control := make(chan types.ReplayControl, 16)
	controlSubject := config.String("REPLAY_CONTROL_SUBJECT", bus.SubjectReplayCtl)
	if _, err := bus.Subscribe(nc, controlSubject, func(cmd types.ReplayControl) {
		select {
		case control <- cmd:
		default:
			log.Printf("replay: control channel saturated, dropping command %s", cmd.Command)
		}
	}); err != nil {
		log.Fatalf("replay: failed to subscribe to control subject: %v", err)
	}

	publish := func(md types.MarketData) error {
		return bus.Publish(nc, bus.SubjectMarketData, md)
	}

	if err := replay.Run(ctx, cfg, publish, control); err != nil {
		log.Fatalf("replay: %v", err)
	}
	log.Println("replay: stopped")
}
