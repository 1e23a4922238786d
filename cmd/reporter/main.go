// Command reporter subscribes to trading.executions and periodically
// publishes a rolling performance summary (win rate, PnL, drawdown,
// Sharpe ratio) on reports.performance, for dashboards.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/autovant/perp-paper-core/internal/bus"
	"github.com/autovant/perp-paper-core/internal/config"
	"github.com/autovant/perp-paper-core/internal/health"
	"github.com/autovant/perp-paper-core/internal/metrics"
	"github.com/autovant/perp-paper-core/internal/perfreport"
)

func main() {
	appMode := config.String("APP_MODE", "paper")

	metrics.TradingMode.With(prometheus.Labels{"mode": appMode}).Set(1)

	go func() {
		addr := config.String("METRICS_ADDR", ":8085")
		http.Handle("/metrics", promhttp.Handler())
		http.HandleFunc("/health", health.Handler)
		log.Printf("reporter: prometheus metrics exposed on %s", addr)
		if err := http.ListenAndServe(addr, nil); err != nil {
			log.Printf("reporter: metrics server error: %v", err)
		}
	}()

	natsURL := config.String("NATS_URL", "nats://localhost:4222")
	nc, err := bus.Connect(natsURL)
	if err != nil {
		log.Fatalf("reporter: failed to connect to NATS: %v", err)
	}
	defer nc.Close()
	log.Printf("reporter: connected to NATS at %s", natsURL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("reporter: shutting down")
		cancel()
	}()

	tracker := perfreport.NewTracker()
	if _, err := bus.Subscribe(nc, bus.SubjectExecutions, tracker.Observe); err != nil {
		log.Fatalf("reporter: failed to subscribe to executions: %v", err)
	}

	interval := time.Duration(config.Int("REPORTER_INTERVAL_SECONDS", 60)) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("reporter: stopped")
			return
		case <-ticker.C:
			report := tracker.Snapshot()
			if err := bus.Publish(nc, bus.SubjectReports, report); err != nil {
				log.Printf("reporter: publish failed: %v", err)
				continue
			}
			log.Printf("reporter: published report trades=%d win_rate=%.2f pnl=%.2f sharpe=%.2f",
				report.TotalTrades, report.WinRate, report.TotalPnL, report.SharpeRatio)
		}
	}
}
