// Command feed publishes a synthetic testnet/paper market-data stream.
// It does not read historical sources; playback of those is cmd/replay's
// job.
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
	"github.com/autovant/perp-paper-core/internal/feed"
	"github.com/autovant/perp-paper-core/internal/health"
	"github.com/autovant/perp-paper-core/internal/metrics"
)

func main() {
	appMode := config.String("APP_MODE", "paper")
	symbol := config.String("FEED_SYMBOL", "BTCUSDT")
	startPrice := config.Float("FEED_START_PRICE", 50000)
	intervalMs := config.Int("FEED_INTERVAL_MS", 1000)
	seed := int64(config.Int("FEED_SEED", 0))

	metrics.TradingMode.With(prometheus.Labels{"mode": appMode}).Set(1)

	go func() {
		addr := config.String("METRICS_ADDR", ":8081")
		http.Handle("/metrics", promhttp.Handler())
		http.HandleFunc("/health", health.Handler)
		log.Printf("feed: prometheus metrics exposed on %s", addr)
		if err := http.ListenAndServe(addr, nil); err != nil {
			log.Printf("feed: metrics server error: %v", err)
		}
	}()

	natsURL := config.String("NATS_URL", "nats://localhost:4222")
	nc, err := bus.Connect(natsURL)
	if err != nil {
		log.Fatalf("feed: failed to connect to NATS: %v", err)
	}
	defer nc.Close()
	log.Printf("feed: connected to NATS at %s (mode=%s symbol=%s)", natsURL, appMode, symbol)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("feed: shutting down")
		cancel()
	}()

	generator := feed.NewGenerator(symbol, startPrice, seed)
	ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("feed: stopped")
			return
		case <-ticker.C:
			tick := generator.Next()
			if err := bus.Publish(nc, bus.SubjectMarketData, tick); err != nil {
				log.Printf("feed: publish failed: %v", err)
			}
		}
	}
}
