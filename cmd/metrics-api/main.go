// Command metrics-api serves the Prometheus /metrics and /health endpoints
// over gin, standalone from channel-server. The collector it serves is
// created in this process and no channel reports into it, so its channel
// metrics stay at zero; channel-server serves its own channels' metrics
// on its own listener.
package main

import (
	"log"
	"os"

	"github.com/noiselink/noiselink-core/internal/api"
	"github.com/noiselink/noiselink-core/internal/config"
	"github.com/noiselink/noiselink-core/internal/metrics"
)

func main() {
	log.Println("🚀 Starting secure channel metrics API...")

	cfg, err := config.Load(os.Getenv("CHANNEL_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	collector := metrics.NewCollector()
	server := api.NewServer(&api.ServerConfig{Addr: cfg.Metrics.ListenAddr}, collector)

	if err := server.Run(); err != nil {
		log.Fatalf("Metrics API error: %v", err)
	}
}
