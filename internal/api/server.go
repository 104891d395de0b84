// Package api provides the HTTP surface for the secure channel's metrics
// endpoint. It is deliberately small: everything else in the channel
// lifecycle is a raw TCP protocol, not HTTP.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noiselink/noiselink-core/internal/metrics"
)

// ServerConfig configures the metrics HTTP server.
type ServerConfig struct {
	Addr        string
	Environment string
}

// Server serves the Prometheus metrics endpoint over gin.
type Server struct {
	config     *ServerConfig
	router     *gin.Engine
	httpServer *http.Server
}

// NewServer wires collector's handler into a gin router under /metrics,
// plus a /health liveness route.
func NewServer(config *ServerConfig, collector *metrics.Collector) *Server {
	if config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().UTC(),
			"service":   "secure-channel-metrics",
		})
	})
	router.GET("/metrics", gin.WrapH(collector.Handler()))

	return &Server{
		config: config,
		router: router,
		httpServer: &http.Server{
			Addr:         config.Addr,
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Run starts the server and blocks until SIGINT/SIGTERM, then shuts down
// gracefully.
func (s *Server) Run() error {
	go func() {
		log.Printf("✅ Metrics API listening on %s", s.config.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Metrics server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutting down metrics API...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics server forced to shutdown: %w", err)
	}
	log.Println("✅ Metrics API exited gracefully")
	return nil
}
