// Command channel-server runs a TCP responder that accepts Noise XX secure
// channels, wiring the metrics, identity, audit and replay adapters into
// each accepted channel via the channel.Observer/ReplayChecker seams.
package main

import (
	"context"
	"encoding/hex"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/noiselink/noiselink-core/channel"
	"github.com/noiselink/noiselink-core/handshake"
	"github.com/noiselink/noiselink-core/internal/audit"
	"github.com/noiselink/noiselink-core/internal/config"
	"github.com/noiselink/noiselink-core/internal/identity"
	"github.com/noiselink/noiselink-core/internal/metrics"
	"github.com/noiselink/noiselink-core/internal/replay"
	"github.com/noiselink/noiselink-core/vault"
)

func main() {
	log.Println("🚀 Starting secure channel server...")

	cfg, err := config.Load(os.Getenv("CHANNEL_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	v := vault.NewSoftwareVault()
	ctx := context.Background()

	staticPriv, staticPub, err := v.GenerateX25519Key(ctx)
	if err != nil {
		log.Fatalf("Failed to generate static identity key: %v", err)
	}
	log.Printf("Static identity public key: %s", hex.EncodeToString(staticPub[:]))

	collector := metrics.NewCollector()
	go serveMetrics(cfg.Metrics.ListenAddr, collector)

	sink := initAuditSink(ctx, cfg)
	defer sink.Close()

	ledger := initReplayLedger(ctx, cfg)
	defer ledger.Close()

	var authority *identity.Authority
	if cfg.Identity.Secret != "" {
		authority = identity.NewAuthority(cfg.Identity.Issuer, cfg.Identity.Secret, cfg.Identity.TTL)
	}

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		log.Fatalf("Failed to listen on %s: %v", cfg.ListenAddr, err)
	}
	log.Printf("✅ Listening for secure channels on %s", cfg.ListenAddr)

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				log.Printf("⚠️ Accept error: %v", err)
				continue
			}
			go handleConn(conn, v, staticPriv, staticPub, collector, sink, ledger, authority)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("Shutting down secure channel server...")
	listener.Close()
}

func handleConn(conn net.Conn, v vault.Vault, staticPriv vault.Secret, staticPub [32]byte,
	collector *metrics.Collector, sink audit.Sink, ledger replay.Ledger, authority *identity.Authority) {
	defer conn.Close()
	ctx := context.Background()

	observer := fanoutObserver{
		metrics: metrics.NewChannelObserver(collector),
		audit:   audit.NewChannelObserver(sink, func(err error) { log.Printf("⚠️ audit: %v", err) }),
	}

	ch, err := channel.New(conn, v, handshake.Responder, staticPriv, staticPub, observer)
	if err != nil {
		log.Printf("⚠️ Failed to init channel: %v", err)
		return
	}
	defer ch.Close()
	ch.WithReplayChecker(ledger)

	if err := ch.Accept(ctx); err != nil {
		log.Printf("⚠️ Handshake failed from %s: %v", conn.RemoteAddr(), err)
		return
	}
	log.Printf("✅ Secure channel established with %s", conn.RemoteAddr())

	if authority != nil {
		cert, err := ch.Receive(ctx)
		if err != nil {
			log.Printf("⚠️ Failed to receive identity certificate: %v", err)
			return
		}
		remoteStatic, _ := ch.RemoteStaticPublicKey()
		claims, err := authority.VerifyCertificate(string(cert), remoteStatic)
		if err != nil {
			log.Printf("⚠️ Rejecting peer %s: %v", conn.RemoteAddr(), err)
			return
		}
		log.Printf("✅ Verified peer %s as %q (issued by %s)", conn.RemoteAddr(), claims.Subject, claims.Issuer)
	}

	for {
		payload, err := ch.Receive(ctx)
		if err != nil {
			log.Printf("Channel closed for %s: %v", conn.RemoteAddr(), err)
			return
		}
		log.Printf("Received %d bytes from %s", len(payload), conn.RemoteAddr())
		if err := ch.Send(ctx, payload); err != nil {
			log.Printf("⚠️ Echo failed: %v", err)
			return
		}
	}
}

type fanoutObserver struct {
	channel.NoopObserver
	metrics *metrics.ChannelObserver
	audit   *audit.ChannelObserver
}

func (o fanoutObserver) OnHandshakeStarted(role handshake.Role) {
	o.metrics.OnHandshakeStarted(role)
	o.audit.OnHandshakeStarted(role)
}

func (o fanoutObserver) OnHandshakeComplete(remoteStatic, handshakeHash [32]byte) {
	o.metrics.OnHandshakeComplete(remoteStatic, handshakeHash)
	o.audit.OnHandshakeComplete(remoteStatic, handshakeHash)
}

func (o fanoutObserver) OnHandshakeFailed(err error) {
	o.metrics.OnHandshakeFailed(err)
	o.audit.OnHandshakeFailed(err)
}

func (o fanoutObserver) OnMessageSent(msgType channel.MsgType, bytes int) {
	o.metrics.OnMessageSent(msgType, bytes)
}

func (o fanoutObserver) OnMessageReceived(msgType channel.MsgType, bytes int) {
	o.metrics.OnMessageReceived(msgType, bytes)
}

func (o fanoutObserver) OnClosed() {
	o.metrics.OnClosed()
	o.audit.OnClosed()
}

func initAuditSink(ctx context.Context, cfg *config.Config) audit.Sink {
	if cfg.Audit.Sink != "postgres" {
		return audit.NoopSink{}
	}
	sink, err := audit.NewPostgresSink(ctx, &audit.Config{
		Host:     cfg.Audit.Host,
		Port:     cfg.Audit.Port,
		Database: cfg.Audit.Database,
		Username: cfg.Audit.Username,
		Password: cfg.Audit.Password,
		SSLMode:  cfg.Audit.SSLMode,
	})
	if err != nil {
		log.Printf("⚠️ Audit sink unavailable, falling back to noop: %v", err)
		return audit.NoopSink{}
	}
	log.Println("✅ Postgres audit sink connected")
	return sink
}

func initReplayLedger(ctx context.Context, cfg *config.Config) replay.Ledger {
	if cfg.Replay.Ledger != "redis" {
		return replay.NewInMemoryLedger()
	}
	ledger, err := replay.NewRedisLedger(ctx, &replay.Config{
		RedisAddr: cfg.Replay.RedisAddr,
		KeyPrefix: cfg.Replay.KeyPrefix,
		Retention: cfg.Replay.Retention,
	})
	if err != nil {
		log.Printf("⚠️ Replay ledger unavailable, falling back to in-memory: %v", err)
		return replay.NewInMemoryLedger()
	}
	log.Println("✅ Redis replay ledger connected")
	return ledger
}

func serveMetrics(addr string, collector *metrics.Collector) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	log.Printf("Metrics server listening on %s", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Printf("⚠️ Metrics server error: %v", err)
	}
}
