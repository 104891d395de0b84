// Package metrics exposes channel lifecycle counters and histograms to
// Prometheus, recorded through the channel.Observer seam so the channel
// package itself never depends on a metrics backend.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noiselink/noiselink-core/channel"
	"github.com/noiselink/noiselink-core/handshake"
)

// Collector registers and records the channel metrics. The metric set is
// known up front, so each is a direct field rather than a name-keyed map.
// Each Collector registers into its own fresh registry; registration
// tolerates an already-registered collector and panics on any other error.
type Collector struct {
	registry *prometheus.Registry

	handshakesStarted  *prometheus.CounterVec
	handshakesComplete *prometheus.CounterVec
	handshakesFailed   *prometheus.CounterVec
	handshakeDuration  *prometheus.HistogramVec
	bytesSent          *prometheus.CounterVec
	bytesReceived      *prometheus.CounterVec
	channelsOpen       prometheus.Gauge
}

// NewCollector registers the channel metrics against a fresh registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	c := &Collector{
		registry: registry,
		handshakesStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "secure_channel_handshakes_started_total",
			Help: "Number of XX handshakes initiated, by role.",
		}, []string{"role"}),
		handshakesComplete: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "secure_channel_handshakes_completed_total",
			Help: "Number of XX handshakes that reached the secure state, by role.",
		}, []string{"role"}),
		handshakesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "secure_channel_handshakes_failed_total",
			Help: "Number of XX handshakes that failed, by role.",
		}, []string{"role"}),
		handshakeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "secure_channel_handshake_duration_seconds",
			Help:    "Wall-clock time from handshake start to secure state.",
			Buckets: prometheus.DefBuckets,
		}, []string{"role"}),
		bytesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "secure_channel_bytes_sent_total",
			Help: "Bytes sent on the wire, by message type.",
		}, []string{"msg_type"}),
		bytesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "secure_channel_bytes_received_total",
			Help: "Bytes received on the wire, by message type.",
		}, []string{"msg_type"}),
		channelsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "secure_channel_open_channels",
			Help: "Number of channels currently in the secure state.",
		}),
	}

	for _, collector := range []prometheus.Collector{
		c.handshakesStarted, c.handshakesComplete, c.handshakesFailed,
		c.handshakeDuration, c.bytesSent, c.bytesReceived, c.channelsOpen,
	} {
		if err := registry.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err) // fixed, compile-time-known set: only a programming error gets here
			}
		}
	}
	return c
}

// Handler returns the HTTP handler cmd/metrics-api mounts to serve scrape
// requests.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ChannelObserver adapts a Collector to channel.Observer, so every Channel
// can report into Prometheus without the channel package importing it
// directly.
type ChannelObserver struct {
	channel.NoopObserver
	collector *Collector
	started   time.Time
	role      handshake.Role
	secured   bool
}

// NewChannelObserver returns an Observer that records into collector.
func NewChannelObserver(collector *Collector) *ChannelObserver {
	return &ChannelObserver{collector: collector}
}

func roleLabel(r handshake.Role) string {
	if r == handshake.Initiator {
		return "initiator"
	}
	return "responder"
}

func (o *ChannelObserver) OnHandshakeStarted(role handshake.Role) {
	o.role = role
	o.started = time.Now()
	o.collector.handshakesStarted.WithLabelValues(roleLabel(role)).Inc()
}

func (o *ChannelObserver) OnHandshakeComplete(remoteStatic, handshakeHash [32]byte) {
	label := roleLabel(o.role)
	o.collector.handshakesComplete.WithLabelValues(label).Inc()
	if !o.started.IsZero() {
		o.collector.handshakeDuration.WithLabelValues(label).Observe(time.Since(o.started).Seconds())
	}
	o.secured = true
	o.collector.channelsOpen.Inc()
}

func (o *ChannelObserver) OnHandshakeFailed(err error) {
	o.collector.handshakesFailed.WithLabelValues(roleLabel(o.role)).Inc()
}

func (o *ChannelObserver) OnMessageSent(msgType channel.MsgType, bytes int) {
	o.collector.bytesSent.WithLabelValues(msgType.String()).Add(float64(bytes))
}

func (o *ChannelObserver) OnMessageReceived(msgType channel.MsgType, bytes int) {
	o.collector.bytesReceived.WithLabelValues(msgType.String()).Add(float64(bytes))
}

func (o *ChannelObserver) OnClosed() {
	// Only channels that actually reached the secure state count as open.
	if o.secured {
		o.secured = false
		o.collector.channelsOpen.Dec()
	}
}
