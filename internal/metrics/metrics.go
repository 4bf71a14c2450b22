// Package metrics exposes Prometheus instrumentation for the sync engine.
//
// Metrics collected (namespace "clipsync" by default):
//   - packets_sent_total{stream,compression,delta}
//   - packets_received_total{stream,outcome}
//   - wire_bytes_total{direction}
//   - content_bytes_total{direction}
//   - payload_ratio: payload size / content size for sent packets
//   - errors_total{kind}
//   - resyncs_total{stream}
//   - bandwidth_bytes_per_second{direction}
//   - rtt_seconds
//   - pipeline_duration_seconds{direction}
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.klb.dev/clipsync/internal/bandwidth"
	"go.klb.dev/clipsync/internal/compress"
	"go.klb.dev/clipsync/internal/delta"
	"go.klb.dev/clipsync/internal/stream"
)

// Received packet outcomes.
const (
	OutcomeApplied   = "applied"
	OutcomeDropped   = "dropped"
	OutcomeDiscarded = "discarded"
)

// Config configures the collectors.
type Config struct {
	Namespace   string
	Subsystem   string
	ConstLabels prometheus.Labels
	Registry    prometheus.Registerer
}

// Option configures a Metrics instance.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(ns string) Option {
	return func(c *Config) { c.Namespace = ns }
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) { c.ConstLabels = labels }
}

// WithRegistry sets the registry the collectors are registered with.
func WithRegistry(r prometheus.Registerer) Option {
	return func(c *Config) { c.Registry = r }
}

// Metrics holds the engine collectors.
type Metrics struct {
	packetsSent      *prometheus.CounterVec
	packetsReceived  *prometheus.CounterVec
	wireBytes        *prometheus.CounterVec
	contentBytes     *prometheus.CounterVec
	payloadRatio     prometheus.Histogram
	errors           *prometheus.CounterVec
	resyncs          *prometheus.CounterVec
	bandwidth        *prometheus.GaugeVec
	rtt              prometheus.Gauge
	pipelineDuration *prometheus.HistogramVec
}

// New creates and registers the collectors.
func New(opts ...Option) *Metrics {
	cfg := Config{
		Namespace: "clipsync",
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, o := range opts {
		o(&cfg)
	}
	f := promauto.With(cfg.Registry)

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: cfg.ConstLabels,
		}, labels)
	}

	return &Metrics{
		packetsSent:     counter("packets_sent_total", "Sync packets handed to the transport", "stream", "compression", "delta"),
		packetsReceived: counter("packets_received_total", "Sync packets received, by outcome", "stream", "outcome"),
		wireBytes:       counter("wire_bytes_total", "Serialized packet bytes", "direction"),
		contentBytes:    counter("content_bytes_total", "Clipboard content bytes before encoding", "direction"),
		errors:          counter("errors_total", "Per-packet errors by kind", "kind"),
		resyncs:         counter("resyncs_total", "Streams entering resync", "stream"),

		payloadRatio: f.NewHistogram(prometheus.HistogramOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "payload_ratio",
			Help:        "Payload size divided by content size for sent packets",
			ConstLabels: cfg.ConstLabels,
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 0.75, 1, 1.25},
		}),
		bandwidth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "bandwidth_bytes_per_second",
			Help:        "Smoothed link throughput estimate",
			ConstLabels: cfg.ConstLabels,
		}, []string{"direction"}),
		rtt: f.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "rtt_seconds",
			Help:        "Smoothed ping round trip time",
			ConstLabels: cfg.ConstLabels,
		}),
		pipelineDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "pipeline_duration_seconds",
			Help:        "Time spent encoding or decoding one update",
			ConstLabels: cfg.ConstLabels,
			Buckets:     prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"direction"}),
	}
}

// PacketSent records one outgoing packet.
func (m *Metrics) PacketSent(id stream.ID, alg compress.Algorithm, mode delta.Mode, wireBytes, contentBytes int, took time.Duration) {
	if m == nil {
		return
	}
	m.packetsSent.WithLabelValues(id.String(), alg.String(), mode.String()).Inc()
	m.wireBytes.WithLabelValues("send").Add(float64(wireBytes))
	m.contentBytes.WithLabelValues("send").Add(float64(contentBytes))
	if contentBytes > 0 {
		m.payloadRatio.Observe(float64(wireBytes) / float64(contentBytes))
	}
	m.pipelineDuration.WithLabelValues("send").Observe(took.Seconds())
}

// PacketReceived records one incoming packet and what happened to it.
func (m *Metrics) PacketReceived(id stream.ID, outcome string, wireBytes, contentBytes int, took time.Duration) {
	if m == nil {
		return
	}
	m.packetsReceived.WithLabelValues(id.String(), outcome).Inc()
	m.wireBytes.WithLabelValues("recv").Add(float64(wireBytes))
	if outcome == OutcomeApplied {
		m.contentBytes.WithLabelValues("recv").Add(float64(contentBytes))
		m.pipelineDuration.WithLabelValues("recv").Observe(took.Seconds())
	}
}

// Error counts one per-packet error.
func (m *Metrics) Error(kind string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(kind).Inc()
}

// Resync counts a stream entering resync.
func (m *Metrics) Resync(id stream.ID) {
	if m == nil {
		return
	}
	m.resyncs.WithLabelValues(id.String()).Inc()
}

// ObserveBandwidth publishes the current estimate.
func (m *Metrics) ObserveBandwidth(s bandwidth.Stats) {
	if m == nil {
		return
	}
	m.bandwidth.WithLabelValues("total").Set(s.BytesPerSecond)
	m.bandwidth.WithLabelValues("send").Set(s.SendBytesPerSecond)
	m.bandwidth.WithLabelValues("recv").Set(s.RecvBytesPerSecond)
	m.rtt.Set(time.Duration(s.RTT).Seconds())
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
