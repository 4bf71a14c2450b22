package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"go.klb.dev/clipsync/internal/bandwidth"
	"go.klb.dev/clipsync/internal/compress"
	"go.klb.dev/clipsync/internal/delta"
	"go.klb.dev/clipsync/internal/stream"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("counter Write() error: %v", err)
	}
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("gauge Write() error: %v", err)
	}
	return m.GetGauge().GetValue()
}

func TestPacketCounters(t *testing.T) {
	m := New(WithRegistry(prometheus.NewRegistry()))

	m.PacketSent(stream.PrimaryText, compress.LZ4, delta.Binary, 40, 400, time.Millisecond)
	m.PacketSent(stream.PrimaryText, compress.LZ4, delta.Binary, 10, 100, time.Millisecond)
	m.PacketReceived(stream.PrimaryText, OutcomeApplied, 30, 300, time.Millisecond)
	m.PacketReceived(stream.PrimaryText, OutcomeDropped, 5, 0, 0)

	if got := counterValue(t, m.packetsSent.WithLabelValues("primary/text", "lz4", "binary")); got != 2 {
		t.Fatalf("packets_sent_total = %v, want 2", got)
	}
	if got := counterValue(t, m.wireBytes.WithLabelValues("send")); got != 50 {
		t.Fatalf("wire_bytes_total{send} = %v, want 50", got)
	}
	if got := counterValue(t, m.wireBytes.WithLabelValues("recv")); got != 35 {
		t.Fatalf("wire_bytes_total{recv} = %v, want 35", got)
	}
	if got := counterValue(t, m.contentBytes.WithLabelValues("recv")); got != 300 {
		t.Fatalf("content_bytes_total{recv} = %v, want 300", got)
	}
	if got := counterValue(t, m.packetsReceived.WithLabelValues("primary/text", OutcomeDropped)); got != 1 {
		t.Fatalf("dropped = %v, want 1", got)
	}
}

func TestErrorsResyncsAndBandwidth(t *testing.T) {
	m := New(WithRegistry(prometheus.NewRegistry()))
	m.Error("integrity")
	m.Error("integrity")
	m.Resync(stream.PrimaryImage)
	m.ObserveBandwidth(bandwidth.Stats{BytesPerSecond: 1000, SendBytesPerSecond: 600, RTT: bandwidth.Duration(50 * time.Millisecond)})

	if got := counterValue(t, m.errors.WithLabelValues("integrity")); got != 2 {
		t.Fatalf("errors_total = %v, want 2", got)
	}
	if got := counterValue(t, m.resyncs.WithLabelValues("primary/image")); got != 1 {
		t.Fatalf("resyncs_total = %v, want 1", got)
	}
	if got := gaugeValue(t, m.bandwidth.WithLabelValues("total")); got != 1000 {
		t.Fatalf("bandwidth total = %v", got)
	}
	if got := gaugeValue(t, m.rtt); got != 0.05 {
		t.Fatalf("rtt = %v, want 0.05", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.PacketSent(stream.PrimaryText, compress.None, delta.None, 1, 1, 0)
	m.PacketReceived(stream.PrimaryText, OutcomeApplied, 1, 1, 0)
	m.Error("x")
	m.Resync(stream.PrimaryText)
	m.ObserveBandwidth(bandwidth.Stats{})
}

func TestHandlerExposesNamespace(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(WithRegistry(reg), WithNamespace("test"))
	m.Error("framing")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `test_errors_total{kind="framing"} 1`) {
		t.Fatalf("metrics output missing counter:\n%s", rec.Body.String())
	}
}
