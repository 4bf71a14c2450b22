package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"go.klb.dev/clipsync/internal/bandwidth"
	"go.klb.dev/clipsync/internal/engine"
	"go.klb.dev/clipsync/internal/grpcservice"
	"go.klb.dev/clipsync/internal/message"
	"go.klb.dev/clipsync/internal/stream"
)

func TestIsContainerID(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"3f2a9c81be04", true},
		{"3f2a9c81be04d1e6a7b8c9d0e1f2a3b4c5d6e7f8091a2b3c4d5e6f708192a3b4", true},
		{"laptop", false},
		{"3F2A9C81BE04", false},
		{"3f2a9c81be0", false},
	}
	for _, tt := range tests {
		if got := isContainerID(tt.in); got != tt.want {
			t.Errorf("isContainerID(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestDefaultSourceFromEnv(t *testing.T) {
	t.Setenv("CLIPSYNC_SOURCE", "desk")
	if got := defaultSource(); got != "desk" {
		t.Fatalf("defaultSource() = %q", got)
	}
}

func TestParseAccept(t *testing.T) {
	got, err := parseAccept([]string{"text,image", " binary "})
	if err != nil {
		t.Fatal(err)
	}
	want := []stream.Kind{stream.KindText, stream.KindImage, stream.KindBinary}
	if len(got) != len(want) {
		t.Fatalf("parseAccept = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("parseAccept[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	if got, err := parseAccept(nil); err != nil || got != nil {
		t.Fatalf("parseAccept(nil) = %v, %v", got, err)
	}
	if _, err := parseAccept([]string{"video"}); err == nil {
		t.Fatal("unknown kind accepted")
	}
}

func TestBackoff(t *testing.T) {
	b := backoff{min: time.Second, max: 5 * time.Second}
	var got []time.Duration
	for range 5 {
		got = append(got, b.next())
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("delays = %v, want %v", got, want)
		}
	}
	b.reset()
	if d := b.next(); d != time.Second {
		t.Fatalf("after reset next() = %v", d)
	}
}

func TestSleepStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if sleep(ctx, time.Hour) {
		t.Fatal("sleep ignored a canceled context")
	}
	if !sleep(context.Background(), time.Millisecond) {
		t.Fatal("sleep reported cancel without one")
	}
}

func TestHealthService(t *testing.T) {
	tests := []struct {
		service, stream string
		want            string
	}{
		{"", "", ""},
		{"peers", "", grpcservice.PeersService},
		{"", "image", grpcservice.StreamService(stream.PrimaryImage)},
		{"peers", "secondary/text", grpcservice.StreamService(stream.Compose(stream.Secondary, stream.KindText))},
	}
	for _, tt := range tests {
		v := viper.New()
		v.Set("service", tt.service)
		v.Set("stream", tt.stream)
		got, err := healthService(v)
		if err != nil {
			t.Fatalf("healthService(%q, %q) error: %v", tt.service, tt.stream, err)
		}
		if got != tt.want {
			t.Errorf("healthService(%q, %q) = %q, want %q", tt.service, tt.stream, got, tt.want)
		}
	}
}

func TestPrintStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st := &message.Status{
		Source:  "desk",
		Version: "dev",
		Peers: []message.PeerInfo{
			{ID: "local", Source: "desk", Role: message.RoleLocal, ConnectedAt: now.Add(-90 * time.Second)},
			{
				ID: "10.0.0.2:51000", Source: "laptop", Addr: "10.0.0.2:51000", Role: message.RoleServer,
				ConnectedAt: now.Add(-10 * time.Second), LastSeen: now.Add(-2 * time.Second),
				Streams: []engine.StreamStatus{{Stream: stream.PrimaryText, Inbound: engine.Resyncing, LastSent: 4, LastReceived: 7}},
				Bandwidth: &bandwidth.Stats{
					BytesPerSecond: 3 << 20, SampleCount: 4,
					RTT: bandwidth.Duration(12 * time.Millisecond), RTTSamples: 1,
				},
			},
		},
	}
	var buf bytes.Buffer
	printStatus(&buf, st, now)
	out := buf.String()
	for _, want := range []string{"desk", "laptop", "1m ago", "10s ago", "3.0 MiB/s", "12ms", "primary/text(resyncing tx#4 rx#7)"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintStatusNoPeers(t *testing.T) {
	var buf bytes.Buffer
	printStatus(&buf, &message.Status{Source: "desk"}, time.Now())
	if !strings.Contains(buf.String(), "No peers connected.") {
		t.Fatalf("output = %q", buf.String())
	}
}

func TestFmtRate(t *testing.T) {
	tests := []struct {
		bps  float64
		want string
	}{
		{512, "512 B/s"},
		{2048, "2.0 KiB/s"},
		{1.5 * (1 << 20), "1.5 MiB/s"},
	}
	for _, tt := range tests {
		if got := fmtRate(tt.bps); got != tt.want {
			t.Errorf("fmtRate(%v) = %q, want %q", tt.bps, got, tt.want)
		}
	}
}

func TestConfigDirsStartWithEtc(t *testing.T) {
	dirs := configDirs()
	if len(dirs) == 0 || dirs[0] != "/etc/clipsync" {
		t.Fatalf("configDirs() = %v", dirs)
	}
}

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"run", "copy", "paste", "status", "healthcheck", "version"} {
		if c, _, err := root.Find([]string{name}); err != nil || c.Name() != name {
			t.Errorf("subcommand %q not registered", name)
		}
	}

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "clipsync "+Version) {
		t.Fatalf("version output = %q", out.String())
	}
}
