package grpcservice

import (
	"context"
	"io"
	"log/slog"
	"testing"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"go.klb.dev/clipsync/internal/engine"
	"go.klb.dev/clipsync/internal/hub"
	"go.klb.dev/clipsync/internal/message"
	"go.klb.dev/clipsync/internal/stream"
)

type statusPeer struct {
	id      string
	role    message.Role
	streams []engine.StreamStatus
}

func (p *statusPeer) ID() string { return p.id }
func (p *statusPeer) Info() message.PeerInfo {
	return message.PeerInfo{ID: p.id, Role: p.role, Streams: p.streams}
}
func (p *statusPeer) Send(hub.Event) {}

func status(t *testing.T, s *Health, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := s.Check(context.Background(), service)
	if err != nil {
		t.Fatalf("Check(%q) error: %v", service, err)
	}
	return resp.GetStatus()
}

func TestRefresh(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := hub.New(log)
	s := New(h, log)

	h.Register(&statusPeer{id: "local", role: message.RoleLocal})
	s.Refresh()
	if got := status(t, s, ""); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("daemon status = %v", got)
	}
	if got := status(t, s, PeersService); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("peers status with no links = %v", got)
	}

	link := &statusPeer{id: "10.0.0.2:4000", role: message.RoleClient, streams: []engine.StreamStatus{
		{Stream: stream.PrimaryText, Inbound: engine.Resyncing},
		{Stream: stream.PrimaryImage, Inbound: engine.Idle},
	}}
	h.Register(link)
	s.Refresh()
	if got := status(t, s, PeersService); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("peers status = %v", got)
	}
	if got := status(t, s, StreamService(stream.PrimaryText)); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("resyncing stream status = %v", got)
	}
	if got := status(t, s, StreamService(stream.PrimaryImage)); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("idle stream status = %v", got)
	}

	h.Unregister(link)
	s.Refresh()
	if got := status(t, s, StreamService(stream.PrimaryText)); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("stream status after link left = %v", got)
	}
}

func TestUnknownService(t *testing.T) {
	s := New(hub.New(nil), nil)
	if _, err := s.Check(context.Background(), "nope"); err == nil {
		t.Fatal("unknown service reported healthy")
	}
}
