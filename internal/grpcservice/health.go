// Package grpcservice exposes daemon health over the standard gRPC health
// protocol.
//
// Services reported:
//
//	""                        the daemon itself, always SERVING while up
//	"clipsync.peers"          SERVING when at least one remote peer is linked
//	"clipsync.stream/<id>"    NOT_SERVING while any link resyncs the stream
package grpcservice

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"go.klb.dev/clipsync/internal/engine"
	"go.klb.dev/clipsync/internal/hub"
	"go.klb.dev/clipsync/internal/message"
	"go.klb.dev/clipsync/internal/stream"
)

const (
	PeersService  = "clipsync.peers"
	streamService = "clipsync.stream/"
)

// StreamService returns the health service name of a stream.
func StreamService(id stream.ID) string { return streamService + id.String() }

// Health tracks hub state in a grpc health server.
type Health struct {
	srv *health.Server
	hub *hub.Hub
	log *slog.Logger

	mu    sync.Mutex
	known map[string]bool
}

// New returns a Health reporting on h.
func New(h *hub.Hub, log *slog.Logger) *Health {
	if log == nil {
		log = slog.Default()
	}
	return &Health{
		srv:   health.NewServer(),
		hub:   h,
		log:   log,
		known: make(map[string]bool),
	}
}

// Register installs the health service on g.
func (s *Health) Register(g *grpc.Server) {
	healthpb.RegisterHealthServer(g, s.srv)
}

// Refresh recomputes every service status from the hub.
func (s *Health) Refresh() {
	remote := 0
	resyncing := make(map[stream.ID]bool)
	for _, p := range s.hub.Peers() {
		if p.Role == message.RoleLocal {
			continue
		}
		remote++
		for _, st := range p.Streams {
			resyncing[st.Stream] = resyncing[st.Stream] || st.Inbound == engine.Resyncing
		}
	}

	s.srv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.set(PeersService, remote > 0)

	seen := make(map[string]bool, len(resyncing))
	for id, bad := range resyncing {
		name := StreamService(id)
		seen[name] = true
		s.set(name, !bad)
	}

	// Streams whose links went away are healthy again.
	s.mu.Lock()
	var stale []string
	for name := range s.known {
		if name != PeersService && !seen[name] {
			stale = append(stale, name)
		}
	}
	s.mu.Unlock()
	for _, name := range stale {
		s.set(name, true)
	}
}

func (s *Health) set(name string, ok bool) {
	status := healthpb.HealthCheckResponse_SERVING
	if !ok {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.mu.Lock()
	prev, had := s.known[name]
	s.known[name] = ok
	s.mu.Unlock()
	if had && prev != ok {
		s.log.Info("health changed", "service", name, "status", status)
	}
	s.srv.SetServingStatus(name, status)
}

// Run refreshes every interval until ctx is done, then marks everything
// NOT_SERVING.
func (s *Health) Run(ctx context.Context, interval time.Duration) {
	s.Refresh()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			s.srv.Shutdown()
			return
		case <-t.C:
			s.Refresh()
		}
	}
}

// Check queries the local health server directly.
func (s *Health) Check(ctx context.Context, service string) (*healthpb.HealthCheckResponse, error) {
	return s.srv.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
}
