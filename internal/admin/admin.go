// Package admin serves the daemon's HTTP API.
//
//	GET  /healthz              liveness
//	GET  /metrics              Prometheus metrics
//	GET  /status               peers, stream states and bandwidth (JSON)
//	GET  /clipboard/{stream}   latest content of a stream
//	POST /clipboard/{stream}   publish content as a local copy
//
// The clipboard routes are only mounted on the local IPC socket; the shared
// network port gets the read-only subset.
package admin

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"go.klb.dev/clipsync/internal/hub"
	"go.klb.dev/clipsync/internal/message"
	"go.klb.dev/clipsync/internal/metrics"
	"go.klb.dev/clipsync/internal/packet"
	"go.klb.dev/clipsync/internal/stream"
)

// PeerID is the hub origin used for content posted through the API.
const PeerID = "ipc"

// SourceHeader names the host that produced clipboard content.
const SourceHeader = "X-Clipsync-Source"

// Options configures the router.
type Options struct {
	Hub      *hub.Hub
	Gatherer prometheus.Gatherer
	Source   string
	Version  string
	// ReadOnly omits the clipboard routes.
	ReadOnly bool
	Logger   *slog.Logger
}

type server struct {
	Options
}

// NewRouter returns the API handler.
func NewRouter(opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &server{opts}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	if opts.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(opts.Gatherer))
	}
	r.Get("/status", s.status)

	if !opts.ReadOnly {
		r.Get("/clipboard/*", s.paste)
		r.Post("/clipboard/*", s.copy)
	}
	return r
}

func (s *server) status(w http.ResponseWriter, _ *http.Request) {
	st := message.Status{
		Source:  s.Source,
		Version: s.Version,
		Peers:   s.Hub.Peers(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(st); err != nil {
		s.Logger.Warn("status encode failed", "err", err)
	}
}

func (s *server) paste(w http.ResponseWriter, r *http.Request) {
	id, ok := streamParam(w, r)
	if !ok {
		return
	}
	ev, ok := s.Hub.Latest(id)
	if !ok {
		http.Error(w, fmt.Sprintf("stream %s is empty", id), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", id.Kind().MIME())
	if ev.Source != "" {
		w.Header().Set(SourceHeader, ev.Source)
	}
	_, _ = w.Write(ev.Content)
}

func (s *server) copy(w http.ResponseWriter, r *http.Request) {
	id, ok := streamParam(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, packet.MaxPayloadSize))
	if err != nil {
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}
	if len(body) == 0 {
		http.Error(w, "empty body", http.StatusBadRequest)
		return
	}
	source := r.Header.Get(SourceHeader)
	if source == "" {
		source = s.Source
	}
	s.Hub.Publish(hub.Event{Source: source, Stream: id, Content: body}, PeerID)
	s.Logger.Debug("clipboard posted", "stream", id, "source", source, "bytes", len(body))
	w.WriteHeader(http.StatusNoContent)
}

func streamParam(w http.ResponseWriter, r *http.Request) (stream.ID, bool) {
	raw := chi.URLParam(r, "*")
	if raw == "" {
		raw = "primary/text"
	}
	id, err := stream.Parse(raw)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return 0, false
	}
	return id, true
}
