// Package hub routes clipboard updates between the local clipboard and
// every peer link. It is transport-agnostic: peers register, receive events
// through Send and publish what they observe.
package hub

import (
	"bytes"
	"log/slog"
	"sort"
	"sync"

	"go.klb.dev/clipsync/internal/message"
	"go.klb.dev/clipsync/internal/stream"
)

// Event is one clipboard update.
type Event struct {
	Source  string
	Stream  stream.ID
	Content []byte
}

// Peer is anything that can receive clipboard events from the hub.
type Peer interface {
	ID() string
	Info() message.PeerInfo
	// Send delivers an event to the peer. Must not block.
	Send(Event)
}

// Hub fans clipboard updates out to all registered peers.
type Hub struct {
	log *slog.Logger

	mu     sync.RWMutex
	peers  map[string]Peer
	latest map[stream.ID]Event
}

// New returns an empty Hub. A nil logger uses slog.Default().
func New(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:    log,
		peers:  make(map[string]Peer),
		latest: make(map[stream.ID]Event),
	}
}

// Register adds a peer and immediately replays the latest content of every
// stream it accepts.
func (h *Hub) Register(p Peer) {
	info := p.Info()

	h.mu.Lock()
	h.peers[p.ID()] = p
	total := len(h.peers)
	replay := make([]Event, 0, len(h.latest))
	for _, ev := range h.latest {
		if message.Accepts(info.Accept, ev.Stream.Kind()) {
			replay = append(replay, ev)
		}
	}
	h.mu.Unlock()

	h.log.Info("peer registered",
		"peer", p.ID(),
		"source", info.Source,
		"role", info.Role,
		"total", total,
	)

	sort.Slice(replay, func(i, j int) bool { return replay[i].Stream < replay[j].Stream })
	for _, ev := range replay {
		p.Send(ev)
	}
}

// Unregister removes a peer.
func (h *Hub) Unregister(p Peer) {
	h.mu.Lock()
	if cur, ok := h.peers[p.ID()]; ok && cur == p {
		delete(h.peers, p.ID())
	}
	total := len(h.peers)
	h.mu.Unlock()

	h.log.Info("peer unregistered", "peer", p.ID(), "total", total)
}

// Publish stores ev as the latest content of its stream and delivers it to
// every peer except the origin. Content equal to the stored latest value is
// not fanned out again.
func (h *Hub) Publish(ev Event, originID string) {
	h.mu.Lock()
	if cur, ok := h.latest[ev.Stream]; ok && bytes.Equal(cur.Content, ev.Content) {
		h.mu.Unlock()
		return
	}
	h.latest[ev.Stream] = ev

	var targets []Peer
	for id, p := range h.peers {
		if id == originID {
			continue
		}
		if message.Accepts(p.Info().Accept, ev.Stream.Kind()) {
			targets = append(targets, p)
		}
	}
	h.mu.Unlock()

	logEvent(h.log, ev, len(targets))
	for _, p := range targets {
		p.Send(ev)
	}
}

// Latest returns the most recent content of a stream.
func (h *Hub) Latest(id stream.ID) (Event, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ev, ok := h.latest[id]
	return ev, ok
}

// Peers returns a snapshot of all peer metadata, ordered by ID.
func (h *Hub) Peers() []message.PeerInfo {
	h.mu.RLock()
	out := make([]message.PeerInfo, 0, len(h.peers))
	for _, p := range h.peers {
		out = append(out, p.Info())
	}
	h.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Each calls fn for every registered peer. fn must not call back into the
// hub.
func (h *Hub) Each(fn func(Peer)) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, p := range h.peers {
		fn(p)
	}
}
