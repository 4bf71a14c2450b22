// Package localpeer implements the hub.Peer that owns this host's
// clipboard.
package localpeer

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	"go.klb.dev/clipsync/internal/clip"
	"go.klb.dev/clipsync/internal/hub"
	"go.klb.dev/clipsync/internal/message"
	"go.klb.dev/clipsync/internal/stream"
)

// ID is the hub peer ID of the local clipboard.
const ID = "local"

// Peer bridges a clip.Backend and the hub.
type Peer struct {
	h       *hub.Hub
	backend clip.Backend
	log     *slog.Logger
	sendCh  chan hub.Event

	mu       sync.RWMutex
	info     message.PeerInfo
	lastSeen time.Time
	last     map[stream.Kind][]byte
}

// New creates the local peer but does not start it.
func New(h *hub.Hub, backend clip.Backend, source string, log *slog.Logger) *Peer {
	if log == nil {
		log = slog.Default()
	}
	now := time.Now()
	return &Peer{
		h:       h,
		backend: backend,
		log:     log.With("peer", ID),
		sendCh:  make(chan hub.Event, 64),
		info: message.PeerInfo{
			ID:          ID,
			Source:      source,
			Addr:        "local",
			Role:        message.RoleLocal,
			ConnectedAt: now,
		},
		lastSeen: now,
		last:     make(map[stream.Kind][]byte),
	}
}

func (p *Peer) ID() string { return ID }

func (p *Peer) Info() message.PeerInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	info := p.info
	info.LastSeen = p.lastSeen
	return info
}

// Send implements hub.Peer: updates from peers are written to the local
// clipboard. Only the primary selection is mirrored.
func (p *Peer) Send(ev hub.Event) {
	if ev.Stream.Selection() != stream.Primary {
		return
	}
	select {
	case p.sendCh <- ev:
	default:
		p.log.Warn("local peer send channel full, dropping", "stream", ev.Stream)
	}
}

// Run registers with the hub and runs the watch and write loops until ctx
// is done.
func (p *Peer) Run(ctx context.Context) {
	p.h.Register(p)
	defer p.h.Unregister(p)

	p.log.Info("local clipboard peer started", "backend", p.backend.Name())

	go p.writeLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.backend.Watch():
			p.publishChanges()
		}
	}
}

func (p *Peer) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.sendCh:
			kind := ev.Stream.Kind()
			if !p.remember(kind, ev.Content) {
				continue
			}
			if err := p.backend.Write(clip.Item{Kind: kind, Data: ev.Content}); err != nil {
				p.log.Error("local clipboard write failed", "stream", ev.Stream, "err", err)
				continue
			}
			p.log.Debug("local clipboard updated", "source", ev.Source, "stream", ev.Stream, "bytes", len(ev.Content))
		}
	}
}

func (p *Peer) publishChanges() {
	items, err := p.backend.Read()
	if err != nil {
		p.log.Error("local clipboard read failed", "err", err)
		return
	}
	for _, it := range items {
		if len(it.Data) == 0 || !p.remember(it.Kind, it.Data) {
			continue
		}
		id := stream.Compose(stream.Primary, it.Kind)
		p.log.Debug("local clipboard changed, publishing", "stream", id, "bytes", len(it.Data))
		p.h.Publish(hub.Event{Source: p.info.Source, Stream: id, Content: it.Data}, ID)
	}
}

// remember records data as the latest content of kind and reports whether
// it differs from what was there.
func (p *Peer) remember(kind stream.Kind, data []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if bytes.Equal(p.last[kind], data) {
		return false
	}
	p.last[kind] = bytes.Clone(data)
	p.lastSeen = time.Now()
	return true
}
