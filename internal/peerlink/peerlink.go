// Package peerlink runs one peer connection as a hub.Peer backed by its own
// sync engine.
package peerlink

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.klb.dev/clipsync/internal/bandwidth"
	"go.klb.dev/clipsync/internal/config"
	"go.klb.dev/clipsync/internal/engine"
	"go.klb.dev/clipsync/internal/hub"
	"go.klb.dev/clipsync/internal/message"
	"go.klb.dev/clipsync/internal/metrics"
	"go.klb.dev/clipsync/internal/stream"
	"go.klb.dev/clipsync/internal/wire"
)

const (
	pingInterval     = 15 * time.Second
	pongDeadline     = 10 * time.Second
	handshakeTimeout = 10 * time.Second
)

// ErrAuth is returned when the remote presents the wrong token.
var ErrAuth = errors.New("peer authentication failed")

// Options configures a Link.
type Options struct {
	// Source names this host in the remote's peer list.
	Source string
	// Token must match on both ends. Empty disables the check.
	Token string
	// Accept limits the stream kinds the remote should send us.
	Accept  []stream.Kind
	Config  config.SyncConfig
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// PingInterval overrides the keepalive period, for tests.
	PingInterval time.Duration
}

// Link is a hub.Peer for one connection.
type Link struct {
	id          string
	role        message.Role
	conn        *wire.Conn
	h           *hub.Hub
	opts        Options
	log         *slog.Logger
	eng         *engine.Engine
	est         *bandwidth.Estimator
	sendCh      chan hub.Event
	pongCh      chan struct{}
	connectedAt time.Time

	mu     sync.RWMutex
	remote message.Hello

	lastSeen atomic.Int64 // UnixNano
}

// New wraps conn. role is RoleServer for accepted connections and
// RoleClient for dialed ones.
func New(conn net.Conn, h *hub.Hub, role message.Role, opts Options) (*Link, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = pingInterval
	}
	now := time.Now()
	id := conn.RemoteAddr().String()
	l := &Link{
		id:          id,
		role:        role,
		conn:        wire.New(conn),
		h:           h,
		opts:        opts,
		log:         opts.Logger.With("peer", id),
		est:         bandwidth.New(),
		sendCh:      make(chan hub.Event, 64),
		pongCh:      make(chan struct{}, 1),
		connectedAt: now,
	}
	l.lastSeen.Store(now.UnixNano())

	eng, err := engine.New(opts.Config, l, l,
		engine.WithEstimator(l.est),
		engine.WithMetrics(opts.Metrics),
		engine.WithResyncRequester(l),
		engine.WithLogger(l.log),
	)
	if err != nil {
		return nil, err
	}
	l.eng = eng
	return l, nil
}

func (l *Link) ID() string { return l.id }

func (l *Link) Info() message.PeerInfo {
	l.mu.RLock()
	remote := l.remote
	l.mu.RUnlock()
	stats := l.eng.Stats()
	return message.PeerInfo{
		ID:          l.id,
		Source:      remote.Source,
		Addr:        l.id,
		Role:        l.role,
		Accept:      remote.Accept,
		ConnectedAt: l.connectedAt,
		LastSeen:    time.Unix(0, l.lastSeen.Load()),
		Streams:     l.eng.Status(),
		Bandwidth:   &stats,
	}
}

// Send implements hub.Peer.
func (l *Link) Send(ev hub.Event) {
	select {
	case l.sendCh <- ev:
	default:
		l.log.Warn("peer send channel full, dropping", "stream", ev.Stream)
	}
}

// Reconfigure applies new sync settings to the link's engine.
func (l *Link) Reconfigure(cfg config.SyncConfig) error {
	return l.eng.Reconfigure(cfg)
}

// SendBytes implements engine.Transport.
func (l *Link) SendBytes(_ context.Context, b []byte) error {
	return l.conn.WriteFrame(wire.KindPacket, b)
}

// RequestResync implements engine.ResyncRequester.
func (l *Link) RequestResync(_ context.Context, id stream.ID) error {
	return l.conn.WriteFrame(wire.KindResync, wire.ResyncBody(id))
}

// ApplyToLocalClipboard implements engine.Sink by publishing the update to
// the hub on behalf of the remote.
func (l *Link) ApplyToLocalClipboard(_ context.Context, id stream.ID, _ stream.Kind, content []byte) error {
	l.mu.RLock()
	source := l.remote.Source
	l.mu.RUnlock()
	l.h.Publish(hub.Event{Source: source, Stream: id, Content: content}, l.id)
	return nil
}

// Serve performs the handshake, registers with the hub and runs the link
// until the connection fails or ctx is done.
func (l *Link) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		l.conn.Close()
		l.eng.Close()
	}()

	if err := l.handshake(); err != nil {
		l.log.Warn("handshake failed", "err", err)
		return err
	}
	l.log.Info("peer connected", "source", l.remote.Source, "role", l.role)

	l.h.Register(l)
	defer l.h.Unregister(l)

	go func() {
		<-ctx.Done()
		l.conn.Close()
	}()
	go l.writeLoop(ctx)
	go l.pingLoop(ctx)

	return l.readLoop(ctx)
}

func (l *Link) handshake() error {
	hello := &message.Hello{
		Version: message.ProtocolVersion,
		Source:  l.opts.Source,
		Token:   l.opts.Token,
		Accept:  l.opts.Accept,
	}
	body, err := hello.Encode()
	if err != nil {
		return err
	}

	// Both ends write first, so the write must not wait for the read.
	werr := make(chan error, 1)
	go func() {
		if err := l.conn.WritePreface(); err != nil {
			werr <- err
			return
		}
		werr <- l.conn.WriteFrame(wire.KindHello, body)
	}()

	l.conn.SetReadDeadline(handshakeTimeout)
	defer l.conn.SetReadDeadline(0)

	if err := l.conn.ReadPreface(); err != nil {
		return err
	}
	f, err := l.conn.ReadFrame()
	if err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	if err := <-werr; err != nil {
		return fmt.Errorf("write hello: %w", err)
	}
	switch f.Kind {
	case wire.KindHello:
	case wire.KindError:
		return fmt.Errorf("%w: remote says %q", ErrAuth, f.Body)
	default:
		return fmt.Errorf("expected hello, got %s", f.Kind)
	}

	remote, err := message.DecodeHello(f.Body)
	if err != nil {
		return err
	}
	if l.opts.Token != "" && subtle.ConstantTimeCompare([]byte(remote.Token), []byte(l.opts.Token)) != 1 {
		_ = l.conn.WriteFrame(wire.KindError, []byte("auth_failed"))
		return ErrAuth
	}
	remote.Token = ""

	l.mu.Lock()
	l.remote = *remote
	l.mu.Unlock()
	return nil
}

func (l *Link) readLoop(ctx context.Context) error {
	for {
		f, err := l.conn.ReadFrame()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
				l.log.Info("peer disconnected")
				return nil
			}
			l.log.Info("connection closed", "err", err)
			return err
		}
		l.lastSeen.Store(time.Now().UnixNano())

		switch f.Kind {
		case wire.KindPacket:
			// The engine reports per-packet errors itself.
			_ = l.eng.OnPacketReceived(engine.WithTransferTime(ctx, f.ReadTime), f.Body)

		case wire.KindResync:
			id, err := wire.ParseResync(f.Body)
			if err != nil {
				l.log.Warn("bad resync frame", "err", err)
				continue
			}
			l.log.Debug("peer requested resync", "stream", id)
			if err := l.eng.HandleResyncRequest(ctx, id); err != nil {
				l.log.Warn("resync failed", "stream", id, "err", err)
			}

		case wire.KindPing:
			if err := l.conn.WriteFrame(wire.KindPong, f.Body); err != nil {
				return fmt.Errorf("write pong: %w", err)
			}

		case wire.KindPong:
			sent, err := wire.ParsePong(f.Body)
			if err != nil {
				l.log.Warn("bad pong frame", "err", err)
				continue
			}
			l.est.RecordRTT(time.Since(sent))
			l.opts.Metrics.ObserveBandwidth(l.est.Stats())
			select {
			case l.pongCh <- struct{}{}:
			default:
			}

		case wire.KindError:
			return fmt.Errorf("peer error: %s", f.Body)

		default:
			l.log.Warn("unexpected frame", "kind", f.Kind)
		}
	}
}

func (l *Link) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-l.sendCh:
			err := l.eng.OnLocalClipboardChanged(ctx, ev.Stream, ev.Stream.Kind(), ev.Content)
			if err != nil && !errors.Is(err, engine.ErrCanceled) && !errors.Is(err, engine.ErrClosed) {
				l.log.Debug("update not sent", "stream", ev.Stream, "err", err)
			}
		}
	}
}

func (l *Link) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(l.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := l.conn.WriteFrame(wire.KindPing, wire.PingBody(time.Now())); err != nil {
			l.conn.Close()
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-l.pongCh:
		case <-time.After(pongDeadline):
			l.log.Warn("pong timeout, closing")
			l.conn.Close()
			return
		}
	}
}
