package peerlink

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"go.klb.dev/clipsync/internal/config"
	"go.klb.dev/clipsync/internal/hub"
	"go.klb.dev/clipsync/internal/message"
	"go.klb.dev/clipsync/internal/stream"
)

type sinkPeer struct {
	id string

	mu  sync.Mutex
	got []hub.Event
}

func (p *sinkPeer) ID() string             { return p.id }
func (p *sinkPeer) Info() message.PeerInfo { return message.PeerInfo{ID: p.id, Role: message.RoleLocal} }
func (p *sinkPeer) Send(ev hub.Event) {
	p.mu.Lock()
	p.got = append(p.got, ev)
	p.mu.Unlock()
}

func (p *sinkPeer) last() (hub.Event, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.got) == 0 {
		return hub.Event{}, 0
	}
	return p.got[len(p.got)-1], len(p.got)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func tcpPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()
	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	server, ok := <-accepted
	if !ok {
		t.Fatal("accept failed")
	}
	return server, client
}

type side struct {
	hub   *hub.Hub
	local *sinkPeer
	link  *Link
	done  chan error
}

func start(t *testing.T, ctx context.Context, conn net.Conn, role message.Role, opts Options) *side {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts.Logger = log
	opts.Config = config.Default()
	h := hub.New(log)
	local := &sinkPeer{id: "local"}
	h.Register(local)

	l, err := New(conn, h, role, opts)
	if err != nil {
		t.Fatal(err)
	}
	s := &side{hub: h, local: local, link: l, done: make(chan error, 1)}
	go func() { s.done <- l.Serve(ctx) }()
	return s
}

func TestUpdatesFlowBothWays(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sc, cc := tcpPair(t)
	a := start(t, ctx, sc, message.RoleServer, Options{Source: "server", Token: "tok"})
	b := start(t, ctx, cc, message.RoleClient, Options{Source: "laptop", Token: "tok"})

	waitFor(t, "registration", func() bool { return len(a.hub.Peers()) == 2 && len(b.hub.Peers()) == 2 })

	a.hub.Publish(hub.Event{Source: "server", Stream: stream.PrimaryText, Content: []byte("hello world")}, "local")
	waitFor(t, "delivery to b", func() bool {
		ev, _ := b.local.last()
		return string(ev.Content) == "hello world"
	})
	ev, _ := b.local.last()
	if ev.Source != "server" || ev.Stream != stream.PrimaryText {
		t.Fatalf("b received %+v", ev)
	}

	b.hub.Publish(hub.Event{Source: "laptop", Stream: stream.PrimaryText, Content: []byte("hello world!")}, "local")
	waitFor(t, "delivery to a", func() bool {
		ev, _ := a.local.last()
		return string(ev.Content) == "hello world!"
	})

	var info message.PeerInfo
	for _, p := range a.hub.Peers() {
		if p.ID != "local" {
			info = p
		}
	}
	if info.Source != "laptop" || info.Role != message.RoleServer || len(info.Streams) != 1 {
		t.Fatalf("peer info on a = %+v", info)
	}
}

func TestTokenMismatchRejected(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sc, cc := tcpPair(t)
	a := start(t, ctx, sc, message.RoleServer, Options{Source: "server", Token: "right"})
	b := start(t, ctx, cc, message.RoleClient, Options{Source: "intruder", Token: "wrong"})

	for _, s := range []*side{a, b} {
		select {
		case err := <-s.done:
			if !errors.Is(err, ErrAuth) {
				t.Fatalf("Serve() error = %v, want ErrAuth", err)
			}
		case <-time.After(3 * time.Second):
			t.Fatal("Serve did not return")
		}
	}
	if n := len(a.hub.Peers()); n != 1 {
		t.Fatalf("hub has %d peers after failed auth", n)
	}
}

func TestPingMeasuresRTT(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sc, cc := tcpPair(t)
	a := start(t, ctx, sc, message.RoleServer, Options{Source: "a", PingInterval: 20 * time.Millisecond})
	start(t, ctx, cc, message.RoleClient, Options{Source: "b"})

	waitFor(t, "rtt sample", func() bool { return a.link.est.Stats().RTTSamples > 0 })
}

func TestServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sc, cc := tcpPair(t)
	a := start(t, ctx, sc, message.RoleServer, Options{Source: "a"})
	b := start(t, ctx, cc, message.RoleClient, Options{Source: "b"})
	waitFor(t, "registration", func() bool { return len(a.hub.Peers()) == 2 })

	cancel()
	for _, s := range []*side{a, b} {
		select {
		case <-s.done:
		case <-time.After(3 * time.Second):
			t.Fatal("Serve did not return after cancel")
		}
	}
	if n := len(a.hub.Peers()); n != 1 {
		t.Fatalf("link still registered: %d peers", n)
	}
}
