package hub

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"go.klb.dev/clipsync/internal/message"
	"go.klb.dev/clipsync/internal/stream"
)

type fakePeer struct {
	id     string
	accept []stream.Kind

	mu  sync.Mutex
	got []Event
}

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) Info() message.PeerInfo {
	return message.PeerInfo{ID: p.id, Source: p.id, Accept: p.accept}
}

func (p *fakePeer) Send(ev Event) {
	p.mu.Lock()
	p.got = append(p.got, ev)
	p.mu.Unlock()
}

func (p *fakePeer) events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.got...)
}

func newHub() *Hub {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPublishSkipsOrigin(t *testing.T) {
	h := newHub()
	a, b, c := &fakePeer{id: "a"}, &fakePeer{id: "b"}, &fakePeer{id: "c"}
	for _, p := range []*fakePeer{a, b, c} {
		h.Register(p)
	}

	h.Publish(Event{Source: "a", Stream: stream.PrimaryText, Content: []byte("hi")}, "a")

	if n := len(a.events()); n != 0 {
		t.Fatalf("origin received %d events", n)
	}
	for _, p := range []*fakePeer{b, c} {
		evs := p.events()
		if len(evs) != 1 || string(evs[0].Content) != "hi" {
			t.Fatalf("peer %s got %+v", p.id, evs)
		}
	}
}

func TestPublishDeduplicates(t *testing.T) {
	h := newHub()
	b := &fakePeer{id: "b"}
	h.Register(b)

	ev := Event{Source: "a", Stream: stream.PrimaryText, Content: []byte("same")}
	h.Publish(ev, "a")
	h.Publish(ev, "local")
	if n := len(b.events()); n != 1 {
		t.Fatalf("peer got %d events, want 1", n)
	}
}

func TestRegisterReplaysLatest(t *testing.T) {
	h := newHub()
	h.Publish(Event{Source: "x", Stream: stream.PrimaryImage, Content: []byte{0x89, 'P'}}, "x")
	h.Publish(Event{Source: "x", Stream: stream.PrimaryText, Content: []byte("one")}, "x")
	h.Publish(Event{Source: "x", Stream: stream.PrimaryText, Content: []byte("two")}, "x")

	all := &fakePeer{id: "all"}
	h.Register(all)
	evs := all.events()
	if len(evs) != 2 || evs[0].Stream != stream.PrimaryText || string(evs[0].Content) != "two" {
		t.Fatalf("replay = %+v", evs)
	}

	textOnly := &fakePeer{id: "text", accept: []stream.Kind{stream.KindText}}
	h.Register(textOnly)
	if evs := textOnly.events(); len(evs) != 1 || evs[0].Stream != stream.PrimaryText {
		t.Fatalf("filtered replay = %+v", evs)
	}
}

func TestAcceptFilter(t *testing.T) {
	h := newHub()
	textOnly := &fakePeer{id: "t", accept: []stream.Kind{stream.KindText}}
	h.Register(textOnly)

	h.Publish(Event{Stream: stream.PrimaryImage, Content: []byte("png")}, "x")
	if n := len(textOnly.events()); n != 0 {
		t.Fatalf("text-only peer got %d image events", n)
	}
}

func TestUnregisterAndPeers(t *testing.T) {
	h := newHub()
	a, b := &fakePeer{id: "a"}, &fakePeer{id: "b"}
	h.Register(b)
	h.Register(a)

	peers := h.Peers()
	if len(peers) != 2 || peers[0].ID != "a" || peers[1].ID != "b" {
		t.Fatalf("Peers() = %+v", peers)
	}

	// A stale peer with a reused ID must not evict the current one.
	h.Unregister(&fakePeer{id: "a"})
	if len(h.Peers()) != 2 {
		t.Fatal("stale unregister removed the live peer")
	}
	h.Unregister(a)
	if len(h.Peers()) != 1 {
		t.Fatalf("Peers() after unregister = %+v", h.Peers())
	}

	n := 0
	h.Each(func(Peer) { n++ })
	if n != 1 {
		t.Fatalf("Each visited %d peers", n)
	}
}

func TestLatest(t *testing.T) {
	h := newHub()
	if _, ok := h.Latest(stream.PrimaryText); ok {
		t.Fatal("Latest on empty hub reported content")
	}
	h.Publish(Event{Source: "ipc", Stream: stream.PrimaryText, Content: []byte("x")}, "ipc")
	ev, ok := h.Latest(stream.PrimaryText)
	if !ok || string(ev.Content) != "x" || ev.Source != "ipc" {
		t.Fatalf("Latest() = %+v, %v", ev, ok)
	}
}

func TestPublishLogsTextPreview(t *testing.T) {
	var buf bytes.Buffer
	h := New(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	h.Publish(Event{Source: "laptop", Stream: stream.PrimaryText, Content: []byte(strings.Repeat("é", 100))}, "local")
	h.Publish(Event{Source: "laptop", Stream: stream.PrimaryImage, Content: []byte{0x89, 'P', 'N', 'G'}}, "local")

	out := buf.String()
	if strings.Count(out, "clipboard published") != 2 {
		t.Fatalf("want two publish records:\n%s", out)
	}
	if strings.Count(out, "clipboard text") != 1 {
		t.Fatalf("want one preview record for the text stream:\n%s", out)
	}
}

func TestPreviewCutsOnRuneBoundary(t *testing.T) {
	p := preview([]byte(strings.Repeat("é", 100)))
	if !strings.HasSuffix(p, "…") {
		t.Fatalf("long content not truncated: %q", p)
	}
	if got := strings.TrimSuffix(p, "…"); !utf8.ValidString(got) || len(got) > previewLen {
		t.Fatalf("preview = %q", got)
	}
	if p := preview([]byte("short")); p != "short" {
		t.Fatalf("preview(short) = %q", p)
	}
}
