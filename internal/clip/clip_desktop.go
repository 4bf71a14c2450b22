//go:build linux || darwin || windows

package clip

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.design/x/clipboard"

	"go.klb.dev/clipsync/internal/stream"
)

const pollInterval = 250 * time.Millisecond

var formats = []struct {
	kind   stream.Kind
	format clipboard.Format
}{
	{stream.KindText, clipboard.FmtText},
	{stream.KindImage, clipboard.FmtImage},
}

type desktopBackend struct {
	watchCh chan struct{}
	done    chan struct{}
	once    sync.Once

	mu   sync.Mutex
	last map[stream.Kind][]byte
}

// New returns the desktop clipboard backend, or the headless backend if no
// display is available. clipboard.Init runs here rather than in init() so
// that CLI sub-commands never touch the display.
func New() Backend {
	if err := clipboard.Init(); err != nil {
		slog.Warn("clipboard unavailable, running headless", "err", err)
		return NewHeadless()
	}
	b := &desktopBackend{
		watchCh: make(chan struct{}, 1),
		done:    make(chan struct{}),
		last:    make(map[stream.Kind][]byte),
	}
	go b.poll()
	return b
}

func (b *desktopBackend) Name() string { return "desktop clipboard (poll)" }

func (b *desktopBackend) poll() {
	t := time.NewTicker(pollInterval)
	defer t.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-t.C:
			changed := false
			b.mu.Lock()
			for _, f := range formats {
				cur := clipboard.Read(f.format)
				if !bytes.Equal(cur, b.last[f.kind]) {
					b.last[f.kind] = cur
					changed = true
				}
			}
			b.mu.Unlock()
			if changed {
				select {
				case b.watchCh <- struct{}{}:
				default:
				}
			}
		}
	}
}

func (b *desktopBackend) Read() ([]Item, error) {
	var items []Item
	for _, f := range formats {
		if data := clipboard.Read(f.format); len(data) > 0 {
			items = append(items, Item{Kind: f.kind, Data: data})
		}
	}
	return items, nil
}

// Write updates the clipboard and the poller's view of it, so our own
// writes do not come back as change notifications.
func (b *desktopBackend) Write(item Item) error {
	for _, f := range formats {
		if f.kind != item.Kind {
			continue
		}
		b.mu.Lock()
		b.last[f.kind] = bytes.Clone(item.Data)
		b.mu.Unlock()
		clipboard.Write(f.format, item.Data)
		return nil
	}
	return fmt.Errorf("unsupported clipboard kind: %s", item.Kind)
}

func (b *desktopBackend) Watch() <-chan struct{} { return b.watchCh }

func (b *desktopBackend) Close() { b.once.Do(func() { close(b.done) }) }
