package clip

import (
	"bytes"
	"sort"
	"sync"

	"go.klb.dev/clipsync/internal/stream"
)

// Memory is an in-process clipboard. Set simulates a user copy and fires
// Watch; Write (used by the sync side) does not.
type Memory struct {
	watchCh chan struct{}

	mu    sync.Mutex
	items map[stream.Kind][]byte
}

// NewMemory returns an empty in-memory clipboard.
func NewMemory() *Memory {
	return &Memory{
		watchCh: make(chan struct{}, 1),
		items:   make(map[stream.Kind][]byte),
	}
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Read() ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]Item, 0, len(m.items))
	for k, data := range m.items {
		items = append(items, Item{Kind: k, Data: bytes.Clone(data)})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Kind < items[j].Kind })
	return items, nil
}

func (m *Memory) Write(item Item) error {
	m.mu.Lock()
	m.items[item.Kind] = bytes.Clone(item.Data)
	m.mu.Unlock()
	return nil
}

// Set stores content as if a user copied it and signals watchers.
func (m *Memory) Set(kind stream.Kind, data []byte) {
	_ = m.Write(Item{Kind: kind, Data: data})
	select {
	case m.watchCh <- struct{}{}:
	default:
	}
}

// Get returns the current content of kind.
func (m *Memory) Get(kind stream.Kind) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.items[kind]
	return bytes.Clone(data), ok
}

func (m *Memory) Watch() <-chan struct{} { return m.watchCh }
func (m *Memory) Close()                 {}
