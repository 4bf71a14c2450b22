// Package clip provides a unified interface to the system clipboard.
// Build constraints select the implementation:
//
//	clip_desktop.go  Linux, macOS and Windows via golang.design/x/clipboard
//	clip_other.go    every other platform, headless
//
// A headless no-op backend is also used when the desktop clipboard cannot
// be initialised, and an in-memory backend serves tests and relay setups.
package clip

import "go.klb.dev/clipsync/internal/stream"

// Item is one clipboard representation.
type Item struct {
	Kind stream.Kind
	Data []byte
}

// Backend is the interface all clipboard implementations satisfy.
type Backend interface {
	// Name returns a human-readable name for the backend.
	Name() string

	// Read returns the current clipboard contents, one item per kind.
	// Returns nil, nil if the clipboard is empty.
	Read() ([]Item, error)

	// Write replaces the clipboard content of item's kind.
	Write(item Item) error

	// Watch returns a channel that receives a signal whenever the clipboard
	// changes. The caller should call Read when it receives.
	Watch() <-chan struct{}

	// Close releases any resources held by the backend.
	Close()
}
