// Package message defines the JSON documents exchanged outside the packet
// path: the hello that opens a peer link and the status report served to
// local tools.
package message

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"go.klb.dev/clipsync/internal/bandwidth"
	"go.klb.dev/clipsync/internal/engine"
	"go.klb.dev/clipsync/internal/stream"
)

// ProtocolVersion is carried in Hello and must match on both ends.
const ProtocolVersion = 1

// Role identifies how a peer joined the link.
type Role string

const (
	RoleServer Role = "server" // accepted the connection
	RoleClient Role = "client" // dialed the connection
	RoleLocal  Role = "local"  // this host's clipboard
)

// Hello is the first frame on a peer link, sent by both sides.
type Hello struct {
	Version int    `json:"version"`
	Source  string `json:"source"`
	Token   string `json:"token,omitempty"`
	// Accept lists the stream kinds the sender wants to receive. Empty
	// means all kinds.
	Accept []stream.Kind `json:"accept,omitempty"`
}

// Encode serialises h.
func (h *Hello) Encode() ([]byte, error) {
	return json.Marshal(h)
}

// DecodeHello parses a Hello frame body.
func DecodeHello(b []byte) (*Hello, error) {
	var h Hello
	if err := json.Unmarshal(b, &h); err != nil {
		return nil, fmt.Errorf("hello decode: %w", err)
	}
	if h.Version != ProtocolVersion {
		return nil, fmt.Errorf("hello: protocol version %d, want %d", h.Version, ProtocolVersion)
	}
	return &h, nil
}

// Accepts reports whether a peer with the given accept list wants kind.
func Accepts(accept []stream.Kind, kind stream.Kind) bool {
	return len(accept) == 0 || slices.Contains(accept, kind)
}

// PeerInfo describes one registered hub peer.
type PeerInfo struct {
	ID          string                `json:"id"`
	Source      string                `json:"source"`
	Addr        string                `json:"addr"`
	Role        Role                  `json:"role"`
	Accept      []stream.Kind         `json:"accept,omitempty"`
	ConnectedAt time.Time             `json:"connected_at"`
	LastSeen    time.Time             `json:"last_seen"`
	Streams     []engine.StreamStatus `json:"streams,omitempty"`
	Bandwidth   *bandwidth.Stats      `json:"bandwidth,omitempty"`
}

// Status is the daemon status document.
type Status struct {
	Source  string     `json:"source"`
	Version string     `json:"version"`
	Peers   []PeerInfo `json:"peers"`
}
