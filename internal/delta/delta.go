// Package delta encodes clipboard content as an edit script against the
// last content synchronised on the same stream.
//
// A Codec keeps one snapshot per stream. The sending side and the receiving
// side of a link each own a Codec; as long as both commit the same packets
// in the same order their snapshots agree and scripts apply cleanly.
package delta

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.klb.dev/clipsync/internal/stream"
)

// ErrDelta is wrapped by every decode failure: a missing baseline, a
// malformed script, or a script referencing spans outside the baseline.
var ErrDelta = errors.New("delta error")

var errLineDiff = errors.New("line diff failed")

// Mode is the delta strategy tag carried in a packet header.
type Mode uint8

const (
	None Mode = iota
	Binary
	Text
	// Adaptive is a request, never an effective mode: Encode resolves it to
	// one of the concrete modes.
	Adaptive

	numModes
)

var modeNames = [numModes]string{
	None:     "none",
	Binary:   "binary",
	Text:     "text",
	Adaptive: "adaptive",
}

// Valid reports whether m is a known tag.
func (m Mode) Valid() bool { return m < numModes }

// Concrete reports whether m may appear on the wire.
func (m Mode) Concrete() bool { return m.Valid() && m != Adaptive }

func (m Mode) String() string {
	if !m.Valid() {
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
	return modeNames[m]
}

// ParseMode converts a configuration string to a Mode.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return None, nil
	}
	for i, name := range modeNames {
		if name == s {
			return Mode(i), nil
		}
	}
	return None, fmt.Errorf("unknown delta mode %q", s)
}

// Snapshot is the last content committed on a stream.
type Snapshot struct {
	Content  []byte
	Sequence uint32
}

// Codec computes and applies edit scripts and owns the per-stream
// snapshots. Callers must not run two operations for the same stream
// concurrently; different streams are independent.
type Codec struct {
	mu    sync.Mutex
	snaps map[stream.ID]Snapshot
}

// NewCodec returns a Codec with no baselines.
func NewCodec() *Codec {
	return &Codec{snaps: make(map[stream.ID]Snapshot)}
}

// Encode turns content into a payload for the requested mode and commits
// content as the stream's new snapshot. The returned mode is the one that
// was actually used: delta modes fall back to None when the stream has no
// baseline, and Adaptive resolves to whichever candidate is smallest.
func (c *Codec) Encode(mode Mode, id stream.ID, content []byte, seq uint32) (Mode, []byte, error) {
	base, ok := c.baseline(id)

	var (
		effective Mode
		payload   []byte
	)
	switch mode {
	case None:
		effective, payload = None, bytes.Clone(content)

	case Binary:
		if !ok {
			effective, payload = None, bytes.Clone(content)
			break
		}
		effective, payload = Binary, diffBinary(base, content)

	case Text:
		if !id.Kind().IsText() {
			return None, nil, fmt.Errorf("%w: text delta requested on %s stream", ErrDelta, id.Kind())
		}
		if !ok {
			effective, payload = None, bytes.Clone(content)
			break
		}
		effective, payload = textCandidate(base, content)

	case Adaptive:
		effective, payload = None, content
		if ok {
			candidates := []func() (Mode, []byte){
				func() (Mode, []byte) { return Binary, diffBinary(base, content) },
			}
			if id.Kind().IsText() {
				candidates = append(candidates, func() (Mode, []byte) { return textCandidate(base, content) })
			}
			for _, cand := range candidates {
				m, p := cand()
				if len(p) < len(payload) {
					effective, payload = m, p
				}
			}
		}
		if effective == None {
			payload = bytes.Clone(content)
		}

	default:
		return None, nil, fmt.Errorf("%w: unknown mode %d", ErrDelta, uint8(mode))
	}

	c.commit(id, bytes.Clone(content), seq)
	return effective, payload, nil
}

// Decode rebuilds content from a payload of the given effective mode and
// commits it as the stream's new snapshot. originalLength is the content
// length announced by the sender; a reconstruction of any other length is
// rejected. On failure the snapshot is left untouched.
func (c *Codec) Decode(mode Mode, id stream.ID, seq uint32, payload []byte, originalLength int) ([]byte, error) {
	var content []byte
	switch mode {
	case None:
		if len(payload) != originalLength {
			return nil, fmt.Errorf("%w: full payload is %d bytes, header says %d", ErrDelta, len(payload), originalLength)
		}
		content = bytes.Clone(payload)

	case Binary, Text:
		base, ok := c.baseline(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s delta on stream %s without baseline", ErrDelta, mode, id)
		}
		out, err := applyScript(base, payload, originalLength)
		if err != nil {
			return nil, err
		}
		if len(out) != originalLength {
			return nil, fmt.Errorf("%w: rebuilt %d bytes, header says %d", ErrDelta, len(out), originalLength)
		}
		content = out

	default:
		return nil, fmt.Errorf("%w: cannot decode mode %s", ErrDelta, mode)
	}

	c.commit(id, content, seq)
	return content, nil
}

// Snapshot returns a copy of the stream's current snapshot.
func (c *Codec) Snapshot(id stream.ID) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.snaps[id]
	if !ok {
		return Snapshot{}, false
	}
	return Snapshot{Content: bytes.Clone(s.Content), Sequence: s.Sequence}, true
}

// Sequence returns the sequence number of the stream's snapshot.
func (c *Codec) Sequence(id stream.ID) (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.snaps[id]
	return s.Sequence, ok
}

// Commit installs content as the stream's snapshot without encoding.
func (c *Codec) Commit(id stream.ID, content []byte, seq uint32) {
	c.commit(id, bytes.Clone(content), seq)
}

// Reset drops the stream's snapshot, forcing the next exchange to carry a
// full baseline.
func (c *Codec) Reset(id stream.ID) {
	c.mu.Lock()
	delete(c.snaps, id)
	c.mu.Unlock()
}

// ResetAll drops every snapshot.
func (c *Codec) ResetAll() {
	c.mu.Lock()
	clear(c.snaps)
	c.mu.Unlock()
}

// baseline returns the stored content without copying; scripts only read it.
func (c *Codec) baseline(id stream.ID) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.snaps[id]
	return s.Content, ok
}

// commit takes ownership of content.
func (c *Codec) commit(id stream.ID, content []byte, seq uint32) {
	c.mu.Lock()
	c.snaps[id] = Snapshot{Content: content, Sequence: seq}
	c.mu.Unlock()
}

func textCandidate(base, content []byte) (Mode, []byte) {
	script, ok := diffText(base, content)
	if !ok {
		return Binary, script
	}
	return Text, script
}
