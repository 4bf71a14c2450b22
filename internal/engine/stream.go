package engine

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.klb.dev/clipsync/internal/stream"
)

// State is the pipeline phase of one direction of a stream.
type State uint8

const (
	Idle State = iota
	Encoding
	Sending
	Receiving
	Decoding
	Applying
	Resyncing
)

var stateNames = [...]string{"idle", "encoding", "sending", "receiving", "decoding", "applying", "resyncing"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", b)
}

type job struct {
	ctx  context.Context
	run  func(context.Context) error
	done chan error
}

// lane is a FIFO drained by a single goroutine.
type lane struct {
	jobs chan *job
}

func (l *lane) run(wg *sync.WaitGroup) {
	defer wg.Done()
	for j := range l.jobs {
		if err := j.ctx.Err(); err != nil {
			j.done <- fmt.Errorf("%w: %w", ErrCanceled, err)
			continue
		}
		j.done <- j.run(j.ctx)
	}
}

type streamState struct {
	id  stream.ID
	out lane
	in  lane

	// gen is bumped by ResetStream; outbound work started under an older
	// generation is dropped before it reaches the transport.
	gen       atomic.Uint64
	forceFull atomic.Bool
	txSeq     atomic.Uint32

	outPhase  atomic.Uint32
	inPhase   atomic.Uint32
	resyncing atomic.Bool

	// synced is the content both ends last agreed on: the last packet sent
	// or the last packet applied, whichever came later. Nil when unknown.
	synced atomic.Pointer[[]byte]
}

func (s *streamState) markSynced(content []byte) {
	c := bytes.Clone(content)
	s.synced.Store(&c)
}

func (s *streamState) isSynced(content []byte) bool {
	c := s.synced.Load()
	return c != nil && bytes.Equal(*c, content)
}

func (s *streamState) forgetSynced() { s.synced.Store(nil) }

func newStreamState(id stream.ID, queue int) *streamState {
	return &streamState{
		id:  id,
		out: lane{jobs: make(chan *job, queue)},
		in:  lane{jobs: make(chan *job, queue)},
	}
}

func (s *streamState) setOut(st State) { s.outPhase.Store(uint32(st)) }
func (s *streamState) setIn(st State)  { s.inPhase.Store(uint32(st)) }

func (s *streamState) outState() State { return State(s.outPhase.Load()) }

func (s *streamState) inState() State {
	if s.resyncing.Load() {
		return Resyncing
	}
	return State(s.inPhase.Load())
}
