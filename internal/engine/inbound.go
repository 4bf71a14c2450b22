package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.klb.dev/clipsync/internal/bandwidth"
	"go.klb.dev/clipsync/internal/compress"
	"go.klb.dev/clipsync/internal/delta"
	"go.klb.dev/clipsync/internal/metrics"
	"go.klb.dev/clipsync/internal/packet"
)

// OnPacketReceived decodes one serialized packet and applies it. Malformed
// packets are dropped without touching stream state. Corrupted packets,
// gaps in the sequence and undecodable deltas put the stream into resync
// until the peer sends a full baseline.
func (e *Engine) OnPacketReceived(ctx context.Context, data []byte) error {
	arrived := time.Now()
	p, err := packet.Unmarshal(data)
	switch {
	case errors.Is(err, packet.ErrIntegrity):
		e.metrics.Error("integrity")
		s, serr := e.stream(p.Stream)
		if serr != nil {
			return serr
		}
		err = &StreamError{Stream: p.Stream, Sequence: p.Sequence, Err: err}
		return e.submit(ctx, &s.in, func(ctx context.Context) error {
			e.metrics.PacketReceived(s.id, metrics.OutcomeDropped, len(data), 0, 0)
			e.resync(ctx, s, err)
			return err
		})
	case err != nil:
		e.metrics.Error("framing")
		e.report(err)
		return err
	}

	s, err := e.stream(p.Stream)
	if err != nil {
		return err
	}
	return e.submit(ctx, &s.in, func(ctx context.Context) error {
		return e.receive(ctx, s, p, len(data), arrived)
	})
}

// receive runs on the stream's inbound lane.
func (e *Engine) receive(ctx context.Context, s *streamState, p *packet.SyncPacket, wireLen int, arrived time.Time) error {
	id := s.id
	s.setIn(Receiving)
	defer s.setIn(Idle)

	fail := func(err error) error {
		return &StreamError{Stream: id, Sequence: p.Sequence, Err: err}
	}

	if s.resyncing.Load() {
		if p.Delta != delta.None {
			e.metrics.PacketReceived(id, metrics.OutcomeDiscarded, wireLen, 0, 0)
			e.log.Debug("discarding delta while resyncing", "stream", id, "seq", p.Sequence)
			return fail(ErrResyncing)
		}
	} else if last, ok := e.rx.Sequence(id); ok && p.Sequence != last+1 {
		err := fail(fmt.Errorf("%w: got %d after %d", ErrOutOfOrder, p.Sequence, last))
		e.metrics.Error("order")
		e.metrics.PacketReceived(id, metrics.OutcomeDropped, wireLen, 0, 0)
		e.resync(ctx, s, err)
		return err
	}

	s.setIn(Decoding)
	expected := -1
	if p.Delta == delta.None {
		expected = int(p.OriginalLength)
	}
	raw, err := compress.Decompress(p.Compression, p.Payload, expected)
	if err != nil {
		err = fail(err)
		e.metrics.Error("codec")
		e.metrics.PacketReceived(id, metrics.OutcomeDropped, wireLen, 0, 0)
		e.report(err)
		return err
	}
	content, err := e.rx.Decode(p.Delta, id, p.Sequence, raw, int(p.OriginalLength))
	if err != nil {
		err = fail(err)
		e.metrics.Error("delta")
		e.metrics.PacketReceived(id, metrics.OutcomeDropped, wireLen, 0, 0)
		e.resync(ctx, s, err)
		return err
	}
	if s.resyncing.Swap(false) {
		e.log.Info("stream resynchronised", "stream", id, "seq", p.Sequence)
	}

	s.setIn(Applying)
	if err := e.sink.ApplyToLocalClipboard(ctx, id, id.Kind(), content); err != nil {
		err = fail(fmt.Errorf("apply: %w", err))
		e.metrics.Error("apply")
		e.metrics.PacketReceived(id, metrics.OutcomeDropped, wireLen, 0, 0)
		e.resync(ctx, s, err)
		return err
	}
	s.markSynced(content)

	elapsed, ok := transferTime(ctx)
	if !ok {
		elapsed = time.Since(arrived)
	}
	e.est.Record(bandwidth.Recv, wireLen, elapsed)
	e.metrics.PacketReceived(id, metrics.OutcomeApplied, wireLen, len(content), time.Since(arrived))
	e.metrics.ObserveBandwidth(e.est.Stats())
	e.log.Debug("packet applied", "stream", id, "seq", p.Sequence,
		"compression", p.Compression, "delta", p.Delta, "bytes", len(content))
	return nil
}

// resync puts the stream into Resyncing: both baselines are dropped, the
// next outgoing packet is forced full and the peer is asked for a
// baseline. Further deltas are discarded until a full packet arrives.
func (e *Engine) resync(ctx context.Context, s *streamState, cause error) {
	e.report(cause)
	already := s.resyncing.Swap(true)
	e.rx.Reset(s.id)
	e.tx.Reset(s.id)
	s.forgetSynced()
	s.forceFull.Store(true)
	if already {
		return
	}
	e.metrics.Resync(s.id)
	e.log.Info("stream entering resync", "stream", s.id)
	if e.requester == nil {
		return
	}
	if err := e.requester.RequestResync(ctx, s.id); err != nil {
		e.log.Warn("resync request failed", "stream", s.id, "err", err)
	}
}
