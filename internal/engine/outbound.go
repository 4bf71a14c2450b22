package engine

import (
	"context"
	"fmt"
	"time"

	"go.klb.dev/clipsync/internal/bandwidth"
	"go.klb.dev/clipsync/internal/compress"
	"go.klb.dev/clipsync/internal/delta"
	"go.klb.dev/clipsync/internal/packet"
	"go.klb.dev/clipsync/internal/policy"
	"go.klb.dev/clipsync/internal/stream"
)

// OnLocalClipboardChanged encodes content and hands it to the transport.
// It returns once the packet was sent, skipped or failed. Content equal to
// the stream's last synchronised content, the later of the last packet sent
// and the last packet applied, is not sent again.
func (e *Engine) OnLocalClipboardChanged(ctx context.Context, id stream.ID, kind stream.Kind, content []byte) error {
	if kind != id.Kind() {
		return fmt.Errorf("stream %s carries %s content, got %s", id, id.Kind(), kind)
	}
	if len(content) > packet.MaxPayloadSize {
		return fmt.Errorf("stream %s: %d bytes exceeds the %d byte limit", id, len(content), packet.MaxPayloadSize)
	}
	s, err := e.stream(id)
	if err != nil {
		return err
	}
	gen := s.gen.Load()
	return e.submit(ctx, &s.out, func(ctx context.Context) error {
		if s.isSynced(content) {
			e.log.Debug("suppressing unchanged content", "stream", id, "bytes", len(content))
			return nil
		}
		return e.emit(ctx, s, gen, content, false)
	})
}

// HandleResyncRequest answers a peer that lost its baseline for id by
// resending the last sent content in full. When nothing was sent yet the
// next local change goes out in full instead.
func (e *Engine) HandleResyncRequest(ctx context.Context, id stream.ID) error {
	s, err := e.stream(id)
	if err != nil {
		return err
	}
	gen := s.gen.Load()
	return e.submit(ctx, &s.out, func(ctx context.Context) error {
		s.forceFull.Store(true)
		snap, ok := e.tx.Snapshot(id)
		if !ok {
			e.log.Debug("resync requested with nothing to resend", "stream", id)
			return nil
		}
		e.log.Info("resending baseline", "stream", id, "bytes", len(snap.Content))
		return e.emit(ctx, s, gen, snap.Content, true)
	})
}

// emit runs on the stream's outbound lane.
func (e *Engine) emit(ctx context.Context, s *streamState, gen uint64, content []byte, full bool) error {
	id := s.id
	start := time.Now()
	s.setOut(Encoding)
	defer s.setOut(Idle)

	if err := e.current(ctx, s, gen); err != nil {
		return err
	}

	cfg := e.cfg.Load()
	d := policy.Decide(len(content), id.Kind(), e.est.Class(cfg.BandwidthLow, cfg.BandwidthHigh), *cfg)
	if s.forceFull.Swap(false) || full {
		d.Delta = delta.None
	}

	seq := s.txSeq.Load() + 1
	mode, payload, err := e.tx.Encode(d.Delta, id, content, seq)
	if err != nil {
		return e.abandon(s, seq, err)
	}

	alg := d.Compression
	if alg != compress.None && len(payload) > 0 {
		packed, err := compress.Compress(alg, payload)
		if err != nil {
			return e.abandon(s, seq, err)
		}
		if len(packed) < len(payload) {
			payload = packed
		} else {
			alg = compress.None
		}
	} else {
		alg = compress.None
	}

	b := packet.Marshal(&packet.SyncPacket{
		Sequence:       seq,
		Stream:         id,
		Compression:    alg,
		Delta:          mode,
		OriginalLength: uint32(len(content)),
		Payload:        payload,
	})

	// The encoder already committed content as the baseline, so a
	// cancelled packet has to invalidate it.
	if err := e.current(ctx, s, gen); err != nil {
		e.tx.Reset(id)
		s.forceFull.Store(true)
		return err
	}

	s.setOut(Sending)
	sendStart := time.Now()
	if err := e.transport.SendBytes(ctx, b); err != nil {
		e.metrics.Error("transport")
		return e.abandon(s, seq, fmt.Errorf("send: %w", err))
	}
	sent := time.Since(sendStart)
	s.txSeq.Store(seq)
	s.markSynced(content)

	e.est.Record(bandwidth.Send, len(b), sent)
	e.metrics.PacketSent(id, alg, mode, len(b), len(content), time.Since(start))
	e.metrics.ObserveBandwidth(e.est.Stats())
	e.log.Debug("packet sent", "stream", id, "seq", seq,
		"compression", alg, "delta", mode, "bytes", len(content), "wire", len(b))
	return nil
}

// current reports whether outbound work queued under gen may still proceed.
func (e *Engine) current(ctx context.Context, s *streamState, gen uint64) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCanceled, err)
	}
	if s.gen.Load() != gen {
		return fmt.Errorf("%w: stream %s was reset", ErrCanceled, s.id)
	}
	return nil
}

// abandon drops the outbound baseline after a failed packet so the next
// one is self-contained.
func (e *Engine) abandon(s *streamState, seq uint32, err error) error {
	e.tx.Reset(s.id)
	s.forceFull.Store(true)
	err = &StreamError{Stream: s.id, Sequence: seq, Err: err}
	e.report(err)
	return err
}
