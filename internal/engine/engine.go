// Package engine orchestrates clipboard synchronisation for one peer link.
//
// Local clipboard changes flow through policy, delta encoding, compression
// and packet framing before being handed to a Transport. Received packets
// flow back through the same stages in reverse and end in a Sink. Every
// stream has its own outbound and inbound FIFO, so work for one stream is
// strictly ordered while different streams proceed concurrently.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.klb.dev/clipsync/internal/bandwidth"
	"go.klb.dev/clipsync/internal/config"
	"go.klb.dev/clipsync/internal/delta"
	"go.klb.dev/clipsync/internal/metrics"
	"go.klb.dev/clipsync/internal/stream"
)

var (
	// ErrOutOfOrder reports a packet whose sequence number does not follow
	// the last applied one.
	ErrOutOfOrder = errors.New("out of order packet")
	// ErrResyncing reports a delta packet discarded while the stream waits
	// for a full baseline.
	ErrResyncing = errors.New("stream is resyncing")
	// ErrCanceled reports work abandoned by context cancellation or a
	// stream reset.
	ErrCanceled = errors.New("canceled")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("engine closed")
)

// Transport carries serialized packets to the peer.
type Transport interface {
	SendBytes(ctx context.Context, b []byte) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, b []byte) error

func (f TransportFunc) SendBytes(ctx context.Context, b []byte) error { return f(ctx, b) }

// Sink applies reconstructed content to the local clipboard.
type Sink interface {
	ApplyToLocalClipboard(ctx context.Context, id stream.ID, kind stream.Kind, content []byte) error
}

// ResyncRequester asks the peer to resend a full baseline for a stream.
type ResyncRequester interface {
	RequestResync(ctx context.Context, id stream.ID) error
}

// Reporter receives every per-packet error. Errors tied to a stream are
// *StreamError values.
type Reporter interface {
	ReportError(err error)
}

// StreamError attaches the stream and sequence number to a pipeline error.
type StreamError struct {
	Stream   stream.ID
	Sequence uint32
	Err      error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream %s seq %d: %v", e.Stream, e.Sequence, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// DefaultQueueSize is the per-stream queue depth.
const DefaultQueueSize = 64

// Option configures an Engine.
type Option func(*Engine)

// WithEstimator shares a bandwidth estimator, for example with a ping loop.
func WithEstimator(est *bandwidth.Estimator) Option {
	return func(e *Engine) { e.est = est }
}

// WithMetrics records pipeline activity.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithReporter replaces the default logging reporter.
func WithReporter(r Reporter) Option {
	return func(e *Engine) { e.reporter = r }
}

// WithResyncRequester sets the collaborator told when a stream needs a
// fresh baseline from the peer.
func WithResyncRequester(r ResyncRequester) Option {
	return func(e *Engine) { e.requester = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithQueueSize sets the per-stream queue depth.
func WithQueueSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.queueSize = n
		}
	}
}

// Engine is safe for concurrent use.
type Engine struct {
	cfg       atomic.Pointer[config.SyncConfig]
	transport Transport
	sink      Sink
	est       *bandwidth.Estimator
	metrics   *metrics.Metrics
	reporter  Reporter
	requester ResyncRequester
	log       *slog.Logger
	queueSize int

	tx *delta.Codec
	rx *delta.Codec

	mu      sync.RWMutex
	streams map[stream.ID]*streamState
	closed  bool
	wg      sync.WaitGroup
}

// New validates cfg and returns an engine sending through transport and
// applying into sink.
func New(cfg config.SyncConfig, transport Transport, sink Sink, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		transport: transport,
		sink:      sink,
		queueSize: DefaultQueueSize,
		tx:        delta.NewCodec(),
		rx:        delta.NewCodec(),
		streams:   make(map[stream.ID]*streamState),
	}
	for _, o := range opts {
		o(e)
	}
	if e.est == nil {
		e.est = bandwidth.New()
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	if e.reporter == nil {
		e.reporter = logReporter{e.log}
	}
	e.cfg.Store(&cfg)
	return e, nil
}

// Reconfigure swaps the configuration. Work already encoding keeps the
// decision it made; the next decision uses cfg.
func (e *Engine) Reconfigure(cfg config.SyncConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.cfg.Store(&cfg)
	e.log.Info("sync config updated",
		"compression", cfg.PreferredCompression, "delta", cfg.PreferredDelta,
		"min_compress_size", cfg.MinSizeForCompression)
	return nil
}

// Config returns the active configuration.
func (e *Engine) Config() config.SyncConfig { return *e.cfg.Load() }

// Stats returns the engine's bandwidth estimate.
func (e *Engine) Stats() bandwidth.Stats { return e.est.Stats() }

// Estimator exposes the bandwidth estimator so transports can feed RTT
// samples.
func (e *Engine) Estimator() *bandwidth.Estimator { return e.est }

// ResetStream abandons queued outbound work for id that has not been sent
// yet, drops both baselines and forces the next outgoing packet to be full.
func (e *Engine) ResetStream(id stream.ID) {
	s, err := e.stream(id)
	if err != nil {
		return
	}
	s.gen.Add(1)
	e.tx.Reset(id)
	e.rx.Reset(id)
	s.forgetSynced()
	s.forceFull.Store(true)
	e.log.Debug("stream reset", "stream", id)
}

// StreamStatus is a point-in-time view of one stream.
type StreamStatus struct {
	Stream       stream.ID `json:"stream"`
	Outbound     State     `json:"outbound"`
	Inbound      State     `json:"inbound"`
	LastSent     uint32    `json:"last_sent"`
	LastReceived uint32    `json:"last_received"`
}

// Status lists every stream the engine has seen, ordered by ID.
func (e *Engine) Status() []StreamStatus {
	e.mu.RLock()
	out := make([]StreamStatus, 0, len(e.streams))
	for id, s := range e.streams {
		st := StreamStatus{
			Stream:   id,
			Outbound: s.outState(),
			Inbound:  s.inState(),
			LastSent: s.txSeq.Load(),
		}
		if seq, ok := e.rx.Sequence(id); ok {
			st.LastReceived = seq
		}
		out = append(out, st)
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Stream < out[j].Stream })
	return out
}

// Close stops accepting work, lets queued work finish and waits for the
// stream workers to exit.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	for _, s := range e.streams {
		close(s.out.jobs)
		close(s.in.jobs)
	}
	e.mu.Unlock()
	e.wg.Wait()
	return nil
}

func (e *Engine) stream(id stream.ID) (*streamState, error) {
	e.mu.RLock()
	s, ok := e.streams[id]
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if ok {
		return s, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	if s, ok := e.streams[id]; ok {
		return s, nil
	}
	s = newStreamState(id, e.queueSize)
	e.streams[id] = s
	e.wg.Add(2)
	go s.out.run(&e.wg)
	go s.in.run(&e.wg)
	return s, nil
}

// submit queues fn on l and waits for its result.
func (e *Engine) submit(ctx context.Context, l *lane, fn func(context.Context) error) error {
	j := &job{ctx: ctx, run: fn, done: make(chan error, 1)}

	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return ErrClosed
	}
	select {
	case l.jobs <- j:
		e.mu.RUnlock()
	case <-ctx.Done():
		e.mu.RUnlock()
		return fmt.Errorf("%w: %w", ErrCanceled, ctx.Err())
	}

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrCanceled, ctx.Err())
	}
}

func (e *Engine) report(err error) {
	e.reporter.ReportError(err)
}

type logReporter struct{ log *slog.Logger }

func (r logReporter) ReportError(err error) {
	var se *StreamError
	if errors.As(err, &se) {
		r.log.Warn("sync error", "stream", se.Stream, "seq", se.Sequence, "err", se.Err)
		return
	}
	r.log.Warn("sync error", "err", err)
}

type transferKey struct{}

// WithTransferTime attaches the time the transport spent receiving a
// packet. OnPacketReceived feeds it to the bandwidth estimator instead of
// its own pipeline time.
func WithTransferTime(ctx context.Context, d time.Duration) context.Context {
	return context.WithValue(ctx, transferKey{}, d)
}

func transferTime(ctx context.Context) (time.Duration, bool) {
	d, ok := ctx.Value(transferKey{}).(time.Duration)
	return d, ok && d > 0
}
