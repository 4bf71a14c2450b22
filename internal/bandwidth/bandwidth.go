// Package bandwidth keeps a rolling estimate of link throughput and round
// trip latency for one peer link.
//
// The estimate is an exponentially weighted moving average with an
// eight-sample half-life, so memory and update cost are constant. The state
// is an immutable Stats value swapped in with compare-and-swap; concurrent
// Record calls from different streams never lose a sample.
package bandwidth

import (
	"math"
	"sync/atomic"
	"time"
)

const (
	// MinSamples is the number of observations required before Class
	// trusts the estimate.
	MinSamples = 3

	// DefaultStaleAfter is how long an estimate stays usable without new
	// samples.
	DefaultStaleAfter = 2 * time.Minute

	// Transfers shorter than this are measured as this long; handing a small
	// packet to a buffered socket otherwise looks infinitely fast.
	minElapsed = 100 * time.Microsecond
)

// alpha gives each sample a weight such that an observation's influence
// halves every eight samples.
var alpha = 1 - math.Pow(2, -1.0/8)

// Direction of an observed transfer.
type Direction uint8

const (
	Send Direction = iota
	Recv
)

func (d Direction) String() string {
	if d == Send {
		return "send"
	}
	return "recv"
}

// Class is a coarse classification of the current link speed.
type Class uint8

const (
	Low Class = iota
	Medium
	High
)

func (c Class) String() string {
	switch c {
	case Low:
		return "low"
	case High:
		return "high"
	default:
		return "medium"
	}
}

// Stats is a snapshot of the estimator state.
type Stats struct {
	// BytesPerSecond is the smoothed throughput over both directions.
	BytesPerSecond     float64   `json:"bytes_per_second"`
	SendBytesPerSecond float64   `json:"send_bytes_per_second"`
	RecvBytesPerSecond float64   `json:"recv_bytes_per_second"`
	SampleCount        uint64    `json:"sample_count"`
	SendSamples        uint64    `json:"send_samples"`
	RecvSamples        uint64    `json:"recv_samples"`
	RTT                Duration  `json:"rtt"`
	RTTSamples         uint64    `json:"rtt_samples"`
	LastUpdate         time.Time `json:"last_update"`
}

// Duration marshals as a human readable string in status output.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Estimator tracks throughput for one engine instance.
type Estimator struct {
	state      atomic.Pointer[Stats]
	now        func() time.Time
	staleAfter time.Duration
}

// Option configures an Estimator.
type Option func(*Estimator)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Estimator) { e.now = now }
}

// WithStaleAfter sets how long an estimate is trusted without new samples.
// Zero disables ageing.
func WithStaleAfter(d time.Duration) Option {
	return func(e *Estimator) { e.staleAfter = d }
}

// New returns an empty estimator.
func New(opts ...Option) *Estimator {
	e := &Estimator{
		now:        time.Now,
		staleAfter: DefaultStaleAfter,
	}
	for _, o := range opts {
		o(e)
	}
	e.state.Store(&Stats{})
	return e
}

// Record folds one transfer of n bytes that took elapsed into the estimate.
func (e *Estimator) Record(dir Direction, n int, elapsed time.Duration) {
	if n <= 0 {
		return
	}
	if elapsed < minElapsed {
		elapsed = minElapsed
	}
	rate := float64(n) / elapsed.Seconds()
	now := e.now()

	e.update(func(s *Stats) {
		s.BytesPerSecond = ewma(s.BytesPerSecond, rate, s.SampleCount)
		s.SampleCount++
		switch dir {
		case Send:
			s.SendBytesPerSecond = ewma(s.SendBytesPerSecond, rate, s.SendSamples)
			s.SendSamples++
		case Recv:
			s.RecvBytesPerSecond = ewma(s.RecvBytesPerSecond, rate, s.RecvSamples)
			s.RecvSamples++
		}
		s.LastUpdate = now
	})
}

// RecordRTT folds one measured round trip into the latency estimate.
func (e *Estimator) RecordRTT(d time.Duration) {
	if d <= 0 {
		return
	}
	e.update(func(s *Stats) {
		s.RTT = Duration(ewma(float64(s.RTT), float64(d), s.RTTSamples))
		s.RTTSamples++
	})
}

// Class classifies the current throughput against the low and high
// thresholds (bytes per second). Too few samples, or a stale estimate,
// yields Medium.
func (e *Estimator) Class(low, high float64) Class {
	s := e.state.Load()
	if s.SampleCount < MinSamples {
		return Medium
	}
	if e.staleAfter > 0 && e.now().Sub(s.LastUpdate) > e.staleAfter {
		return Medium
	}
	switch {
	case s.BytesPerSecond < low:
		return Low
	case s.BytesPerSecond >= high:
		return High
	default:
		return Medium
	}
}

// Stats returns a copy of the current estimate.
func (e *Estimator) Stats() Stats { return *e.state.Load() }

// Reset discards all samples.
func (e *Estimator) Reset() { e.state.Store(&Stats{}) }

func (e *Estimator) update(fn func(*Stats)) {
	for {
		old := e.state.Load()
		next := *old
		fn(&next)
		if e.state.CompareAndSwap(old, &next) {
			return
		}
	}
}

// ewma seeds with the first sample instead of decaying up from zero.
func ewma(prev, sample float64, count uint64) float64 {
	if count == 0 {
		return sample
	}
	return prev + alpha*(sample-prev)
}
