// Package policy chooses the compression algorithm and delta mode for an
// outgoing clipboard update.
//
// Decide is a pure function of its inputs.
//
//	class  | size < MinSizeForCompression | otherwise
//	-------+------------------------------+-----------------------------------
//	High   | None, preferred delta        | preferred compression, preferred delta
//	Medium | None, Adaptive               | LZ4, Adaptive
//	Low    | None, Adaptive               | ZSTD or BROTLI, Adaptive
package policy

import (
	"go.klb.dev/clipsync/internal/bandwidth"
	"go.klb.dev/clipsync/internal/compress"
	"go.klb.dev/clipsync/internal/config"
	"go.klb.dev/clipsync/internal/delta"
	"go.klb.dev/clipsync/internal/stream"
)

// Decision is the strategy for one packet.
type Decision struct {
	Compression compress.Algorithm
	Delta       delta.Mode
}

// Decide maps content size, kind and link class to a strategy.
func Decide(size int, kind stream.Kind, class bandwidth.Class, cfg config.SyncConfig) Decision {
	small := size < cfg.MinSizeForCompression

	var d Decision
	switch class {
	case bandwidth.High:
		d.Delta = cfg.PreferredDelta
		if !small {
			d.Compression = cfg.PreferredCompression
		}
	case bandwidth.Low:
		d.Delta = delta.Adaptive
		if !small {
			d.Compression = strongest(cfg.PreferredCompression)
		}
	default:
		d.Delta = delta.Adaptive
		if !small {
			d.Compression = compress.LZ4
		}
	}

	if d.Delta == delta.Text && !kind.IsText() {
		d.Delta = delta.Binary
	}
	return d
}

// strongest keeps a preferred high-ratio algorithm, otherwise picks ZSTD.
func strongest(preferred compress.Algorithm) compress.Algorithm {
	switch preferred {
	case compress.ZSTD, compress.BROTLI:
		return preferred
	default:
		return compress.ZSTD
	}
}
