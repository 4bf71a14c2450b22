// Package config holds the synchronisation settings of an engine and their
// binding to command-line flags and viper.
package config

import (
	"errors"
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"go.klb.dev/clipsync/internal/compress"
	"go.klb.dev/clipsync/internal/delta"
)

// Config keys, shared by flags, the TOML file and CLIPSYNC_* env vars.
const (
	KeyCompression     = "compression"
	KeyDelta           = "delta"
	KeyMinCompressSize = "min-compress-size"
	KeyBandwidthLow    = "bandwidth-low"
	KeyBandwidthHigh   = "bandwidth-high"
)

// SyncConfig drives the per-packet strategy choice. It is a value type: an
// engine swaps whole configs, it never mutates one in place.
type SyncConfig struct {
	// PreferredCompression is used when bandwidth is ample.
	PreferredCompression compress.Algorithm `json:"preferred_compression"`
	// PreferredDelta is used when bandwidth is ample.
	PreferredDelta delta.Mode `json:"preferred_delta"`
	// MinSizeForCompression: smaller content is never compressed.
	MinSizeForCompression int `json:"min_size_for_compression"`
	// BandwidthLow and BandwidthHigh split measured throughput (bytes per
	// second) into the low, medium and high bands.
	BandwidthLow  float64 `json:"bandwidth_low"`
	BandwidthHigh float64 `json:"bandwidth_high"`
}

// Default returns the settings used when nothing is configured.
func Default() SyncConfig {
	return SyncConfig{
		PreferredCompression:  compress.ZSTD,
		PreferredDelta:        delta.Adaptive,
		MinSizeForCompression: 64,
		BandwidthLow:          128 * 1024,
		BandwidthHigh:         2 * 1024 * 1024,
	}
}

// Validate reports the first problem with c.
func (c SyncConfig) Validate() error {
	var errs []error
	if !c.PreferredCompression.Valid() {
		errs = append(errs, fmt.Errorf("unknown compression %d", uint8(c.PreferredCompression)))
	}
	if !c.PreferredDelta.Valid() {
		errs = append(errs, fmt.Errorf("unknown delta mode %d", uint8(c.PreferredDelta)))
	}
	if c.MinSizeForCompression < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative", KeyMinCompressSize))
	}
	if c.BandwidthLow < 0 || c.BandwidthHigh < 0 {
		errs = append(errs, errors.New("bandwidth thresholds must not be negative"))
	}
	if c.BandwidthLow > c.BandwidthHigh {
		errs = append(errs, fmt.Errorf("%s (%.0f) is above %s (%.0f)",
			KeyBandwidthLow, c.BandwidthLow, KeyBandwidthHigh, c.BandwidthHigh))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid sync config: %w", errors.Join(errs...))
	}
	return nil
}

// AddFlags registers the sync settings on fs with their defaults.
func AddFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String(KeyCompression, d.PreferredCompression.String(), "preferred compression: none|lz4|zstd|gzip|brotli")
	fs.String(KeyDelta, d.PreferredDelta.String(), "preferred delta mode: none|binary|text|adaptive")
	fs.Int(KeyMinCompressSize, d.MinSizeForCompression, "content smaller than this many bytes is never compressed")
	fs.Float64(KeyBandwidthLow, d.BandwidthLow, "bytes/s below which the link counts as slow")
	fs.Float64(KeyBandwidthHigh, d.BandwidthHigh, "bytes/s at or above which the link counts as fast")
}

// Load reads the sync settings from v. Unset keys keep their defaults.
func Load(v *viper.Viper) (SyncConfig, error) {
	d := Default()
	v.SetDefault(KeyCompression, d.PreferredCompression.String())
	v.SetDefault(KeyDelta, d.PreferredDelta.String())
	v.SetDefault(KeyMinCompressSize, d.MinSizeForCompression)
	v.SetDefault(KeyBandwidthLow, d.BandwidthLow)
	v.SetDefault(KeyBandwidthHigh, d.BandwidthHigh)

	alg, err := compress.ParseAlgorithm(v.GetString(KeyCompression))
	if err != nil {
		return SyncConfig{}, fmt.Errorf("config: %w", err)
	}
	mode, err := delta.ParseMode(v.GetString(KeyDelta))
	if err != nil {
		return SyncConfig{}, fmt.Errorf("config: %w", err)
	}
	c := SyncConfig{
		PreferredCompression:  alg,
		PreferredDelta:        mode,
		MinSizeForCompression: v.GetInt(KeyMinCompressSize),
		BandwidthLow:          v.GetFloat64(KeyBandwidthLow),
		BandwidthHigh:         v.GetFloat64(KeyBandwidthHigh),
	}
	if err := c.Validate(); err != nil {
		return SyncConfig{}, err
	}
	return c, nil
}
