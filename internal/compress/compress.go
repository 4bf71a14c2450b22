// Package compress wraps the compression algorithms a sync packet may use.
//
// Algorithms are selected per packet by tag; the tag values are part of the
// wire format and must not change:
//
//	None=0 LZ4=1 ZSTD=2 GZIP=3 BROTLI=4
//
// For every algorithm A and input X:
//
//	Decompress(A, Compress(A, X), len(X)) == X
package compress

import (
	"errors"
	"fmt"
	"strings"
)

// MaxDecompressedSize bounds the output of Decompress when the caller does
// not know the expected length.
const MaxDecompressedSize = 64 * 1024 * 1024

// ErrCodec is wrapped by every compression or decompression failure.
var ErrCodec = errors.New("codec error")

// Algorithm is the compression algorithm tag carried in a packet header.
type Algorithm uint8

const (
	None Algorithm = iota
	LZ4
	ZSTD
	GZIP
	BROTLI

	numAlgorithms
)

var algorithmNames = [numAlgorithms]string{
	None:   "none",
	LZ4:    "lz4",
	ZSTD:   "zstd",
	GZIP:   "gzip",
	BROTLI: "brotli",
}

// Valid reports whether a is a known tag.
func (a Algorithm) Valid() bool { return a < numAlgorithms }

func (a Algorithm) String() string {
	if !a.Valid() {
		return fmt.Sprintf("algorithm(%d)", uint8(a))
	}
	return algorithmNames[a]
}

// ParseAlgorithm converts a configuration string to an Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return None, nil
	}
	for i, name := range algorithmNames {
		if name == s {
			return Algorithm(i), nil
		}
	}
	return None, fmt.Errorf("unknown compression algorithm %q", s)
}

// codec is one compression strategy.
type codec interface {
	compress(src []byte) ([]byte, error)
	// decompress returns the decoded bytes; expected < 0 means unknown.
	decompress(src []byte, expected int) ([]byte, error)
}

var codecs = [numAlgorithms]codec{
	None:   identity{},
	LZ4:    lz4Codec{},
	ZSTD:   zstdCodec{},
	GZIP:   gzipCodec{},
	BROTLI: brotliCodec{},
}

// Compress encodes src with algorithm a. Empty input always yields empty
// output.
func Compress(a Algorithm, src []byte) ([]byte, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("%w: unknown algorithm %d", ErrCodec, uint8(a))
	}
	if len(src) == 0 {
		return []byte{}, nil
	}
	out, err := codecs[a].compress(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %s compress: %v", ErrCodec, a, err)
	}
	return out, nil
}

// Decompress decodes src, which was produced by Compress with algorithm a.
// The result must be exactly expected bytes long; pass a negative expected
// when the length is not known, in which case output is capped at
// MaxDecompressedSize.
func Decompress(a Algorithm, src []byte, expected int) ([]byte, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("%w: unknown algorithm %d", ErrCodec, uint8(a))
	}
	if expected > MaxDecompressedSize {
		return nil, fmt.Errorf("%w: expected length %d exceeds limit", ErrCodec, expected)
	}
	if len(src) == 0 {
		if expected > 0 {
			return nil, fmt.Errorf("%w: %s: empty input, want %d bytes", ErrCodec, a, expected)
		}
		return []byte{}, nil
	}
	out, err := codecs[a].decompress(src, expected)
	if err != nil {
		return nil, fmt.Errorf("%w: %s decompress: %v", ErrCodec, a, err)
	}
	if expected >= 0 && len(out) != expected {
		return nil, fmt.Errorf("%w: %s: decompressed %d bytes, want %d", ErrCodec, a, len(out), expected)
	}
	return out, nil
}
