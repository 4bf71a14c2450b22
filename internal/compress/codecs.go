package compress

import (
	"bytes"
	"errors"
	"io"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

var errTooLarge = errors.New("output exceeds expected length")

type identity struct{}

func (identity) compress(src []byte) ([]byte, error) {
	return bytes.Clone(src), nil
}

func (identity) decompress(src []byte, _ int) ([]byte, error) {
	return bytes.Clone(src), nil
}

// lz4Codec uses the LZ4 frame format. The raw block API can refuse
// incompressible input, the frame format never does.
type lz4Codec struct{}

func (lz4Codec) compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (lz4Codec) decompress(src []byte, expected int) ([]byte, error) {
	return readLimited(lz4.NewReader(bytes.NewReader(src)), expected)
}

// The zstd encoder and decoder are safe for concurrent EncodeAll/DecodeAll
// and expensive to build, so they are shared.
var (
	zstdEncoder = sync.OnceValues(func() (*zstd.Encoder, error) {
		return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	})
	zstdDecoder = sync.OnceValues(func() (*zstd.Decoder, error) {
		return zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(0),
			zstd.WithDecoderMaxMemory(MaxDecompressedSize),
		)
	})
)

type zstdCodec struct{}

func (zstdCodec) compress(src []byte) ([]byte, error) {
	enc, err := zstdEncoder()
	if err != nil {
		return nil, err
	}
	return enc.EncodeAll(src, make([]byte, 0, len(src)/2)), nil
}

func (zstdCodec) decompress(src []byte, expected int) ([]byte, error) {
	dec, err := zstdDecoder()
	if err != nil {
		return nil, err
	}
	var dst []byte
	if expected > 0 {
		dst = make([]byte, 0, expected)
	}
	out, err := dec.DecodeAll(src, dst)
	if err != nil {
		return nil, err
	}
	if expected >= 0 && len(out) > expected {
		return nil, errTooLarge
	}
	return out, nil
}

type gzipCodec struct{}

func (gzipCodec) compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gzipCodec) decompress(src []byte, expected int) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return readLimited(r, expected)
}

type brotliCodec struct{}

func (brotliCodec) compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, brotli.DefaultCompression)
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (brotliCodec) decompress(src []byte, expected int) ([]byte, error) {
	return readLimited(brotli.NewReader(bytes.NewReader(src)), expected)
}

// readLimited drains r, refusing to produce more than expected bytes (or
// MaxDecompressedSize when expected is negative).
func readLimited(r io.Reader, expected int) ([]byte, error) {
	limit := int64(MaxDecompressedSize)
	if expected >= 0 {
		limit = int64(expected)
	}
	var buf bytes.Buffer
	if expected > 0 {
		buf.Grow(expected)
	}
	n, err := io.Copy(&buf, io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if n > limit {
		return nil, errTooLarge
	}
	return buf.Bytes(), nil
}
