package compress

import (
	"bytes"
	"errors"
	"math/rand/v2"
	"strings"
	"testing"
)

var allAlgorithms = []Algorithm{None, LZ4, ZSTD, GZIP, BROTLI}

func testInputs() map[string][]byte {
	rng := rand.New(rand.NewPCG(1, 2))
	random := make([]byte, 64*1024)
	for i := range random {
		random[i] = byte(rng.UintN(256))
	}
	return map[string][]byte{
		"empty":      {},
		"one byte":   {0x42},
		"short text": []byte("hello world"),
		"repetitive": []byte(strings.Repeat("clipboard sync ", 4096)),
		"random":     random,
		"zeros":      make([]byte, 100_000),
	}
}

func TestRoundTrip(t *testing.T) {
	for _, alg := range allAlgorithms {
		for name, in := range testInputs() {
			t.Run(alg.String()+"/"+name, func(t *testing.T) {
				c, err := Compress(alg, in)
				if err != nil {
					t.Fatalf("compress: %v", err)
				}
				out, err := Decompress(alg, c, len(in))
				if err != nil {
					t.Fatalf("decompress: %v", err)
				}
				if !bytes.Equal(out, in) {
					t.Fatalf("round trip mismatch: got %d bytes, want %d", len(out), len(in))
				}
			})
		}
	}
}

func TestRoundTripUnknownLength(t *testing.T) {
	in := []byte(strings.Repeat("abc\n", 1000))
	for _, alg := range allAlgorithms {
		c, err := Compress(alg, in)
		if err != nil {
			t.Fatalf("%s compress: %v", alg, err)
		}
		out, err := Decompress(alg, c, -1)
		if err != nil {
			t.Fatalf("%s decompress: %v", alg, err)
		}
		if !bytes.Equal(out, in) {
			t.Fatalf("%s: mismatch", alg)
		}
	}
}

func TestCompressionShrinksRepetitiveInput(t *testing.T) {
	in := []byte(strings.Repeat("the quick brown fox ", 2000))
	for _, alg := range allAlgorithms[1:] {
		c, err := Compress(alg, in)
		if err != nil {
			t.Fatalf("%s: %v", alg, err)
		}
		if len(c) >= len(in)/4 {
			t.Fatalf("%s: compressed %d -> %d, expected a real reduction", alg, len(in), len(c))
		}
	}
}

func TestNoneIsIdentity(t *testing.T) {
	in := []byte("unchanged")
	out, err := Compress(None, in)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, in) {
		t.Fatalf("got %q", out)
	}
	out[0] = 'X'
	if in[0] != 'u' {
		t.Fatal("Compress(None) aliased its input")
	}
}

func TestDecompressLengthMismatch(t *testing.T) {
	in := []byte(strings.Repeat("x", 500))
	for _, alg := range allAlgorithms {
		c, err := Compress(alg, in)
		if err != nil {
			t.Fatal(err)
		}
		for _, want := range []int{len(in) - 1, len(in) + 1} {
			_, err := Decompress(alg, c, want)
			if !errors.Is(err, ErrCodec) {
				t.Fatalf("%s expected=%d: err = %v, want ErrCodec", alg, want, err)
			}
		}
	}
}

func TestDecompressMalformed(t *testing.T) {
	garbage := []byte("definitely not a compressed stream of any kind")
	for _, alg := range allAlgorithms[1:] {
		if _, err := Decompress(alg, garbage, 100); !errors.Is(err, ErrCodec) {
			t.Fatalf("%s: err = %v, want ErrCodec", alg, err)
		}
	}
}

func TestDecompressEmptyWithExpectedLength(t *testing.T) {
	if _, err := Decompress(ZSTD, nil, 10); !errors.Is(err, ErrCodec) {
		t.Fatalf("err = %v, want ErrCodec", err)
	}
}

func TestUnknownAlgorithm(t *testing.T) {
	if _, err := Compress(Algorithm(9), []byte("x")); !errors.Is(err, ErrCodec) {
		t.Fatalf("compress err = %v", err)
	}
	if _, err := Decompress(Algorithm(9), []byte("x"), 1); !errors.Is(err, ErrCodec) {
		t.Fatalf("decompress err = %v", err)
	}
}

func TestParseAlgorithm(t *testing.T) {
	for _, alg := range allAlgorithms {
		got, err := ParseAlgorithm(strings.ToUpper(alg.String()))
		if err != nil || got != alg {
			t.Fatalf("ParseAlgorithm(%q) = %v, %v", alg.String(), got, err)
		}
	}
	if _, err := ParseAlgorithm("lzma"); err == nil {
		t.Fatal("expected error for unknown algorithm")
	}
}
