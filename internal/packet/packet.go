// Package packet defines the binary encoding of a clipboard sync packet.
//
// Wire format, all integers big-endian:
//
//	[ sequence u32 ][ stream u16 ][ compression u8 ][ delta u8 ]
//	[ original length u32 ][ payload length u32 ][ checksum u32 ]
//	[ payload ... ]
//
// The checksum is CRC-32 (Castagnoli) over the payload. A packet never
// carries the Adaptive delta mode: the sender resolves it before
// transmission.
package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"go.klb.dev/clipsync/internal/compress"
	"go.klb.dev/clipsync/internal/delta"
	"go.klb.dev/clipsync/internal/stream"
)

const (
	// HeaderSize is the fixed header length in bytes.
	HeaderSize = 20

	// MaxPayloadSize bounds both the payload and the announced original
	// length.
	MaxPayloadSize = 64 * 1024 * 1024
)

var (
	// ErrFraming reports a truncated or structurally invalid packet.
	ErrFraming = errors.New("framing error")
	// ErrIntegrity reports a checksum mismatch.
	ErrIntegrity = errors.New("integrity error")
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// SyncPacket is one clipboard update on the wire.
type SyncPacket struct {
	Sequence       uint32
	Stream         stream.ID
	Compression    compress.Algorithm
	Delta          delta.Mode
	OriginalLength uint32
	PayloadLength  uint32
	Checksum       uint32
	Payload        []byte
}

// Checksum computes the integrity digest of payload.
func Checksum(payload []byte) uint32 {
	return crc32.Checksum(payload, crcTable)
}

// Marshal encodes p. PayloadLength and Checksum are derived from Payload and
// written back to p.
func Marshal(p *SyncPacket) []byte {
	p.PayloadLength = uint32(len(p.Payload))
	p.Checksum = Checksum(p.Payload)

	buf := make([]byte, HeaderSize+len(p.Payload))
	binary.BigEndian.PutUint32(buf[0:], p.Sequence)
	binary.BigEndian.PutUint16(buf[4:], uint16(p.Stream))
	buf[6] = byte(p.Compression)
	buf[7] = byte(p.Delta)
	binary.BigEndian.PutUint32(buf[8:], p.OriginalLength)
	binary.BigEndian.PutUint32(buf[12:], p.PayloadLength)
	binary.BigEndian.PutUint32(buf[16:], p.Checksum)
	copy(buf[HeaderSize:], p.Payload)
	return buf
}

// Unmarshal decodes and verifies a packet. Structural problems return an
// error wrapping ErrFraming and a nil packet. A checksum mismatch returns
// the parsed packet together with an error wrapping ErrIntegrity, so the
// caller can tell which stream was affected.
func Unmarshal(b []byte) (*SyncPacket, error) {
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the %d byte header", ErrFraming, len(b), HeaderSize)
	}
	p := &SyncPacket{
		Sequence:       binary.BigEndian.Uint32(b[0:]),
		Stream:         stream.ID(binary.BigEndian.Uint16(b[4:])),
		Compression:    compress.Algorithm(b[6]),
		Delta:          delta.Mode(b[7]),
		OriginalLength: binary.BigEndian.Uint32(b[8:]),
		PayloadLength:  binary.BigEndian.Uint32(b[12:]),
		Checksum:       binary.BigEndian.Uint32(b[16:]),
	}

	if !p.Compression.Valid() {
		return nil, fmt.Errorf("%w: unknown compression tag %d", ErrFraming, b[6])
	}
	if !p.Delta.Concrete() {
		return nil, fmt.Errorf("%w: delta tag %d is not a concrete mode", ErrFraming, b[7])
	}
	if p.PayloadLength > MaxPayloadSize || p.OriginalLength > MaxPayloadSize {
		return nil, fmt.Errorf("%w: lengths %d/%d exceed limit", ErrFraming, p.PayloadLength, p.OriginalLength)
	}

	body := b[HeaderSize:]
	switch {
	case uint64(len(body)) < uint64(p.PayloadLength):
		return nil, fmt.Errorf("%w: truncated payload: have %d of %d bytes", ErrFraming, len(body), p.PayloadLength)
	case uint64(len(body)) > uint64(p.PayloadLength):
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrFraming, uint64(len(body))-uint64(p.PayloadLength))
	}
	p.Payload = body

	if sum := Checksum(p.Payload); sum != p.Checksum {
		return p, fmt.Errorf("%w: stream %s seq %d: checksum %08x, header says %08x",
			ErrIntegrity, p.Stream, p.Sequence, sum, p.Checksum)
	}
	return p, nil
}
