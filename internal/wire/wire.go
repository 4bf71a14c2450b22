// Package wire frames the peer protocol over a stream connection.
//
// A connection starts with a fixed preface sent by both ends, followed by
// frames:
//
//	[ kind u8 ][ length u32 big-endian ][ body ... ]
//
// Packet frames carry one serialized sync packet. The remaining kinds are
// link control: Hello (JSON peer introduction), Resync (u16 stream ID),
// Ping and Pong (the pong echoes the ping body) and Error (UTF-8 reason,
// sent before closing).
package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.klb.dev/clipsync/internal/packet"
	"go.klb.dev/clipsync/internal/stream"
)

// Preface opens every peer connection. Its first four bytes are what the
// port multiplexer matches on.
const Preface = "CLPS\x01"

const (
	// MaxFrameSize is the largest frame body accepted.
	MaxFrameSize = packet.HeaderSize + packet.MaxPayloadSize + 64

	headerSize   = 5
	writeTimeout = 10 * time.Second
)

var (
	ErrBadPreface    = errors.New("wire: bad preface")
	ErrFrameTooLarge = errors.New("wire: frame too large")
)

// Kind identifies a frame.
type Kind uint8

const (
	KindHello Kind = iota + 1
	KindPacket
	KindResync
	KindPing
	KindPong
	KindError
)

var kindNames = map[Kind]string{
	KindHello:  "hello",
	KindPacket: "packet",
	KindResync: "resync",
	KindPing:   "ping",
	KindPong:   "pong",
	KindError:  "error",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Frame is one decoded frame. ReadTime is how long the body took to arrive
// once its header was read.
type Frame struct {
	Kind     Kind
	Body     []byte
	ReadTime time.Duration
}

// Conn wraps a net.Conn with buffered framing. Writes are safe for
// concurrent use; reads are not.
type Conn struct {
	conn net.Conn
	br   *bufio.Reader

	wmu sync.Mutex
}

// New wraps conn.
func New(conn net.Conn) *Conn {
	return &Conn{
		conn: conn,
		br:   bufio.NewReaderSize(conn, 64*1024),
	}
}

// Underlying returns the underlying net.Conn.
func (c *Conn) Underlying() net.Conn { return c.conn }

// RemoteAddr returns the remote network address.
func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.conn.Close() }

// SetReadDeadline sets or, with d == 0, clears the read deadline.
func (c *Conn) SetReadDeadline(d time.Duration) {
	if d == 0 {
		_ = c.conn.SetReadDeadline(time.Time{})
	} else {
		_ = c.conn.SetReadDeadline(time.Now().Add(d))
	}
}

// WritePreface sends the connection preface.
func (c *Conn) WritePreface() error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := io.WriteString(c.conn, Preface)
	_ = c.conn.SetWriteDeadline(time.Time{})
	return err
}

// ReadPreface consumes and checks the peer's preface.
func (c *Conn) ReadPreface() error {
	buf := make([]byte, len(Preface))
	if _, err := io.ReadFull(c.br, buf); err != nil {
		return fmt.Errorf("read preface: %w", err)
	}
	if string(buf) != Preface {
		return fmt.Errorf("%w: %q", ErrBadPreface, buf)
	}
	return nil
}

// WriteFrame writes one frame.
func (c *Conn) WriteFrame(kind Kind, body []byte) error {
	if len(body) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(body))
	}
	buf := make([]byte, headerSize+len(body))
	buf[0] = byte(kind)
	binary.BigEndian.PutUint32(buf[1:], uint32(len(body)))
	copy(buf[headerSize:], body)

	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := c.conn.Write(buf)
	_ = c.conn.SetWriteDeadline(time.Time{})
	return err
}

// ReadFrame reads the next frame.
func (c *Conn) ReadFrame() (Frame, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(c.br, hdr[:]); err != nil {
		return Frame{}, err
	}
	start := time.Now()
	n := binary.BigEndian.Uint32(hdr[1:])
	if n > MaxFrameSize {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(c.br, body); err != nil {
		return Frame{}, fmt.Errorf("read %s body: %w", Kind(hdr[0]), err)
	}
	return Frame{Kind: Kind(hdr[0]), Body: body, ReadTime: time.Since(start)}, nil
}

// ResyncBody encodes the body of a Resync frame.
func ResyncBody(id stream.ID) []byte {
	return binary.BigEndian.AppendUint16(nil, uint16(id))
}

// ParseResync decodes the body of a Resync frame.
func ParseResync(body []byte) (stream.ID, error) {
	if len(body) != 2 {
		return 0, fmt.Errorf("resync body is %d bytes, want 2", len(body))
	}
	return stream.ID(binary.BigEndian.Uint16(body)), nil
}

// PingBody stamps a ping with the send time.
func PingBody(t time.Time) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(t.UnixNano()))
}

// ParsePong returns the send time echoed back in a pong.
func ParsePong(body []byte) (time.Time, error) {
	if len(body) != 8 {
		return time.Time{}, fmt.Errorf("pong body is %d bytes, want 8", len(body))
	}
	return time.Unix(0, int64(binary.BigEndian.Uint64(body))), nil
}
