package delta

import (
	"encoding/binary"
	"fmt"
)

// Edit script ops. A script is a sequence of
//
//	0x00 uvarint(offset) uvarint(length)   copy a span of the baseline
//	0x01 uvarint(length) <length bytes>    insert literal bytes
const (
	opCopy   byte = 0x00
	opInsert byte = 0x01
)

// scriptBuilder accumulates ops, merging adjacent copies and literals.
type scriptBuilder struct {
	out     []byte
	lit     []byte
	copyOff int
	copyLen int
}

func (b *scriptBuilder) copy(off, n int) {
	if n <= 0 {
		return
	}
	b.flushLiteral()
	if b.copyLen > 0 && b.copyOff+b.copyLen == off {
		b.copyLen += n
		return
	}
	b.flushCopy()
	b.copyOff, b.copyLen = off, n
}

func (b *scriptBuilder) insert(p []byte) {
	if len(p) == 0 {
		return
	}
	b.flushCopy()
	b.lit = append(b.lit, p...)
}

func (b *scriptBuilder) bytes() []byte {
	b.flushCopy()
	b.flushLiteral()
	if b.out == nil {
		return []byte{}
	}
	return b.out
}

func (b *scriptBuilder) flushCopy() {
	if b.copyLen == 0 {
		return
	}
	b.out = append(b.out, opCopy)
	b.out = binary.AppendUvarint(b.out, uint64(b.copyOff))
	b.out = binary.AppendUvarint(b.out, uint64(b.copyLen))
	b.copyLen = 0
}

func (b *scriptBuilder) flushLiteral() {
	if len(b.lit) == 0 {
		return
	}
	b.out = append(b.out, opInsert)
	b.out = binary.AppendUvarint(b.out, uint64(len(b.lit)))
	b.out = append(b.out, b.lit...)
	b.lit = b.lit[:0]
}

// applyScript rebuilds content from base and script. The output may not
// exceed limit bytes.
func applyScript(base, script []byte, limit int) ([]byte, error) {
	out := make([]byte, 0, min(limit, len(base)+len(script)))
	for len(script) > 0 {
		op := script[0]
		script = script[1:]

		switch op {
		case opCopy:
			off, n := binary.Uvarint(script)
			if n <= 0 {
				return nil, fmt.Errorf("%w: malformed copy offset", ErrDelta)
			}
			script = script[n:]
			length, n := binary.Uvarint(script)
			if n <= 0 {
				return nil, fmt.Errorf("%w: malformed copy length", ErrDelta)
			}
			script = script[n:]
			if off > uint64(len(base)) || length > uint64(len(base))-off {
				return nil, fmt.Errorf("%w: copy [%d,+%d) outside baseline of %d bytes", ErrDelta, off, length, len(base))
			}
			if length > uint64(limit-len(out)) {
				return nil, fmt.Errorf("%w: output exceeds %d bytes", ErrDelta, limit)
			}
			out = append(out, base[off:off+length]...)

		case opInsert:
			length, n := binary.Uvarint(script)
			if n <= 0 {
				return nil, fmt.Errorf("%w: malformed insert length", ErrDelta)
			}
			script = script[n:]
			if length > uint64(len(script)) {
				return nil, fmt.Errorf("%w: insert of %d bytes truncated", ErrDelta, length)
			}
			if length > uint64(limit-len(out)) {
				return nil, fmt.Errorf("%w: output exceeds %d bytes", ErrDelta, limit)
			}
			out = append(out, script[:length]...)
			script = script[length:]

		default:
			return nil, fmt.Errorf("%w: unknown op 0x%02x", ErrDelta, op)
		}
	}
	return out, nil
}
