package delta

import "encoding/binary"

// blockSize is the granularity of the baseline index. A copy op costs at
// most a handful of bytes, so any match of this length pays for itself.
const blockSize = 8

// diffBinary produces a byte-level edit script turning base into target.
//
// Common prefix and suffix are copied directly; the middle is matched
// greedily against an index of the baseline's aligned 8-byte blocks, with
// each hit extended in both directions.
func diffBinary(base, target []byte) []byte {
	var b scriptBuilder

	prefix := commonPrefix(base, target)
	suffix := commonSuffix(base[prefix:], target[prefix:])

	b.copy(0, prefix)
	matchMiddle(&b, base[prefix:len(base)-suffix], prefix, target[prefix:len(target)-suffix])
	b.copy(len(base)-suffix, suffix)

	return b.bytes()
}

func matchMiddle(b *scriptBuilder, bm []byte, baseOff int, tm []byte) {
	if len(bm) < blockSize || len(tm) < blockSize {
		b.insert(tm)
		return
	}

	index := make(map[uint64]int, len(bm)/blockSize)
	for i := 0; i+blockSize <= len(bm); i += blockSize {
		key := binary.LittleEndian.Uint64(bm[i:])
		if _, ok := index[key]; !ok {
			index[key] = i
		}
	}

	litStart, i := 0, 0
	for i+blockSize <= len(tm) {
		j, ok := index[binary.LittleEndian.Uint64(tm[i:])]
		if !ok {
			i++
			continue
		}

		n := blockSize
		for i+n < len(tm) && j+n < len(bm) && tm[i+n] == bm[j+n] {
			n++
		}
		back := 0
		for i-back > litStart && j-back > 0 && tm[i-back-1] == bm[j-back-1] {
			back++
		}

		b.insert(tm[litStart : i-back])
		b.copy(baseOff+j-back, n+back)
		i += n
		litStart = i
	}
	b.insert(tm[litStart:])
}

func commonPrefix(a, b []byte) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

func commonSuffix(a, b []byte) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[len(a)-1-i] != b[len(b)-1-i] {
			return i
		}
	}
	return n
}
