package delta

import (
	"bytes"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// diffText produces a line-granular edit script turning base into target.
// The script is checked by applying it; if the line differ cannot reproduce
// target the byte-level script is returned instead and ok is false.
func diffText(base, target []byte) (script []byte, ok bool) {
	script, err := lineScript(base, target)
	if err == nil {
		if got, aerr := applyScript(base, script, len(target)); aerr == nil && bytes.Equal(got, target) {
			return script, true
		}
	}
	return diffBinary(base, target), false
}

func lineScript(base, target []byte) (script []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errLineDiff
		}
	}()

	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 250 * time.Millisecond
	c1, c2, lines := dmp.DiffLinesToChars(string(base), string(target))
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(c1, c2, false), lines)

	var b scriptBuilder
	off := 0
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			b.copy(off, len(d.Text))
			off += len(d.Text)
		case diffmatchpatch.DiffDelete:
			off += len(d.Text)
		case diffmatchpatch.DiffInsert:
			b.insert([]byte(d.Text))
		}
	}
	return b.bytes(), nil
}
