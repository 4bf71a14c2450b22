// Package stream names the logical clipboard channels that are synchronised
// independently. Each channel has its own sequence numbering and delta
// baseline.
//
// A stream ID packs two bytes:
//
//	[ selection u8 ][ kind u8 ]
//
// so both ends of a link agree on the content kind of a stream without a
// separate header field.
package stream

import (
	"fmt"
	"strconv"
	"strings"
)

// ID identifies one logical clipboard channel.
type ID uint16

// Kind is the coarse content classification of a stream.
type Kind uint8

const (
	KindText Kind = iota
	KindImage
	KindBinary
)

// Selection identifies which system clipboard a stream mirrors.
type Selection uint8

const (
	// Primary is the regular copy/paste clipboard.
	Primary Selection = iota
	// Secondary is the X11 middle-click selection.
	Secondary
)

// Well-known streams.
var (
	PrimaryText  = Compose(Primary, KindText)
	PrimaryImage = Compose(Primary, KindImage)
)

// Compose builds the stream ID for a selection and kind.
func Compose(sel Selection, kind Kind) ID {
	return ID(uint16(sel)<<8 | uint16(kind))
}

// Kind returns the content kind carried by id. Unknown kinds are treated as
// opaque binary.
func (id ID) Kind() Kind {
	k := Kind(id & 0xff)
	if k > KindBinary {
		return KindBinary
	}
	return k
}

// Selection returns the clipboard selection id belongs to.
func (id ID) Selection() Selection { return Selection(id >> 8) }

func (id ID) String() string {
	return fmt.Sprintf("%s/%s", id.Selection(), id.Kind())
}

func (id ID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *ID) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

// Parse accepts either the "selection/kind" form produced by String or a
// plain decimal ID.
func Parse(s string) (ID, error) {
	if n, err := strconv.ParseUint(s, 10, 16); err == nil {
		return ID(n), nil
	}
	sel, kind, ok := strings.Cut(s, "/")
	if !ok {
		kind, sel = s, "primary"
	}
	var id ID
	switch strings.ToLower(sel) {
	case "primary", "clipboard":
		id = Compose(Primary, 0)
	case "secondary", "selection":
		id = Compose(Secondary, 0)
	default:
		return 0, fmt.Errorf("unknown selection %q", sel)
	}
	k, err := ParseKind(kind)
	if err != nil {
		return 0, err
	}
	return id | ID(k), nil
}

// IsText reports whether content of this kind is line-oriented text.
func (k Kind) IsText() bool { return k == KindText }

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindImage:
		return "image"
	default:
		return "binary"
	}
}

// MIME returns the media type used for content of this kind.
func (k Kind) MIME() string {
	switch k {
	case KindText:
		return "text/plain; charset=utf-8"
	case KindImage:
		return "image/png"
	default:
		return "application/octet-stream"
	}
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// ParseKind converts a kind name to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "text", "text/plain":
		return KindText, nil
	case "image", "image/png":
		return KindImage, nil
	case "binary", "application/octet-stream":
		return KindBinary, nil
	default:
		return 0, fmt.Errorf("unknown content kind %q", s)
	}
}

func (s Selection) String() string {
	switch s {
	case Primary:
		return "primary"
	case Secondary:
		return "secondary"
	default:
		return "sel" + strconv.Itoa(int(s))
	}
}
