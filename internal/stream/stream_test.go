package stream

import (
	"encoding/json"
	"testing"
)

func TestComposeRoundTrip(t *testing.T) {
	for _, sel := range []Selection{Primary, Secondary} {
		for _, k := range []Kind{KindText, KindImage, KindBinary} {
			id := Compose(sel, k)
			if id.Selection() != sel || id.Kind() != k {
				t.Fatalf("Compose(%v, %v) = %d decodes as %v/%v", sel, k, id, id.Selection(), id.Kind())
			}
			parsed, err := Parse(id.String())
			if err != nil {
				t.Fatalf("Parse(%q): %v", id.String(), err)
			}
			if parsed != id {
				t.Fatalf("Parse(%q) = %d, want %d", id.String(), parsed, id)
			}
		}
	}
}

func TestUnknownKindIsBinary(t *testing.T) {
	if k := ID(0x00ff).Kind(); k != KindBinary {
		t.Fatalf("kind = %v, want binary", k)
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want ID
		err  bool
	}{
		{in: "text", want: PrimaryText},
		{in: "image", want: PrimaryImage},
		{in: "selection/text", want: Compose(Secondary, KindText)},
		{in: "256", want: 256},
		{in: "nowhere/text", err: true},
		{in: "primary/video", err: true},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in)
		if tt.err {
			if err == nil {
				t.Fatalf("Parse(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Parse(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("Parse(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestJSONUsesNames(t *testing.T) {
	in := struct {
		Stream ID   `json:"stream"`
		Kind   Kind `json:"kind"`
	}{Compose(Secondary, KindImage), KindText}

	b, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"stream":"secondary/image","kind":"text"}` {
		t.Fatalf("json = %s", b)
	}

	out := in
	out.Stream, out.Kind = 0, KindBinary
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatal(err)
	}
	if out != in {
		t.Fatalf("decoded %+v, want %+v", out, in)
	}
}
