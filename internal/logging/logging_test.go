package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{
		"json":  FormatJSON,
		"JSON":  FormatJSON,
		"tint":  FormatText,
		"human": FormatText,
		"":      FormatAuto,
		"xml":   FormatAuto,
	} {
		if got := ParseFormat(in); got != want {
			t.Errorf("ParseFormat(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"loud", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in, slog.LevelInfo); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewJSONWhenNotATerminal(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, FormatAuto, slog.LevelInfo)
	l.Debug("hidden")
	l.Info("resync", "stream", "primary/text")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if rec["msg"] != "resync" || rec["stream"] != "primary/text" {
		t.Fatalf("record = %v", rec)
	}
}

func TestNewTextFormat(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, FormatText, slog.LevelDebug).Debug("peer connected", "source", "laptop")
	out := buf.String()
	if !strings.Contains(out, "peer connected") || !strings.Contains(out, "laptop") {
		t.Fatalf("text output = %q", out)
	}
}

func TestHandlerAutoIsJSONOffTerminal(t *testing.T) {
	if _, ok := Handler(&bytes.Buffer{}, FormatAuto, slog.LevelInfo).(*slog.JSONHandler); !ok {
		t.Fatal("auto format on a buffer did not pick the JSON handler")
	}
}
