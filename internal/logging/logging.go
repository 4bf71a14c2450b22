// Package logging builds the slog logger used by the clipsync binary.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/pwntr/tinter"
)

// Format selects the handler.
type Format string

const (
	FormatAuto Format = "auto" // tinter on a terminal, JSON elsewhere
	FormatText Format = "text"
	FormatJSON Format = "json"
)

const timeFormat = "15:04:05.000"

// ParseFormat maps flag values to a Format. Unknown values mean FormatAuto.
func ParseFormat(s string) Format {
	switch f := Format(strings.ToLower(s)); f {
	case FormatJSON, FormatText:
		return f
	case "tint", "human":
		return FormatText
	}
	return FormatAuto
}

// ParseLevel maps a level name to a slog.Level. Empty or unknown input
// yields fallback.
func ParseLevel(s string, fallback slog.Level) slog.Level {
	var l slog.Level
	if s == "" || l.UnmarshalText([]byte(s)) != nil {
		return fallback
	}
	return l
}

// IsTTY reports whether w is a terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Handler returns the slog handler for format writing to w.
func Handler(w io.Writer, format Format, level slog.Level) slog.Handler {
	if format == FormatAuto {
		format = FormatJSON
		if IsTTY(w) {
			format = FormatText
		}
	}
	if format == FormatText {
		return tinter.NewHandler(w, &tinter.Options{Level: level, TimeFormat: timeFormat})
	}
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
}

// New returns a logger writing to w.
func New(w io.Writer, format Format, level slog.Level) *slog.Logger {
	return slog.New(Handler(w, format, level))
}

// Setup installs a stderr logger as the slog default and returns it.
func Setup(format Format, level slog.Level) *slog.Logger {
	l := New(os.Stderr, format, level)
	slog.SetDefault(l)
	return l
}
