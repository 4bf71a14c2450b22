package hub

import (
	"context"
	"log/slog"
	"unicode/utf8"
)

const previewLen = 120

// logEvent logs a published update at INFO (stream, source, size) and, for
// text streams, a preview of up to previewLen bytes at DEBUG.
func logEvent(log *slog.Logger, ev Event, targets int) {
	log.Info("clipboard published",
		"stream", ev.Stream,
		"source", ev.Source,
		"bytes", len(ev.Content),
		"targets", targets,
	)
	if !ev.Stream.Kind().IsText() || !log.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	log.Debug("clipboard text", "stream", ev.Stream, "preview", preview(ev.Content))
}

func preview(b []byte) string {
	if len(b) <= previewLen {
		return string(b)
	}
	cut := previewLen
	for cut > 0 && !utf8.RuneStart(b[cut]) {
		cut--
	}
	return string(b[:cut]) + "…"
}
