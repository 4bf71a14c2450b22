package admin

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"go.klb.dev/clipsync/internal/hub"
	"go.klb.dev/clipsync/internal/message"
	"go.klb.dev/clipsync/internal/metrics"
	"go.klb.dev/clipsync/internal/stream"
)

func newRouter(t *testing.T, readOnly bool) (http.Handler, *hub.Hub) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := hub.New(log)
	reg := prometheus.NewRegistry()
	metrics.New(metrics.WithRegistry(reg)).Error("framing")
	return NewRouter(Options{
		Hub:      h,
		Gatherer: reg,
		Source:   "desk",
		Version:  "test",
		ReadOnly: readOnly,
		Logger:   log,
	}), h
}

func do(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, r))
	return rec
}

func TestCopyThenPaste(t *testing.T) {
	router, h := newRouter(t, false)

	if rec := do(router, http.MethodPost, "/clipboard/primary/text", "from the cli"); rec.Code != http.StatusNoContent {
		t.Fatalf("POST status = %d: %s", rec.Code, rec.Body)
	}
	ev, ok := h.Latest(stream.PrimaryText)
	if !ok || string(ev.Content) != "from the cli" || ev.Source != "desk" {
		t.Fatalf("hub latest = %+v, %v", ev, ok)
	}

	rec := do(router, http.MethodGet, "/clipboard/primary/text", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "from the cli" {
		t.Fatalf("GET = %d %q", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("Content-Type = %q", ct)
	}
	if src := rec.Header().Get(SourceHeader); src != "desk" {
		t.Fatalf("source header = %q", src)
	}
}

func TestPasteEmptyAndBadStream(t *testing.T) {
	router, _ := newRouter(t, false)
	if rec := do(router, http.MethodGet, "/clipboard/image", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("empty stream status = %d", rec.Code)
	}
	if rec := do(router, http.MethodGet, "/clipboard/nonsense/text", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad stream status = %d", rec.Code)
	}
	if rec := do(router, http.MethodPost, "/clipboard/text", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty body status = %d", rec.Code)
	}
}

func TestStatus(t *testing.T) {
	router, _ := newRouter(t, false)
	rec := do(router, http.MethodGet, "/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	var st message.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st.Source != "desk" || st.Version != "test" || len(st.Peers) != 0 {
		t.Fatalf("status = %+v", st)
	}
}

func TestReadOnlyHidesClipboard(t *testing.T) {
	router, _ := newRouter(t, true)
	if rec := do(router, http.MethodPost, "/clipboard/text", "x"); rec.Code != http.StatusNotFound && rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("read-only POST status = %d", rec.Code)
	}
	if rec := do(router, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := newRouter(t, true)
	rec := do(router, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `clipsync_errors_total{kind="framing"} 1`) {
		t.Fatalf("metrics = %d\n%s", rec.Code, rec.Body)
	}
}
