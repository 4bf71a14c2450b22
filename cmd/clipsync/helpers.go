package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.klb.dev/clipsync/internal/ipc"
	"go.klb.dev/clipsync/internal/stream"
)

func isContainerID(s string) bool {
	if len(s) < 12 || len(s) > 64 {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}

// defaultSource returns a human-readable identifier for this host.
func defaultSource() string {
	for _, env := range []string{
		"CLIPSYNC_SOURCE",
		"CONTAINER_NAME",
		"COMPOSE_SERVICE",
		"SERVICE_NAME",
		"HOSTNAME_FRIENDLY",
	} {
		if v := os.Getenv(env); v != "" {
			return v
		}
	}
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	if isContainerID(h) {
		return "container-" + h[:8]
	}
	return h
}

// parseAccept turns --accept values into stream kinds. Values may be
// comma-separated.
func parseAccept(values []string) ([]stream.Kind, error) {
	var kinds []stream.Kind
	for _, v := range values {
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			k, err := stream.ParseKind(s)
			if err != nil {
				return nil, fmt.Errorf("--accept: %w", err)
			}
			kinds = append(kinds, k)
		}
	}
	return kinds, nil
}

// backoff doubles the retry delay up to max.
type backoff struct {
	min, max time.Duration
	cur      time.Duration
}

func (b *backoff) next() time.Duration {
	if b.cur == 0 {
		b.cur = b.min
	} else if b.cur < b.max {
		b.cur = min(b.cur*2, b.max)
	}
	return b.cur
}

func (b *backoff) reset() { b.cur = 0 }

// sleep waits for d or until ctx is done, reporting whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// ipcRequest sends one request to the local daemon.
func ipcRequest(ctx context.Context, method, path string, body io.Reader, header http.Header) (*http.Response, error) {
	if !ipc.IsRunning() {
		return nil, fmt.Errorf("no clipsync daemon listening on %s", ipc.SocketPath())
	}
	req, err := http.NewRequestWithContext(ctx, method, ipc.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		req.Header[k] = vs
	}
	resp, err := ipc.HTTPClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("ipc %s %s: %w", method, path, err)
	}
	return resp, nil
}

// responseError turns a non-2xx response into an error carrying its body.
func responseError(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("daemon: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
}
