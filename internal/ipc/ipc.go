// Package ipc provides the local Unix-socket channel used by CLI tools
// (copy, paste, status) to talk to a running clipsync daemon. The daemon
// serves its admin HTTP API on the socket.
package ipc

import (
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// BaseURL is the host part used for requests over the socket; the
// transport ignores it.
const BaseURL = "http://clipsync"

// SocketPath returns the path of the IPC socket.
//
//   - $CLIPSYNC_SOCKET if set
//   - $XDG_RUNTIME_DIR/clipsync.sock
//   - $TMPDIR/clipsync.sock
func SocketPath() string {
	if s := os.Getenv("CLIPSYNC_SOCKET"); s != "" {
		return s
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "clipsync.sock")
	}
	return filepath.Join(os.TempDir(), "clipsync.sock")
}

// IsRunning reports whether a daemon appears to be listening on the IPC
// socket. It does a cheap dial-and-close; no data is exchanged.
func IsRunning() bool {
	c, err := Dial(context.Background())
	if err != nil {
		return false
	}
	_ = c.Close()
	return true
}

// Listen creates the IPC listener, removing a stale socket file from a
// previous run first. The socket is only accessible to its owner.
func Listen() (net.Listener, error) {
	path := SocketPath()
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close()
		return nil, err
	}
	return ln, nil
}

// Dial connects to the IPC socket.
func Dial(ctx context.Context) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", SocketPath())
}

// HTTPClient returns a client whose requests go to the IPC socket.
func HTTPClient() *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return Dial(ctx)
			},
		},
	}
}
