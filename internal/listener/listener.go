// Package listener serves the shared network port.
//
// One TLS listener carries three protocols, told apart by the first bytes
// the client sends:
//
//	"CLPS"             peer links
//	HTTP/2 + grpc      health service
//	HTTP/1, h2c        read-only admin API
package listener

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/soheilhy/cmux"
	"google.golang.org/grpc"

	"go.klb.dev/clipsync/internal/grpcservice"
	"go.klb.dev/clipsync/internal/hub"
	"go.klb.dev/clipsync/internal/message"
	"go.klb.dev/clipsync/internal/peerlink"
	"go.klb.dev/clipsync/internal/tlsconf"
	"go.klb.dev/clipsync/internal/wire"
)

const readHeaderTimeout = 10 * time.Second

// Options configures a Server.
type Options struct {
	Addr        string
	Credentials *tlsconf.Credentials
	Hub         *hub.Hub
	// LinkOptions is called for every accepted peer so that reloaded
	// settings apply to new links.
	LinkOptions func() peerlink.Options
	// Admin serves HTTP requests. Nil disables HTTP.
	Admin  http.Handler
	Health *grpcservice.Health
	Logger *slog.Logger
}

// Server owns the shared listener.
type Server struct {
	opts Options
	log  *slog.Logger
	ln   net.Listener
}

// Listen binds opts.Addr.
func Listen(opts Options) (*Server, error) {
	if opts.Credentials == nil {
		return nil, errors.New("listener: no credentials")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ln, err := tls.Listen("tcp", opts.Addr, opts.Credentials.ServerConfig())
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", opts.Addr, err)
	}
	return &Server{opts: opts, log: opts.Logger, ln: ln}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Serve blocks until ctx is done or the listener fails.
func (s *Server) Serve(ctx context.Context) error {
	m := cmux.New(s.ln)
	m.SetReadTimeout(readHeaderTimeout)

	peerL := m.Match(cmux.PrefixMatcher(wire.Preface[:4]))
	grpcL := m.MatchWithWriters(cmux.HTTP2MatchHeaderFieldSendSettings("content-type", "application/grpc"))
	httpL := m.Match(cmux.HTTP1Fast(), cmux.HTTP2())

	g := grpc.NewServer()
	if s.opts.Health != nil {
		s.opts.Health.Register(g)
	}

	var protocols http.Protocols
	protocols.SetHTTP1(true)
	protocols.SetUnencryptedHTTP2(true)
	admin := s.opts.Admin
	if admin == nil {
		admin = http.NotFoundHandler()
	}
	hs := &http.Server{
		Handler:           admin,
		Protocols:         &protocols,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go s.acceptPeers(ctx, peerL)
	go func() {
		if err := g.Serve(grpcL); err != nil && !isClosed(err) {
			s.log.Warn("grpc server stopped", "err", err)
		}
	}()
	go func() {
		if err := hs.Serve(httpL); err != nil && !errors.Is(err, http.ErrServerClosed) && !isClosed(err) {
			s.log.Warn("http server stopped", "err", err)
		}
	}()

	errc := make(chan error, 1)
	go func() { errc <- m.Serve() }()

	s.log.Info("listening", "addr", s.ln.Addr())

	var err error
	select {
	case <-ctx.Done():
	case err = <-errc:
	}
	g.Stop()
	_ = hs.Close()
	m.Close()
	if err != nil && !isClosed(err) {
		return fmt.Errorf("listener: %w", err)
	}
	return nil
}

func (s *Server) acceptPeers(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !isClosed(err) {
				s.log.Warn("peer accept failed", "err", err)
			}
			return
		}
		opts := peerlink.Options{}
		if s.opts.LinkOptions != nil {
			opts = s.opts.LinkOptions()
		}
		link, err := peerlink.New(conn, s.opts.Hub, message.RoleServer, opts)
		if err != nil {
			s.log.Warn("peer rejected", "remote", conn.RemoteAddr(), "err", err)
			conn.Close()
			continue
		}
		go func() { _ = link.Serve(ctx) }()
	}
}

func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, cmux.ErrListenerClosed) || errors.Is(err, cmux.ErrServerClosed) || errors.Is(err, grpc.ErrServerStopped)
}
