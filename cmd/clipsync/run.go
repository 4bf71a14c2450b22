package main

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipsync/internal/admin"
	"go.klb.dev/clipsync/internal/clip"
	"go.klb.dev/clipsync/internal/config"
	"go.klb.dev/clipsync/internal/grpcservice"
	"go.klb.dev/clipsync/internal/hub"
	"go.klb.dev/clipsync/internal/ipc"
	"go.klb.dev/clipsync/internal/listener"
	"go.klb.dev/clipsync/internal/localpeer"
	"go.klb.dev/clipsync/internal/message"
	"go.klb.dev/clipsync/internal/metrics"
	"go.klb.dev/clipsync/internal/peerlink"
	"go.klb.dev/clipsync/internal/stream"
	"go.klb.dev/clipsync/internal/tlsconf"
)

const (
	dialTimeout    = 10 * time.Second
	healthInterval = 5 * time.Second
)

func newRunCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sync daemon (+ local clipboard integration)",
		Long: `Starts the clipsync daemon. It listens on the shared TLS port for peers
and dials every --peer, keeping each link up with exponential backoff. The
local clipboard joins as one more peer unless --no-local is given.

The shared port also serves /metrics, /healthz and /status over HTTPS and the
gRPC health service. Copy, paste and status tools use the IPC socket.

Changes to the sync keys in the config file (compression, delta,
min-compress-size, bandwidth-low, bandwidth-high) apply to running links
without a restart.

Precedence (lowest → highest): defaults → config file → CLIPSYNC_* env vars → flags`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runDaemon(v) },
	}

	f := cmd.Flags()
	f.String("listen", "0.0.0.0:8752", "shared TLS port (empty = do not listen)")
	f.StringSlice("peer", nil, "peer address to dial, repeatable")
	f.String("token", "", "shared secret; also keys the TLS certificate")
	f.String("source", defaultSource(), "name for this host in peer lists")
	f.Bool("no-local", false, "disable local clipboard integration (relay mode)")
	f.StringSlice("accept", nil, "stream kinds to receive: text,image,binary (default all)")
	config.AddFlags(f)
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

// daemon holds what every link shares.
type daemon struct {
	log    *slog.Logger
	hub    *hub.Hub
	creds  *tlsconf.Credentials
	source string
	token  string
	accept []stream.Kind
	m      *metrics.Metrics
	cfg    atomic.Pointer[config.SyncConfig]
}

func (d *daemon) linkOptions() peerlink.Options {
	return peerlink.Options{
		Source:  d.source,
		Token:   d.token,
		Accept:  d.accept,
		Config:  *d.cfg.Load(),
		Metrics: d.m,
		Logger:  d.log,
	}
}

func runDaemon(v *viper.Viper) error {
	log := setupLogging(v)

	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	accept, err := parseAccept(v.GetStringSlice("accept"))
	if err != nil {
		return err
	}
	token := v.GetString("token")
	creds, err := tlsconf.Derive(token)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	d := &daemon{
		log:    log,
		hub:    hub.New(log),
		creds:  creds,
		source: v.GetString("source"),
		token:  token,
		accept: accept,
		m:      metrics.New(metrics.WithRegistry(reg)),
	}
	d.cfg.Store(&cfg)

	log.Info("clipsync starting",
		"version", Version,
		"source", d.source,
		"listen", v.GetString("listen"),
		"peers", v.GetStringSlice("peer"),
		"compression", cfg.PreferredCompression,
		"delta", cfg.PreferredDelta,
		"authenticated", token != "",
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d.watchConfig(v)

	if !v.GetBool("no-local") {
		backend := clip.New()
		defer backend.Close()
		log.Info("clipboard backend", "name", backend.Name())
		go localpeer.New(d.hub, backend, d.source, log).Run(ctx)
	}

	health := grpcservice.New(d.hub, log)
	go health.Run(ctx, healthInterval)

	// IPC socket for copy/paste/status
	if ln, err := ipc.Listen(); err != nil {
		log.Warn("IPC socket unavailable", "err", err)
	} else {
		log.Info("IPC socket listening", "path", ipc.SocketPath())
		srv := &http.Server{
			Handler: admin.NewRouter(admin.Options{
				Hub:      d.hub,
				Gatherer: reg,
				Source:   d.source,
				Version:  Version,
				Logger:   log,
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() { _ = srv.Serve(ln) }()
		defer srv.Close()
	}

	var wg sync.WaitGroup
	defer wg.Wait()
	for _, addr := range v.GetStringSlice("peer") {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.dialLoop(ctx, addr)
		}()
	}

	addr := v.GetString("listen")
	if addr == "" {
		<-ctx.Done()
		return nil
	}
	s, err := listener.Listen(listener.Options{
		Addr:        addr,
		Credentials: creds,
		Hub:         d.hub,
		LinkOptions: d.linkOptions,
		Admin: admin.NewRouter(admin.Options{
			Hub:      d.hub,
			Gatherer: reg,
			Source:   d.source,
			Version:  Version,
			ReadOnly: true,
			Logger:   log,
		}),
		Health: health,
		Logger: log,
	})
	if err != nil {
		stop()
		return err
	}
	err = s.Serve(ctx)
	// A failed listener takes the dial loops down with it.
	stop()
	return err
}

// dialLoop keeps one outbound link alive until ctx is done.
func (d *daemon) dialLoop(ctx context.Context, addr string) {
	log := d.log.With("peer", addr)
	b := backoff{min: time.Second, max: 30 * time.Second}
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: dialTimeout},
		Config:    d.creds.ClientConfig(),
	}
	for ctx.Err() == nil {
		log.Info("connecting")
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			delay := b.next()
			log.Warn("connection failed", "err", err, "retry_in", delay)
			if !sleep(ctx, delay) {
				return
			}
			continue
		}

		link, err := peerlink.New(conn, d.hub, message.RoleClient, d.linkOptions())
		if err != nil {
			conn.Close()
			log.Error("link setup failed", "err", err)
			return
		}
		err = link.Serve(ctx)
		if errors.Is(err, peerlink.ErrAuth) {
			delay := b.next()
			log.Error("peer rejected our token", "err", err, "retry_in", delay)
			if !sleep(ctx, delay) {
				return
			}
			continue
		}
		b.reset()
		if ctx.Err() != nil {
			return
		}
		log.Warn("disconnected, reconnecting")
		if !sleep(ctx, time.Second) {
			return
		}
	}
}

// watchConfig applies sync-key edits in the config file to new and
// running links.
func (d *daemon) watchConfig(v *viper.Viper) {
	if v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := config.Load(v)
		if err != nil {
			d.log.Warn("config reload rejected", "file", e.Name, "err", err)
			return
		}
		d.cfg.Store(&cfg)
		n := 0
		d.hub.Each(func(p hub.Peer) {
			l, ok := p.(*peerlink.Link)
			if !ok {
				return
			}
			if err := l.Reconfigure(cfg); err != nil {
				d.log.Warn("reconfigure failed", "peer", l.ID(), "err", err)
				return
			}
			n++
		})
		d.log.Info("config reloaded", "file", e.Name, "links", n,
			"compression", cfg.PreferredCompression, "delta", cfg.PreferredDelta)
	})
	v.WatchConfig()
}
