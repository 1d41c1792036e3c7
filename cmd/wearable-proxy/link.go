package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-wearable-proxy/internal/metrics"
	"github.com/kstaniek/go-wearable-proxy/internal/server"
	"github.com/kstaniek/go-wearable-proxy/internal/transport"
)

const (
	linkBackoffMin = 100 * time.Millisecond
	linkBackoffMax = 5 * time.Second
)

// sleepFn waits d or until ctx is done. Tests replace it.
var sleepFn = func(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// openSerialLink is a hook for tests.
var openSerialLink = func(name string, baud int, readTimeout time.Duration) (transport.Link, error) {
	sp, err := transport.OpenSerial(name, baud, readTimeout)
	if err != nil {
		return nil, err
	}
	return sp, nil
}

// runner owns the server for the configured link. In serial mode a failed
// link is reopened with backoff and a fresh server is attached to it.
type runner struct {
	cfg  *appConfig
	opts []server.ServerOption
	l    *slog.Logger

	mu  sync.Mutex
	srv *server.Server
	set chan struct{}
}

func newRunner(cfg *appConfig, opts []server.ServerOption, l *slog.Logger) *runner {
	return &runner{cfg: cfg, opts: opts, l: l, set: make(chan struct{})}
}

func (r *runner) current() *server.Server {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.srv
}

func (r *runner) use(srv *server.Server) {
	r.mu.Lock()
	first := r.srv == nil
	r.srv = srv
	r.mu.Unlock()
	if first {
		close(r.set)
	}
}

// ready is closed once the first server is bound or attached.
func (r *runner) ready(ctx context.Context) (*server.Server, bool) {
	select {
	case <-r.set:
	case <-ctx.Done():
		return nil, false
	}
	srv := r.current()
	select {
	case <-srv.Ready():
		return srv, true
	case <-ctx.Done():
		return nil, false
	}
}

// isReady reports whether a server is currently serving.
func (r *runner) isReady() bool {
	srv := r.current()
	if srv == nil {
		return false
	}
	select {
	case <-srv.Ready():
		return srv.LastError() == nil
	default:
		return false
	}
}

func (r *runner) run(ctx context.Context) error {
	switch r.cfg.link {
	case "tcp":
		srv := server.NewServer(append(r.opts, server.WithListenAddr(r.cfg.listenAddr))...)
		r.use(srv)
		return srv.Serve(ctx)
	case "serial":
		return r.runSerial(ctx)
	default:
		return fmt.Errorf("unknown link %q (use tcp|serial)", r.cfg.link)
	}
}

func (r *runner) runSerial(ctx context.Context) error {
	backoff := linkBackoffMin
	for {
		link, err := openSerialLink(r.cfg.serialDev, r.cfg.baud, r.cfg.serialReadTO)
		if err != nil {
			metrics.IncError(metrics.ErrSerialOpen)
			r.l.Warn("serial_open_failed", "device", r.cfg.serialDev, "error", err, "backoff", backoff)
		} else {
			r.l.Info("serial_open", "device", r.cfg.serialDev, "baud", r.cfg.baud)
			backoff = linkBackoffMin
			srv := server.NewServer(append(r.opts, server.WithLink(link))...)
			r.use(srv)
			err = srv.Serve(ctx)
			if ctx.Err() != nil {
				return nil
			}
			if !errors.Is(err, server.ErrLink) {
				return err
			}
			r.l.Warn("serial_link_lost", "device", r.cfg.serialDev, "error", err, "backoff", backoff)
		}
		if ctx.Err() != nil {
			return nil
		}
		sleepFn(ctx, backoff)
		backoff *= 2
		if backoff > linkBackoffMax {
			backoff = linkBackoffMax
		}
	}
}

// shutdown stops the current server, if any.
func (r *runner) shutdown(ctx context.Context) error {
	if srv := r.current(); srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}
