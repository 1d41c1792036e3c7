package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kstaniek/go-wearable-proxy/internal/discovery"
	"github.com/kstaniek/go-wearable-proxy/internal/metrics"
	"github.com/kstaniek/go-wearable-proxy/internal/server"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("wearable-proxy %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(2)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	l.Info("build_info", "version", version, "commit", commit, "date", date)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	prov, err := initProvider(cfg, l)
	if err != nil {
		l.Error("provider_init_error", "error", err)
		os.Exit(1)
	}
	sinks, closeSinks, err := initSinks(ctx, cfg, l)
	if err != nil {
		l.Error("sink_init_error", "error", err)
		os.Exit(1)
	}
	busy, _ := server.ParseBusyPolicy(cfg.busyPolicy)
	opts := []server.ServerOption{
		server.WithProvider(prov),
		server.WithBusyPolicy(busy),
		server.WithTickInterval(cfg.tick),
		server.WithNetworkTimeout(cfg.networkTO),
		server.WithKeepAliveInterval(cfg.keepAlive),
		server.WithLogger(l),
	}
	for _, s := range sinks {
		opts = append(opts, server.WithFrameSink(s))
	}
	r := newRunner(cfg, opts, l)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := r.run(ctx); err != nil {
			l.Error("server_error", "error", err)
			cancel()
		}
	}()

	// Advertise once the listener is bound.
	go func() {
		if !cfg.mdnsEnable {
			return
		}
		srv, ok := r.ready(ctx)
		if !ok {
			return
		}
		stopMDNS, err := startMDNS(ctx, cfg, srv.Addr())
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "service", discovery.ServiceType, "name", mdnsInstance(cfg), "addr", srv.Addr())
		go func() { <-ctx.Done(); stopMDNS() }()
	}()

	metrics.SetReadinessFunc(func() bool { return ctx.Err() == nil && r.isReady() })
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sigCh:
		l.Info("shutdown_signal", "signal", s.String())
	case <-ctx.Done():
	}
	sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
	if err := r.shutdown(sctx); err != nil {
		l.Warn("shutdown_error", "error", err)
	}
	scancel()
	cancel()
	<-done
	closeSinks()
	wg.Wait()
}
