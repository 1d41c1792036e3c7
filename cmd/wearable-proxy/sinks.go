package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kstaniek/go-wearable-proxy/internal/provider"
	"github.com/kstaniek/go-wearable-proxy/internal/recorder"
	"github.com/kstaniek/go-wearable-proxy/internal/server"
	"github.com/kstaniek/go-wearable-proxy/internal/telemetry"
)

// connectTelemetry is a hook for tests.
var connectTelemetry = func(cfg telemetry.Config) (server.FrameSink, func() error, error) {
	p, err := telemetry.Connect(cfg)
	if err != nil {
		return nil, nil, err
	}
	return p, p.Close, nil
}

// initSinks opens the optional frame sinks. The returned cleanup flushes and
// closes them; call it after the server has stopped.
func initSinks(ctx context.Context, cfg *appConfig, l *slog.Logger) ([]server.FrameSink, func(), error) {
	var sinks []server.FrameSink
	var closers []func() error
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				l.Warn("sink_close_error", "error", err)
			}
		}
	}
	if cfg.natsURL != "" {
		sink, closeFn, err := connectTelemetry(telemetry.Config{
			URL:     cfg.natsURL,
			Subject: cfg.natsSubject,
			Name:    mdnsInstance(cfg),
			Buffer:  cfg.sinkBuffer,
			Logger:  l,
		})
		if err != nil {
			return nil, func() {}, err
		}
		sinks = append(sinks, sink)
		closers = append(closers, closeFn)
	}
	if cfg.recordPath != "" {
		source := cfg.listenAddr
		if cfg.link == "serial" {
			source = cfg.serialDev
		}
		rec, err := recorder.Open(ctx, recorder.Config{
			Path:   cfg.recordPath,
			Source: source,
			Buffer: cfg.sinkBuffer,
			Logger: l,
		})
		if err != nil {
			cleanup()
			return nil, func() {}, err
		}
		sinks = append(sinks, rec)
		closers = append(closers, rec.Close)
	}
	return sinks, cleanup, nil
}

func initProvider(cfg *appConfig, l *slog.Logger) (provider.Provider, error) {
	switch cfg.provider {
	case "debug":
		d := provider.NewDebug(provider.DebugConfig{
			Name:   cfg.deviceName,
			UID:    cfg.deviceUID,
			RSSI:   int32(cfg.deviceRSSI),
			Logger: l,
		})
		dev := d.Device()
		l.Info("provider_ready", "provider", "debug", "device", dev.Name, "uid", dev.UID)
		return d, nil
	default:
		return nil, fmt.Errorf("unknown provider %q (use debug)", cfg.provider)
	}
}
