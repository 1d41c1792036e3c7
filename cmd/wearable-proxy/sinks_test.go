package main

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/kstaniek/go-wearable-proxy/internal/provider"
	"github.com/kstaniek/go-wearable-proxy/internal/server"
	"github.com/kstaniek/go-wearable-proxy/internal/telemetry"
	"github.com/kstaniek/go-wearable-proxy/internal/wearable"
)

type fakeSink struct {
	mu     sync.Mutex
	frames int
	closed bool
}

func (f *fakeSink) SensorFrame(wearable.SensorFrame) {
	f.mu.Lock()
	f.frames++
	f.mu.Unlock()
}

func (f *fakeSink) ConnectionStatus(wearable.ConnectionState, wearable.Device) {}

func (f *fakeSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestInitSinks_None(t *testing.T) {
	sinks, cleanup, err := initSinks(context.Background(), validConfig(), quietLogger())
	if err != nil {
		t.Fatalf("initSinks: %v", err)
	}
	defer cleanup()
	if len(sinks) != 0 {
		t.Fatalf("expected no sinks, got %d", len(sinks))
	}
}

func TestInitSinks_TelemetryAndRecorder(t *testing.T) {
	fake := &fakeSink{}
	var got telemetry.Config
	prev := connectTelemetry
	connectTelemetry = func(cfg telemetry.Config) (server.FrameSink, func() error, error) {
		got = cfg
		return fake, fake.Close, nil
	}
	t.Cleanup(func() { connectTelemetry = prev })

	cfg := validConfig()
	cfg.natsURL = "nats://127.0.0.1:4222"
	cfg.recordPath = filepath.Join(t.TempDir(), "rec", "proxy.db")
	sinks, cleanup, err := initSinks(context.Background(), cfg, quietLogger())
	if err != nil {
		t.Fatalf("initSinks: %v", err)
	}
	if len(sinks) != 2 {
		t.Fatalf("expected 2 sinks, got %d", len(sinks))
	}
	if got.URL != cfg.natsURL || got.Subject != cfg.natsSubject || got.Buffer != cfg.sinkBuffer {
		t.Fatalf("telemetry config %+v", got)
	}
	for _, s := range sinks {
		s.SensorFrame(wearable.SensorFrame{})
	}
	cleanup()
	if !fake.closed || fake.frames != 1 {
		t.Fatalf("fake sink closed=%v frames=%d", fake.closed, fake.frames)
	}
}

func TestInitSinks_TelemetryError(t *testing.T) {
	prev := connectTelemetry
	connectTelemetry = func(telemetry.Config) (server.FrameSink, func() error, error) {
		return nil, nil, errors.New("no servers available")
	}
	t.Cleanup(func() { connectTelemetry = prev })
	cfg := validConfig()
	cfg.natsURL = "nats://127.0.0.1:1"
	if _, cleanup, err := initSinks(context.Background(), cfg, quietLogger()); err == nil {
		t.Fatalf("expected error")
	} else {
		cleanup()
	}
}

func TestInitProvider(t *testing.T) {
	cfg := validConfig()
	cfg.deviceName = "Bench"
	cfg.deviceUID = "123E4567-E89B-12D3-A456-426614174000"
	cfg.deviceRSSI = -42
	p, err := initProvider(cfg, quietLogger())
	if err != nil {
		t.Fatalf("initProvider: %v", err)
	}
	d, ok := p.(*provider.Debug)
	if !ok {
		t.Fatalf("provider type %T", p)
	}
	dev := d.Device()
	if dev.Name != "Bench" || dev.UID != cfg.deviceUID || dev.RSSI != -42 {
		t.Fatalf("device %+v", dev)
	}
	cfg.provider = "ble"
	if _, err := initProvider(cfg, quietLogger()); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}
