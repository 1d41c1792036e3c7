package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kstaniek/go-wearable-proxy/internal/client"
	"github.com/kstaniek/go-wearable-proxy/internal/hub"
	"github.com/kstaniek/go-wearable-proxy/internal/transport"
	"github.com/kstaniek/go-wearable-proxy/internal/wearable"
)

const tickInterval = 5 * time.Millisecond

// openSerialLink is a hook for tests.
var openSerialLink = func(name string, baud int) (transport.Link, error) {
	sp, err := transport.OpenSerial(name, baud, 50*time.Millisecond)
	if err != nil {
		return nil, err
	}
	return sp, nil
}

// session is one attached proxy client with its tick loop running. Device
// events are fanned out through events; ping answers arrive on pongs.
type session struct {
	c      *client.Client
	events *hub.Hub[wearable.Event]
	pongs  chan time.Duration
	lost   chan struct{}

	cancel   context.CancelFunc
	done     chan struct{}
	lostOnce sync.Once
}

func openSession(ctx context.Context, o *globalOptions) (*session, error) {
	s := &session{
		events: hub.New[wearable.Event](),
		pongs:  make(chan time.Duration, 16),
		lost:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	s.events.Policy = hub.PolicyDrop
	s.c = client.New(
		client.WithLogger(o.logger),
		client.WithNetworkTimeout(o.timeout),
		client.WithHandlers(client.Handlers{
			OnProxyDisconnected:  func() { s.lostOnce.Do(func() { close(s.lost) }) },
			OnDeviceConnecting:   func(d wearable.Device) { s.connection(wearable.Connecting, d) },
			OnDeviceConnected:    func(d wearable.Device) { s.connection(wearable.Connected, d) },
			OnDeviceDisconnected: func(d wearable.Device) { s.connection(wearable.Disconnected, d) },
			OnSensorFrame: func(f wearable.SensorFrame) {
				s.events.Broadcast(wearable.FrameEvent(time.Now(), f))
			},
			OnPingResponse: func(rtt time.Duration) {
				select {
				case s.pongs <- rtt:
				default:
				}
			},
		}),
	)

	if o.serial != "" {
		link, err := openSerialLink(o.serial, o.baud)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", o.serial, err)
		}
		s.c.ConnectLink(link)
	} else {
		dctx, cancel := context.WithTimeout(ctx, o.timeout)
		err := s.c.Connect(dctx, o.host, o.port)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("connect %s: %w", o.target(), err)
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() {
		defer close(s.done)
		_ = s.c.Run(runCtx, tickInterval)
	}()

	// A busy proxy holds us in its queue; the welcome burst means we are served.
	if err := s.waitFor(ctx, o.timeout, "proxy state", s.c.Synced); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *session) connection(state wearable.ConnectionState, d wearable.Device) {
	s.events.Broadcast(wearable.ConnectionEvent(time.Now(), state, d))
}

// waitFor polls cond until it holds, the proxy goes away or timeout passes.
// A zero timeout waits for ctx only.
func (s *session) waitFor(ctx context.Context, timeout time.Duration, what string, cond func() bool) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	t := time.NewTicker(tickInterval)
	defer t.Stop()
	for {
		if cond() {
			return nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("timed out waiting for %s", what)
			}
			return ctx.Err()
		case <-s.lost:
			return fmt.Errorf("proxy closed the connection while waiting for %s", what)
		case <-t.C:
		}
	}
}

// connectDevice asks the proxy to attach uid and waits for the outcome.
func (s *session) connectDevice(ctx context.Context, uid string, timeout time.Duration) (wearable.Device, error) {
	if d, ok := s.c.ConnectedDevice(); ok && d.UID == uid {
		return d, nil
	}
	result := make(chan bool, 1)
	s.c.ConnectToDevice(wearable.Device{UID: uid},
		func() { result <- true },
		func() { result <- false },
	)
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	select {
	case ok := <-result:
		if !ok {
			return wearable.Device{}, fmt.Errorf("device %s: connection failed", uid)
		}
	case <-s.lost:
		return wearable.Device{}, errors.New("proxy closed the connection")
	case <-tctx.Done():
		return wearable.Device{}, fmt.Errorf("device %s: no answer from proxy", uid)
	}
	d, _ := s.c.ConnectedDevice()
	return d, nil
}

func (s *session) Close() {
	s.cancel()
	<-s.done
	s.c.Disconnect()
	s.events.Close()
}
