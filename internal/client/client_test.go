package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/kstaniek/go-wearable-proxy/internal/proxy"
	"github.com/kstaniek/go-wearable-proxy/internal/transport"
	"github.com/kstaniek/go-wearable-proxy/internal/wearable"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// recordingDecoder reports the type of every packet the client sends.
type recordingDecoder struct {
	inner *proxy.ServerDecoder
	got   chan proxy.PacketType
}

func (r recordingDecoder) Decode(buf []byte, idx *int) (proxy.PacketType, error) {
	t, err := r.inner.Decode(buf, idx)
	if err == nil {
		r.got <- t
	}
	return t, err
}

// fakeProxy accepts one client and lets the test script the proxy side.
type fakeProxy struct {
	ln   net.Listener
	port int
	conn net.Conn
	got  chan proxy.PacketType
}

func startFake(t *testing.T) *fakeProxy {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	return &fakeProxy{ln: ln, port: ln.Addr().(*net.TCPAddr).Port, got: make(chan proxy.PacketType, 256)}
}

func (f *fakeProxy) send(t *testing.T, enc func([]byte, *int) error) {
	t.Helper()
	buf := make([]byte, 512)
	idx := 0
	if err := enc(buf, &idx); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := f.conn.Write(buf[:idx]); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func (f *fakeProxy) expect(t *testing.T, want proxy.PacketType) {
	t.Helper()
	select {
	case got := <-f.got:
		if got != want {
			t.Fatalf("proxy received %v want %v", got, want)
		}
	case <-time.After(time.Second):
		t.Fatalf("proxy did not receive %v", want)
	}
}

func (f *fakeProxy) expectNothing(t *testing.T) {
	t.Helper()
	select {
	case got := <-f.got:
		t.Fatalf("unexpected packet %v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func connectFake(t *testing.T, h Handlers) (*Client, *fakeProxy) {
	t.Helper()
	f := startFake(t)
	c := New(WithLogger(quietLogger()), WithHandlers(h))
	accepted := make(chan struct{})
	go func() {
		defer close(accepted)
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		f.conn = conn
	}()
	if err := c.Connect(context.Background(), "127.0.0.1", f.port); err != nil {
		t.Fatalf("connect: %v", err)
	}
	<-accepted
	if f.conn == nil {
		t.Fatalf("fake proxy accepted nothing")
	}
	t.Cleanup(func() { _ = f.conn.Close(); c.Disconnect() })
	rx := transport.NewReassembler(proxy.ClientToDeviceBufferSize, recordingDecoder{inner: proxy.NewServerDecoder(proxy.ServerHandlers{}), got: f.got}, quietLogger())
	go func() { _, _ = io.Copy(rx, f.conn) }()
	return c, f
}

// pump ticks c until cond holds.
func pump(t *testing.T, c *Client, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		c.Update(time.Now())
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func (c *Client) sensorState(id wearable.SensorID) tristate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.sensors[id]
}

func (c *Client) packets() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rx.Packets()
}

func (c *Client) intervalKnown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.state.interval.get()
	return ok
}

func TestClient_UnknownStateQueriesOnce(t *testing.T) {
	cases := []struct {
		name  string
		call  func(c *Client) bool
		query proxy.PacketType
	}{
		{"sensor", func(c *Client) bool { return !c.SensorActive(wearable.Gyroscope) }, proxy.QuerySensorStatus},
		{"gesture", func(c *Client) bool { return !c.GestureEnabled(wearable.DoubleTap) }, proxy.QueryGestureStatus},
		{"interval", func(c *Client) bool { return c.UpdateInterval() == wearable.Interval80ms }, proxy.QueryUpdateInterval},
		{"rotation", func(c *Client) bool { return c.RotationSource() == wearable.SixDof }, proxy.QueryRotationSource},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, f := connectFake(t, Handlers{})
			if !tc.call(c) {
				t.Fatalf("unknown state did not return the default")
			}
			f.expect(t, tc.query)
			f.expectNothing(t)
		})
	}
}

func TestClient_KnownStateNeedsNoQuery(t *testing.T) {
	c, f := connectFake(t, Handlers{})
	f.send(t, func(b []byte, i *int) error { return proxy.EncodeSensorStatus(b, i, wearable.Gyroscope, true) })
	f.send(t, func(b []byte, i *int) error { return proxy.EncodeUpdateIntervalValue(b, i, wearable.Interval20ms) })
	pump(t, c, "cached state", func() bool { return c.sensorState(wearable.Gyroscope).known() && c.intervalKnown() })
	if !c.SensorActive(wearable.Gyroscope) || c.UpdateInterval() != wearable.Interval20ms {
		t.Fatalf("cached values not returned")
	}
	f.expectNothing(t)
}

func TestClient_Synced(t *testing.T) {
	c, f := connectFake(t, Handlers{})
	if c.Synced() {
		t.Fatalf("synced before any report")
	}
	f.send(t, func(b []byte, i *int) error { return proxy.EncodeUpdateIntervalValue(b, i, wearable.Interval40ms) })
	pump(t, c, "interval", c.intervalKnown)
	if c.Synced() {
		t.Fatalf("synced without rotation source")
	}
	f.send(t, func(b []byte, i *int) error { return proxy.EncodeRotationSourceValue(b, i, wearable.NineDof) })
	pump(t, c, "rotation", c.Synced)
	f.expectNothing(t)
}

func TestClient_CachesResetOnProxyDisconnect(t *testing.T) {
	var proxyDown, deviceDown int
	c, f := connectFake(t, Handlers{
		OnProxyDisconnected:  func() { proxyDown++ },
		OnDeviceDisconnected: func(wearable.Device) { deviceDown++ },
	})
	dev := wearable.Device{UID: wearable.NewUID(), Name: "Frames", IsConnected: true}
	f.send(t, func(b []byte, i *int) error { return proxy.EncodeConnectionStatus(b, i, wearable.Connected, dev) })
	f.send(t, func(b []byte, i *int) error { return proxy.EncodeUpdateIntervalValue(b, i, wearable.Interval20ms) })
	pump(t, c, "device and interval", func() bool {
		_, ok := c.ConnectedDevice()
		return ok && c.intervalKnown()
	})

	_ = f.conn.Close()
	pump(t, c, "proxy disconnect", func() bool { return !c.Connected() })
	if _, ok := c.ConnectedDevice(); ok {
		t.Fatalf("device kept after proxy disconnect")
	}
	if c.intervalKnown() || c.sensorState(wearable.Accelerometer).known() {
		t.Fatalf("caches survived proxy disconnect")
	}
	if proxyDown != 1 || deviceDown != 1 {
		t.Fatalf("proxyDown=%d deviceDown=%d", proxyDown, deviceDown)
	}
}

func TestClient_DeviceListOnlyWhileSearching(t *testing.T) {
	c, f := connectFake(t, Handlers{})
	devs := []wearable.Device{{UID: wearable.NewUID(), Name: "A", RSSI: -50}}
	list := func(b []byte, i *int) error { return proxy.EncodeDeviceList(b, i, devs) }

	var got [][]wearable.Device
	f.send(t, list)
	pump(t, c, "unsolicited list", func() bool { return c.packets() == 1 })
	c.SearchForDevices(func(d []wearable.Device) { got = append(got, d) })
	f.expect(t, proxy.InitiateDeviceSearch)
	if len(got) != 0 {
		t.Fatalf("list delivered before search: %v", got)
	}
	f.send(t, list)
	pump(t, c, "device list", func() bool { return len(got) == 1 })
	if got[0][0].Name != "A" || got[0][0].RSSI != -50 {
		t.Fatalf("list %+v", got[0])
	}

	c.StopSearchingForDevices()
	f.expect(t, proxy.StopDeviceSearch)
	f.send(t, list)
	pump(t, c, "late list", func() bool { return c.packets() == 3 })
	if len(got) != 1 {
		t.Fatalf("list delivered after stop: %d", len(got))
	}
}

func TestClient_ConnectCallbacks(t *testing.T) {
	var connecting, connected, disconnected int
	c, f := connectFake(t, Handlers{
		OnDeviceConnecting:   func(wearable.Device) { connecting++ },
		OnDeviceConnected:    func(wearable.Device) { connected++ },
		OnDeviceDisconnected: func(wearable.Device) { disconnected++ },
	})
	dev := wearable.Device{UID: wearable.NewUID(), Name: "Frames", IsConnected: true}
	var ok, failed int
	c.ConnectToDevice(dev, func() { ok++ }, func() { failed++ })
	f.expect(t, proxy.ConnectToDevice)
	f.send(t, func(b []byte, i *int) error { return proxy.EncodeConnectionStatus(b, i, wearable.Connecting, dev) })
	f.send(t, func(b []byte, i *int) error { return proxy.EncodeConnectionStatus(b, i, wearable.Connected, dev) })
	pump(t, c, "connected", func() bool { return connected == 1 })
	if ok != 1 || failed != 0 || connecting != 1 {
		t.Fatalf("ok=%d failed=%d connecting=%d", ok, failed, connecting)
	}

	// The same device again only refreshes the record.
	dev.RSSI = -42
	f.send(t, func(b []byte, i *int) error { return proxy.EncodeConnectionStatus(b, i, wearable.Connected, dev) })
	pump(t, c, "refresh", func() bool { d, _ := c.ConnectedDevice(); return d.RSSI == -42 })
	if connected != 1 || ok != 1 {
		t.Fatalf("refresh re-fired callbacks: connected=%d ok=%d", connected, ok)
	}

	c.DisconnectFromDevice()
	f.expect(t, proxy.DisconnectFromDevice)
	if disconnected != 1 {
		t.Fatalf("local disconnect not immediate")
	}
	f.expectNothing(t)

	c.ConnectToDevice(dev, func() { ok++ }, func() { failed++ })
	f.expect(t, proxy.ConnectToDevice)
	f.send(t, func(b []byte, i *int) error {
		return proxy.EncodeConnectionStatus(b, i, wearable.Failed, wearable.EmptyDevice())
	})
	pump(t, c, "failure", func() bool { return failed == 1 })
	if _, has := c.ConnectedDevice(); has || ok != 1 {
		t.Fatalf("failed connect left state: has=%v ok=%d", has, ok)
	}
}

func TestClient_ConnectToCurrentDevice(t *testing.T) {
	var connected int
	c, f := connectFake(t, Handlers{OnDeviceConnected: func(wearable.Device) { connected++ }})
	dev := wearable.Device{UID: wearable.NewUID(), Name: "Frames", IsConnected: true}
	f.send(t, func(b []byte, i *int) error { return proxy.EncodeConnectionStatus(b, i, wearable.Connected, dev) })
	pump(t, c, "connected", func() bool { return connected == 1 })

	var ok, failed int
	c.ConnectToDevice(dev, func() { ok++ }, func() { failed++ })
	f.expect(t, proxy.ConnectToDevice)
	f.send(t, func(b []byte, i *int) error { return proxy.EncodeConnectionStatus(b, i, wearable.Connected, dev) })
	pump(t, c, "status answer", func() bool { return c.packets() == 2 })
	c.mu.Lock()
	pending := c.connecting
	c.mu.Unlock()
	if pending {
		t.Fatalf("connect request still pending after the device answered")
	}

	// A later failure belongs to nobody's request.
	f.send(t, func(b []byte, i *int) error {
		return proxy.EncodeConnectionStatus(b, i, wearable.Failed, wearable.EmptyDevice())
	})
	pump(t, c, "failure", func() bool { return c.packets() == 3 })
	if failed != 0 || connected != 1 {
		t.Fatalf("failed=%d connected=%d", failed, connected)
	}
}

func TestClient_DisconnectFromDevice(t *testing.T) {
	t.Run("no device keeps caches", func(t *testing.T) {
		c, f := connectFake(t, Handlers{})
		f.send(t, func(b []byte, i *int) error { return proxy.EncodeUpdateIntervalValue(b, i, wearable.Interval20ms) })
		f.send(t, func(b []byte, i *int) error { return proxy.EncodeSensorStatus(b, i, wearable.Rotation, true) })
		pump(t, c, "interval and sensor", func() bool { return c.packets() == 2 })

		c.DisconnectFromDevice()
		f.expect(t, proxy.DisconnectFromDevice)
		if c.UpdateInterval() != wearable.Interval20ms || !c.SensorActive(wearable.Rotation) {
			t.Fatalf("caches dropped without a device")
		}
		if c.GestureEnabled(wearable.HeadNod) {
			t.Fatalf("gesture enabled after disconnect")
		}
		f.expectNothing(t)
	})
	t.Run("connected device resets caches", func(t *testing.T) {
		var down int
		c, f := connectFake(t, Handlers{OnDeviceDisconnected: func(wearable.Device) { down++ }})
		dev := wearable.Device{UID: wearable.NewUID(), Name: "Frames", IsConnected: true}
		f.send(t, func(b []byte, i *int) error { return proxy.EncodeConnectionStatus(b, i, wearable.Connected, dev) })
		f.send(t, func(b []byte, i *int) error { return proxy.EncodeUpdateIntervalValue(b, i, wearable.Interval20ms) })
		pump(t, c, "device and interval", func() bool {
			_, ok := c.ConnectedDevice()
			return ok && c.intervalKnown()
		})

		c.DisconnectFromDevice()
		f.expect(t, proxy.DisconnectFromDevice)
		if down != 1 {
			t.Fatalf("device disconnected events=%d", down)
		}
		if c.intervalKnown() {
			t.Fatalf("interval kept after device disconnect")
		}
		f.expectNothing(t)
	})
}

func TestClient_Ping(t *testing.T) {
	var rtt time.Duration = -1
	c, f := connectFake(t, Handlers{OnPingResponse: func(d time.Duration) { rtt = d }})
	if err := c.Ping(); err != nil {
		t.Fatalf("ping: %v", err)
	}
	f.expect(t, proxy.PingQuery)
	f.send(t, proxy.EncodePingResponse)
	pump(t, c, "ping response", func() bool { return rtt >= 0 })

	// The proxy may ping us too.
	f.send(t, proxy.EncodePingQuery)
	pump(t, c, "answer", func() bool { return len(f.got) > 0 })
	f.expect(t, proxy.PingResponse)
}

func TestClient_NotConnected(t *testing.T) {
	c := New(WithLogger(quietLogger()))
	if err := c.Ping(); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("ping: %v", err)
	}
	if c.SensorActive(wearable.Rotation) || c.UpdateInterval() != wearable.DefaultUpdateInterval {
		t.Fatalf("defaults not returned")
	}
	failed := false
	c.ConnectToDevice(wearable.EmptyDevice(), nil, func() { failed = true })
	if !failed {
		t.Fatalf("connect without proxy must fail")
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	if err := c.Connect(context.Background(), "127.0.0.1", port); !errors.Is(err, ErrDial) {
		t.Fatalf("expected ErrDial, got %v", err)
	}
}

func TestClient_DisableRemembersAddress(t *testing.T) {
	f := startFake(t)
	go func() {
		for {
			conn, err := f.ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()
	c := New(WithLogger(quietLogger()))
	if err := c.Connect(context.Background(), "127.0.0.1", f.port); err != nil {
		t.Fatalf("connect: %v", err)
	}
	c.Disable()
	if c.Connected() || c.Enabled() {
		t.Fatalf("still connected after Disable")
	}
	c.Enable(context.Background())
	if !c.Connected() {
		t.Fatalf("Enable did not reconnect")
	}
	c.Disconnect()
}

func TestClient_HandlersMayReenter(t *testing.T) {
	var seen wearable.Device
	var c *Client
	c, f := connectFake(t, Handlers{OnDeviceConnected: func(wearable.Device) {
		seen, _ = c.ConnectedDevice()
		_ = c.GestureEnabled(wearable.DoubleTap)
	}})
	dev := wearable.Device{UID: wearable.NewUID(), Name: "R", IsConnected: true}
	f.send(t, func(b []byte, i *int) error { return proxy.EncodeConnectionStatus(b, i, wearable.Connected, dev) })
	pump(t, c, "handler", func() bool { return seen.UID == dev.UID })
	f.expect(t, proxy.QueryGestureStatus)
}
