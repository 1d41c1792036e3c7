// Package client talks to a wearable proxy and presents the remote device as
// a local provider.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/kstaniek/go-wearable-proxy/internal/logging"
	"github.com/kstaniek/go-wearable-proxy/internal/metrics"
	"github.com/kstaniek/go-wearable-proxy/internal/provider"
	"github.com/kstaniek/go-wearable-proxy/internal/proxy"
	"github.com/kstaniek/go-wearable-proxy/internal/transport"
	"github.com/kstaniek/go-wearable-proxy/internal/wearable"
)

// Handlers are host notifications. They run after the client's lock is
// released, in the order the causing packets arrived.
type Handlers struct {
	OnProxyConnected     func()
	OnProxyDisconnected  func()
	OnDeviceConnecting   func(wearable.Device)
	OnDeviceConnected    func(wearable.Device)
	OnDeviceDisconnected func(wearable.Device)
	OnSensorFrame        func(wearable.SensorFrame)
	OnPingResponse       func(rtt time.Duration)
}

const (
	DefaultNetworkTimeout = time.Second
	txBufferSize          = 128
)

// Client is safe for concurrent use.
type Client struct {
	mu             sync.Mutex
	logger         *slog.Logger
	handlers       Handlers
	events         provider.Events
	networkTimeout time.Duration
	keepAlive      time.Duration

	link   transport.Link
	pump   *transport.Pump
	rx     *transport.Reassembler
	tx     []byte
	lastTx time.Time

	host    string
	port    int
	enabled bool

	device    wearable.Device
	hasDevice bool
	state     remoteState
	frames    []wearable.SensorFrame
	pingSent  time.Time

	searching bool
	onSearch  func([]wearable.Device)

	connecting       bool
	onConnectSuccess func()
	onConnectFailure func()

	queue []func()
}

type Option func(*Client)

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithHandlers(h Handlers) Option { return func(c *Client) { c.handlers = h } }

func WithNetworkTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.networkTimeout = d
		}
	}
}

// WithKeepAliveInterval sends KeepAlive after d without other traffic. Zero disables it.
func WithKeepAliveInterval(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.keepAlive = d
		}
	}
}

func New(opts ...Option) *Client {
	c := &Client{
		logger:         logging.L(),
		networkTimeout: DefaultNetworkTimeout,
		tx:             make([]byte, txBufferSize),
		state:          newRemoteState(),
	}
	for _, o := range opts {
		o(c)
	}
	c.rx = transport.NewReassembler(proxy.DeviceToClientBufferSize, proxy.NewClientDecoder(c.decodeHandlers()), c.logger)
	return c
}

// SetHandlers replaces the host notifications.
func (c *Client) SetHandlers(h Handlers) {
	c.mu.Lock()
	c.handlers = h
	c.mu.Unlock()
}

func (c *Client) SetEventHandlers(ev provider.Events) {
	c.mu.Lock()
	c.events = ev
	c.mu.Unlock()
}

// unlock releases the lock and then runs the notifications queued under it.
func (c *Client) unlock() {
	q := c.queue
	c.queue = nil
	c.mu.Unlock()
	for _, fn := range q {
		fn()
	}
}

func (c *Client) notify(fn func()) {
	if fn != nil {
		c.queue = append(c.queue, fn)
	}
}

// Connect dials host:port and attaches the connection.
func (c *Client) Connect(ctx context.Context, host string, port int) error {
	c.mu.Lock()
	c.host, c.port, c.enabled = host, port, true
	timeout := c.networkTimeout
	c.mu.Unlock()

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		wrap := fmt.Errorf("%w: %v", ErrDial, err)
		metrics.IncError(mapErrToMetric(wrap))
		c.logger.Warn("proxy_connect_failed", "addr", addr, "error", err)
		return wrap
	}
	_ = transport.TuneTCP(conn, 2*timeout)
	c.ConnectLink(conn)
	return nil
}

// ConnectLink attaches an already open stream, replacing any current one.
func (c *Client) ConnectLink(link transport.Link) {
	c.mu.Lock()
	defer c.unlock()
	if c.link != nil {
		c.detachLocked(nil)
	}
	c.link = link
	c.pump = transport.StartPump(link, 0, 0)
	c.rx.Reset()
	c.lastTx = time.Now()
	c.enabled = true
	c.logger.Info("proxy_connected", "remote", remoteName(link))
	c.notify(c.handlers.OnProxyConnected)
}

func remoteName(l transport.Link) string {
	switch v := l.(type) {
	case net.Conn:
		return v.RemoteAddr().String()
	case fmt.Stringer:
		return v.String()
	}
	return "link"
}

// Disconnect drops the proxy connection.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.unlock()
	if c.link != nil {
		c.detachLocked(nil)
	}
}

// Enable marks the client wanted and reconnects to the last address if it
// is not connected. A failed reconnect is only logged.
func (c *Client) Enable(ctx context.Context) {
	c.mu.Lock()
	c.enabled = true
	reconnect := c.link == nil && c.host != ""
	host, port := c.host, c.port
	c.mu.Unlock()
	if reconnect {
		_ = c.Connect(ctx, host, port)
	}
}

// Disable drops the connection but remembers where it went.
func (c *Client) Disable() {
	c.mu.Lock()
	defer c.unlock()
	c.enabled = false
	if c.link != nil {
		c.detachLocked(nil)
	}
}

func (c *Client) Enabled() bool   { c.mu.Lock(); defer c.mu.Unlock(); return c.enabled }
func (c *Client) Connected() bool { c.mu.Lock(); defer c.mu.Unlock(); return c.link != nil }

// Synced reports whether the proxy has told us the update interval and the
// rotation source since the connection was attached.
func (c *Client) Synced() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, iok := c.state.interval.get()
	_, rok := c.state.rotation.get()
	return iok && rok
}

// detachLocked closes the link and forgets all remote state.
func (c *Client) detachLocked(cause error) {
	link, pump := c.link, c.pump
	c.link, c.pump = nil, nil
	_ = link.Close()
	pump.Stop()
	c.rx.Reset()
	if cause != nil {
		metrics.IncError(mapErrToMetric(cause))
		c.logger.Info("proxy_disconnected", "error", cause)
	} else {
		c.logger.Info("proxy_disconnected")
	}
	if c.hasDevice {
		c.deviceDisconnectedLocked()
	}
	c.state.reset()
	c.searching, c.onSearch = false, nil
	if c.connecting {
		c.notify(c.onConnectFailure)
		c.clearConnectLocked()
	}
	c.pingSent = time.Time{}
	c.notify(c.handlers.OnProxyDisconnected)
}

func (c *Client) clearConnectLocked() {
	c.connecting = false
	c.onConnectSuccess, c.onConnectFailure = nil, nil
}

// Update performs one tick: received packets are decoded and their
// notifications dispatched.
func (c *Client) Update(now time.Time) {
	c.mu.Lock()
	defer c.unlock()
	c.frames = c.frames[:0]
	if c.link == nil {
		return
	}
	err := c.pump.Drain(func(b []byte) {
		if c.link != nil {
			_, _ = c.rx.Write(b)
		}
	})
	if c.link == nil {
		return
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			c.detachLocked(nil)
		} else {
			c.detachLocked(fmt.Errorf("%w: %v", ErrConnRead, err))
		}
		return
	}
	if c.keepAlive > 0 && now.Sub(c.lastTx) >= c.keepAlive {
		c.sendLocked(proxy.EncodeKeepAlive)
	}
}

// Run calls Update every interval until ctx is done.
func (c *Client) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			c.Update(now)
		}
	}
}

// CurrentSensorFrames returns the frames received by the last Update.
func (c *Client) CurrentSensorFrames() []wearable.SensorFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames
}

// sendLocked encodes and writes one packet. A write failure drops the link.
func (c *Client) sendLocked(enc func([]byte, *int) error) bool {
	if c.link == nil {
		c.logger.Warn("proxy_not_connected")
		return false
	}
	idx := 0
	if err := enc(c.tx, &idx); err != nil {
		c.logger.Error("encode_failed", "error", err)
		return false
	}
	if err := transport.WriteAll(c.link, c.tx[:idx], c.networkTimeout); err != nil {
		c.detachLocked(fmt.Errorf("%w: %v", ErrConnWrite, err))
		return false
	}
	c.lastTx = time.Now()
	return true
}

func (c *Client) send(enc func([]byte, *int) error) bool {
	c.mu.Lock()
	defer c.unlock()
	return c.sendLocked(enc)
}

// Ping sends a PingQuery; the answer is reported through OnPingResponse.
func (c *Client) Ping() error {
	c.mu.Lock()
	defer c.unlock()
	if c.link == nil {
		return ErrNotConnected
	}
	if !c.sendLocked(proxy.EncodePingQuery) {
		return ErrNotConnected
	}
	c.pingSent = time.Now()
	return nil
}

func (c *Client) SearchForDevices(onUpdate func([]wearable.Device)) {
	c.mu.Lock()
	defer c.unlock()
	c.searching, c.onSearch = true, onUpdate
	c.sendLocked(proxy.EncodeInitiateDeviceSearch)
}

func (c *Client) StopSearchingForDevices() {
	c.mu.Lock()
	defer c.unlock()
	c.searching, c.onSearch = false, nil
	c.sendLocked(proxy.EncodeStopDeviceSearch)
}

func (c *Client) ConnectToDevice(d wearable.Device, onSuccess func(), onFailure func()) {
	c.mu.Lock()
	defer c.unlock()
	c.connecting = true
	c.onConnectSuccess, c.onConnectFailure = onSuccess, onFailure
	uid := d.UID
	if !c.sendLocked(func(b []byte, i *int) error { return proxy.EncodeConnectToDevice(b, i, uid) }) {
		if c.connecting {
			c.notify(c.onConnectFailure)
			c.clearConnectLocked()
		}
	}
}

// DisconnectFromDevice asks the proxy to disconnect and forgets the device
// without waiting for the confirmation.
func (c *Client) DisconnectFromDevice() {
	c.mu.Lock()
	defer c.unlock()
	if !c.sendLocked(proxy.EncodeDisconnectFromDevice) {
		return
	}
	// No device, no gestures.
	for _, id := range wearable.GestureIDs {
		c.state.gestures[id] = isFalse
	}
	if c.hasDevice {
		c.deviceDisconnectedLocked()
		c.state.reset()
	}
}

func (c *Client) ConnectedDevice() (wearable.Device, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.device, c.hasDevice
}

func (c *Client) SetRSSIFilter(threshold int32) {
	v := wearable.ClampRSSI(threshold)
	c.send(func(b []byte, i *int) error { return proxy.EncodeRSSIFilter(b, i, v) })
}

// UpdateInterval returns the cached interval, querying the proxy and
// returning the default when none was reported yet.
func (c *Client) UpdateInterval() wearable.UpdateInterval {
	c.mu.Lock()
	defer c.unlock()
	if u, ok := c.state.interval.get(); ok {
		return u
	}
	c.logger.Warn("proxy_no_data", "field", "update_interval")
	c.sendLocked(proxy.EncodeQueryUpdateInterval)
	return wearable.DefaultUpdateInterval
}

func (c *Client) SetUpdateInterval(u wearable.UpdateInterval) {
	c.send(func(b []byte, i *int) error { return proxy.EncodeSetUpdateInterval(b, i, u) })
}

func (c *Client) RotationSource() wearable.RotationSource {
	c.mu.Lock()
	defer c.unlock()
	if r, ok := c.state.rotation.get(); ok {
		return r
	}
	c.logger.Warn("proxy_no_data", "field", "rotation_source")
	c.sendLocked(proxy.EncodeQueryRotationSource)
	return wearable.DefaultRotationSource
}

func (c *Client) SetRotationSource(r wearable.RotationSource) {
	c.send(func(b []byte, i *int) error { return proxy.EncodeSetRotationSource(b, i, r) })
}

func (c *Client) StartSensor(id wearable.SensorID) {
	c.send(func(b []byte, i *int) error { return proxy.EncodeSensorControl(b, i, id, true) })
}

func (c *Client) StopSensor(id wearable.SensorID) {
	c.send(func(b []byte, i *int) error { return proxy.EncodeSensorControl(b, i, id, false) })
}

func (c *Client) SensorActive(id wearable.SensorID) bool {
	c.mu.Lock()
	defer c.unlock()
	if s := c.state.sensors[id]; s.known() {
		return s.value()
	}
	c.logger.Warn("proxy_no_data", "field", "sensor", "sensor", id.String())
	c.sendLocked(proxy.EncodeQuerySensorStatus)
	return false
}

func (c *Client) EnableGesture(g wearable.GestureID) {
	c.send(func(b []byte, i *int) error { return proxy.EncodeGestureControl(b, i, g, true) })
}

func (c *Client) DisableGesture(g wearable.GestureID) {
	c.send(func(b []byte, i *int) error { return proxy.EncodeGestureControl(b, i, g, false) })
}

func (c *Client) GestureEnabled(g wearable.GestureID) bool {
	c.mu.Lock()
	defer c.unlock()
	if s := c.state.gestures[g]; s.known() {
		return s.value()
	}
	c.logger.Warn("proxy_no_data", "field", "gesture", "gesture", g.String())
	c.sendLocked(proxy.EncodeQueryGestureStatus)
	return false
}

func (c *Client) deviceDisconnectedLocked() {
	d := c.device
	d.IsConnected = false
	c.device, c.hasDevice = wearable.Device{}, false
	if fn := c.handlers.OnDeviceDisconnected; fn != nil {
		c.notify(func() { fn(d) })
	}
	if fn := c.events.OnDisconnected; fn != nil {
		c.notify(func() { fn(d) })
	}
}

// decodeHandlers run while Update holds the lock.
func (c *Client) decodeHandlers() proxy.ClientHandlers {
	return proxy.ClientHandlers{
		PingQuery: func() { c.sendLocked(proxy.EncodePingResponse) },
		PingResponse: func() {
			if c.pingSent.IsZero() {
				return
			}
			rtt := time.Since(c.pingSent)
			c.pingSent = time.Time{}
			if fn := c.handlers.OnPingResponse; fn != nil {
				c.notify(func() { fn(rtt) })
			}
		},
		SensorFrame: func(f wearable.SensorFrame) {
			metrics.IncSensorFrameRx()
			c.frames = append(c.frames, f)
			if fn := c.handlers.OnSensorFrame; fn != nil {
				c.notify(func() { fn(f) })
			}
		},
		DeviceList: func(devs []wearable.Device) {
			if !c.searching || c.onSearch == nil {
				return
			}
			fn, list := c.onSearch, append([]wearable.Device(nil), devs...)
			c.notify(func() { fn(list) })
		},
		ConnectionStatus: c.connectionStatusLocked,
		SensorStatus: func(id wearable.SensorID, on bool) {
			if id.Valid() {
				c.state.sensors[id] = triOf(on)
			}
		},
		GestureStatus: func(id wearable.GestureID, on bool) {
			if id.Valid() && id != wearable.GestureNone {
				c.state.gestures[id] = triOf(on)
			}
		},
		UpdateInterval: func(u wearable.UpdateInterval) { c.state.interval.set(u) },
		RotationSource: func(r wearable.RotationSource) { c.state.rotation.set(r) },
	}
}

func (c *Client) connectionStatusLocked(state wearable.ConnectionState, d wearable.Device) {
	switch state {
	case wearable.Disconnected:
		if c.hasDevice {
			c.deviceDisconnectedLocked()
		}
		c.state.reset()
	case wearable.Connecting:
		if fn := c.handlers.OnDeviceConnecting; fn != nil {
			c.notify(func() { fn(d) })
		}
		if fn := c.events.OnConnecting; fn != nil {
			c.notify(func() { fn(d) })
		}
	case wearable.Connected:
		if c.hasDevice && c.device.UID == d.UID {
			// A status answer for the device we already have.
			c.device = d
			c.clearConnectLocked()
			return
		}
		c.device, c.hasDevice = d, true
		if c.connecting {
			c.notify(c.onConnectSuccess)
			c.clearConnectLocked()
		}
		if fn := c.handlers.OnDeviceConnected; fn != nil {
			c.notify(func() { fn(d) })
		}
		if fn := c.events.OnConnected; fn != nil {
			c.notify(func() { fn(d) })
		}
	case wearable.Failed:
		c.device, c.hasDevice = wearable.Device{}, false
		c.state.reset()
		if c.connecting {
			c.notify(c.onConnectFailure)
			c.clearConnectLocked()
		}
	default:
		c.logger.Warn("unknown_connection_state", "state", int32(state))
	}
}

var _ provider.Provider = (*Client)(nil)
