// Package server exposes a device provider to a single remote client over
// TCP or a serial link using the wearable proxy protocol.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kstaniek/go-wearable-proxy/internal/logging"
	"github.com/kstaniek/go-wearable-proxy/internal/metrics"
	"github.com/kstaniek/go-wearable-proxy/internal/provider"
	"github.com/kstaniek/go-wearable-proxy/internal/proxy"
	"github.com/kstaniek/go-wearable-proxy/internal/transport"
	"github.com/kstaniek/go-wearable-proxy/internal/wearable"
)

// BusyPolicy decides what happens to a connection arriving while the client
// slot is taken.
type BusyPolicy int

const (
	// BusyWait holds the connection until the slot frees.
	BusyWait BusyPolicy = iota
	// BusyReject closes the connection immediately.
	BusyReject
)

func (p BusyPolicy) String() string {
	if p == BusyReject {
		return "reject"
	}
	return "wait"
}

// ParseBusyPolicy accepts "wait" or "reject".
func ParseBusyPolicy(s string) (BusyPolicy, error) {
	switch s {
	case "", "wait":
		return BusyWait, nil
	case "reject":
		return BusyReject, nil
	}
	return BusyWait, fmt.Errorf("unknown busy policy %q", s)
}

// FrameSink mirrors what the server streams, independently of any client.
type FrameSink interface {
	SensorFrame(wearable.SensorFrame)
	ConnectionStatus(wearable.ConnectionState, wearable.Device)
}

// Server owns the listener (or link), the single client slot and the tick loop.
type Server struct {
	mu   sync.RWMutex
	addr string
	link transport.Link
	prov provider.Provider

	tickInterval   time.Duration
	networkTimeout time.Duration
	keepAlive      time.Duration
	busy           BusyPolicy
	sinks          []FrameSink

	readyOnce sync.Once
	readyCh   chan struct{}
	lastErrMu sync.Mutex
	lastErr   error
	errCh     chan error
	stopped   chan struct{}
	cancelMu  sync.Mutex
	cancel    context.CancelFunc
	listener  net.Listener
	pending   chan pendingConn
	wg        sync.WaitGroup
	logger    *slog.Logger

	// Tick goroutine state.
	dec     *proxy.ServerDecoder
	sess    *session
	eventMu sync.Mutex
	events  []func()

	nextConnID        uint64
	active            atomic.Int32
	totalAccepted     atomic.Uint64
	totalRejected     atomic.Uint64
	totalDisconnected atomic.Uint64
	totalFrames       atomic.Uint64
	totalCommands     atomic.Uint64
}

type pendingConn struct {
	conn   net.Conn
	remote string
}

const (
	DefaultTickInterval   = 10 * time.Millisecond
	DefaultNetworkTimeout = 500 * time.Millisecond
)

type ServerOption func(*Server)

func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		tickInterval:   DefaultTickInterval,
		networkTimeout: DefaultNetworkTimeout,
		readyCh:        make(chan struct{}),
		errCh:          make(chan error, 1),
		stopped:        make(chan struct{}),
		pending:        make(chan pendingConn),
		logger:         logging.L(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.addr == "" {
		s.addr = ":0"
	}
	if s.prov == nil {
		s.prov = provider.NewDebug(provider.DebugConfig{Logger: s.logger})
	}
	s.dec = proxy.NewServerDecoder(s.handlers())
	return s
}

func WithListenAddr(a string) ServerOption          { return func(s *Server) { s.addr = a } }
func WithLink(l transport.Link) ServerOption        { return func(s *Server) { s.link = l } }
func WithProvider(p provider.Provider) ServerOption { return func(s *Server) { s.prov = p } }
func WithBusyPolicy(p BusyPolicy) ServerOption      { return func(s *Server) { s.busy = p } }
func WithFrameSink(sink FrameSink) ServerOption {
	return func(s *Server) {
		if sink != nil {
			s.sinks = append(s.sinks, sink)
		}
	}
}

func WithTickInterval(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.tickInterval = d
		}
	}
}

func WithNetworkTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.networkTimeout = d
		}
	}
}

// WithKeepAliveInterval sends KeepAlive after d without other traffic. Zero disables it.
func WithKeepAliveInterval(d time.Duration) ServerOption {
	return func(s *Server) {
		if d >= 0 {
			s.keepAlive = d
		}
	}
}

func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func (s *Server) Addr() string           { s.mu.RLock(); defer s.mu.RUnlock(); return s.addr }
func (s *Server) setAddr(a string)       { s.mu.Lock(); s.addr = a; s.mu.Unlock() }
func (s *Server) Ready() <-chan struct{} { return s.readyCh }
func (s *Server) Errors() <-chan error   { return s.errCh }

// ConnectedClients reports whether the client slot is taken (0 or 1).
func (s *Server) ConnectedClients() int { return int(s.active.Load()) }

// Provider returns the provider the server drives.
func (s *Server) Provider() provider.Provider { return s.prov }

func (s *Server) setError(err error) {
	if err == nil {
		return
	}
	s.lastErrMu.Lock()
	s.lastErr = err
	s.lastErrMu.Unlock()
	select {
	case s.errCh <- err:
	default:
	}
}
func (s *Server) LastError() error { s.lastErrMu.Lock(); defer s.lastErrMu.Unlock(); return s.lastErr }

// Serve runs the tick loop until ctx is cancelled or the link fails. With a
// link configured no listener is opened and the link is the only client.
func (s *Server) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.cancelMu.Lock()
	s.cancel = cancel
	s.cancelMu.Unlock()
	defer close(s.stopped)

	s.prov.SetEventHandlers(provider.Events{
		OnConnecting:   func(d wearable.Device) { s.enqueue(func() { s.deviceEvent(wearable.Connecting, d) }) },
		OnConnected:    func(d wearable.Device) { s.enqueue(func() { s.deviceEvent(wearable.Connected, d) }) },
		OnDisconnected: func(d wearable.Device) { s.enqueue(func() { s.deviceEvent(wearable.Disconnected, d) }) },
	})

	if s.link != nil {
		s.setAddr(linkName(s.link))
		s.attach(s.link, s.Addr())
	} else {
		ln, err := net.Listen("tcp", s.Addr())
		if err != nil {
			wrap := fmt.Errorf("%w: %v", ErrListen, err)
			metrics.IncError(mapErrToMetric(wrap))
			s.setError(wrap)
			return wrap
		}
		s.setAddr(ln.Addr().String())
		s.mu.Lock()
		s.listener = ln
		s.mu.Unlock()
		s.logger.Info("tcp_listen", "addr", s.Addr(), "busy_policy", s.busy.String())
		go func() { <-ctx.Done(); _ = ln.Close() }()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.acceptLoop(ctx, ln)
		}()
	}
	s.readyOnce.Do(func() { close(s.readyCh) })
	s.logger.Info("ready", "tick", s.tickInterval.String())

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.stop()
			return nil
		case now := <-ticker.C:
			if err := s.tick(now); err != nil {
				s.stop()
				return err
			}
		}
	}
}

func linkName(l transport.Link) string {
	if st, ok := l.(fmt.Stringer); ok {
		return st.String()
	}
	return "link"
}

// acceptLoop hands accepted connections to the tick goroutine one at a time.
func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		if err := s.acceptOnce(ctx, ln); err != nil {
			if !errors.Is(err, context.Canceled) && ctx.Err() == nil {
				s.logger.Error("accept_stopped", "error", err)
			}
			return
		}
	}
}

func (s *Server) acceptOnce(ctx context.Context, ln net.Listener) error {
	conn, err := ln.Accept()
	if err != nil {
		select {
		case <-ctx.Done():
			return context.Canceled
		default:
		}
		if _, ok := err.(net.Error); ok { // transient
			time.Sleep(200 * time.Millisecond)
			return nil
		}
		wrap := fmt.Errorf("%w: %v", ErrAccept, err)
		metrics.IncError(mapErrToMetric(wrap))
		s.setError(wrap)
		return wrap
	}
	remote := conn.RemoteAddr().String()
	if s.busy == BusyReject && s.active.Load() > 0 {
		s.totalRejected.Add(1)
		metrics.IncClientReject()
		s.logger.Warn("client_reject_busy", "remote", remote)
		_ = conn.Close()
		return nil
	}
	_ = transport.TuneTCP(conn, 2*s.networkTimeout)
	select {
	case s.pending <- pendingConn{conn: conn, remote: remote}:
		return nil
	case <-ctx.Done():
		_ = conn.Close()
		return context.Canceled
	}
}

// tick runs one pass of the session: accept, receive, provider work, stream.
func (s *Server) tick(now time.Time) error {
	if s.sess == nil && s.link == nil {
		select {
		case pc := <-s.pending:
			s.attach(pc.conn, pc.remote)
		default:
		}
	}
	if s.sess != nil {
		s.receive()
	}
	s.runEvents()
	s.prov.Update(now)
	s.runEvents()

	frames := s.prov.CurrentSensorFrames()
	for _, f := range frames {
		for _, sink := range s.sinks {
			sink.SensorFrame(f)
		}
	}
	if sess := s.sess; sess != nil {
		for _, f := range frames {
			s.queue(func(b []byte, i *int) error { return proxy.EncodeSensorFrame(b, i, f) })
		}
		if len(frames) > 0 {
			s.totalFrames.Add(uint64(len(frames)))
			metrics.AddSensorFramesTx(len(frames))
		}
		if s.keepAlive > 0 && sess.txn == 0 && now.Sub(sess.lastTx) >= s.keepAlive {
			s.queue(proxy.EncodeKeepAlive)
		}
		s.flush()
	}
	if s.sess != nil && s.sess.err != nil {
		return s.closeSession()
	}
	return nil
}

// enqueue defers fn to the tick goroutine. Provider events may fire on any
// goroutine.
func (s *Server) enqueue(fn func()) {
	s.eventMu.Lock()
	s.events = append(s.events, fn)
	s.eventMu.Unlock()
}

func (s *Server) runEvents() {
	for {
		s.eventMu.Lock()
		q := s.events
		s.events = nil
		s.eventMu.Unlock()
		if len(q) == 0 {
			return
		}
		for _, fn := range q {
			fn()
		}
	}
}

func (s *Server) deviceEvent(state wearable.ConnectionState, d wearable.Device) {
	switch state {
	case wearable.Connected:
		metrics.SetDeviceConnected(true)
	case wearable.Disconnected, wearable.Failed:
		metrics.SetDeviceConnected(false)
	}
	for _, sink := range s.sinks {
		sink.ConnectionStatus(state, d)
	}
	s.logger.Info("device_state", "state", state.String(), "uid", d.UID, "name", d.Name)
	s.sendStatus(state, d)
}

// stop tears the session down and leaves the device idle.
func (s *Server) stop() {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	if s.sess != nil {
		_ = s.closeSession()
	}
	// A connection parked in the handoff is closed by the accept goroutine.
	s.wg.Wait()
	s.prov.StopSearchingForDevices()
	for _, id := range wearable.SensorIDs {
		s.prov.StopSensor(id)
	}
	if _, ok := s.prov.ConnectedDevice(); ok {
		s.prov.DisconnectFromDevice()
	}
	s.runEvents()
}

// Shutdown stops Serve and waits for it to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancelMu.Lock()
	cancel := s.cancel
	s.cancelMu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: shutdown timeout: %v", ErrContext, ctx.Err())
	case <-s.stopped:
		s.logger.Info("shutdown_summary", "accepted", s.totalAccepted.Load(), "rejected", s.totalRejected.Load(), "disconnected", s.totalDisconnected.Load(), "frames_tx", s.totalFrames.Load(), "commands", s.totalCommands.Load())
		return nil
	}
}
