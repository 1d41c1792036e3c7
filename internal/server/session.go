package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/kstaniek/go-wearable-proxy/internal/metrics"
	"github.com/kstaniek/go-wearable-proxy/internal/proxy"
	"github.com/kstaniek/go-wearable-proxy/internal/transport"
	"github.com/kstaniek/go-wearable-proxy/internal/wearable"
)

// session is the state of the one connected client. Only the tick goroutine
// touches it.
type session struct {
	id     uint64
	link   transport.Link
	pump   *transport.Pump
	rx     *transport.Reassembler
	tx     []byte
	txn    int
	lastTx time.Time
	logger *slog.Logger
	err    error
}

// encodeFunc appends one packet at *idx.
type encodeFunc func(buf []byte, idx *int) error

func (s *Server) attach(link transport.Link, remote string) {
	id := atomic.AddUint64(&s.nextConnID, 1)
	l := s.logger.With("conn_id", id, "remote", remote)
	s.sess = &session{
		id:     id,
		link:   link,
		pump:   transport.StartPump(link, 0, 0),
		rx:     transport.NewReassembler(proxy.ClientToDeviceBufferSize, s.dec, l),
		tx:     make([]byte, proxy.DeviceToClientBufferSize),
		lastTx: time.Now(),
		logger: l,
	}
	s.active.Store(1)
	s.totalAccepted.Add(1)
	metrics.IncClientAccepted()
	metrics.SetActiveClients(1)
	l.Info("client_connected")
	s.welcome()
}

// welcome tells a new client everything it would otherwise have to query.
func (s *Server) welcome() {
	s.sendConnectionState()
	s.sendUpdateInterval()
	s.sendRotationSource()
	s.sendSensorStatuses()
	s.sendGestureStatuses()
	s.flush()
	metrics.IncWelcomeBurst()
}

// receive feeds whatever the pump has collected through the decoder.
func (s *Server) receive() {
	sess := s.sess
	err := sess.pump.Drain(func(b []byte) {
		if sess.err == nil {
			_, _ = sess.rx.Write(b)
		}
	})
	if err != nil && sess.err == nil {
		if errors.Is(err, io.EOF) {
			sess.err = io.EOF
		} else {
			sess.err = fmt.Errorf("%w: %v", ErrConnRead, err)
		}
	}
	s.flush()
}

// queue encodes one packet into the session's transmit buffer, flushing
// first when it does not fit.
func (s *Server) queue(enc encodeFunc) {
	sess := s.sess
	if sess == nil || sess.err != nil {
		return
	}
	idx := sess.txn
	err := enc(sess.tx, &idx)
	if errors.Is(err, proxy.ErrInsufficientSpace) && sess.txn > 0 {
		s.flush()
		if sess.err != nil {
			return
		}
		idx = 0
		err = enc(sess.tx, &idx)
	}
	if err != nil {
		sess.logger.Warn("packet_dropped", "error", err)
		return
	}
	sess.txn = idx
}

// flush writes the queued packets in one write bounded by the network timeout.
func (s *Server) flush() {
	sess := s.sess
	if sess == nil || sess.txn == 0 || sess.err != nil {
		return
	}
	if err := transport.WriteAll(sess.link, sess.tx[:sess.txn], s.networkTimeout); err != nil {
		sess.err = fmt.Errorf("%w: %v", ErrConnWrite, err)
	}
	sess.txn = 0
	sess.lastTx = time.Now()
}

// closeSession releases the client slot. A failing link has no successor,
// so in link mode the failure is returned to Serve.
func (s *Server) closeSession() error {
	sess := s.sess
	if sess == nil {
		return nil
	}
	s.sess = nil
	_ = sess.link.Close()
	sess.pump.Stop()
	s.active.Store(0)
	s.totalDisconnected.Add(1)
	metrics.IncClientDisconnect()
	metrics.SetActiveClients(0)
	s.prov.StopSearchingForDevices()

	cause := sess.err
	switch {
	case cause == nil, errors.Is(cause, io.EOF):
		sess.logger.Info("client_disconnected", "packets", sess.rx.Packets())
	default:
		metrics.IncError(mapErrToMetric(cause))
		sess.logger.Info("client_disconnected", "packets", sess.rx.Packets(), "error", cause)
	}
	if s.link == nil || cause == nil {
		return nil
	}
	if errors.Is(cause, io.EOF) {
		cause = fmt.Errorf("%w: %v", ErrLink, cause)
	} else {
		cause = fmt.Errorf("%w: %w", ErrLink, cause)
	}
	s.setError(cause)
	return cause
}

func (s *Server) sendStatus(state wearable.ConnectionState, d wearable.Device) {
	s.queue(func(b []byte, i *int) error { return proxy.EncodeConnectionStatus(b, i, state, d) })
}

func (s *Server) sendConnectionState() {
	if d, ok := s.prov.ConnectedDevice(); ok {
		s.sendStatus(wearable.Connected, d)
		return
	}
	s.sendStatus(wearable.Disconnected, wearable.EmptyDevice())
}

func (s *Server) sendUpdateInterval() {
	u := s.prov.UpdateInterval()
	s.queue(func(b []byte, i *int) error { return proxy.EncodeUpdateIntervalValue(b, i, u) })
}

func (s *Server) sendRotationSource() {
	r := s.prov.RotationSource()
	s.queue(func(b []byte, i *int) error { return proxy.EncodeRotationSourceValue(b, i, r) })
}

func (s *Server) sendSensorStatus(id wearable.SensorID) {
	on := s.prov.SensorActive(id)
	s.queue(func(b []byte, i *int) error { return proxy.EncodeSensorStatus(b, i, id, on) })
}

func (s *Server) sendSensorStatuses() {
	for _, id := range wearable.SensorIDs {
		s.sendSensorStatus(id)
	}
}

func (s *Server) sendGestureStatus(id wearable.GestureID) {
	on := s.prov.GestureEnabled(id)
	s.queue(func(b []byte, i *int) error { return proxy.EncodeGestureStatus(b, i, id, on) })
}

func (s *Server) sendGestureStatuses() {
	for _, id := range wearable.GestureIDs {
		s.sendGestureStatus(id)
	}
}
