// Package telemetry mirrors proxy traffic to a NATS subject tree.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kstaniek/go-wearable-proxy/internal/logging"
	"github.com/kstaniek/go-wearable-proxy/internal/metrics"
	"github.com/kstaniek/go-wearable-proxy/internal/transport"
	"github.com/kstaniek/go-wearable-proxy/internal/wearable"
)

const (
	DefaultSubject = "wearable.proxy"
	defaultBuffer  = 512
)

// Subjects below the configured prefix.
const (
	subjectFrames     = "frames"
	subjectGestures   = "gestures"
	subjectConnection = "connection"
)

// FramePayload is the JSON body published for sensor frames and gestures.
type FramePayload struct {
	Time         int64      `json:"time"`
	Timestamp    float32    `json:"timestamp"`
	DeltaTime    float32    `json:"delta_time"`
	Acceleration [3]float32 `json:"acceleration"`
	AccelAcc     string     `json:"acceleration_accuracy"`
	Gyro         [3]float32 `json:"angular_velocity"`
	GyroAcc      string     `json:"angular_velocity_accuracy"`
	Rotation     [4]float32 `json:"rotation"`
	Uncertainty  float32    `json:"rotation_uncertainty"`
	Gesture      string     `json:"gesture,omitempty"`
}

// ConnectionPayload is the JSON body published for device state changes.
type ConnectionPayload struct {
	Time     int64  `json:"time"`
	State    string `json:"state"`
	UID      string `json:"uid"`
	Name     string `json:"name,omitempty"`
	Firmware string `json:"firmware,omitempty"`
	RSSI     int32  `json:"rssi"`
}

// Encode returns the subject suffix and JSON body for ev.
func Encode(ev wearable.Event) (string, []byte, error) {
	at := ev.Time.UnixMilli()
	switch ev.Kind {
	case wearable.EventConnection:
		d := ev.Device
		b, err := json.Marshal(ConnectionPayload{
			Time: at, State: ev.State.String(), UID: d.UID, Name: d.Name, Firmware: d.FirmwareVersion, RSSI: d.RSSI,
		})
		return subjectConnection, b, err
	case wearable.EventSensorFrame, wearable.EventGesture:
		f := ev.Frame
		p := FramePayload{
			Time:         at,
			Timestamp:    f.Timestamp,
			DeltaTime:    f.DeltaTime,
			Acceleration: [3]float32{f.Acceleration.Value.X, f.Acceleration.Value.Y, f.Acceleration.Value.Z},
			AccelAcc:     f.Acceleration.Accuracy.String(),
			Gyro:         [3]float32{f.AngularVelocity.Value.X, f.AngularVelocity.Value.Y, f.AngularVelocity.Value.Z},
			GyroAcc:      f.AngularVelocity.Accuracy.String(),
			Rotation:     [4]float32{f.Rotation.Value.X, f.Rotation.Value.Y, f.Rotation.Value.Z, f.Rotation.Value.W},
			Uncertainty:  f.Rotation.MeasurementUncertainty,
		}
		subject := subjectFrames
		if ev.Kind == wearable.EventGesture {
			p.Gesture = f.Gesture.String()
			subject = subjectGestures
		}
		b, err := json.Marshal(p)
		return subject, b, err
	}
	return "", nil, fmt.Errorf("telemetry: unknown event kind %v", ev.Kind)
}

// Conn is the part of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

type Config struct {
	URL     string
	Subject string
	Name    string
	Buffer  int
	Logger  *slog.Logger
}

// Publisher forwards events to NATS from a single worker goroutine.
type Publisher struct {
	conn    Conn
	subject string
	tx      *transport.AsyncTx[wearable.Event]
	logger  *slog.Logger
}

// Connect dials NATS with indefinite reconnects and returns a publisher.
func Connect(cfg Config) (*Publisher, error) {
	if cfg.Logger == nil {
		cfg.Logger = logging.L()
	}
	name := cfg.Name
	if name == "" {
		name = "wearable-proxy"
	}
	l := cfg.Logger
	nc, err := nats.Connect(cfg.URL,
		nats.Name(name),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			l.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			l.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			l.Info("nats_closed")
		}),
	)
	if err != nil {
		metrics.IncError(metrics.ErrTelemetry)
		return nil, fmt.Errorf("telemetry: connect %s: %w", cfg.URL, err)
	}
	l.Info("nats_connected", "url", nc.ConnectedUrl(), "subject", subjectOrDefault(cfg.Subject))
	return New(nc, cfg), nil
}

func subjectOrDefault(s string) string {
	if s == "" {
		return DefaultSubject
	}
	return s
}

// New wraps an established connection.
func New(conn Conn, cfg Config) *Publisher {
	if cfg.Logger == nil {
		cfg.Logger = logging.L()
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultBuffer
	}
	p := &Publisher{conn: conn, subject: subjectOrDefault(cfg.Subject), logger: cfg.Logger}
	p.tx = transport.NewAsyncTx(context.Background(), cfg.Buffer, p.publish, transport.Hooks{
		OnError: func(err error) {
			metrics.IncError(metrics.ErrTelemetry)
			p.logger.Debug("nats_publish_failed", "error", err)
		},
		OnDrop: func() error {
			metrics.IncSinkDrop("telemetry")
			return nil
		},
	})
	return p
}

func (p *Publisher) publish(ev wearable.Event) error {
	suffix, body, err := Encode(ev)
	if err != nil {
		return err
	}
	return p.conn.Publish(p.subject+"."+suffix, body)
}

// Publish queues ev without blocking.
func (p *Publisher) Publish(ev wearable.Event) error { return p.tx.Send(ev) }

// SensorFrame and ConnectionStatus ignore a full queue; OnDrop counts it.
func (p *Publisher) SensorFrame(f wearable.SensorFrame) {
	_ = p.Publish(wearable.FrameEvent(time.Now(), f))
}

func (p *Publisher) ConnectionStatus(state wearable.ConnectionState, d wearable.Device) {
	_ = p.Publish(wearable.ConnectionEvent(time.Now(), state, d))
}

// Close publishes what is queued and drains the connection.
func (p *Publisher) Close() error {
	p.tx.Drain()
	return p.conn.Drain()
}
