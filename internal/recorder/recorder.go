// Package recorder stores streamed sensor frames and device state changes in
// a sqlite database.
package recorder

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/kstaniek/go-wearable-proxy/internal/logging"
	"github.com/kstaniek/go-wearable-proxy/internal/metrics"
	"github.com/kstaniek/go-wearable-proxy/internal/transport"
	"github.com/kstaniek/go-wearable-proxy/internal/wearable"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

const defaultBuffer = 1024

// ErrQueueFull is returned by Record when the writer falls behind.
var ErrQueueFull = errors.New("recorder queue full")

type Config struct {
	Path   string
	Source string // free text stored with the session, e.g. the proxy address
	Buffer int
	Logger *slog.Logger
}

// Recorder appends events to one recording session. Record never blocks;
// inserts run on a single writer goroutine.
type Recorder struct {
	db      *sql.DB
	path    string
	session int64
	tx      *transport.AsyncTx[wearable.Event]
	logger  *slog.Logger
}

// Open creates (or extends) the database at cfg.Path and starts a session.
func Open(ctx context.Context, cfg Config) (*Recorder, error) {
	if cfg.Path == "" {
		return nil, errors.New("recorder: empty path")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.L()
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultBuffer
	}
	if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("recorder: create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("recorder: open: %w", err)
	}
	// One connection keeps pragmas and the writer on the same handle.
	db.SetMaxOpenConns(1)
	if err := configure(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("recorder: schema: %w", err)
	}
	res, err := db.ExecContext(ctx, `INSERT INTO sessions (started_at, source) VALUES (?, ?)`, time.Now().UnixMilli(), cfg.Source)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("recorder: start session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("recorder: session id: %w", err)
	}
	r := &Recorder{db: db, path: cfg.Path, session: id, logger: cfg.Logger}
	r.tx = transport.NewAsyncTx(context.Background(), cfg.Buffer, r.insert, transport.Hooks{
		OnError: func(err error) {
			metrics.IncError(metrics.ErrRecorder)
			r.logger.Warn("recorder_insert_failed", "error", err)
		},
		OnDrop: func() error {
			metrics.IncSinkDrop("recorder")
			return ErrQueueFull
		},
	})
	r.logger.Info("recorder_open", "path", cfg.Path, "session", id)
	return r, nil
}

func configure(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("recorder: %s: %w", p, err)
		}
	}
	return nil
}

// Session returns the id of the session this recorder appends to.
func (r *Recorder) Session() int64 { return r.session }

func (r *Recorder) Path() string { return r.path }

// Record queues ev for insertion.
func (r *Recorder) Record(ev wearable.Event) error { return r.tx.Send(ev) }

// SensorFrame and ConnectionStatus let a Recorder mirror a server. A full
// queue is ignored here; OnDrop counts it.
func (r *Recorder) SensorFrame(f wearable.SensorFrame) {
	_ = r.Record(wearable.FrameEvent(time.Now(), f))
}

func (r *Recorder) ConnectionStatus(state wearable.ConnectionState, d wearable.Device) {
	_ = r.Record(wearable.ConnectionEvent(time.Now(), state, d))
}

func (r *Recorder) insert(ev wearable.Event) error {
	at := ev.Time.UnixMilli()
	if ev.Kind == wearable.EventConnection {
		d := ev.Device
		_, err := r.db.Exec(`INSERT INTO connection_events
			(session_id, recorded_at, state, uid, name, firmware, rssi)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.session, at, int32(ev.State), d.UID, d.Name, d.FirmwareVersion, d.RSSI)
		return err
	}
	f := ev.Frame
	_, err := r.db.Exec(`INSERT INTO frames
		(session_id, recorded_at, device_time, delta_time,
		 accel_x, accel_y, accel_z, accel_accuracy,
		 gyro_x, gyro_y, gyro_z, gyro_accuracy,
		 rot_x, rot_y, rot_z, rot_w, rot_uncertainty, gesture)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.session, at, f.Timestamp, f.DeltaTime,
		f.Acceleration.Value.X, f.Acceleration.Value.Y, f.Acceleration.Value.Z, int32(f.Acceleration.Accuracy),
		f.AngularVelocity.Value.X, f.AngularVelocity.Value.Y, f.AngularVelocity.Value.Z, int32(f.AngularVelocity.Accuracy),
		f.Rotation.Value.X, f.Rotation.Value.Y, f.Rotation.Value.Z, f.Rotation.Value.W, f.Rotation.MeasurementUncertainty,
		int32(f.Gesture))
	return err
}

// Flush waits for queued events to be written and stops accepting new ones.
func (r *Recorder) Flush() { r.tx.Drain() }

// Close flushes pending events and closes the database.
func (r *Recorder) Close() error {
	r.tx.Drain()
	r.logger.Info("recorder_close", "path", r.path, "session", r.session)
	return r.db.Close()
}
