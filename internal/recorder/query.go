package recorder

import (
	"context"
	"fmt"
	"time"

	"github.com/kstaniek/go-wearable-proxy/internal/wearable"
)

// Stats summarizes one session.
type Stats struct {
	Session int64
	Frames  int64
	Events  int64
}

func (r *Recorder) Stats(ctx context.Context, session int64) (Stats, error) {
	st := Stats{Session: session}
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM frames WHERE session_id = ?`, session).Scan(&st.Frames); err != nil {
		return st, fmt.Errorf("recorder: count frames: %w", err)
	}
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM connection_events WHERE session_id = ?`, session).Scan(&st.Events); err != nil {
		return st, fmt.Errorf("recorder: count events: %w", err)
	}
	return st, nil
}

// Frames returns up to limit frames of session in arrival order.
func (r *Recorder) Frames(ctx context.Context, session int64, limit int) ([]wearable.SensorFrame, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `SELECT device_time, delta_time,
		accel_x, accel_y, accel_z, accel_accuracy,
		gyro_x, gyro_y, gyro_z, gyro_accuracy,
		rot_x, rot_y, rot_z, rot_w, rot_uncertainty, gesture
		FROM frames WHERE session_id = ? ORDER BY id LIMIT ?`, session, limit)
	if err != nil {
		return nil, fmt.Errorf("recorder: query frames: %w", err)
	}
	defer rows.Close()
	var out []wearable.SensorFrame
	for rows.Next() {
		var v [15]float64
		var accAcc, gyroAcc, gesture int32
		if err := rows.Scan(&v[0], &v[1],
			&v[2], &v[3], &v[4], &accAcc,
			&v[5], &v[6], &v[7], &gyroAcc,
			&v[8], &v[9], &v[10], &v[11], &v[12], &gesture); err != nil {
			return nil, fmt.Errorf("recorder: scan frame: %w", err)
		}
		out = append(out, wearable.SensorFrame{
			Timestamp: float32(v[0]),
			DeltaTime: float32(v[1]),
			Acceleration: wearable.SensorVector3{
				Value:    wearable.Vector3{X: float32(v[2]), Y: float32(v[3]), Z: float32(v[4])},
				Accuracy: wearable.Accuracy(accAcc),
			},
			AngularVelocity: wearable.SensorVector3{
				Value:    wearable.Vector3{X: float32(v[5]), Y: float32(v[6]), Z: float32(v[7])},
				Accuracy: wearable.Accuracy(gyroAcc),
			},
			Rotation: wearable.SensorQuaternion{
				Value:                  wearable.Quaternion{X: float32(v[8]), Y: float32(v[9]), Z: float32(v[10]), W: float32(v[11])},
				MeasurementUncertainty: float32(v[12]),
			},
			Gesture: wearable.GestureID(gesture),
		})
	}
	return out, rows.Err()
}

// Events returns the connection events of session in arrival order.
func (r *Recorder) Events(ctx context.Context, session int64) ([]wearable.Event, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT recorded_at, state, uid, name, firmware, rssi
		FROM connection_events WHERE session_id = ? ORDER BY id`, session)
	if err != nil {
		return nil, fmt.Errorf("recorder: query events: %w", err)
	}
	defer rows.Close()
	var out []wearable.Event
	for rows.Next() {
		var at int64
		var state int32
		var d wearable.Device
		if err := rows.Scan(&at, &state, &d.UID, &d.Name, &d.FirmwareVersion, &d.RSSI); err != nil {
			return nil, fmt.Errorf("recorder: scan event: %w", err)
		}
		st := wearable.ConnectionState(state)
		d.IsConnected = st == wearable.Connected
		out = append(out, wearable.ConnectionEvent(time.UnixMilli(at), st, d))
	}
	return out, rows.Err()
}
