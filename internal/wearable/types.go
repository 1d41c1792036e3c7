package wearable

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SensorID identifies one of the independently switchable motion sensors.
type SensorID int32

const (
	Accelerometer SensorID = 0
	Gyroscope     SensorID = 1
	Rotation      SensorID = 2
)

// SensorIDs lists every sensor in wire order.
var SensorIDs = []SensorID{Accelerometer, Gyroscope, Rotation}

func (s SensorID) Valid() bool { return s >= Accelerometer && s <= Rotation }

func (s SensorID) String() string {
	switch s {
	case Accelerometer:
		return "accelerometer"
	case Gyroscope:
		return "gyroscope"
	case Rotation:
		return "rotation"
	default:
		return "sensor(" + strconv.Itoa(int(s)) + ")"
	}
}

// ParseSensorID accepts the String form or a short alias (accel, gyro, rot).
func ParseSensorID(s string) (SensorID, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "accelerometer", "accel", "acc":
		return Accelerometer, nil
	case "gyroscope", "gyro":
		return Gyroscope, nil
	case "rotation", "rot":
		return Rotation, nil
	}
	return 0, fmt.Errorf("unknown sensor %q", s)
}

// GestureID is a discrete motion event reported inline on a SensorFrame.
type GestureID int32

const (
	GestureNone GestureID = 0
	DoubleTap   GestureID = 0x81
	HeadNod     GestureID = 0x82
	HeadShake   GestureID = 0x83
)

// GestureIDs lists the defined gestures. GestureNone is a sentinel and is
// never enabled or reported as a gesture status.
var GestureIDs = []GestureID{DoubleTap, HeadNod, HeadShake}

func (g GestureID) Valid() bool {
	switch g {
	case GestureNone, DoubleTap, HeadNod, HeadShake:
		return true
	}
	return false
}

func (g GestureID) String() string {
	switch g {
	case GestureNone:
		return "none"
	case DoubleTap:
		return "double_tap"
	case HeadNod:
		return "head_nod"
	case HeadShake:
		return "head_shake"
	default:
		return fmt.Sprintf("gesture(0x%02X)", int32(g))
	}
}

func ParseGestureID(s string) (GestureID, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")) {
	case "double_tap", "doubletap", "tap":
		return DoubleTap, nil
	case "head_nod", "headnod", "nod":
		return HeadNod, nil
	case "head_shake", "headshake", "shake":
		return HeadShake, nil
	}
	return GestureNone, fmt.Errorf("unknown gesture %q", s)
}

// UpdateInterval is the global sampling period shared by all sensors.
type UpdateInterval int32

const (
	Interval320ms UpdateInterval = 0
	Interval160ms UpdateInterval = 1
	Interval80ms  UpdateInterval = 2
	Interval40ms  UpdateInterval = 3
	Interval20ms  UpdateInterval = 4
)

// DefaultUpdateInterval is reported before any authoritative value is known.
const DefaultUpdateInterval = Interval80ms

func (u UpdateInterval) Valid() bool { return u >= Interval320ms && u <= Interval20ms }

// Duration returns the sampling period; unknown values map to the default.
func (u UpdateInterval) Duration() time.Duration {
	switch u {
	case Interval320ms:
		return 320 * time.Millisecond
	case Interval160ms:
		return 160 * time.Millisecond
	case Interval40ms:
		return 40 * time.Millisecond
	case Interval20ms:
		return 20 * time.Millisecond
	default:
		return 80 * time.Millisecond
	}
}

func (u UpdateInterval) String() string {
	if !u.Valid() {
		return "interval(" + strconv.Itoa(int(u)) + ")"
	}
	return u.Duration().String()
}

// ParseUpdateInterval accepts a duration ("40ms") or a bare millisecond count ("40").
func ParseUpdateInterval(s string) (UpdateInterval, error) {
	s = strings.TrimSpace(s)
	d, err := time.ParseDuration(s)
	if err != nil {
		ms, aerr := strconv.Atoi(s)
		if aerr != nil {
			return 0, fmt.Errorf("invalid update interval %q", s)
		}
		d = time.Duration(ms) * time.Millisecond
	}
	for _, u := range []UpdateInterval{Interval320ms, Interval160ms, Interval80ms, Interval40ms, Interval20ms} {
		if u.Duration() == d {
			return u, nil
		}
	}
	return 0, fmt.Errorf("unsupported update interval %v (want 320ms|160ms|80ms|40ms|20ms)", d)
}

// RotationSource selects the fusion algorithm feeding the rotation sensor.
type RotationSource int32

const (
	SixDof  RotationSource = 0
	NineDof RotationSource = 1
)

const DefaultRotationSource = SixDof

func (r RotationSource) Valid() bool { return r == SixDof || r == NineDof }

func (r RotationSource) String() string {
	switch r {
	case SixDof:
		return "6dof"
	case NineDof:
		return "9dof"
	default:
		return "rotation_source(" + strconv.Itoa(int(r)) + ")"
	}
}

func ParseRotationSource(s string) (RotationSource, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "6dof", "six", "sixdof", "game":
		return SixDof, nil
	case "9dof", "nine", "ninedof", "absolute":
		return NineDof, nil
	}
	return 0, fmt.Errorf("unknown rotation source %q", s)
}

// Accuracy grades a vector sensor reading.
type Accuracy int32

const (
	AccuracyUnreliable Accuracy = 0
	AccuracyLow        Accuracy = 1
	AccuracyMedium     Accuracy = 2
	AccuracyHigh       Accuracy = 3
)

func (a Accuracy) String() string {
	switch a {
	case AccuracyUnreliable:
		return "unreliable"
	case AccuracyLow:
		return "low"
	case AccuracyMedium:
		return "medium"
	case AccuracyHigh:
		return "high"
	default:
		return "accuracy(" + strconv.Itoa(int(a)) + ")"
	}
}

// ConnectionState is the device connection state carried by ConnectionStatus packets.
type ConnectionState int32

const (
	Disconnected ConnectionState = 0
	Connecting   ConnectionState = 1
	Connected    ConnectionState = 2
	Failed       ConnectionState = 3
)

func (c ConnectionState) Valid() bool { return c >= Disconnected && c <= Failed }

func (c ConnectionState) String() string {
	switch c {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return "state(" + strconv.Itoa(int(c)) + ")"
	}
}

// RSSI filter bounds in dBm.
const (
	RSSIFilterLowerBound int32 = -70
	RSSIFilterUpperBound int32 = -30
	DefaultRSSIThreshold int32 = -65
)

// ClampRSSI limits a threshold to the supported filter range.
func ClampRSSI(v int32) int32 {
	if v < RSSIFilterLowerBound {
		return RSSIFilterLowerBound
	}
	if v > RSSIFilterUpperBound {
		return RSSIFilterUpperBound
	}
	return v
}
