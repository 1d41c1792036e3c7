package wearable

import "time"

// EventKind tells which part of an Event is meaningful.
type EventKind int

const (
	EventSensorFrame EventKind = iota
	EventConnection
	EventGesture
)

func (k EventKind) String() string {
	switch k {
	case EventSensorFrame:
		return "sensor_frame"
	case EventConnection:
		return "connection"
	case EventGesture:
		return "gesture"
	}
	return "unknown"
}

// Event is an observation of a device, as fanned out to recorders, publishers
// and monitors.
type Event struct {
	Kind   EventKind
	Time   time.Time
	Frame  SensorFrame
	State  ConnectionState
	Device Device
}

// FrameEvent wraps f, classifying frames that carry a gesture as gesture events.
func FrameEvent(at time.Time, f SensorFrame) Event {
	k := EventSensorFrame
	if f.Gesture != GestureNone {
		k = EventGesture
	}
	return Event{Kind: k, Time: at, Frame: f}
}

// ConnectionEvent reports a device state change.
func ConnectionEvent(at time.Time, state ConnectionState, d Device) Event {
	return Event{Kind: EventConnection, Time: at, State: state, Device: d}
}
