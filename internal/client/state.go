package client

import "github.com/kstaniek/go-wearable-proxy/internal/wearable"

// tristate is a cached boolean that may not have been reported yet.
type tristate uint8

const (
	unknown tristate = iota
	isFalse
	isTrue
)

func triOf(b bool) tristate {
	if b {
		return isTrue
	}
	return isFalse
}

func (t tristate) known() bool { return t != unknown }
func (t tristate) value() bool { return t == isTrue }

func (t tristate) String() string {
	switch t {
	case isFalse:
		return "false"
	case isTrue:
		return "true"
	}
	return "unknown"
}

// cached holds the last reported value of a setting.
type cached[T any] struct {
	v  T
	ok bool
}

func (c *cached[T]) set(v T)        { c.v, c.ok = v, true }
func (c *cached[T]) get() (T, bool) { return c.v, c.ok }
func (c *cached[T]) reset()         { var zero T; c.v, c.ok = zero, false }

// remoteState mirrors what the proxy last told us about the device.
type remoteState struct {
	sensors  map[wearable.SensorID]tristate
	gestures map[wearable.GestureID]tristate
	interval cached[wearable.UpdateInterval]
	rotation cached[wearable.RotationSource]
}

func newRemoteState() remoteState {
	s := remoteState{
		sensors:  make(map[wearable.SensorID]tristate, len(wearable.SensorIDs)),
		gestures: make(map[wearable.GestureID]tristate, len(wearable.GestureIDs)),
	}
	s.reset()
	return s
}

// reset forgets everything; the next accessor call queries the proxy again.
func (s *remoteState) reset() {
	for _, id := range wearable.SensorIDs {
		s.sensors[id] = unknown
	}
	for _, id := range wearable.GestureIDs {
		s.gestures[id] = unknown
	}
	s.interval.reset()
	s.rotation.reset()
}
