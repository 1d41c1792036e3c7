// Package provider defines the device-side collaborator a proxy server drives
// and a simulated implementation of it.
package provider

import (
	"time"

	"github.com/kstaniek/go-wearable-proxy/internal/wearable"
)

// Events are the connection notifications a provider raises. Nil fields are
// ignored. Handlers run on the goroutine that triggered the change, never
// while the provider holds its own lock.
type Events struct {
	OnConnecting   func(wearable.Device)
	OnConnected    func(wearable.Device)
	OnDisconnected func(wearable.Device)
}

// Provider is the source of devices, sensor frames and gesture state that a
// session exposes.
type Provider interface {
	SearchForDevices(onUpdate func([]wearable.Device))
	StopSearchingForDevices()
	ConnectToDevice(d wearable.Device, onSuccess func(), onFailure func())
	DisconnectFromDevice()
	ConnectedDevice() (wearable.Device, bool)

	SetRSSIFilter(threshold int32)

	UpdateInterval() wearable.UpdateInterval
	SetUpdateInterval(wearable.UpdateInterval)
	RotationSource() wearable.RotationSource
	SetRotationSource(wearable.RotationSource)

	StartSensor(wearable.SensorID)
	StopSensor(wearable.SensorID)
	SensorActive(wearable.SensorID) bool

	EnableGesture(wearable.GestureID)
	DisableGesture(wearable.GestureID)
	GestureEnabled(wearable.GestureID) bool

	SetEventHandlers(Events)

	// Update performs one tick of provider work.
	Update(now time.Time)
	// CurrentSensorFrames returns the frames produced by the last Update.
	// The slice is only valid until the next Update.
	CurrentSensorFrames() []wearable.SensorFrame
}

// notifier queues event callbacks so they can run after a lock is released.
type notifier struct {
	queue []func()
}

func (n *notifier) add(fn func()) {
	if fn != nil {
		n.queue = append(n.queue, fn)
	}
}

func (n *notifier) take() []func() {
	q := n.queue
	n.queue = nil
	return q
}

func run(q []func()) {
	for _, fn := range q {
		fn()
	}
}
