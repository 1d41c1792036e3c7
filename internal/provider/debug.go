package provider

import (
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/kstaniek/go-wearable-proxy/internal/logging"
	"github.com/kstaniek/go-wearable-proxy/internal/wearable"
)

const (
	DefaultDebugName     = "Debug Device"
	DefaultDebugFirmware = "0.0.0"
	DefaultDebugRSSI     = int32(-40)

	defaultSearchInterval = time.Second
	defaultSpinRate       = 45.0 // degrees per second around Y

	gravity = 9.80665
	// maxCatchUp bounds the frames emitted by one Update after a stall.
	maxCatchUp = 64
)

// DebugConfig describes the simulated device. Zero values select defaults.
type DebugConfig struct {
	Name            string
	FirmwareVersion string
	UID             string
	RSSI            int32
	ProductID       wearable.ProductID
	VariantID       wearable.VariantID

	// ConnectDelay separates the connecting and connected events.
	ConnectDelay time.Duration
	// SearchInterval is how often search results are repeated.
	SearchInterval time.Duration
	// SpinRate is the simulated rotation speed in degrees per second.
	SpinRate float64

	Logger *slog.Logger
}

type pendingConnect struct {
	at        time.Time
	onSuccess func()
}

// Debug simulates a single wearable. Connecting succeeds only for its UID;
// while connected it produces one frame per update interval when a sensor is
// running or an enabled gesture was injected.
type Debug struct {
	mu     sync.Mutex
	cfg    DebugConfig
	logger *slog.Logger
	events Events
	notify notifier

	device    wearable.Device
	connected bool
	pending   *pendingConnect

	searching  bool
	onSearch   func([]wearable.Device)
	nextSearch time.Time
	rssiFilter int32

	interval wearable.UpdateInterval
	rotation wearable.RotationSource
	sensors  map[wearable.SensorID]bool
	gestures map[wearable.GestureID]bool
	injected []wearable.GestureID

	epoch     time.Time
	now       time.Time
	nextFrame time.Time
	last      wearable.SensorFrame
	frames    []wearable.SensorFrame
}

// NewDebug returns a simulated provider for cfg.
func NewDebug(cfg DebugConfig) *Debug {
	if cfg.Name == "" {
		cfg.Name = DefaultDebugName
	}
	if cfg.FirmwareVersion == "" {
		cfg.FirmwareVersion = DefaultDebugFirmware
	}
	if cfg.UID == "" {
		cfg.UID = wearable.NewUID()
	}
	if cfg.RSSI == 0 {
		cfg.RSSI = DefaultDebugRSSI
	}
	if cfg.SearchInterval <= 0 {
		cfg.SearchInterval = defaultSearchInterval
	}
	if cfg.SpinRate == 0 {
		cfg.SpinRate = defaultSpinRate
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.L()
	}
	d := &Debug{
		cfg:        cfg,
		logger:     cfg.Logger.With("provider", "debug"),
		rssiFilter: wearable.RSSIFilterLowerBound,
		interval:   wearable.DefaultUpdateInterval,
		rotation:   wearable.DefaultRotationSource,
		sensors:    make(map[wearable.SensorID]bool, len(wearable.SensorIDs)),
		gestures:   make(map[wearable.GestureID]bool, len(wearable.GestureIDs)),
		last:       wearable.SensorFrame{Rotation: wearable.SensorQuaternion{Value: wearable.IdentityQuaternion}},
	}
	d.device = wearable.Device{
		UID:             cfg.UID,
		Name:            cfg.Name,
		FirmwareVersion: cfg.FirmwareVersion,
		RSSI:            cfg.RSSI,
		ProductID:       cfg.ProductID,
		VariantID:       cfg.VariantID,
	}
	return d
}

// Device returns the simulated device as a search would report it.
func (d *Debug) Device() wearable.Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.device
}

// unlock releases the lock and runs the callbacks queued while it was held.
func (d *Debug) unlock() {
	q := d.notify.take()
	d.mu.Unlock()
	run(q)
}

func (d *Debug) SetEventHandlers(ev Events) {
	d.mu.Lock()
	d.events = ev
	d.mu.Unlock()
}

func (d *Debug) searchResultLocked() []wearable.Device {
	if d.device.RSSI < d.rssiFilter {
		return []wearable.Device{}
	}
	dev := d.device
	dev.IsConnected = false
	return []wearable.Device{dev}
}

func (d *Debug) SearchForDevices(onUpdate func([]wearable.Device)) {
	d.mu.Lock()
	defer d.unlock()
	d.logger.Debug("search_start")
	d.searching = true
	d.onSearch = onUpdate
	d.nextSearch = d.now.Add(d.cfg.SearchInterval)
	if onUpdate != nil {
		devices := d.searchResultLocked()
		d.notify.add(func() { onUpdate(devices) })
	}
}

func (d *Debug) StopSearchingForDevices() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.searching {
		d.logger.Debug("search_stop")
	}
	d.searching = false
	d.onSearch = nil
}

func (d *Debug) SetRSSIFilter(threshold int32) {
	d.mu.Lock()
	d.rssiFilter = wearable.ClampRSSI(threshold)
	d.mu.Unlock()
}

func (d *Debug) ConnectToDevice(dev wearable.Device, onSuccess func(), onFailure func()) {
	d.mu.Lock()
	defer d.unlock()
	d.disconnectLocked()
	if !strings.EqualFold(dev.UID, d.device.UID) {
		d.logger.Warn("connect_unknown_device", "uid", dev.UID)
		d.notify.add(onFailure)
		return
	}
	d.logger.Debug("device_connecting", "uid", d.device.UID)
	d.pending = &pendingConnect{at: d.now.Add(d.cfg.ConnectDelay), onSuccess: onSuccess}
	if fn := d.events.OnConnecting; fn != nil {
		dev := d.device
		d.notify.add(func() { fn(dev) })
	}
}

func (d *Debug) DisconnectFromDevice() {
	d.mu.Lock()
	defer d.unlock()
	d.disconnectLocked()
}

func (d *Debug) disconnectLocked() {
	for _, g := range wearable.GestureIDs {
		d.gestures[g] = false
	}
	for _, s := range wearable.SensorIDs {
		d.sensors[s] = false
	}
	d.injected = d.injected[:0]
	d.pending = nil
	if !d.connected {
		return
	}
	d.connected = false
	d.device.IsConnected = false
	d.logger.Debug("device_disconnected", "uid", d.device.UID)
	if fn := d.events.OnDisconnected; fn != nil {
		dev := d.device
		d.notify.add(func() { fn(dev) })
	}
}

// SimulateDisconnect drops the device as if it went out of range.
func (d *Debug) SimulateDisconnect() {
	d.logger.Info("simulate_disconnect")
	d.DisconnectFromDevice()
}

// SimulateGesture injects g into the next frame if g is enabled by then.
func (d *Debug) SimulateGesture(g wearable.GestureID) {
	if g == wearable.GestureNone || !g.Valid() {
		return
	}
	d.mu.Lock()
	d.injected = append(d.injected, g)
	d.mu.Unlock()
}

func (d *Debug) ConnectedDevice() (wearable.Device, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return wearable.Device{}, false
	}
	return d.device, true
}

func (d *Debug) UpdateInterval() wearable.UpdateInterval {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.interval
}

func (d *Debug) SetUpdateInterval(u wearable.UpdateInterval) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		d.logger.Warn("set_update_interval_without_device")
		return
	}
	if !u.Valid() {
		d.logger.Warn("invalid_update_interval", "value", int32(u))
		return
	}
	d.logger.Debug("set_update_interval", "interval", u.String())
	d.interval = u
}

func (d *Debug) RotationSource() wearable.RotationSource {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rotation
}

// SetRotationSource records the source; the simulated data ignores it.
func (d *Debug) SetRotationSource(r wearable.RotationSource) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		d.logger.Warn("set_rotation_source_without_device")
		return
	}
	if !r.Valid() {
		d.logger.Warn("invalid_rotation_source", "value", int32(r))
		return
	}
	d.rotation = r
}

func (d *Debug) StartSensor(id wearable.SensorID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !id.Valid() {
		d.logger.Warn("invalid_sensor", "sensor", int32(id))
		return
	}
	if !d.connected {
		d.sensors[id] = false
		d.logger.Warn("start_sensor_without_device", "sensor", id.String())
		return
	}
	if d.sensors[id] {
		return
	}
	d.logger.Debug("sensor_start", "sensor", id.String())
	d.sensors[id] = true
	d.nextFrame = d.now
}

func (d *Debug) StopSensor(id wearable.SensorID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.sensors[id] {
		return
	}
	d.logger.Debug("sensor_stop", "sensor", id.String())
	d.sensors[id] = false
}

func (d *Debug) SensorActive(id wearable.SensorID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected && d.sensors[id]
}

func (d *Debug) EnableGesture(g wearable.GestureID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if g == wearable.GestureNone || !g.Valid() {
		d.logger.Warn("invalid_gesture", "gesture", int32(g))
		return
	}
	if !d.connected {
		d.gestures[g] = false
		d.logger.Warn("enable_gesture_without_device", "gesture", g.String())
		return
	}
	d.gestures[g] = true
}

func (d *Debug) DisableGesture(g wearable.GestureID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gestures[g] = false
}

func (d *Debug) GestureEnabled(g wearable.GestureID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected && d.gestures[g]
}

func (d *Debug) CurrentSensorFrames() []wearable.SensorFrame {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frames
}

func (d *Debug) Update(now time.Time) {
	d.mu.Lock()
	defer d.unlock()
	if d.epoch.IsZero() {
		d.epoch = now
	}
	d.now = now
	d.frames = d.frames[:0]

	if p := d.pending; p != nil && !now.Before(p.at) {
		d.pending = nil
		d.connected = true
		d.device.IsConnected = true
		d.nextFrame = now
		d.logger.Debug("device_connected", "uid", d.device.UID)
		d.notify.add(p.onSuccess)
		if fn := d.events.OnConnected; fn != nil {
			dev := d.device
			d.notify.add(func() { fn(dev) })
		}
	}

	if d.searching && d.onSearch != nil && !now.Before(d.nextSearch) {
		d.nextSearch = now.Add(d.cfg.SearchInterval)
		fn, devices := d.onSearch, d.searchResultLocked()
		d.notify.add(func() { fn(devices) })
	}

	if !d.connected {
		return
	}
	dt := d.interval.Duration()
	for n := 0; !now.Before(d.nextFrame); n++ {
		if n == maxCatchUp {
			d.nextFrame = now.Add(dt)
			break
		}
		d.nextFrame = d.nextFrame.Add(dt)
		d.step(dt)
	}
}

// step advances the simulation by one sampling period.
func (d *Debug) step(dt time.Duration) {
	anySensor := false
	for _, s := range wearable.SensorIDs {
		if d.sensors[s] {
			anySensor = true
			break
		}
	}
	gesture := d.popGesture()
	if !anySensor && !gesture {
		return
	}
	d.last.DeltaTime = float32(dt.Seconds())
	d.last.Timestamp = float32(d.nextFrame.Sub(d.epoch).Seconds())
	if anySensor {
		up := wearable.Vector3{Y: 1}
		rot := wearable.AxisAngle(up, d.cfg.SpinRate*float64(d.last.Timestamp))
		inv := rot.Conjugate()
		if d.sensors[wearable.Accelerometer] {
			d.last.Acceleration = wearable.SensorVector3{
				Value:    inv.Rotate(wearable.Vector3{Y: gravity}),
				Accuracy: wearable.AccuracyHigh,
			}
		}
		if d.sensors[wearable.Gyroscope] {
			spin := float32(d.cfg.SpinRate * math.Pi / 180)
			d.last.AngularVelocity = wearable.SensorVector3{
				Value:    inv.Rotate(wearable.Vector3{Y: spin}),
				Accuracy: wearable.AccuracyHigh,
			}
		}
		if d.sensors[wearable.Rotation] {
			d.last.Rotation = wearable.SensorQuaternion{Value: rot}
		}
	}
	d.frames = append(d.frames, d.last)
}

func (d *Debug) popGesture() bool {
	if len(d.injected) > 0 {
		g := d.injected[0]
		d.injected = d.injected[1:]
		if d.gestures[g] {
			d.logger.Debug("gesture_trigger", "gesture", g.String())
			d.last.Gesture = g
			return true
		}
		d.logger.Warn("gesture_disabled_dropped", "gesture", g.String())
	}
	d.last.Gesture = wearable.GestureNone
	return false
}

var _ Provider = (*Debug)(nil)
