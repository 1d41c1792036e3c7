package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "wearable_proxy"

// Prometheus counters
var (
	PacketsRx = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "packets_rx_total",
		Help:      "Total packets decoded from the stream, by packet type.",
	}, []string{"type"})
	BytesRx = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bytes_rx_total",
		Help:      "Total bytes read from peers.",
	})
	BytesTx = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bytes_tx_total",
		Help:      "Total bytes written to peers.",
	})
	SensorFramesTx = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sensor_frames_tx_total",
		Help:      "Total sensor frames streamed to clients.",
	})
	SensorFramesRx = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sensor_frames_rx_total",
		Help:      "Total sensor frames received from a proxy server.",
	})
	ProtocolErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "protocol_errors_total",
		Help:      "Receive buffers discarded after a protocol violation, by kind.",
	}, []string{"kind"})
	BufferOverflows = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "receive_buffer_overflows_total",
		Help:      "Receive buffers dropped because they filled without a complete packet.",
	})
	MalformedPackets = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "malformed_packets_total",
		Help:      "Total rejected packets (bad version, unknown or misdirected type, bad terminator).",
	})
	ClientsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "clients_accepted_total",
		Help:      "Client connections given the session slot.",
	})
	ClientsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "clients_rejected_total",
		Help:      "Client connections closed because the session slot was busy.",
	})
	ClientDisconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "client_disconnects_total",
		Help:      "Client sessions torn down (peer close or transport failure).",
	})
	ActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_clients",
		Help:      "Clients currently holding the session slot (0 or 1).",
	})
	WelcomeBursts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "welcome_bursts_total",
		Help:      "Welcome bursts sent to newly accepted clients.",
	})
	DeviceConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "device_connected",
		Help:      "1 while a wearable device is attached.",
	})
	StateQueries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "state_queries_total",
		Help:      "Queries issued because cached device state was unknown.",
	})
	HubDroppedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "hub_dropped_events_total",
		Help:      "Events dropped by the hub due to slow subscribers.",
	})
	HubKickedSubscribers = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "hub_kicked_subscribers_total",
		Help:      "Subscribers disconnected due to backpressure kick policy.",
	})
	HubSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "hub_subscribers",
		Help:      "Current number of event subscribers.",
	})
	SinkDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sink_dropped_total",
		Help:      "Items dropped by asynchronous sinks whose queue was full.",
	}, []string{"sink"})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "errors_total",
		Help:      "Error counters by subsystem.",
	}, []string{"where"})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrTCPRead    = "tcp_read"
	ErrTCPWrite   = "tcp_write"
	ErrAccept     = "accept"
	ErrDial       = "dial"
	ErrSerialOpen = "serial_open"
	ErrSerialRead = "serial_read"
	ErrSink       = "sink"
	ErrRecorder   = "recorder"
	ErrTelemetry  = "telemetry"
)

// Protocol error kinds used as label values.
const (
	KindVersionMismatch = "version_mismatch"
	KindCorrupt         = "corrupt"
)

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localPacketsRx   uint64
	localBytesRx     uint64
	localBytesTx     uint64
	localFramesTx    uint64
	localFramesRx    uint64
	localProtoErrors uint64
	localOverflows   uint64
	localMalformed   uint64
	localAccepted    uint64
	localRejected    uint64
	localDisconnects uint64
	localActive      uint64
	localQueries     uint64
	localHubDrop     uint64
	localHubKick     uint64
	localHubSubs     uint64
	localSinkDrop    uint64
	localErrors      uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	PacketsRx         uint64 `json:"packets_rx"`
	BytesRx           uint64 `json:"bytes_rx"`
	BytesTx           uint64 `json:"bytes_tx"`
	SensorFramesTx    uint64 `json:"sensor_frames_tx"`
	SensorFramesRx    uint64 `json:"sensor_frames_rx"`
	ProtocolErrors    uint64 `json:"protocol_errors"`
	BufferOverflows   uint64 `json:"buffer_overflows"`
	Malformed         uint64 `json:"malformed"`
	ClientsAccepted   uint64 `json:"clients_accepted"`
	ClientsRejected   uint64 `json:"clients_rejected"`
	ClientDisconnects uint64 `json:"client_disconnects"`
	ActiveClients     uint64 `json:"active_clients"`
	StateQueries      uint64 `json:"state_queries"`
	HubDrops          uint64 `json:"hub_drops"`
	HubKicks          uint64 `json:"hub_kicks"`
	HubSubscribers    uint64 `json:"hub_subscribers"`
	SinkDrops         uint64 `json:"sink_drops"`
	Errors            uint64 `json:"errors"` // sum across error labels
}

func Snap() Snapshot {
	return Snapshot{
		PacketsRx:         atomic.LoadUint64(&localPacketsRx),
		BytesRx:           atomic.LoadUint64(&localBytesRx),
		BytesTx:           atomic.LoadUint64(&localBytesTx),
		SensorFramesTx:    atomic.LoadUint64(&localFramesTx),
		SensorFramesRx:    atomic.LoadUint64(&localFramesRx),
		ProtocolErrors:    atomic.LoadUint64(&localProtoErrors),
		BufferOverflows:   atomic.LoadUint64(&localOverflows),
		Malformed:         atomic.LoadUint64(&localMalformed),
		ClientsAccepted:   atomic.LoadUint64(&localAccepted),
		ClientsRejected:   atomic.LoadUint64(&localRejected),
		ClientDisconnects: atomic.LoadUint64(&localDisconnects),
		ActiveClients:     atomic.LoadUint64(&localActive),
		StateQueries:      atomic.LoadUint64(&localQueries),
		HubDrops:          atomic.LoadUint64(&localHubDrop),
		HubKicks:          atomic.LoadUint64(&localHubKick),
		HubSubscribers:    atomic.LoadUint64(&localHubSubs),
		SinkDrops:         atomic.LoadUint64(&localSinkDrop),
		Errors:            atomic.LoadUint64(&localErrors),
	}
}

// Wrapper helpers to keep call sites simple.
func IncPacketRx(packetType string) {
	PacketsRx.WithLabelValues(packetType).Inc()
	atomic.AddUint64(&localPacketsRx, 1)
}

func AddBytesRx(n int) {
	BytesRx.Add(float64(n))
	atomic.AddUint64(&localBytesRx, uint64(n))
}

func AddBytesTx(n int) {
	BytesTx.Add(float64(n))
	atomic.AddUint64(&localBytesTx, uint64(n))
}

func AddSensorFramesTx(n int) {
	SensorFramesTx.Add(float64(n))
	atomic.AddUint64(&localFramesTx, uint64(n))
}

func IncSensorFrameRx() {
	SensorFramesRx.Inc()
	atomic.AddUint64(&localFramesRx, 1)
}

// IncProtocolError counts one discarded receive buffer.
func IncProtocolError(kind string) {
	ProtocolErrors.WithLabelValues(kind).Inc()
	atomic.AddUint64(&localProtoErrors, 1)
}

func IncBufferOverflow() {
	BufferOverflows.Inc()
	atomic.AddUint64(&localOverflows, 1)
}

func IncMalformed() {
	MalformedPackets.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

func IncClientAccepted() {
	ClientsAccepted.Inc()
	atomic.AddUint64(&localAccepted, 1)
}

func IncClientReject() {
	ClientsRejected.Inc()
	atomic.AddUint64(&localRejected, 1)
}

func IncClientDisconnect() {
	ClientDisconnects.Inc()
	atomic.AddUint64(&localDisconnects, 1)
}

func SetActiveClients(n int) {
	ActiveClients.Set(float64(n))
	atomic.StoreUint64(&localActive, uint64(n))
}

func IncWelcomeBurst() { WelcomeBursts.Inc() }

func SetDeviceConnected(connected bool) {
	if connected {
		DeviceConnected.Set(1)
		return
	}
	DeviceConnected.Set(0)
}

func IncStateQuery() {
	StateQueries.Inc()
	atomic.AddUint64(&localQueries, 1)
}

func IncHubDrop() {
	HubDroppedEvents.Inc()
	atomic.AddUint64(&localHubDrop, 1)
}

func IncHubKick() {
	HubKickedSubscribers.Inc()
	atomic.AddUint64(&localHubKick, 1)
}

func SetHubSubscribers(n int) {
	HubSubscribers.Set(float64(n))
	atomic.StoreUint64(&localHubSubs, uint64(n))
}

func IncSinkDrop(sink string) {
	SinkDropped.WithLabelValues(sink).Inc()
	atomic.AddUint64(&localSinkDrop, 1)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register common label series so first error does not log a registration latency.
	for _, lbl := range []string{
		ErrTCPRead, ErrTCPWrite, ErrAccept, ErrDial,
		ErrSerialOpen, ErrSerialRead, ErrSink, ErrRecorder, ErrTelemetry,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
	for _, kind := range []string{KindVersionMismatch, KindCorrupt} {
		ProtocolErrors.WithLabelValues(kind).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}
