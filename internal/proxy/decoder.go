package proxy

import (
	"github.com/kstaniek/go-wearable-proxy/internal/metrics"
	"github.com/kstaniek/go-wearable-proxy/internal/wearable"
)

// Decoder decodes exactly one packet per call starting at *idx.
//
// On success the packet's handler has run and *idx points past its footer.
// ErrInsufficientBytes leaves *idx untouched. A *ProtocolError means the
// caller must discard everything it has buffered.
type Decoder interface {
	Decode(buf []byte, idx *int) (PacketType, error)
}

// payload holds the decoded body of one packet until its footer checks out.
type payload struct {
	frame   wearable.SensorFrame
	devices []wearable.Device
	device  wearable.Device
	value   int32
	enabled bool
	uid     string
}

// readHeader decodes and validates the header shared by both directions.
func readHeader(d *decoder) (Header, error) {
	h, err := d.header()
	if err != nil {
		return h, err
	}
	if h.Version != ProtocolVersion {
		return h, &ProtocolError{Kind: VersionMismatch, Type: h.Type, Version: h.Version}
	}
	return h, nil
}

// reject counts protocol violations; other errors pass through untouched.
func reject(err error) error {
	if IsProtocolError(err) {
		metrics.IncMalformed()
	}
	return err
}

// ClientHandlers receive device-to-client packets. Nil handlers are skipped.
type ClientHandlers struct {
	KeepAlive        func()
	PingQuery        func()
	PingResponse     func()
	SensorFrame      func(wearable.SensorFrame)
	DeviceList       func([]wearable.Device)
	ConnectionStatus func(wearable.ConnectionState, wearable.Device)
	SensorStatus     func(wearable.SensorID, bool)
	UpdateInterval   func(wearable.UpdateInterval)
	GestureStatus    func(wearable.GestureID, bool)
	RotationSource   func(wearable.RotationSource)
}

// ClientDecoder decodes traffic flowing from the device side to a client.
type ClientDecoder struct {
	Handlers ClientHandlers
}

// NewClientDecoder returns a decoder dispatching to h.
func NewClientDecoder(h ClientHandlers) *ClientDecoder { return &ClientDecoder{Handlers: h} }

func (c *ClientDecoder) Decode(buf []byte, idx *int) (PacketType, error) {
	d := decoder{b: buf, off: *idx}
	h, err := readHeader(&d)
	if err != nil {
		return h.Type, reject(err)
	}
	var p payload
	switch h.Type {
	case KeepAlive, PingQuery, PingResponse:
	case SensorFrame:
		p.frame, err = d.sensorFrame()
	case DeviceList:
		p.devices, err = d.deviceList()
	case ConnectionStatus:
		if p.value, err = d.int32Record(); err == nil {
			p.device, err = d.deviceInfo()
		}
	case SensorStatus, GestureStatus:
		p.value, p.enabled, err = d.idFlag()
	case UpdateIntervalValue, RotationSourceValue:
		p.value, err = d.int32Record()
	default:
		err = corrupt(h.Type, "unexpected packet type")
	}
	if err == nil {
		err = d.footer(h.Type)
	}
	if err != nil {
		return h.Type, reject(err)
	}
	*idx = d.off
	c.dispatch(h.Type, &p)
	return h.Type, nil
}

func (c *ClientDecoder) dispatch(t PacketType, p *payload) {
	hd := &c.Handlers
	switch t {
	case KeepAlive:
		call(hd.KeepAlive)
	case PingQuery:
		call(hd.PingQuery)
	case PingResponse:
		call(hd.PingResponse)
	case SensorFrame:
		if hd.SensorFrame != nil {
			hd.SensorFrame(p.frame)
		}
	case DeviceList:
		if hd.DeviceList != nil {
			for i := range p.devices {
				p.devices[i].IsConnected = false
			}
			hd.DeviceList(p.devices)
		}
	case ConnectionStatus:
		if hd.ConnectionStatus != nil {
			state := wearable.ConnectionState(p.value)
			dev := p.device
			if state == wearable.Failed {
				dev = wearable.Device{}
			}
			dev.IsConnected = state == wearable.Connected
			hd.ConnectionStatus(state, dev)
		}
	case SensorStatus:
		if hd.SensorStatus != nil {
			hd.SensorStatus(wearable.SensorID(p.value), p.enabled)
		}
	case UpdateIntervalValue:
		if hd.UpdateInterval != nil {
			hd.UpdateInterval(wearable.UpdateInterval(p.value))
		}
	case GestureStatus:
		if hd.GestureStatus != nil {
			hd.GestureStatus(wearable.GestureID(p.value), p.enabled)
		}
	case RotationSourceValue:
		if hd.RotationSource != nil {
			hd.RotationSource(wearable.RotationSource(p.value))
		}
	}
}

// ServerHandlers receive client-to-device packets. Nil handlers are skipped.
type ServerHandlers struct {
	KeepAlive             func()
	PingQuery             func()
	PingResponse          func()
	SensorControl         func(wearable.SensorID, bool)
	SetRSSIFilter         func(int32)
	InitiateDeviceSearch  func()
	StopDeviceSearch      func()
	ConnectToDevice       func(uid string)
	DisconnectFromDevice  func()
	QueryConnectionStatus func()
	QueryUpdateInterval   func()
	SetUpdateInterval     func(wearable.UpdateInterval)
	QuerySensorStatus     func()
	GestureControl        func(wearable.GestureID, bool)
	QueryGestureStatus    func()
	QueryRotationSource   func()
	SetRotationSource     func(wearable.RotationSource)
}

// ServerDecoder decodes traffic flowing from a client to the device side.
type ServerDecoder struct {
	Handlers ServerHandlers
}

// NewServerDecoder returns a decoder dispatching to h.
func NewServerDecoder(h ServerHandlers) *ServerDecoder { return &ServerDecoder{Handlers: h} }

func (s *ServerDecoder) Decode(buf []byte, idx *int) (PacketType, error) {
	d := decoder{b: buf, off: *idx}
	h, err := readHeader(&d)
	if err != nil {
		return h.Type, reject(err)
	}
	var p payload
	switch h.Type {
	case KeepAlive, PingQuery, PingResponse,
		InitiateDeviceSearch, StopDeviceSearch, DisconnectFromDevice,
		QueryConnectionStatus, QueryUpdateInterval, QuerySensorStatus,
		QueryGestureStatus, QueryRotationSource:
	case SensorControl, GestureControl:
		p.value, p.enabled, err = d.idFlag()
	case SetRSSIFilter, SetUpdateInterval, SetRotationSource:
		p.value, err = d.int32Record()
	case ConnectToDevice:
		p.uid, err = d.uid()
	default:
		err = corrupt(h.Type, "unexpected packet type")
	}
	if err == nil {
		err = d.footer(h.Type)
	}
	if err != nil {
		return h.Type, reject(err)
	}
	*idx = d.off
	s.dispatch(h.Type, &p)
	return h.Type, nil
}

func call(fn func()) {
	if fn != nil {
		fn()
	}
}

func (s *ServerDecoder) dispatch(t PacketType, p *payload) {
	hd := &s.Handlers
	switch t {
	case KeepAlive:
		call(hd.KeepAlive)
	case PingQuery:
		call(hd.PingQuery)
	case PingResponse:
		call(hd.PingResponse)
	case InitiateDeviceSearch:
		call(hd.InitiateDeviceSearch)
	case StopDeviceSearch:
		call(hd.StopDeviceSearch)
	case DisconnectFromDevice:
		call(hd.DisconnectFromDevice)
	case QueryConnectionStatus:
		call(hd.QueryConnectionStatus)
	case QueryUpdateInterval:
		call(hd.QueryUpdateInterval)
	case QuerySensorStatus:
		call(hd.QuerySensorStatus)
	case QueryGestureStatus:
		call(hd.QueryGestureStatus)
	case QueryRotationSource:
		call(hd.QueryRotationSource)
	case SensorControl:
		if hd.SensorControl != nil {
			hd.SensorControl(wearable.SensorID(p.value), p.enabled)
		}
	case GestureControl:
		if hd.GestureControl != nil {
			hd.GestureControl(wearable.GestureID(p.value), p.enabled)
		}
	case SetRSSIFilter:
		if hd.SetRSSIFilter != nil {
			hd.SetRSSIFilter(p.value)
		}
	case SetUpdateInterval:
		if hd.SetUpdateInterval != nil {
			hd.SetUpdateInterval(wearable.UpdateInterval(p.value))
		}
	case SetRotationSource:
		if hd.SetRotationSource != nil {
			hd.SetRotationSource(wearable.RotationSource(p.value))
		}
	case ConnectToDevice:
		if hd.ConnectToDevice != nil {
			hd.ConnectToDevice(p.uid)
		}
	}
}

// Compile-time assertions.
var (
	_ Decoder = (*ClientDecoder)(nil)
	_ Decoder = (*ServerDecoder)(nil)
)
