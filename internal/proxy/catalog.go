package proxy

import "fmt"

// Wire constants shared by both directions.
const (
	// ProtocolVersion is carried in every header; any other value is rejected.
	ProtocolVersion byte = 0x05
	// Terminator ends every packet ("BOSE" as a little-endian int32).
	Terminator int32 = 0x424F5345
)

// Record sizes in bytes.
const (
	HeaderSize           = 2
	FooterSize           = 4
	SensorFrameSize      = 64
	DeviceInfoSize       = 91
	DeviceListHeaderSize = 4
	ConnectionStatusSize = 4 + DeviceInfoSize
	SensorStatusSize     = 5
	SensorControlSize    = 5
	GestureStatusSize    = 5
	GestureControlSize   = 5
	RSSIFilterSize       = 4
	DeviceConnectSize    = 36
	UpdateIntervalSize   = 4
	RotationSourceSize   = 4

	UIDLength             = 36
	NameLength            = 32
	FirmwareVersionLength = 16
)

// Suggested receive buffer capacities. They bound reassembly, not the protocol.
const (
	DeviceToClientBufferSize = 8192
	ClientToDeviceBufferSize = 256
)

// PacketType is the first header byte.
type PacketType byte

const (
	KeepAlive    PacketType = 0x00
	PingQuery    PacketType = 0x20
	PingResponse PacketType = 0x21

	SensorFrame         PacketType = 0x01
	DeviceList          PacketType = 0x02
	ConnectionStatus    PacketType = 0x06
	SensorStatus        PacketType = 0x07
	UpdateIntervalValue PacketType = 0x08
	GestureStatus       PacketType = 0x09
	RotationSourceValue PacketType = 0x10

	SensorControl         PacketType = 0x70
	SetRSSIFilter         PacketType = 0x71
	InitiateDeviceSearch  PacketType = 0x72
	StopDeviceSearch      PacketType = 0x73
	ConnectToDevice       PacketType = 0x74
	DisconnectFromDevice  PacketType = 0x75
	QueryConnectionStatus PacketType = 0x76
	QueryUpdateInterval   PacketType = 0x77
	SetUpdateInterval     PacketType = 0x78
	QuerySensorStatus     PacketType = 0x79
	GestureControl        PacketType = 0x7a
	QueryGestureStatus    PacketType = 0x7b
	QueryRotationSource   PacketType = 0x7c
	SetRotationSource     PacketType = 0x7d
)

// Direction is the legal flow of a packet type.
type Direction int

const (
	DirectionUnknown Direction = iota
	Bidirectional
	DeviceToClient
	ClientToDevice
)

func (d Direction) String() string {
	switch d {
	case Bidirectional:
		return "bidirectional"
	case DeviceToClient:
		return "device_to_client"
	case ClientToDevice:
		return "client_to_device"
	default:
		return "unknown"
	}
}

type packetInfo struct {
	name    string
	dir     Direction
	payload int // fixed payload size; DeviceList is variable
}

var catalog = map[PacketType]packetInfo{
	KeepAlive:    {"keep_alive", Bidirectional, 0},
	PingQuery:    {"ping_query", Bidirectional, 0},
	PingResponse: {"ping_response", Bidirectional, 0},

	SensorFrame:         {"sensor_frame", DeviceToClient, SensorFrameSize},
	DeviceList:          {"device_list", DeviceToClient, DeviceListHeaderSize},
	ConnectionStatus:    {"connection_status", DeviceToClient, ConnectionStatusSize},
	SensorStatus:        {"sensor_status", DeviceToClient, SensorStatusSize},
	UpdateIntervalValue: {"update_interval_value", DeviceToClient, UpdateIntervalSize},
	GestureStatus:       {"gesture_status", DeviceToClient, GestureStatusSize},
	RotationSourceValue: {"rotation_source_value", DeviceToClient, RotationSourceSize},

	SensorControl:         {"sensor_control", ClientToDevice, SensorControlSize},
	SetRSSIFilter:         {"set_rssi_filter", ClientToDevice, RSSIFilterSize},
	InitiateDeviceSearch:  {"initiate_device_search", ClientToDevice, 0},
	StopDeviceSearch:      {"stop_device_search", ClientToDevice, 0},
	ConnectToDevice:       {"connect_to_device", ClientToDevice, DeviceConnectSize},
	DisconnectFromDevice:  {"disconnect_from_device", ClientToDevice, 0},
	QueryConnectionStatus: {"query_connection_status", ClientToDevice, 0},
	QueryUpdateInterval:   {"query_update_interval", ClientToDevice, 0},
	SetUpdateInterval:     {"set_update_interval", ClientToDevice, UpdateIntervalSize},
	QuerySensorStatus:     {"query_sensor_status", ClientToDevice, 0},
	GestureControl:        {"gesture_control", ClientToDevice, GestureControlSize},
	QueryGestureStatus:    {"query_gesture_status", ClientToDevice, 0},
	QueryRotationSource:   {"query_rotation_source", ClientToDevice, 0},
	SetRotationSource:     {"set_rotation_source", ClientToDevice, RotationSourceSize},
}

// Known reports whether t is part of the catalog.
func (t PacketType) Known() bool { _, ok := catalog[t]; return ok }

// Direction returns the legal direction of t, or DirectionUnknown.
func (t PacketType) Direction() Direction { return catalog[t].dir }

// LegalFor reports whether a decoder for traffic flowing in dir accepts t.
func (t PacketType) LegalFor(dir Direction) bool {
	d := t.Direction()
	return d != DirectionUnknown && (d == Bidirectional || d == dir)
}

func (t PacketType) String() string {
	if info, ok := catalog[t]; ok {
		return info.name
	}
	return fmt.Sprintf("packet(0x%02X)", byte(t))
}

// PacketSize returns the full wire size of a packet of type t. devices is
// only used for DeviceList. Unknown types report 0.
func PacketSize(t PacketType, devices int) int {
	info, ok := catalog[t]
	if !ok {
		return 0
	}
	n := HeaderSize + info.payload + FooterSize
	if t == DeviceList {
		n += devices * DeviceInfoSize
	}
	return n
}
