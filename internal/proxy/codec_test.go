package proxy

import (
	"bytes"
	"errors"
	"testing"

	"github.com/kstaniek/go-wearable-proxy/internal/wearable"
)

func sampleFrame() wearable.SensorFrame {
	return wearable.SensorFrame{
		Timestamp:       123.45,
		DeltaTime:       0.1,
		Acceleration:    wearable.SensorVector3{Value: wearable.Vector3{X: 1}, Accuracy: wearable.AccuracyLow},
		AngularVelocity: wearable.SensorVector3{Value: wearable.Vector3{Y: 1}, Accuracy: wearable.AccuracyHigh},
		Rotation: wearable.SensorQuaternion{
			Value:                  wearable.Quaternion{X: 1, Y: 2, Z: 3, W: 4},
			MeasurementUncertainty: 15,
		},
		Gesture: wearable.DoubleTap,
	}
}

func sampleDevices(fw string) []wearable.Device {
	return []wearable.Device{
		{UID: wearable.EmptyUID, Name: "Product Name", FirmwareVersion: fw, RSSI: -30},
		{UID: wearable.EmptyUID, Name: "Corey's Device", FirmwareVersion: fw, RSSI: -40,
			ProductID: wearable.ProductBoseFrames, VariantID: wearable.FramesAlto},
		{UID: wearable.EmptyUID, Name: "Michael's Headphones", FirmwareVersion: fw, RSSI: -55,
			ProductID: wearable.ProductBoseFrames, VariantID: wearable.FramesRondo},
	}
}

var zeroUID = []byte{
	0x30, 0x30, 0x30, 0x30, 0x30, 0x30, 0x30, 0x30, 0x2D,
	0x30, 0x30, 0x30, 0x30, 0x2D, 0x30, 0x30, 0x30, 0x30,
	0x2D, 0x30, 0x30, 0x30, 0x30, 0x2D, 0x30, 0x30, 0x30,
	0x30, 0x30, 0x30, 0x30, 0x30, 0x30, 0x30, 0x30, 0x30,
}

var prodFirmware = []byte{
	0x50, 0x72, 0x6F, 0x64, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
}

func cat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// conformanceVector is the reference byte stream for the packet sequence
// encoded in TestEncodeConformanceVector, including 16 bytes of untouched
// 0xFF filler.
func conformanceVector() []byte {
	const v = ProtocolVersion
	term := []byte{0x45, 0x53, 0x4F, 0x42}
	return cat(
		[]byte{0x00, v}, term, // keep-alive
		[]byte{0x00, v}, term, // keep-alive
		[]byte{
			0x01, v, // sensor frame
			0x66, 0xE6, 0xF6, 0x42, // timestamp 123.45
			0xCD, 0xCC, 0xCC, 0x3D, // delta 0.1
			0x00, 0x00, 0x80, 0x3F, // acc.x 1
			0x00, 0x00, 0x00, 0x00,
			0x00, 0x00, 0x00, 0x00,
			0x01, 0x00, 0x00, 0x00, // low
			0x00, 0x00, 0x00, 0x00,
			0x00, 0x00, 0x80, 0x3F, // ang.y 1
			0x00, 0x00, 0x00, 0x00,
			0x03, 0x00, 0x00, 0x00, // high
			0x00, 0x00, 0x80, 0x3F, // rot 1 2 3 4
			0x00, 0x00, 0x00, 0x40,
			0x00, 0x00, 0x40, 0x40,
			0x00, 0x00, 0x80, 0x40,
			0x00, 0x00, 0x70, 0x41, // uncertainty 15
			0x81, 0x00, 0x00, 0x00, // double tap
		}, term,
		[]byte{0x02, v, 0x03, 0x00, 0x00, 0x00}, // device list, 3 entries
		zeroUID,
		[]byte{
			0x50, 0x72, 0x6F, 0x64, 0x75, 0x63, 0x74, 0x20, // "Product Name"
			0x4E, 0x61, 0x6D, 0x65, 0x00, 0x00, 0x00, 0x00,
			0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
			0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		},
		prodFirmware,
		[]byte{0xE2, 0xFF, 0xFF, 0xFF, 0x00, 0x00, 0x00},
		zeroUID,
		[]byte{
			0x43, 0x6F, 0x72, 0x65, 0x79, 0x27, 0x73, 0x20, // "Corey's Device"
			0x44, 0x65, 0x76, 0x69, 0x63, 0x65, 0x00, 0x00,
			0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
			0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		},
		prodFirmware,
		[]byte{0xD8, 0xFF, 0xFF, 0xFF, 0x2C, 0x40, 0x01},
		zeroUID,
		[]byte{
			0x4D, 0x69, 0x63, 0x68, 0x61, 0x65, 0x6C, 0x27, // "Michael's Headphones"
			0x73, 0x20, 0x48, 0x65, 0x61, 0x64, 0x70, 0x68,
			0x6F, 0x6E, 0x65, 0x73, 0x00, 0x00, 0x00, 0x00,
			0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		},
		prodFirmware,
		[]byte{0xC9, 0xFF, 0xFF, 0xFF, 0x2C, 0x40, 0x02},
		term,
		[]byte{0x06, v, 0x02, 0x00, 0x00, 0x00}, // connection status: connected
		zeroUID,
		[]byte{
			0x50, 0x72, 0x6F, 0x64, 0x75, 0x63, 0x74, 0x20,
			0x4E, 0x61, 0x6D, 0x65, 0x00, 0x00, 0x00, 0x00,
			0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
			0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		},
		prodFirmware,
		[]byte{0xE2, 0xFF, 0xFF, 0xFF, 0x2C, 0x40, 0x02},
		term,
		[]byte{0x07, v, 0x01, 0x00, 0x00, 0x00, 0x01}, term, // sensor status gyro on
		[]byte{0x70, v, 0x01, 0x00, 0x00, 0x00, 0x00}, term, // sensor control gyro off
		[]byte{0x71, v, 0xD8, 0xFF, 0xFF, 0xFF}, term, // rssi -40
		[]byte{0x72, v}, term,
		[]byte{0x73, v}, term,
		[]byte{0x74, v}, zeroUID, term,
		[]byte{0x75, v}, term,
		[]byte{0x76, v}, term,
		[]byte{0x77, v}, term,
		[]byte{0x08, v, 0x01, 0x00, 0x00, 0x00}, term, // 160ms
		[]byte{0x78, v, 0x03, 0x00, 0x00, 0x00}, term, // 40ms
		[]byte{0x79, v}, term,
		[]byte{0x7B, v}, term,
		[]byte{0x7C, v}, term,
		[]byte{0x10, v, 0x01, 0x00, 0x00, 0x00}, term, // nine dof
		[]byte{0x7D, v, 0x01, 0x00, 0x00, 0x00}, term,
		bytes.Repeat([]byte{0xFF}, 16),
	)
}

func TestEncodeConformanceVector(t *testing.T) {
	want := conformanceVector()
	buf := bytes.Repeat([]byte{0xFF}, len(want))
	idx := 0
	connected := wearable.Device{
		UID: wearable.EmptyUID, Name: "Product Name", FirmwareVersion: "Prod", RSSI: -30,
		ProductID: wearable.ProductBoseFrames, VariantID: wearable.FramesRondo, IsConnected: true,
	}
	steps := []func() error{
		func() error { return EncodeKeepAlive(buf, &idx) },
		func() error { return EncodeKeepAlive(buf, &idx) },
		func() error { return EncodeSensorFrame(buf, &idx, sampleFrame()) },
		func() error { return EncodeDeviceList(buf, &idx, sampleDevices("Prod")) },
		func() error { return EncodeConnectionStatus(buf, &idx, wearable.Connected, connected) },
		func() error { return EncodeSensorStatus(buf, &idx, wearable.Gyroscope, true) },
		func() error { return EncodeSensorControl(buf, &idx, wearable.Gyroscope, false) },
		func() error { return EncodeRSSIFilter(buf, &idx, -40) },
		func() error { return EncodeInitiateDeviceSearch(buf, &idx) },
		func() error { return EncodeStopDeviceSearch(buf, &idx) },
		func() error { return EncodeConnectToDevice(buf, &idx, wearable.EmptyUID) },
		func() error { return EncodeDisconnectFromDevice(buf, &idx) },
		func() error { return EncodeQueryConnectionStatus(buf, &idx) },
		func() error { return EncodeQueryUpdateInterval(buf, &idx) },
		func() error { return EncodeUpdateIntervalValue(buf, &idx, wearable.Interval160ms) },
		func() error { return EncodeSetUpdateInterval(buf, &idx, wearable.Interval40ms) },
		func() error { return EncodeQuerySensorStatus(buf, &idx) },
		func() error { return EncodeQueryGestureStatus(buf, &idx) },
		func() error { return EncodeQueryRotationSource(buf, &idx) },
		func() error { return EncodeRotationSourceValue(buf, &idx, wearable.NineDof) },
		func() error { return EncodeSetRotationSource(buf, &idx, wearable.NineDof) },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	if idx != len(want)-16 {
		t.Fatalf("cursor=%d want %d", idx, len(want)-16)
	}
	if !bytes.Equal(buf, want) {
		for i := range want {
			if buf[i] != want[i] {
				t.Fatalf("mismatch at byte %d: got 0x%02X want 0x%02X\ngot=% X", i, buf[i], want[i], buf)
			}
		}
	}
}

func TestRecordSizes(t *testing.T) {
	buf := make([]byte, 512)
	cases := []struct {
		name string
		enc  func(*int) error
		want int
	}{
		{"header", func(i *int) error { return EncodeHeader(buf, i, Header{Type: KeepAlive, Version: ProtocolVersion}) }, HeaderSize},
		{"device_info", func(i *int) error { return EncodeDeviceInfo(buf, i, wearable.EmptyDevice()) }, 91},
		{"sensor_frame_record", func(i *int) error { return EncodeSensorFrameRecord(buf, i, sampleFrame()) }, 64},
		{"keep_alive", func(i *int) error { return EncodeKeepAlive(buf, i) }, 6},
		{"sensor_frame", func(i *int) error { return EncodeSensorFrame(buf, i, sampleFrame()) }, 70},
		{"connection_status", func(i *int) error {
			return EncodeConnectionStatus(buf, i, wearable.Disconnected, wearable.EmptyDevice())
		}, 101},
		{"sensor_status", func(i *int) error { return EncodeSensorStatus(buf, i, wearable.Rotation, true) }, 11},
		{"connect", func(i *int) error { return EncodeConnectToDevice(buf, i, wearable.EmptyUID) }, 42},
		{"rssi", func(i *int) error { return EncodeRSSIFilter(buf, i, -50) }, 10},
		{"empty_list", func(i *int) error { return EncodeDeviceList(buf, i, nil) }, 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			idx := 0
			if err := tc.enc(&idx); err != nil {
				t.Fatalf("encode: %v", err)
			}
			if idx != tc.want {
				t.Fatalf("size=%d want %d", idx, tc.want)
			}
		})
	}
	if got := PacketSize(DeviceList, 3); got != 2+4+3*91+4 {
		t.Fatalf("PacketSize(DeviceList,3)=%d", got)
	}
	if got := PacketSize(ConnectionStatus, 0); got != 101 {
		t.Fatalf("PacketSize(ConnectionStatus)=%d", got)
	}
	if got := PacketSize(PacketType(0x55), 0); got != 0 {
		t.Fatalf("PacketSize(unknown)=%d", got)
	}
}

func TestFixedString(t *testing.T) {
	cases := []struct {
		in   string
		size int
		want string
	}{
		{"abc", 8, "abc"},
		{"", 4, ""},
		{"exactly8", 8, "exactly8"},
		{"truncated-name", 9, "truncated"},
		{"café", 8, "caf??"},
	}
	for _, tc := range cases {
		dst := bytes.Repeat([]byte{0xAA}, tc.size)
		EncodeFixedString(tc.in, dst)
		if got := DecodeFixedString(dst); got != tc.want {
			t.Fatalf("%q: got %q want %q", tc.in, got, tc.want)
		}
		for i := len(tc.want); i < tc.size; i++ {
			if dst[i] != 0 {
				t.Fatalf("%q: byte %d not zero padded: % X", tc.in, i, dst)
			}
		}
	}
}

func TestDeviceInfoBoundaries(t *testing.T) {
	long := "0123456789012345678901234567890123456789"
	in := wearable.Device{
		UID:             wearable.EmptyUID,
		Name:            long,
		FirmwareVersion: long,
		RSSI:            -2147483648,
		ProductID:       0xFFFF,
		VariantID:       0xFF,
	}
	buf := make([]byte, DeviceInfoSize)
	idx := 0
	if err := EncodeDeviceInfo(buf, &idx, in); err != nil {
		t.Fatalf("encode: %v", err)
	}
	idx = 0
	out, err := DecodeDeviceInfo(buf, &idx)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Name != long[:NameLength] || out.FirmwareVersion != long[:FirmwareVersionLength] {
		t.Fatalf("strings not truncated: %q %q", out.Name, out.FirmwareVersion)
	}
	if out.RSSI != in.RSSI || out.ProductID != in.ProductID || out.VariantID != in.VariantID {
		t.Fatalf("numeric mismatch: %+v", out)
	}
}

func TestEncodeInsufficientSpaceLeavesBuffer(t *testing.T) {
	buf := bytes.Repeat([]byte{0xEE}, SensorFrameSize+HeaderSize+FooterSize-1)
	idx := 0
	if err := EncodeSensorFrame(buf, &idx, sampleFrame()); !errors.Is(err, ErrInsufficientSpace) {
		t.Fatalf("want ErrInsufficientSpace, got %v", err)
	}
	if idx != 0 {
		t.Fatalf("cursor moved to %d", idx)
	}
	for i, b := range buf {
		if b != 0xEE {
			t.Fatalf("byte %d overwritten", i)
		}
	}
	idx = 3
	if err := EncodeKeepAlive(buf[:8], &idx); !errors.Is(err, ErrInsufficientSpace) || idx != 3 {
		t.Fatalf("keep-alive at tail: err=%v idx=%d", err, idx)
	}
}

func TestDecodeRecordInsufficientBytes(t *testing.T) {
	buf := make([]byte, 128)
	idx := 0
	if err := EncodeSensorFrameRecord(buf, &idx, sampleFrame()); err != nil {
		t.Fatal(err)
	}
	for n := 0; n < SensorFrameSize; n++ {
		i := 0
		if _, err := DecodeSensorFrameRecord(buf[:n], &i); !errors.Is(err, ErrInsufficientBytes) || i != 0 {
			t.Fatalf("n=%d err=%v idx=%d", n, err, i)
		}
	}
	i := 0
	if _, err := DecodeHeader(buf[:1], &i); !errors.Is(err, ErrInsufficientBytes) || i != 0 {
		t.Fatalf("header: err=%v idx=%d", err, i)
	}
}

func TestPacketTypeCatalog(t *testing.T) {
	for _, tc := range []struct {
		t   PacketType
		dir Direction
	}{
		{KeepAlive, Bidirectional},
		{PingResponse, Bidirectional},
		{SensorFrame, DeviceToClient},
		{RotationSourceValue, DeviceToClient},
		{SensorControl, ClientToDevice},
		{SetRotationSource, ClientToDevice},
		{PacketType(0x03), DirectionUnknown},
		{PacketType(0x7e), DirectionUnknown},
	} {
		if got := tc.t.Direction(); got != tc.dir {
			t.Fatalf("%v: direction %v want %v", tc.t, got, tc.dir)
		}
	}
	if !KeepAlive.LegalFor(DeviceToClient) || !KeepAlive.LegalFor(ClientToDevice) {
		t.Fatalf("keep-alive must be legal both ways")
	}
	if SensorFrame.LegalFor(ClientToDevice) || SensorControl.LegalFor(DeviceToClient) {
		t.Fatalf("direction partition violated")
	}
	if PacketType(0x55).String() != "packet(0x55)" {
		t.Fatalf("unexpected name %q", PacketType(0x55).String())
	}
}
