package proxy

import (
	"encoding/binary"
	"math"

	"github.com/kstaniek/go-wearable-proxy/internal/wearable"
)

// All multi-byte fields are little-endian.
var le = binary.LittleEndian

// Header starts every packet.
type Header struct {
	Type    PacketType
	Version byte
}

// EncodeFixedString writes s into dst as ASCII, truncating to len(dst) and
// zero-padding the rest. Non-ASCII bytes are replaced by '?'.
func EncodeFixedString(s string, dst []byte) {
	n := 0
	for i := 0; i < len(s) && n < len(dst); i++ {
		c := s[i]
		if c >= 0x80 {
			c = '?'
		}
		dst[n] = c
		n++
	}
	clear(dst[n:])
}

// DecodeFixedString returns b with trailing NUL bytes removed.
func DecodeFixedString(b []byte) string {
	end := len(b)
	for end > 0 && b[end-1] == 0 {
		end--
	}
	return string(b[:end])
}

// encoder writes fields into a buffer whose room was checked up front.
type encoder struct {
	b   []byte
	off int
}

// beginPacket reserves a whole packet of the given payload size at *idx and
// writes its header. Nothing is written when the packet does not fit.
func beginPacket(buf []byte, idx *int, t PacketType, payload int) (encoder, error) {
	need := HeaderSize + payload + FooterSize
	if *idx < 0 || len(buf)-*idx < need {
		return encoder{}, ErrInsufficientSpace
	}
	e := encoder{b: buf, off: *idx}
	e.u8(byte(t))
	e.u8(ProtocolVersion)
	return e, nil
}

// finish writes the footer and publishes the new cursor.
func (e *encoder) finish(idx *int) {
	e.i32(Terminator)
	*idx = e.off
}

func (e *encoder) u8(v byte) { e.b[e.off] = v; e.off++ }

func (e *encoder) flag(v bool) {
	if v {
		e.u8(1)
		return
	}
	e.u8(0)
}

func (e *encoder) u16(v uint16) { le.PutUint16(e.b[e.off:], v); e.off += 2 }

func (e *encoder) i32(v int32) { le.PutUint32(e.b[e.off:], uint32(v)); e.off += 4 }

func (e *encoder) f32(v float32) { le.PutUint32(e.b[e.off:], math.Float32bits(v)); e.off += 4 }

func (e *encoder) str(s string, n int) {
	EncodeFixedString(s, e.b[e.off:e.off+n])
	e.off += n
}

func (e *encoder) deviceInfo(d wearable.Device) {
	e.str(d.UID, UIDLength)
	e.str(d.Name, NameLength)
	e.str(d.FirmwareVersion, FirmwareVersionLength)
	e.i32(d.RSSI)
	e.u16(uint16(d.ProductID))
	e.u8(byte(d.VariantID))
}

func (e *encoder) vector3(v wearable.SensorVector3) {
	e.f32(v.Value.X)
	e.f32(v.Value.Y)
	e.f32(v.Value.Z)
	e.i32(int32(v.Accuracy))
}

func (e *encoder) sensorFrame(f wearable.SensorFrame) {
	e.f32(f.Timestamp)
	e.f32(f.DeltaTime)
	e.vector3(f.Acceleration)
	e.vector3(f.AngularVelocity)
	q := f.Rotation.Value
	e.f32(q.X)
	e.f32(q.Y)
	e.f32(q.Z)
	e.f32(q.W)
	e.f32(f.Rotation.MeasurementUncertainty)
	e.i32(int32(f.Gesture))
}

// decoder reads fields from buf[off:]. Every record reader checks its full
// size before consuming anything, so a failed read leaves off untouched.
type decoder struct {
	b   []byte
	off int
}

func (d *decoder) need(n int) error {
	if d.off < 0 || n < 0 || len(d.b)-d.off < n {
		return ErrInsufficientBytes
	}
	return nil
}

func (d *decoder) u8() byte { v := d.b[d.off]; d.off++; return v }

func (d *decoder) u16() uint16 { v := le.Uint16(d.b[d.off:]); d.off += 2; return v }

func (d *decoder) i32() int32 { v := int32(le.Uint32(d.b[d.off:])); d.off += 4; return v }

func (d *decoder) f32() float32 { v := math.Float32frombits(le.Uint32(d.b[d.off:])); d.off += 4; return v }

func (d *decoder) str(n int) string {
	s := DecodeFixedString(d.b[d.off : d.off+n])
	d.off += n
	return s
}

func (d *decoder) header() (Header, error) {
	if err := d.need(HeaderSize); err != nil {
		return Header{}, err
	}
	return Header{Type: PacketType(d.u8()), Version: d.u8()}, nil
}

func (d *decoder) footer(t PacketType) error {
	if err := d.need(FooterSize); err != nil {
		return err
	}
	if term := d.i32(); term != Terminator {
		return corrupt(t, "bad terminator")
	}
	return nil
}

func (d *decoder) int32Record() (int32, error) {
	if err := d.need(4); err != nil {
		return 0, err
	}
	return d.i32(), nil
}

// idFlag reads the shared {int32 id, u8 enabled} status/control payload.
func (d *decoder) idFlag() (int32, bool, error) {
	if err := d.need(SensorStatusSize); err != nil {
		return 0, false, err
	}
	id := d.i32()
	return id, d.u8() != 0, nil
}

func (d *decoder) uid() (string, error) {
	if err := d.need(DeviceConnectSize); err != nil {
		return "", err
	}
	return d.str(UIDLength), nil
}

func (d *decoder) deviceInfo() (wearable.Device, error) {
	if err := d.need(DeviceInfoSize); err != nil {
		return wearable.Device{}, err
	}
	var dev wearable.Device
	dev.UID = d.str(UIDLength)
	dev.Name = d.str(NameLength)
	dev.FirmwareVersion = d.str(FirmwareVersionLength)
	dev.RSSI = d.i32()
	dev.ProductID = wearable.ProductID(d.u16())
	dev.VariantID = wearable.VariantID(d.u8())
	return dev, nil
}

func (d *decoder) vector3() wearable.SensorVector3 {
	var v wearable.SensorVector3
	v.Value.X = d.f32()
	v.Value.Y = d.f32()
	v.Value.Z = d.f32()
	v.Accuracy = wearable.Accuracy(d.i32())
	return v
}

func (d *decoder) sensorFrame() (wearable.SensorFrame, error) {
	if err := d.need(SensorFrameSize); err != nil {
		return wearable.SensorFrame{}, err
	}
	var f wearable.SensorFrame
	f.Timestamp = d.f32()
	f.DeltaTime = d.f32()
	f.Acceleration = d.vector3()
	f.AngularVelocity = d.vector3()
	f.Rotation.Value.X = d.f32()
	f.Rotation.Value.Y = d.f32()
	f.Rotation.Value.Z = d.f32()
	f.Rotation.Value.W = d.f32()
	f.Rotation.MeasurementUncertainty = d.f32()
	f.Gesture = wearable.GestureID(d.i32())
	return f, nil
}

func (d *decoder) deviceList() ([]wearable.Device, error) {
	if err := d.need(DeviceListHeaderSize); err != nil {
		return nil, err
	}
	start := d.off
	count := d.i32()
	if count < 0 {
		d.off = start
		return nil, corrupt(DeviceList, "negative device count")
	}
	if int64(len(d.b)-d.off) < int64(count)*DeviceInfoSize {
		d.off = start
		return nil, ErrInsufficientBytes
	}
	devices := make([]wearable.Device, 0, count)
	for i := int32(0); i < count; i++ {
		dev, err := d.deviceInfo()
		if err != nil {
			d.off = start
			return nil, err
		}
		devices = append(devices, dev)
	}
	return devices, nil
}

// EncodeHeader writes a bare header at *idx.
func EncodeHeader(buf []byte, idx *int, h Header) error {
	if *idx < 0 || len(buf)-*idx < HeaderSize {
		return ErrInsufficientSpace
	}
	buf[*idx] = byte(h.Type)
	buf[*idx+1] = h.Version
	*idx += HeaderSize
	return nil
}

// DecodeHeader reads a bare header at *idx without validating it.
func DecodeHeader(buf []byte, idx *int) (Header, error) {
	d := decoder{b: buf, off: *idx}
	h, err := d.header()
	if err != nil {
		return Header{}, err
	}
	*idx = d.off
	return h, nil
}

// DecodeDeviceInfo reads one DeviceInfo record at *idx.
func DecodeDeviceInfo(buf []byte, idx *int) (wearable.Device, error) {
	d := decoder{b: buf, off: *idx}
	dev, err := d.deviceInfo()
	if err != nil {
		return wearable.Device{}, err
	}
	*idx = d.off
	return dev, nil
}

// EncodeDeviceInfo writes one DeviceInfo record at *idx.
func EncodeDeviceInfo(buf []byte, idx *int, dev wearable.Device) error {
	if *idx < 0 || len(buf)-*idx < DeviceInfoSize {
		return ErrInsufficientSpace
	}
	e := encoder{b: buf, off: *idx}
	e.deviceInfo(dev)
	*idx = e.off
	return nil
}

// DecodeSensorFrameRecord reads one 64-byte SensorFrame record at *idx.
func DecodeSensorFrameRecord(buf []byte, idx *int) (wearable.SensorFrame, error) {
	d := decoder{b: buf, off: *idx}
	f, err := d.sensorFrame()
	if err != nil {
		return wearable.SensorFrame{}, err
	}
	*idx = d.off
	return f, nil
}

// EncodeSensorFrameRecord writes one 64-byte SensorFrame record at *idx.
func EncodeSensorFrameRecord(buf []byte, idx *int, f wearable.SensorFrame) error {
	if *idx < 0 || len(buf)-*idx < SensorFrameSize {
		return ErrInsufficientSpace
	}
	e := encoder{b: buf, off: *idx}
	e.sensorFrame(f)
	*idx = e.off
	return nil
}
