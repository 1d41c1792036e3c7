package proxy

import "github.com/kstaniek/go-wearable-proxy/internal/wearable"

// Encoders append exactly one packet at *idx and advance it past the footer.
// On ErrInsufficientSpace neither the buffer nor *idx is touched.

func encodeEmpty(buf []byte, idx *int, t PacketType) error {
	e, err := beginPacket(buf, idx, t, 0)
	if err != nil {
		return err
	}
	e.finish(idx)
	return nil
}

func encodeInt32(buf []byte, idx *int, t PacketType, v int32) error {
	e, err := beginPacket(buf, idx, t, 4)
	if err != nil {
		return err
	}
	e.i32(v)
	e.finish(idx)
	return nil
}

func encodeIDFlag(buf []byte, idx *int, t PacketType, id int32, enabled bool) error {
	e, err := beginPacket(buf, idx, t, SensorStatusSize)
	if err != nil {
		return err
	}
	e.i32(id)
	e.flag(enabled)
	e.finish(idx)
	return nil
}

// Bidirectional.

func EncodeKeepAlive(buf []byte, idx *int) error    { return encodeEmpty(buf, idx, KeepAlive) }
func EncodePingQuery(buf []byte, idx *int) error    { return encodeEmpty(buf, idx, PingQuery) }
func EncodePingResponse(buf []byte, idx *int) error { return encodeEmpty(buf, idx, PingResponse) }

// Device to client.

func EncodeSensorFrame(buf []byte, idx *int, f wearable.SensorFrame) error {
	e, err := beginPacket(buf, idx, SensorFrame, SensorFrameSize)
	if err != nil {
		return err
	}
	e.sensorFrame(f)
	e.finish(idx)
	return nil
}

// EncodeDeviceList writes an int32 count followed by one DeviceInfo per device.
func EncodeDeviceList(buf []byte, idx *int, devices []wearable.Device) error {
	e, err := beginPacket(buf, idx, DeviceList, DeviceListHeaderSize+len(devices)*DeviceInfoSize)
	if err != nil {
		return err
	}
	e.i32(int32(len(devices)))
	for _, d := range devices {
		e.deviceInfo(d)
	}
	e.finish(idx)
	return nil
}

// EncodeConnectionStatus writes the state and the device it refers to. For
// Failed the device carries no meaning; callers pass wearable.EmptyDevice().
func EncodeConnectionStatus(buf []byte, idx *int, state wearable.ConnectionState, d wearable.Device) error {
	e, err := beginPacket(buf, idx, ConnectionStatus, ConnectionStatusSize)
	if err != nil {
		return err
	}
	e.i32(int32(state))
	e.deviceInfo(d)
	e.finish(idx)
	return nil
}

func EncodeSensorStatus(buf []byte, idx *int, id wearable.SensorID, enabled bool) error {
	return encodeIDFlag(buf, idx, SensorStatus, int32(id), enabled)
}

func EncodeUpdateIntervalValue(buf []byte, idx *int, u wearable.UpdateInterval) error {
	return encodeInt32(buf, idx, UpdateIntervalValue, int32(u))
}

func EncodeGestureStatus(buf []byte, idx *int, id wearable.GestureID, enabled bool) error {
	return encodeIDFlag(buf, idx, GestureStatus, int32(id), enabled)
}

func EncodeRotationSourceValue(buf []byte, idx *int, r wearable.RotationSource) error {
	return encodeInt32(buf, idx, RotationSourceValue, int32(r))
}

// Client to device.

func EncodeSensorControl(buf []byte, idx *int, id wearable.SensorID, enabled bool) error {
	return encodeIDFlag(buf, idx, SensorControl, int32(id), enabled)
}

func EncodeRSSIFilter(buf []byte, idx *int, threshold int32) error {
	return encodeInt32(buf, idx, SetRSSIFilter, threshold)
}

func EncodeInitiateDeviceSearch(buf []byte, idx *int) error {
	return encodeEmpty(buf, idx, InitiateDeviceSearch)
}

func EncodeStopDeviceSearch(buf []byte, idx *int) error {
	return encodeEmpty(buf, idx, StopDeviceSearch)
}

// EncodeConnectToDevice writes the 36-byte UID of the device to attach.
func EncodeConnectToDevice(buf []byte, idx *int, uid string) error {
	e, err := beginPacket(buf, idx, ConnectToDevice, DeviceConnectSize)
	if err != nil {
		return err
	}
	e.str(uid, UIDLength)
	e.finish(idx)
	return nil
}

func EncodeDisconnectFromDevice(buf []byte, idx *int) error {
	return encodeEmpty(buf, idx, DisconnectFromDevice)
}

func EncodeQueryConnectionStatus(buf []byte, idx *int) error {
	return encodeEmpty(buf, idx, QueryConnectionStatus)
}

func EncodeQueryUpdateInterval(buf []byte, idx *int) error {
	return encodeEmpty(buf, idx, QueryUpdateInterval)
}

func EncodeSetUpdateInterval(buf []byte, idx *int, u wearable.UpdateInterval) error {
	return encodeInt32(buf, idx, SetUpdateInterval, int32(u))
}

func EncodeQuerySensorStatus(buf []byte, idx *int) error {
	return encodeEmpty(buf, idx, QuerySensorStatus)
}

func EncodeGestureControl(buf []byte, idx *int, id wearable.GestureID, enabled bool) error {
	return encodeIDFlag(buf, idx, GestureControl, int32(id), enabled)
}

func EncodeQueryGestureStatus(buf []byte, idx *int) error {
	return encodeEmpty(buf, idx, QueryGestureStatus)
}

func EncodeQueryRotationSource(buf []byte, idx *int) error {
	return encodeEmpty(buf, idx, QueryRotationSource)
}

func EncodeSetRotationSource(buf []byte, idx *int, r wearable.RotationSource) error {
	return encodeInt32(buf, idx, SetRotationSource, int32(r))
}
