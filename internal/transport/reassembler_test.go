package transport

import (
	"bytes"
	"io"
	"log/slog"
	"testing"

	"github.com/kstaniek/go-wearable-proxy/internal/proxy"
	"github.com/kstaniek/go-wearable-proxy/internal/wearable"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type clientCounter struct {
	types  []proxy.PacketType
	frames []wearable.SensorFrame
}

func (c *clientCounter) decoder() *proxy.ClientDecoder {
	return proxy.NewClientDecoder(proxy.ClientHandlers{
		KeepAlive:   func() { c.types = append(c.types, proxy.KeepAlive) },
		SensorFrame: func(f wearable.SensorFrame) { c.types = append(c.types, proxy.SensorFrame); c.frames = append(c.frames, f) },
		DeviceList:  func([]wearable.Device) { c.types = append(c.types, proxy.DeviceList) },
		ConnectionStatus: func(wearable.ConnectionState, wearable.Device) {
			c.types = append(c.types, proxy.ConnectionStatus)
		},
		SensorStatus: func(wearable.SensorID, bool) { c.types = append(c.types, proxy.SensorStatus) },
	})
}

// deviceStream encodes a mixed device-to-client packet sequence.
func deviceStream(t testing.TB) ([]byte, []proxy.PacketType) {
	buf := make([]byte, 2048)
	idx := 0
	devs := []wearable.Device{
		{UID: wearable.EmptyUID, Name: "one", RSSI: -40},
		{UID: wearable.EmptyUID, Name: "two", RSSI: -50, ProductID: wearable.ProductBoseFrames},
	}
	var types []proxy.PacketType
	add := func(pt proxy.PacketType, err error) {
		if err != nil {
			t.Fatalf("encode %v: %v", pt, err)
		}
		types = append(types, pt)
	}
	add(proxy.KeepAlive, proxy.EncodeKeepAlive(buf, &idx))
	for i := 0; i < 3; i++ {
		add(proxy.SensorFrame, proxy.EncodeSensorFrame(buf, &idx, wearable.SensorFrame{Timestamp: float32(i), Gesture: wearable.GestureNone}))
	}
	add(proxy.DeviceList, proxy.EncodeDeviceList(buf, &idx, devs))
	add(proxy.ConnectionStatus, proxy.EncodeConnectionStatus(buf, &idx, wearable.Connected, devs[0]))
	add(proxy.SensorStatus, proxy.EncodeSensorStatus(buf, &idx, wearable.Rotation, true))
	return buf[:idx], types
}

func TestReassembler_EverySplitSize(t *testing.T) {
	stream, want := deviceStream(t)
	for split := 1; split <= len(stream); split++ {
		var c clientCounter
		r := NewReassembler(proxy.DeviceToClientBufferSize, c.decoder(), quietLogger())
		for off := 0; off < len(stream); off += split {
			end := off + split
			if end > len(stream) {
				end = len(stream)
			}
			if _, err := r.Write(stream[off:end]); err != nil {
				t.Fatalf("split=%d write: %v", split, err)
			}
		}
		if len(c.types) != len(want) {
			t.Fatalf("split=%d: got %d packets want %d", split, len(c.types), len(want))
		}
		for i := range want {
			if c.types[i] != want[i] {
				t.Fatalf("split=%d packet %d: %v want %v", split, i, c.types[i], want[i])
			}
		}
		for i, f := range c.frames {
			if f.Timestamp != float32(i) {
				t.Fatalf("split=%d frame %d out of order", split, i)
			}
		}
		if r.Buffered() != 0 {
			t.Fatalf("split=%d: %d bytes left buffered", split, r.Buffered())
		}
	}
}

func TestReassembler_ManyPacketsInOneWrite(t *testing.T) {
	buf := make([]byte, 64*proxy.PacketSize(proxy.SensorFrame, 0))
	idx := 0
	for i := 0; i < 64; i++ {
		if err := proxy.EncodeSensorFrame(buf, &idx, wearable.SensorFrame{Timestamp: float32(i)}); err != nil {
			t.Fatal(err)
		}
	}
	var c clientCounter
	r := NewReassembler(proxy.DeviceToClientBufferSize, c.decoder(), quietLogger())
	_, _ = r.Write(buf[:idx])
	if len(c.frames) != 64 || r.Packets() != 64 {
		t.Fatalf("frames=%d packets=%d", len(c.frames), r.Packets())
	}
}

func TestReassembler_CorruptionRecovery(t *testing.T) {
	var c clientCounter
	r := NewReassembler(proxy.DeviceToClientBufferSize, c.decoder(), quietLogger())

	// Garbage is discarded together with anything else in the same buffer.
	_, _ = r.Write([]byte{0xDE, 0xAD, 0xBE, 0xEF, 0x00, 0x01})
	if r.Buffered() != 0 || r.Discarded() != 1 {
		t.Fatalf("buffered=%d discarded=%d", r.Buffered(), r.Discarded())
	}

	stream, want := deviceStream(t)
	_, _ = r.Write(stream)
	if len(c.types) != len(want) {
		t.Fatalf("after recovery got %d packets want %d", len(c.types), len(want))
	}
}

func TestReassembler_CorruptTerminatorMidStream(t *testing.T) {
	var c clientCounter
	r := NewReassembler(proxy.DeviceToClientBufferSize, c.decoder(), quietLogger())

	buf := make([]byte, 256)
	idx := 0
	if err := proxy.EncodeKeepAlive(buf, &idx); err != nil {
		t.Fatal(err)
	}
	if err := proxy.EncodeSensorFrame(buf, &idx, wearable.SensorFrame{Timestamp: 1}); err != nil {
		t.Fatal(err)
	}
	buf[idx-1] ^= 0xFF
	if err := proxy.EncodeKeepAlive(buf, &idx); err != nil {
		t.Fatal(err)
	}
	_, _ = r.Write(buf[:idx])
	if r.Discarded() != 1 || r.Buffered() != 0 {
		t.Fatalf("discarded=%d buffered=%d", r.Discarded(), r.Buffered())
	}
	if len(c.types) != 1 || c.types[0] != proxy.KeepAlive || len(c.frames) != 0 {
		t.Fatalf("decoded %v frames=%d", c.types, len(c.frames))
	}

	next := make([]byte, 128)
	n := 0
	if err := proxy.EncodeSensorFrame(next, &n, wearable.SensorFrame{Timestamp: 2}); err != nil {
		t.Fatal(err)
	}
	_, _ = r.Write(next[:n])
	if len(c.frames) != 1 || c.frames[0].Timestamp != 2 || r.Discarded() != 1 {
		t.Fatalf("frames=%v discarded=%d", c.frames, r.Discarded())
	}
}

func TestReassembler_VersionMismatchDiscards(t *testing.T) {
	var c clientCounter
	r := NewReassembler(proxy.DeviceToClientBufferSize, c.decoder(), quietLogger())
	pkt := make([]byte, 16)
	n := 0
	if err := proxy.EncodeKeepAlive(pkt, &n); err != nil {
		t.Fatal(err)
	}
	bad := append([]byte(nil), pkt[:n]...)
	bad[1] = 0x06
	_, _ = r.Write(append(bad, pkt[:n]...))
	if len(c.types) != 0 {
		t.Fatalf("packet after version mismatch in same buffer must be dropped, got %v", c.types)
	}
	_, _ = r.Write(pkt[:n])
	if len(c.types) != 1 {
		t.Fatalf("good packet after discard not decoded: %v", c.types)
	}
}

func TestReassembler_WarnsOncePerBadRun(t *testing.T) {
	var logBuf bytes.Buffer
	var c clientCounter
	r := NewReassembler(64, c.decoder(), slog.New(slog.NewTextHandler(&logBuf, nil)))
	for i := 0; i < 5; i++ {
		_, _ = r.Write([]byte{0x55, proxy.ProtocolVersion, 0, 0, 0, 0})
	}
	if got := bytes.Count(logBuf.Bytes(), []byte("protocol_error")); got != 1 {
		t.Fatalf("protocol_error logged %d times, want 1", got)
	}
	ka := []byte{0x00, proxy.ProtocolVersion, 0x45, 0x53, 0x4F, 0x42}
	_, _ = r.Write(ka)
	_, _ = r.Write([]byte{0x55, proxy.ProtocolVersion, 0, 0, 0, 0})
	if got := bytes.Count(logBuf.Bytes(), []byte("protocol_error")); got != 2 {
		t.Fatalf("warning not re-armed by good packet: %d", got)
	}
	if r.Discarded() != 6 {
		t.Fatalf("discarded=%d want 6", r.Discarded())
	}
}

func TestReassembler_OverflowDropsAndContinues(t *testing.T) {
	var c clientCounter
	r := NewReassembler(32, c.decoder(), quietLogger())
	// A device list header claiming more devices than fit in the buffer.
	huge := []byte{byte(proxy.DeviceList), proxy.ProtocolVersion, 0x10, 0x00, 0x00, 0x00}
	huge = append(huge, bytes.Repeat([]byte{0x30}, 40)...)
	_, _ = r.Write(huge)
	if r.Discarded() == 0 {
		t.Fatalf("expected overflow discard")
	}
	_, _ = r.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF})
	r.Reset()
	_, _ = r.Write([]byte{0x00, proxy.ProtocolVersion, 0x45, 0x53, 0x4F, 0x42})
	if len(c.types) != 1 || c.types[0] != proxy.KeepAlive {
		t.Fatalf("not recovered after overflow: %v", c.types)
	}
}

func FuzzReassembler(f *testing.F) {
	stream, _ := deviceStream(f)
	f.Add(stream, uint8(7))
	f.Add([]byte{0x02, 0x05, 0xFF, 0xFF, 0xFF, 0x7F}, uint8(1))
	f.Fuzz(func(t *testing.T, data []byte, split uint8) {
		step := int(split)%64 + 1
		r := NewReassembler(256, proxy.NewClientDecoder(proxy.ClientHandlers{}), quietLogger())
		for off := 0; off < len(data); off += step {
			end := off + step
			if end > len(data) {
				end = len(data)
			}
			_, _ = r.Write(data[off:end])
			if r.Buffered() > 256 {
				t.Fatalf("buffered %d exceeds capacity", r.Buffered())
			}
		}
	})
}
