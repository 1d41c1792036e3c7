package transport

import (
	"errors"
	"log/slog"

	"github.com/kstaniek/go-wearable-proxy/internal/logging"
	"github.com/kstaniek/go-wearable-proxy/internal/metrics"
	"github.com/kstaniek/go-wearable-proxy/internal/proxy"
)

// Reassembler turns an arbitrarily chunked byte stream into whole packets.
//
// Bytes are appended to a fixed-capacity buffer and the decoder runs after
// every append. A trailing partial packet is moved to the front and kept
// until more bytes arrive. A protocol violation discards the whole buffer
// and is logged once until the next good packet. A buffer that fills up
// without yielding a packet is dropped.
//
// Not safe for concurrent use; the owning session's tick goroutine drives it.
type Reassembler struct {
	buf    []byte
	n      int
	dec    proxy.Decoder
	warned bool
	logger *slog.Logger

	packets   uint64
	discarded uint64
}

// NewReassembler returns a reassembler with a buffer of size bytes feeding dec.
func NewReassembler(size int, dec proxy.Decoder, logger *slog.Logger) *Reassembler {
	if size <= 0 {
		size = proxy.DeviceToClientBufferSize
	}
	if logger == nil {
		logger = logging.L()
	}
	return &Reassembler{buf: make([]byte, size), dec: dec, logger: logger}
}

// Write consumes all of p, dispatching every packet completed by it.
// It never fails; the error return satisfies io.Writer.
func (r *Reassembler) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		if r.n == len(r.buf) {
			r.logger.Warn("receive_buffer_full", "size", len(r.buf))
			metrics.IncBufferOverflow()
			r.discarded++
			r.n = 0
		}
		c := copy(r.buf[r.n:], p)
		r.n += c
		p = p[c:]
		r.process()
	}
	return total, nil
}

func (r *Reassembler) process() {
	idx := 0
	for idx < r.n {
		start := idx
		t, err := r.dec.Decode(r.buf[:r.n], &idx)
		if err == nil {
			r.warned = false
			r.packets++
			metrics.IncPacketRx(t.String())
			continue
		}
		if errors.Is(err, proxy.ErrInsufficientBytes) {
			r.n = copy(r.buf, r.buf[start:r.n])
			return
		}
		kind := metrics.KindCorrupt
		var pe *proxy.ProtocolError
		if errors.As(err, &pe) {
			kind = pe.Kind.String()
		}
		if !r.warned {
			r.warned = true
			r.logger.Warn("protocol_error", "kind", kind, "type", t.String(), "error", err, "discarded", r.n)
		}
		metrics.IncProtocolError(kind)
		r.discarded++
		r.n = 0
		return
	}
	r.n = 0
}

// Buffered reports how many bytes of an incomplete packet are held.
func (r *Reassembler) Buffered() int { return r.n }

// Packets reports how many packets were decoded so far.
func (r *Reassembler) Packets() uint64 { return r.packets }

// Discarded reports how many times the buffer was dropped.
func (r *Reassembler) Discarded() uint64 { return r.discarded }

// Reset drops any buffered bytes and re-arms the protocol warning.
func (r *Reassembler) Reset() {
	r.n = 0
	r.warned = false
}
