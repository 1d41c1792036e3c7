package transport

import (
	"io"
	"time"

	"github.com/kstaniek/go-wearable-proxy/internal/metrics"
)

// Link is a byte stream carrying the proxy protocol (TCP connection or
// serial port).
type Link interface {
	io.Reader
	io.Writer
	io.Closer
}

type writeDeadliner interface {
	SetWriteDeadline(time.Time) error
}

// WriteAll writes p to w, bounding the write by timeout when w supports
// write deadlines. A short write without an error is reported as
// io.ErrShortWrite.
func WriteAll(w io.Writer, p []byte, timeout time.Duration) error {
	if len(p) == 0 {
		return nil
	}
	if d, ok := w.(writeDeadliner); ok && timeout > 0 {
		_ = d.SetWriteDeadline(time.Now().Add(timeout))
	}
	total := 0
	for total < len(p) {
		n, err := w.Write(p[total:])
		total += n
		if err != nil {
			metrics.AddBytesTx(total)
			return err
		}
		if n == 0 {
			metrics.AddBytesTx(total)
			return io.ErrShortWrite
		}
	}
	metrics.AddBytesTx(total)
	return nil
}
