package transport

import (
	"errors"
	"io"
	"time"

	"github.com/tarm/serial"
)

// openPort is a hook for tests.
var openPort = func(cfg *serial.Config) (io.ReadWriteCloser, error) {
	return serial.OpenPort(cfg)
}

// SerialLink carries the protocol over a serial port. A read timeout with no
// data is reported as an empty read, not as end of stream.
type SerialLink struct {
	name string
	port io.ReadWriteCloser
}

// OpenSerial opens name at baud. readTimeout bounds each Read so a reader
// can notice Close.
func OpenSerial(name string, baud int, readTimeout time.Duration) (*SerialLink, error) {
	cfg := &serial.Config{Name: name, Baud: baud, ReadTimeout: readTimeout}
	p, err := openPort(cfg)
	if err != nil {
		return nil, err
	}
	return &SerialLink{name: name, port: p}, nil
}

func (s *SerialLink) Read(p []byte) (int, error) {
	n, err := s.port.Read(p)
	if n == 0 && (errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)) {
		return 0, nil
	}
	return n, err
}

func (s *SerialLink) Write(p []byte) (int, error) { return s.port.Write(p) }

func (s *SerialLink) Close() error { return s.port.Close() }

// String returns the device name.
func (s *SerialLink) String() string { return s.name }

var _ Link = (*SerialLink)(nil)
