//go:build linux

package transport

import (
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// TuneTCP applies the portable socket options and, on linux, bounds how long
// written data may stay unacknowledged before the kernel fails the
// connection.
func TuneTCP(c net.Conn, userTimeout time.Duration) error {
	tcp, ok := c.(*net.TCPConn)
	if !ok {
		return nil
	}
	tunePortable(tcp)
	if userTimeout <= 0 {
		return nil
	}
	raw, err := tcp.SyscallConn()
	if err != nil {
		return err
	}
	var serr error
	if err := raw.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_USER_TIMEOUT, int(userTimeout.Milliseconds()))
	}); err != nil {
		return err
	}
	return serr
}
