//go:build !linux

package transport

import (
	"net"
	"time"
)

// TuneTCP applies the portable socket options; TCP_USER_TIMEOUT is linux only.
func TuneTCP(c net.Conn, _ time.Duration) error {
	if tcp, ok := c.(*net.TCPConn); ok {
		tunePortable(tcp)
	}
	return nil
}
