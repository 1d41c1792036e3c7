package transport

import (
	"net"
	"time"
)

const keepAlivePeriod = 30 * time.Second

func tunePortable(tcp *net.TCPConn) {
	_ = tcp.SetNoDelay(true)
	_ = tcp.SetKeepAlive(true)
	_ = tcp.SetKeepAlivePeriod(keepAlivePeriod)
}
