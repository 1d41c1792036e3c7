package client

import (
	"errors"

	"github.com/kstaniek/go-wearable-proxy/internal/metrics"
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrDial         = errors.New("dial")
	ErrConnRead     = errors.New("conn_read")
	ErrConnWrite    = errors.New("conn_write")
)

func mapErrToMetric(err error) string {
	switch {
	case errors.Is(err, ErrDial):
		return metrics.ErrDial
	case errors.Is(err, ErrConnRead):
		return metrics.ErrTCPRead
	case errors.Is(err, ErrConnWrite):
		return metrics.ErrTCPWrite
	default:
		return "other"
	}
}
