package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-wearable-proxy/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"packets_rx", snap.PacketsRx,
					"bytes_rx", snap.BytesRx,
					"bytes_tx", snap.BytesTx,
					"sensor_frames_tx", snap.SensorFramesTx,
					"protocol_errors", snap.ProtocolErrors,
					"malformed", snap.Malformed,
					"buffer_overflows", snap.BufferOverflows,
					"clients_accepted", snap.ClientsAccepted,
					"clients_rejected", snap.ClientsRejected,
					"active_clients", snap.ActiveClients,
					"sink_drops", snap.SinkDrops,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
