package server

import (
	"github.com/kstaniek/go-wearable-proxy/internal/metrics"
	"github.com/kstaniek/go-wearable-proxy/internal/proxy"
	"github.com/kstaniek/go-wearable-proxy/internal/wearable"
)

// handlers applies client commands to the provider and answers queries.
// Everything runs on the tick goroutine while the reassembler drains.
func (s *Server) handlers() proxy.ServerHandlers {
	return proxy.ServerHandlers{
		PingQuery: func() {
			s.command()
			s.queue(proxy.EncodePingResponse)
		},
		SensorControl: func(id wearable.SensorID, on bool) {
			s.command()
			if !id.Valid() {
				s.warn("unknown_sensor", "sensor", int32(id))
				return
			}
			if on {
				s.prov.StartSensor(id)
			} else {
				s.prov.StopSensor(id)
			}
			s.sendSensorStatus(id)
		},
		GestureControl: func(id wearable.GestureID, on bool) {
			s.command()
			if !id.Valid() || id == wearable.GestureNone {
				s.warn("unknown_gesture", "gesture", int32(id))
				return
			}
			if on {
				s.prov.EnableGesture(id)
			} else {
				s.prov.DisableGesture(id)
			}
			s.sendGestureStatus(id)
		},
		SetRSSIFilter: func(v int32) {
			s.command()
			s.prov.SetRSSIFilter(wearable.ClampRSSI(v))
		},
		InitiateDeviceSearch: func() {
			s.command()
			s.prov.SearchForDevices(func(devs []wearable.Device) {
				list := append([]wearable.Device(nil), devs...)
				s.enqueue(func() {
					s.queue(func(b []byte, i *int) error { return proxy.EncodeDeviceList(b, i, list) })
				})
			})
		},
		StopDeviceSearch: func() {
			s.command()
			s.prov.StopSearchingForDevices()
		},
		ConnectToDevice: func(uid string) {
			s.command()
			s.prov.ConnectToDevice(wearable.Device{UID: uid}, nil, func() {
				s.enqueue(func() {
					s.logger.Warn("device_connect_failed", "uid", uid)
					for _, sink := range s.sinks {
						sink.ConnectionStatus(wearable.Failed, wearable.EmptyDevice())
					}
					s.sendStatus(wearable.Failed, wearable.EmptyDevice())
				})
			})
		},
		DisconnectFromDevice: func() {
			s.command()
			if _, ok := s.prov.ConnectedDevice(); ok {
				s.prov.DisconnectFromDevice()
			}
		},
		QueryConnectionStatus: func() { s.query(); s.sendConnectionState() },
		QueryUpdateInterval:   func() { s.query(); s.sendUpdateInterval() },
		SetUpdateInterval: func(u wearable.UpdateInterval) {
			s.command()
			if !u.Valid() {
				s.warn("unknown_update_interval", "value", int32(u))
				return
			}
			s.prov.SetUpdateInterval(u)
			s.sendUpdateInterval()
		},
		QuerySensorStatus:   func() { s.query(); s.sendSensorStatuses() },
		QueryGestureStatus:  func() { s.query(); s.sendGestureStatuses() },
		QueryRotationSource: func() { s.query(); s.sendRotationSource() },
		SetRotationSource: func(r wearable.RotationSource) {
			s.command()
			if !r.Valid() {
				s.warn("unknown_rotation_source", "value", int32(r))
				return
			}
			s.prov.SetRotationSource(r)
			s.sendRotationSource()
		},
	}
}

func (s *Server) command() { s.totalCommands.Add(1) }

func (s *Server) query() {
	s.totalCommands.Add(1)
	metrics.IncStateQuery()
}

func (s *Server) warn(msg string, args ...any) {
	if s.sess != nil {
		s.sess.logger.Warn(msg, args...)
		return
	}
	s.logger.Warn(msg, args...)
}
