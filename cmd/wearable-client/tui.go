package main

import (
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kstaniek/go-wearable-proxy/internal/wearable"
)

const maxGestureLog = 5

type (
	eventMsg wearable.Event
	tickMsg  time.Time
	lostMsg  struct{}
)

type gestureHit struct {
	at time.Time
	g  wearable.GestureID
}

// monitorModel renders the live state of the proxy's device.
type monitorModel struct {
	target string
	state  wearable.ConnectionState
	device wearable.Device

	last     wearable.SensorFrame
	haveLast bool
	frames   uint64
	rate     float64
	window   uint64
	since    time.Time

	gestures []gestureHit
	lost     bool
}

func newMonitorModel(target string, d wearable.Device, connected bool, now time.Time) monitorModel {
	m := monitorModel{target: target, since: now}
	if connected {
		m.state, m.device = wearable.Connected, d
	}
	return m
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m monitorModel) Init() tea.Cmd { return tick() }

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}
	case eventMsg:
		m = m.apply(wearable.Event(msg))
	case tickMsg:
		now := time.Time(msg)
		if dt := now.Sub(m.since).Seconds(); dt > 0 {
			m.rate = float64(m.window) / dt
		}
		m.window, m.since = 0, now
		return m, tick()
	case lostMsg:
		m.lost = true
		return m, tea.Quit
	}
	return m, nil
}

func (m monitorModel) apply(ev wearable.Event) monitorModel {
	switch ev.Kind {
	case wearable.EventConnection:
		m.state = ev.State
		if ev.State == wearable.Disconnected {
			m.device = wearable.Device{}
		} else {
			m.device = ev.Device
		}
	case wearable.EventSensorFrame, wearable.EventGesture:
		m.last, m.haveLast = ev.Frame, true
		m.frames++
		m.window++
		if ev.Kind == wearable.EventGesture {
			m.gestures = append(m.gestures, gestureHit{at: ev.Time, g: ev.Frame.Gesture})
			if len(m.gestures) > maxGestureLog {
				m.gestures = m.gestures[len(m.gestures)-maxGestureLog:]
			}
		}
	}
	return m
}

func (m monitorModel) View() string {
	var b strings.Builder
	fmt.Fprintf(&b, "wearable proxy %s\n\n", m.target)
	fmt.Fprintf(&b, "device   %s", m.state)
	if m.device.UID != "" {
		fmt.Fprintf(&b, "  %s", m.device)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "frames   %d  (%.1f/s)\n\n", m.frames, m.rate)
	if m.haveLast {
		f := m.last
		fmt.Fprintf(&b, "t        %8.3fs  dt %.3fs\n", f.Timestamp, f.DeltaTime)
		fmt.Fprintf(&b, "accel    %s  [%s]\n", vec(f.Acceleration.Value), f.Acceleration.Accuracy)
		fmt.Fprintf(&b, "gyro     %s  [%s]\n", vec(f.AngularVelocity.Value), f.AngularVelocity.Accuracy)
		q := f.Rotation.Value
		fmt.Fprintf(&b, "rotation x=%+.3f y=%+.3f z=%+.3f w=%+.3f  ±%.1f°\n", q.X, q.Y, q.Z, q.W, f.Rotation.MeasurementUncertainty)
		yaw, pitch, roll := euler(q)
		fmt.Fprintf(&b, "         yaw %+7.1f°  pitch %+7.1f°  roll %+7.1f°\n", yaw, pitch, roll)
	} else {
		b.WriteString("no frames yet\n")
	}
	if len(m.gestures) > 0 {
		b.WriteString("\ngestures\n")
		for i := len(m.gestures) - 1; i >= 0; i-- {
			h := m.gestures[i]
			fmt.Fprintf(&b, "  %s  %s\n", h.at.Format("15:04:05.000"), h.g)
		}
	}
	if m.lost {
		b.WriteString("\nproxy closed the connection\n")
	}
	b.WriteString("\nq to quit\n")
	return b.String()
}

func vec(v wearable.Vector3) string {
	return fmt.Sprintf("x=%+8.3f y=%+8.3f z=%+8.3f", v.X, v.Y, v.Z)
}

// euler converts q to yaw, pitch and roll in degrees.
func euler(q wearable.Quaternion) (yaw, pitch, roll float64) {
	x, y, z, w := float64(q.X), float64(q.Y), float64(q.Z), float64(q.W)
	roll = math.Atan2(2*(w*x+y*z), 1-2*(x*x+y*y))
	sp := 2 * (w*y - z*x)
	sp = math.Max(-1, math.Min(1, sp))
	pitch = math.Asin(sp)
	yaw = math.Atan2(2*(w*z+x*y), 1-2*(y*y+z*z))
	const deg = 180 / math.Pi
	return yaw * deg, pitch * deg, roll * deg
}
