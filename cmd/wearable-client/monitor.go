package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/kstaniek/go-wearable-proxy/internal/wearable"
)

// streamOptions select what the device streams while a command runs.
type streamOptions struct {
	uid      string
	sensors  []string
	gestures []string
	wait     time.Duration
}

func (so *streamOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&so.uid, "uid", "", "Connect the proxy to this device first")
	cmd.Flags().StringSliceVar(&so.sensors, "sensor", []string{"rotation"}, "Sensors to start")
	cmd.Flags().StringSliceVar(&so.gestures, "gesture", nil, "Gestures to enable")
	cmd.Flags().DurationVar(&so.wait, "device-wait", 10*time.Second, "How long to wait for --uid to connect")
}

// start attaches the device if asked and switches on the requested streams.
func (so *streamOptions) start(ctx context.Context, s *session) error {
	sensors := make([]wearable.SensorID, 0, len(so.sensors))
	for _, name := range so.sensors {
		id, err := wearable.ParseSensorID(name)
		if err != nil {
			return err
		}
		sensors = append(sensors, id)
	}
	gestures := make([]wearable.GestureID, 0, len(so.gestures))
	for _, name := range so.gestures {
		g, err := wearable.ParseGestureID(name)
		if err != nil {
			return err
		}
		gestures = append(gestures, g)
	}
	if so.uid != "" {
		if !wearable.ValidUID(so.uid) {
			return fmt.Errorf("invalid uid %q", so.uid)
		}
		if _, err := s.connectDevice(ctx, so.uid, so.wait); err != nil {
			return err
		}
	}
	for _, id := range sensors {
		s.c.StartSensor(id)
	}
	for _, g := range gestures {
		s.c.EnableGesture(g)
	}
	return nil
}

func monitorCmd(o *globalOptions) *cobra.Command {
	var so streamOptions
	var plain bool
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Show live sensor frames, gestures and device state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd.Context(), o)
			if err != nil {
				return err
			}
			defer s.Close()
			sub := s.events.Subscribe()
			defer s.events.Remove(sub)
			if err := so.start(cmd.Context(), s); err != nil {
				return err
			}

			ctx := cmd.Context()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}
			if plain {
				return printEvents(ctx, cmd.OutOrStdout(), s, sub.Out, sub.Closed)
			}

			d, connected := s.c.ConnectedDevice()
			p := tea.NewProgram(newMonitorModel(o.target(), d, connected, time.Now()),
				tea.WithContext(ctx),
				tea.WithOutput(cmd.OutOrStdout()),
			)
			go func() {
				for {
					select {
					case ev := <-sub.Out:
						p.Send(eventMsg(ev))
					case <-s.lost:
						p.Send(lostMsg{})
						return
					case <-sub.Closed:
						return
					case <-ctx.Done():
						return
					}
				}
			}()
			final, err := p.Run()
			if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
				return err
			}
			if m, ok := final.(monitorModel); ok && m.lost {
				return errors.New("proxy closed the connection")
			}
			return nil
		},
	}
	so.register(cmd)
	cmd.Flags().BoolVar(&plain, "plain", false, "Print one line per event instead of the live view")
	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "Stop after this long (0 runs until interrupted)")
	return cmd
}

// printEvents writes events as lines until ctx is done or the proxy goes away.
func printEvents(ctx context.Context, w io.Writer, s *session, events <-chan wearable.Event, closed <-chan struct{}) error {
	for {
		select {
		case ev := <-events:
			fmt.Fprintln(w, formatEvent(ev))
		case <-s.lost:
			return errors.New("proxy closed the connection")
		case <-closed:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

func formatEvent(ev wearable.Event) string {
	ts := ev.Time.Format("15:04:05.000")
	switch ev.Kind {
	case wearable.EventConnection:
		if ev.Device.UID == "" || ev.Device.UID == wearable.EmptyUID {
			return fmt.Sprintf("%s connection %s", ts, ev.State)
		}
		return fmt.Sprintf("%s connection %s %s", ts, ev.State, ev.Device)
	case wearable.EventGesture:
		return fmt.Sprintf("%s gesture %s t=%.3f", ts, ev.Frame.Gesture, ev.Frame.Timestamp)
	default:
		f := ev.Frame
		q := f.Rotation.Value
		return fmt.Sprintf("%s frame t=%.3f acc=%s gyro=%s rot=(%+.3f %+.3f %+.3f %+.3f)",
			ts, f.Timestamp, vec(f.Acceleration.Value), vec(f.AngularVelocity.Value), q.X, q.Y, q.Z, q.W)
	}
}
