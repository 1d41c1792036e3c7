package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kstaniek/go-wearable-proxy/internal/wearable"
)

func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "start", "enable", "true", "1":
		return true, nil
	case "off", "stop", "disable", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("expected on|off, got %q", s)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func sensorCmd(o *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sensor [name on|off]",
		Short: "Show sensor states or start/stop one sensor",
		Long: `Without arguments every sensor state is printed.
Sensors: accelerometer (accel), gyroscope (gyro), rotation (rot).`,
		Args: cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return fmt.Errorf("missing on|off for %s", args[0])
			}
			s, err := openSession(cmd.Context(), o)
			if err != nil {
				return err
			}
			defer s.Close()
			out := cmd.OutOrStdout()
			if len(args) == 2 {
				id, err := wearable.ParseSensorID(args[0])
				if err != nil {
					return err
				}
				on, err := parseSwitch(args[1])
				if err != nil {
					return err
				}
				if on {
					s.c.StartSensor(id)
				} else {
					s.c.StopSensor(id)
				}
				if err := s.waitFor(cmd.Context(), o.timeout, id.String()+" status", func() bool { return s.c.SensorActive(id) == on }); err != nil {
					return err
				}
				fmt.Fprintf(out, "%s %s\n", id, onOff(on))
				return nil
			}
			for _, id := range wearable.SensorIDs {
				fmt.Fprintf(out, "%-14s %s\n", id, onOff(s.c.SensorActive(id)))
			}
			return nil
		},
	}
}

func gestureCmd(o *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "gesture [name on|off]",
		Short: "Show gesture states or enable/disable one gesture",
		Long: `Without arguments every gesture state is printed.
Gestures: double_tap (tap), head_nod (nod), head_shake (shake).`,
		Args: cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return fmt.Errorf("missing on|off for %s", args[0])
			}
			s, err := openSession(cmd.Context(), o)
			if err != nil {
				return err
			}
			defer s.Close()
			out := cmd.OutOrStdout()
			if len(args) == 2 {
				g, err := wearable.ParseGestureID(args[0])
				if err != nil {
					return err
				}
				on, err := parseSwitch(args[1])
				if err != nil {
					return err
				}
				if on {
					s.c.EnableGesture(g)
				} else {
					s.c.DisableGesture(g)
				}
				if err := s.waitFor(cmd.Context(), o.timeout, g.String()+" status", func() bool { return s.c.GestureEnabled(g) == on }); err != nil {
					return err
				}
				fmt.Fprintf(out, "%s %s\n", g, onOff(on))
				return nil
			}
			for _, g := range wearable.GestureIDs {
				fmt.Fprintf(out, "%-14s %s\n", g, onOff(s.c.GestureEnabled(g)))
			}
			return nil
		},
	}
}

func intervalCmd(o *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "interval [320ms|160ms|80ms|40ms|20ms]",
		Short: "Show or set the sensor update interval",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var want wearable.UpdateInterval
			if len(args) == 1 {
				u, err := wearable.ParseUpdateInterval(args[0])
				if err != nil {
					return err
				}
				want = u
			}
			s, err := openSession(cmd.Context(), o)
			if err != nil {
				return err
			}
			defer s.Close()
			if len(args) == 1 {
				s.c.SetUpdateInterval(want)
				if err := s.waitFor(cmd.Context(), o.timeout, "update interval", func() bool { return s.c.UpdateInterval() == want }); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), s.c.UpdateInterval())
			return nil
		},
	}
}

func rotationCmd(o *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rotation [6dof|9dof]",
		Short: "Show or set the rotation source",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var want wearable.RotationSource
			if len(args) == 1 {
				r, err := wearable.ParseRotationSource(args[0])
				if err != nil {
					return err
				}
				want = r
			}
			s, err := openSession(cmd.Context(), o)
			if err != nil {
				return err
			}
			defer s.Close()
			if len(args) == 1 {
				s.c.SetRotationSource(want)
				if err := s.waitFor(cmd.Context(), o.timeout, "rotation source", func() bool { return s.c.RotationSource() == want }); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), s.c.RotationSource())
			return nil
		},
	}
}
