package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kstaniek/go-wearable-proxy/internal/wearable"
)

func connectCmd(o *globalOptions) *cobra.Command {
	var wait time.Duration
	var disconnect bool
	cmd := &cobra.Command{
		Use:   "connect [uid]",
		Short: "Attach the proxy to a device, detach it, or show the current one",
		Long: `With a UID the proxy is asked to connect to that device; the device
stays attached after this command exits. --disconnect detaches it.
Without arguments the current device is printed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var uid string
			if len(args) == 1 {
				uid = strings.ToUpper(strings.TrimSpace(args[0]))
				if !wearable.ValidUID(uid) {
					return fmt.Errorf("invalid uid %q", args[0])
				}
				if disconnect {
					return fmt.Errorf("--disconnect takes no uid")
				}
			}
			s, err := openSession(cmd.Context(), o)
			if err != nil {
				return err
			}
			defer s.Close()
			out := cmd.OutOrStdout()

			switch {
			case disconnect:
				if _, ok := s.c.ConnectedDevice(); !ok {
					fmt.Fprintln(out, "no device connected")
					return nil
				}
				s.c.DisconnectFromDevice()
				fmt.Fprintln(out, "disconnected")
				return nil
			case uid != "":
				d, err := s.connectDevice(cmd.Context(), uid, wait)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "connected %s\n", d)
				return nil
			}
			d, ok := s.c.ConnectedDevice()
			if !ok {
				fmt.Fprintln(out, "no device connected")
				return nil
			}
			return printDevices(cmd, []wearable.Device{d}, false)
		},
	}
	cmd.Flags().DurationVarP(&wait, "wait", "w", 10*time.Second, "How long to wait for the device")
	cmd.Flags().BoolVar(&disconnect, "disconnect", false, "Detach the current device")
	return cmd
}
