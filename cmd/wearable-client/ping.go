package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func pingCmd(o *globalOptions) *cobra.Command {
	var count int
	var every time.Duration
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Measure the round trip to the proxy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if count <= 0 {
				return fmt.Errorf("count must be > 0")
			}
			s, err := openSession(cmd.Context(), o)
			if err != nil {
				return err
			}
			defer s.Close()
			out := cmd.OutOrStdout()
			var total time.Duration
			for i := 0; i < count; i++ {
				if i > 0 {
					time.Sleep(every)
				}
				if err := s.c.Ping(); err != nil {
					return err
				}
				select {
				case rtt := <-s.pongs:
					total += rtt
					fmt.Fprintf(out, "pong from %s: seq=%d time=%v\n", o.target(), i+1, rtt.Round(time.Microsecond))
				case <-s.lost:
					return fmt.Errorf("proxy closed the connection")
				case <-time.After(o.timeout):
					return fmt.Errorf("no pong within %v", o.timeout)
				case <-cmd.Context().Done():
					return cmd.Context().Err()
				}
			}
			fmt.Fprintf(out, "%d pongs, avg %v\n", count, (total / time.Duration(count)).Round(time.Microsecond))
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "c", 3, "Number of pings")
	cmd.Flags().DurationVar(&every, "interval", 200*time.Millisecond, "Pause between pings")
	return cmd
}
