package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kstaniek/go-wearable-proxy/internal/recorder"
)

func recordCmd(o *globalOptions) *cobra.Command {
	var so streamOptions
	var path string
	var duration time.Duration
	var buffer int
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record sensor frames and connection events to a sqlite file",
		Long: `record stores every streamed frame and device state change in a
sqlite database. Each run is a new session in the same file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if path == "" {
				path = fmt.Sprintf("wearable-%s.db", time.Now().Format("20060102-150405"))
			}
			s, err := openSession(cmd.Context(), o)
			if err != nil {
				return err
			}
			defer s.Close()
			rec, err := recorder.Open(cmd.Context(), recorder.Config{
				Path:   path,
				Source: o.target(),
				Buffer: buffer,
				Logger: o.logger,
			})
			if err != nil {
				return err
			}
			defer func() { _ = rec.Close() }()

			sub := s.events.Subscribe()
			defer s.events.Remove(sub)
			if err := so.start(cmd.Context(), s); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "recording session %d to %s\n", rec.Session(), rec.Path())

			ctx := cmd.Context()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}
			var runErr error
		loop:
			for {
				select {
				case ev := <-sub.Out:
					// A full queue is counted by the recorder; keep going.
					if err := rec.Record(ev); err != nil && !errors.Is(err, recorder.ErrQueueFull) {
						runErr = err
						break loop
					}
				case <-s.lost:
					runErr = errors.New("proxy closed the connection")
					break loop
				case <-sub.Closed:
					break loop
				case <-ctx.Done():
					break loop
				}
			}

			rec.Flush()
			st, err := rec.Stats(context.Background(), rec.Session())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "session %d: %d frames, %d connection events\n", st.Session, st.Frames, st.Events)
			return runErr
		},
	}
	so.register(cmd)
	cmd.Flags().StringVarP(&path, "out", "o", "", "Database file (default wearable-<time>.db)")
	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "Stop after this long (0 runs until interrupted)")
	cmd.Flags().IntVar(&buffer, "buffer", 4096, "Write queue length (events)")
	return cmd
}
