package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kstaniek/go-wearable-proxy/internal/discovery"
)

// browse is a hook for tests.
var browse = discovery.Browse

func discoverCmd(_ *globalOptions) *cobra.Command {
	var wait time.Duration
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Find proxies announced via mDNS",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), wait)
			defer cancel()
			services, err := browse(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				type row struct {
					Instance string            `json:"instance"`
					Address  string            `json:"address"`
					Text     map[string]string `json:"text,omitempty"`
				}
				rows := make([]row, 0, len(services))
				for _, s := range services {
					rows = append(rows, row{Instance: s.Instance, Address: s.Address(), Text: s.Text})
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}
			if len(services) == 0 {
				fmt.Fprintln(out, "no proxies found")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "INSTANCE\tADDRESS\tINFO")
			for _, s := range services {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Instance, s.Address(), formatText(s.Text))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().DurationVarP(&wait, "wait", "w", 2*time.Second, "How long to listen for answers")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func formatText(kv map[string]string) string {
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+kv[k])
	}
	return strings.Join(parts, " ")
}
