package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kstaniek/go-wearable-proxy/internal/wearable"
)

func searchCmd(o *globalOptions) *cobra.Command {
	var wait time.Duration
	var rssi int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Ask the proxy to search for devices and list what it finds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd.Context(), o)
			if err != nil {
				return err
			}
			defer s.Close()
			if cmd.Flags().Changed("rssi") {
				s.c.SetRSSIFilter(int32(rssi))
			}

			var mu sync.Mutex
			found := map[string]wearable.Device{}
			s.c.SearchForDevices(func(devs []wearable.Device) {
				mu.Lock()
				defer mu.Unlock()
				for _, d := range devs {
					found[d.UID] = d
				}
			})
			select {
			case <-time.After(wait):
			case <-s.lost:
				return fmt.Errorf("proxy closed the connection")
			case <-cmd.Context().Done():
			}
			s.c.StopSearchingForDevices()

			mu.Lock()
			devs := make([]wearable.Device, 0, len(found))
			for _, d := range found {
				devs = append(devs, d)
			}
			mu.Unlock()
			sort.Slice(devs, func(i, j int) bool {
				if devs[i].RSSI != devs[j].RSSI {
					return devs[i].RSSI > devs[j].RSSI
				}
				return devs[i].UID < devs[j].UID
			})
			return printDevices(cmd, devs, asJSON)
		},
	}
	cmd.Flags().DurationVarP(&wait, "wait", "w", 3*time.Second, "How long to search")
	cmd.Flags().IntVar(&rssi, "rssi", int(wearable.RSSIFilterLowerBound), "Ignore devices weaker than this (dBm)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

type deviceRow struct {
	UID      string `json:"uid"`
	Name     string `json:"name"`
	Firmware string `json:"firmware,omitempty"`
	RSSI     int32  `json:"rssi"`
	Product  string `json:"product"`
	Variant  string `json:"variant"`
}

func rowOf(d wearable.Device) deviceRow {
	return deviceRow{
		UID:      d.UID,
		Name:     d.Name,
		Firmware: d.FirmwareVersion,
		RSSI:     d.RSSI,
		Product:  d.ProductID.String(),
		Variant:  wearable.VariantName(d.ProductID, d.VariantID),
	}
}

func printDevices(cmd *cobra.Command, devs []wearable.Device, asJSON bool) error {
	out := cmd.OutOrStdout()
	if asJSON {
		rows := make([]deviceRow, 0, len(devs))
		for _, d := range devs {
			rows = append(rows, rowOf(d))
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}
	if len(devs) == 0 {
		fmt.Fprintln(out, "no devices found")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "UID\tNAME\tRSSI\tPRODUCT\tVARIANT")
	for _, d := range devs {
		r := rowOf(d)
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", r.UID, r.Name, r.RSSI, r.Product, r.Variant)
	}
	return tw.Flush()
}
