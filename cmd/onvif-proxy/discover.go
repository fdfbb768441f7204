package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/use-go/onvif-proxy/internal/discovery"
)

var discoverOpts discovery.Options

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find ONVIF cameras on the local network",
	RunE: func(cmd *cobra.Command, args []string) error {
		devices, err := discovery.Probe(cmd.Context(), discoverOpts)
		if err != nil {
			return err
		}
		return printDevices(cmd.OutOrStdout(), devices)
	},
}

func init() {
	discoverCmd.Flags().DurationVar(&discoverOpts.Timeout, "timeout", discovery.DefaultTimeout, "how long to wait for replies")
	discoverCmd.Flags().StringVar(&discoverOpts.MulticastAddr, "multicast", discovery.DefaultMulticastAddr, "WS-Discovery multicast address")
}

func printDevices(out io.Writer, devices []discovery.Device) error {
	if len(devices) == 0 {
		fmt.Fprintln(out, "no cameras found")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tNAME\tHARDWARE\tLOCATION\tXADDRS")
	for _, d := range devices {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", d.Address(), d.Name, d.Hardware, d.Location, strings.Join(d.XAddrs, " "))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%d camera(s) found at %s\n", len(devices), time.Now().Format(time.RFC3339))
	return nil
}
