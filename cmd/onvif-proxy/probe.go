package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/use-go/onvif-proxy/internal/camera"
	"github.com/use-go/onvif-proxy/internal/config"
	"github.com/use-go/onvif-proxy/internal/logging"
	"github.com/use-go/onvif-proxy/internal/upstream"
)

var probeTimeout time.Duration

var probeCmd = &cobra.Command{
	Use:   "probe <camera-id>",
	Short: "Query a camera's device information and capabilities directly",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		closer := logging.Init(cfg.LogConfig())
		defer closer.Close()

		reg, err := camera.NewRegistry(cfg.Descriptors())
		if err != nil {
			return err
		}
		cam, err := reg.Get(args[0])
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), probeTimeout)
		defer cancel()
		return probe(ctx, cmd.OutOrStdout(), upstream.NewClient(cfg.UpstreamOptions()), cam)
	},
}

func init() {
	probeCmd.Flags().DurationVar(&probeTimeout, "timeout", 30*time.Second, "overall probe timeout")
}

func probe(ctx context.Context, out io.Writer, client *upstream.Client, cam *camera.Descriptor) error {
	info, err := client.DeviceInformation(ctx, cam)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Camera:       %s (%s)\n", cam.DisplayName(), cam.ID)
	fmt.Fprintf(out, "Manufacturer: %s\n", info.Manufacturer)
	fmt.Fprintf(out, "Model:        %s\n", info.Model)
	fmt.Fprintf(out, "Firmware:     %s\n", info.FirmwareVersion)
	fmt.Fprintf(out, "Serial:       %s\n", info.SerialNumber)
	fmt.Fprintf(out, "Hardware ID:  %s\n", info.HardwareID)

	caps, err := client.GetCapabilities(ctx, cam)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(caps.XAddrs))
	for name := range caps.XAddrs {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintln(out, "Services:")
	for _, name := range names {
		fmt.Fprintf(out, "  %-10s %s\n", name, caps.XAddrs[name])
	}
	fmt.Fprintf(out, "PTZ: %t  Analytics: %t\n", caps.PTZSupport, caps.AnalyticsSupport)
	return nil
}
