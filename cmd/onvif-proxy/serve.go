package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/errors"
	"github.com/spf13/cobra"

	"github.com/use-go/onvif-proxy/internal/camera"
	"github.com/use-go/onvif-proxy/internal/config"
	"github.com/use-go/onvif-proxy/internal/events"
	"github.com/use-go/onvif-proxy/internal/gateway"
	"github.com/use-go/onvif-proxy/internal/logging"
	"github.com/use-go/onvif-proxy/internal/server"
	"github.com/use-go/onvif-proxy/internal/supervisor"
	"github.com/use-go/onvif-proxy/internal/upstream"
)

var probeOnStart bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		closer := logging.Init(cfg.LogConfig())
		defer closer.Close()

		reg, err := camera.NewRegistry(cfg.Descriptors())
		if err != nil {
			return errors.Annotate(err, "camera registry")
		}
		client := upstream.NewClient(cfg.UpstreamOptions())
		mgr := events.NewManager(client, cfg.EventOptions())
		defer mgr.Close()

		gw, err := gateway.New(reg, client, mgr, cfg.QuirkOptions())
		if err != nil {
			return err
		}
		srv := server.New(cfg.ServerOptions(), gw, mgr)

		tree := supervisor.NewTree(supervisor.TreeConfig{})
		tree.AddAPIService(srv.Service())
		tree.AddMaintenanceService(events.NewSweeper(mgr))

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logging.Info().
			Str("listen", cfg.Proxy.ListenAddress).
			Str("base_url", cfg.Proxy.BaseURL).
			Int("cameras", reg.Len()).
			Msg("onvif proxy starting")
		if probeOnStart {
			go probeAll(ctx, client, reg)
		}

		if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		logging.Info().Msg("onvif proxy stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().BoolVar(&probeOnStart, "probe", true, "query every camera's device information at startup")
}

// probeAll logs the identity of every camera. Failures are reported but do
// not stop the gateway.
func probeAll(ctx context.Context, client *upstream.Client, reg *camera.Registry) {
	for _, cam := range reg.All() {
		pctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		info, err := client.DeviceInformation(pctx, cam)
		cancel()
		if err != nil {
			logging.Warn().Err(err).Str("camera", cam.ID).Msg("camera probe failed")
			continue
		}
		logging.Info().
			Str("camera", cam.ID).
			Str("name", cam.DisplayName()).
			Str("manufacturer", info.Manufacturer).
			Str("model", info.Model).
			Str("firmware", info.FirmwareVersion).
			Msg("camera online")
	}
}
