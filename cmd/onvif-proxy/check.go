package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/use-go/onvif-proxy/internal/camera"
	"github.com/use-go/onvif-proxy/internal/config"
	"github.com/use-go/onvif-proxy/internal/quirks"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and print each camera's pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		return check(cmd.OutOrStdout(), cfg)
	},
}

func check(out io.Writer, cfg *config.Config) error {
	reg, err := camera.NewRegistry(cfg.Descriptors())
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "base url: %s\n", quirks.ProxyPrefix(cfg.QuirkOptions(), "{camera}"))
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tADDRESS\tMODEL\tSMART\tQUIRKS")
	for _, cam := range reg.All() {
		p, err := quirks.Build(cam.Quirks, cfg.QuirkOptions())
		if err != nil {
			return err
		}
		names := make([]string, 0, len(p.Quirks()))
		for _, q := range p.Quirks() {
			names = append(names, q.String())
		}
		smart := p.Has(quirks.TranslateSmartEvents) || cam.SmartDetection
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\n", cam.ID, cam.DisplayName(), cam.BaseURL(), cam.Model, smart, strings.Join(names, ","))
	}
	return w.Flush()
}
