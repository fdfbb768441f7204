package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "onvif-proxy",
	Short: "ONVIF translation gateway for non-compliant cameras",
	Long: `Presents a standards-compliant ONVIF surface for each configured camera,
repairing the camera's replies and emulating PullPoint event subscriptions.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $CONFIG_PATH, then config/cameras.yaml)")
	rootCmd.AddCommand(serveCmd, checkCmd, probeCmd, discoverCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
