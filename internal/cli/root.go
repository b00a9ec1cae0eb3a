// Package cli wires the station components into the gokob command.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/morsekob/gokob/internal/config"
	"github.com/morsekob/gokob/internal/observability"
)

// Version is reported on the wire and on the status endpoint.
const Version = "GoKOB 1.0.0"

func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "gokob: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:           "gokob",
		Short:         "Morse telegraph station for KOB wires",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			observability.InitLogger("gokob")
			observability.RegisterMetrics()
		},
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "station config file (TOML)")
	cmd.AddCommand(newConnectCmd(&cfgPath))
	cmd.AddCommand(newSendCmd())
	return cmd
}

// loadConfig reads the station config, falling back to built-in
// defaults when no file is given.
func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}
