// Starport supervises a local indiserver and drives its drivers through the
// server's control FIFO.
//
// The serve command is the long-running daemon. The remaining commands are
// one-shot helpers for operators: send a raw FIFO command, list the devices
// the server knows, check a config file or issue an API token.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information, set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// configFlag is the --config value shared by every subcommand.
var configFlag string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "starport",
		Short:         "indiserver supervisor and driver control",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFlag, "config", "c", "",
		"config file (default $STARPORT_CONFIG or configs/config.yaml)")

	root.AddCommand(
		newServeCmd(),
		newSendCmd(),
		newDevicesCmd(),
		newValidateCmd(),
		newTokenCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "starport %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
