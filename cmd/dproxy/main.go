// dproxy CLI - intercepting proxy for mobile-client test environments
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build-time variables set via ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	root := &cobra.Command{
		Use:   "dproxy",
		Short: "Intercepting proxy with passthrough, recording, and replay modes",
		Long: `dproxy sits between a mobile client and its backend. In passthrough
mode it forwards traffic untouched, in recording mode it persists every
monitored exchange, and in replay mode it answers from those captures
without a live backend.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newVersionCmd())

	// Bare invocation starts the proxy with defaults.
	root.RunE = func(cmd *cobra.Command, args []string) error {
		return newServeCmd().RunE(cmd, args)
	}

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dproxy %s (commit %s, built %s)\n", Version, Commit, BuildDate)
		},
	}
}
