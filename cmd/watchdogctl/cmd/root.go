// Package cmd holds the watchdogctl cobra command tree.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "watchdogctl",
	Short: "watchdogctl inspects process patterns and profile conditions for watchdogd.",
	Long: `watchdogctl is a companion CLI for the watchdogd process-lifetime
action daemon. It provides one-shot introspection of the live process
table and of a profile's condition evaluation, plus thin clients for a
running daemon's healthz HTTP endpoints.`,
}

// daemonAddr is the shared --daemon-addr flag used by the status/profiles
// subcommands that talk to a running watchdogd's healthz surface.
var daemonAddr string

// Execute adds all child commands to the root command and runs it. It is
// called by main.main and only needs to run once.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "watchdogctl: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&daemonAddr, "daemon-addr", "http://127.0.0.1:9000", "base URL of a running watchdogd's health endpoint")
}
