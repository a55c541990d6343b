// Package cmd defines and implements the CLI commands for the harvester
// executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "A multi-tier farm program data harvester.",
		Long: `harvester collects government farm program information from a survey
API, agency program pages, and published PDF documents, normalizes the
results into canonical program records, and serves criteria matching and
gap analysis over HTTP.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults to environment only)")

	cmd.AddCommand(newPipelineCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMatchCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
