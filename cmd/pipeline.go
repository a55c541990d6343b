package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/farmassist/harvester/internal/app"
)

// newPipelineCmd creates the 'pipeline' subcommand, which runs one full
// harvest, extraction, and merge pass.
func newPipelineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pipeline",
		Short: "Run the full harvesting pipeline once",
		Long: `Runs the enabled source tiers to completion, extracts program
candidates from the harvested pages and documents, merges them into
canonical program records, and refreshes the gap analysis.`,
		RunE: runPipelineCommand,
	}
}

func runPipelineCommand(cmd *cobra.Command, _ []string) error {
	a, err := app.New(cmd.Context(), cfgFile)
	if err != nil {
		return fmt.Errorf("initialize services: %w", err)
	}
	defer a.Close()

	return a.Pipeline.Run(cmd.Context())
}
