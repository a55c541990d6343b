package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/farmassist/harvester/internal/app"
	"github.com/farmassist/harvester/internal/catalog"
	"github.com/farmassist/harvester/internal/match"
)

// newMatchCmd creates the 'match' subcommand, a one-shot criteria match
// against the configured store.
func newMatchCmd() *cobra.Command {
	var flags []string
	cmd := &cobra.Command{
		Use:   "match",
		Short: "Match stored programs against criteria flags",
		Long: `Scores every canonical program against the given criteria flags and
prints the ranked results as JSON.

Example:
  harvester match --flags crop_farming,is_loan`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMatchCommand(cmd, flags)
		},
	}
	cmd.Flags().StringSliceVar(&flags, "flags", nil, "comma-separated criteria flags")
	return cmd
}

func runMatchCommand(cmd *cobra.Command, rawFlags []string) error {
	selected := make([]catalog.CriteriaFlag, 0, len(rawFlags))
	for _, raw := range rawFlags {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		selected = append(selected, catalog.CriteriaFlag(raw))
	}
	if err := match.ValidateProfile(selected); err != nil {
		return err
	}

	a, err := app.New(cmd.Context(), cfgFile)
	if err != nil {
		return fmt.Errorf("initialize services: %w", err)
	}
	defer a.Close()

	programs, err := a.Stores.Programs.ListPrograms(cmd.Context())
	if err != nil {
		return fmt.Errorf("list programs: %w", err)
	}
	results := match.Match(programs, selected)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	return nil
}
