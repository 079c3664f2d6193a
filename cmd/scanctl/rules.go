package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"apex-guard/internal/security"
)

func newRulesCmd(state *cliState) *cobra.Command {
	var (
		rulesFile string
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "List the active rule catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if rulesFile == "" {
				rulesFile = state.cfg.RulesFile
			}
			catalog, err := security.LoadCatalog(rulesFile)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(catalog.Infos())
			}
			return renderRules(cmd.OutOrStdout(), catalog.Infos())
		},
	}
	cmd.Flags().StringVar(&rulesFile, "rules", "", "YAML file with extra rules (defaults to RULES_FILE)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}
