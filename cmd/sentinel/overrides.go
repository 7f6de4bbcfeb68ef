package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/sentinel/pkg/engine"
)

var overridesFlags struct {
	by     string
	reason string
}

var overridesCmd = &cobra.Command{
	Use:   "overrides",
	Short: "Inspect or clear runtime operation blocks",
}

var overridesShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the disabled operations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(eng *engine.Engine) error {
			o, err := eng.Override(cmd.Context())
			if err != nil {
				return err
			}
			return printResult(cmd, o)
		})
	},
}

var overridesClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Re-enable every blocked operation",
	Long: `Replace the runtime override with an empty set. An override_clear entry
is recorded in the audit ledger.

Examples:
  sentinel overrides clear --by oncall --reason "regressions fixed in 4.2.1"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(eng *engine.Engine) error {
			o, err := eng.ClearOverrides(cmd.Context(), overridesFlags.by, overridesFlags.reason)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "✓ Runtime overrides cleared (revision %d)\n", o.Revision)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(overridesCmd)
	overridesCmd.AddCommand(overridesShowCmd, overridesClearCmd)

	overridesClearCmd.Flags().StringVar(&overridesFlags.by, "by", "", "operator clearing the blocks")
	overridesClearCmd.Flags().StringVar(&overridesFlags.reason, "reason", "", "reason recorded with the change")
}
