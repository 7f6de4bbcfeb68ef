package main

import (
	"github.com/spf13/cobra"

	"mercator-hq/sentinel/pkg/cli"
	"mercator-hq/sentinel/pkg/enforcement"
	"mercator-hq/sentinel/pkg/engine"
)

var enforceFlags enforcement.Request

var enforceCmd = &cobra.Command{
	Use:   "enforce",
	Short: "Check whether an operation may proceed",
	Long: `Ask the enforcement gate whether an operation may proceed.

The decision is printed and the exit status reports it:
  0  allowed
  3  blocked by policy (the denial is recorded in the audit ledger)
  1  governance state could not be read (fail closed)

Examples:
  # Guard a deploy step in CI
  sentinel enforce --service checkout --team team-a --action deploy_model || exit 1`,
	Args: cobra.NoArgs,
	RunE: runEnforce,
}

func init() {
	rootCmd.AddCommand(enforceCmd)

	enforceCmd.Flags().StringVar(&enforceFlags.Service, "service", "", "calling service (required)")
	enforceCmd.Flags().StringVar(&enforceFlags.TeamID, "team", "", "calling team")
	enforceCmd.Flags().StringVar(&enforceFlags.Action, "action", "", "operation to guard, e.g. deploy_model")
	enforceCmd.Flags().StringVar(&enforceFlags.ActorUID, "actor", "", "user performing the operation")
	_ = enforceCmd.MarkFlagRequired("service")
}

func runEnforce(cmd *cobra.Command, args []string) error {
	return withEngine(cmd.Context(), func(eng *engine.Engine) error {
		d, err := eng.Check(cmd.Context(), enforceFlags)
		if err != nil {
			return err
		}
		if perr := printResult(cmd, d); perr != nil {
			return perr
		}
		if d.Allowed {
			return nil
		}
		blocked := enforcement.NewBlockedError(enforceFlags, d)
		return cli.WithExitCode(cli.ExitBlocked, blocked)
	})
}
