package main

import (
	"errors"

	"github.com/spf13/cobra"

	"mercator-hq/sentinel/pkg/cli"
	"mercator-hq/sentinel/pkg/engine"
	"mercator-hq/sentinel/pkg/rollout"
)

var rolloutFlags struct {
	by string
}

var rolloutCmd = &cobra.Command{
	Use:   "rollout",
	Short: "Inspect and advance the staged rollout",
}

var rolloutStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the rollout position and the next eligible stage",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(eng *engine.Engine) error {
			st, err := eng.RolloutStatus(cmd.Context())
			if err != nil {
				return err
			}
			return printResult(cmd, st)
		})
	},
}

var rolloutAdvanceCmd = &cobra.Command{
	Use:   "advance",
	Short: "Advance the rollout by one stage",
	Long: `Advance the rollout by one stage.

The advance is rejected (exit status 4) when the latest snapshot violates a
policy threshold, when the next stage's minimum soak time has not elapsed,
or when another advance won the race.

Examples:
  sentinel rollout advance --by alice`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(eng *engine.Engine) error {
			res, err := eng.Advance(cmd.Context(), rolloutFlags.by)
			var rej *rollout.RejectionError
			if errors.As(err, &rej) {
				_ = printResult(cmd, rej)
				return cli.WithExitCode(cli.ExitRejected, err)
			}
			if err != nil {
				return err
			}
			return printResult(cmd, res)
		})
	},
}

func init() {
	rootCmd.AddCommand(rolloutCmd)
	rolloutCmd.AddCommand(rolloutStatusCmd, rolloutAdvanceCmd)

	rolloutAdvanceCmd.Flags().StringVar(&rolloutFlags.by, "by", "", "approver recorded on the advance")
}
