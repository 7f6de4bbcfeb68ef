package main

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/sentinel/pkg/engine"
	"mercator-hq/sentinel/pkg/store"
)

var alertsFlags struct {
	alertType  string
	unresolved bool
	since      time.Duration
	limit      int
	by         string
}

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List and resolve governance alerts",
}

// alertTable renders alerts one per row.
type alertTable []*store.AlertRecord

func (t alertTable) Header() []string {
	return []string{"ID", "CREATED", "TYPE", "SEVERITY", "DATE", "RESOLVED", "MESSAGE"}
}

func (t alertTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, a := range t {
		rows = append(rows, []string{
			a.ID,
			a.CreatedAt.Format(time.RFC3339),
			a.Type,
			string(a.Severity),
			a.GovernanceDate,
			strconv.FormatBool(a.Resolved),
			firstLine(a.Message),
		})
	}
	return rows
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alerts, newest first",
	Long: `List alerts, newest first.

Examples:
  sentinel alerts list --unresolved
  sentinel alerts list --type policy_drift --since 168h --format json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := store.AlertFilter{Type: alertsFlags.alertType, Limit: alertsFlags.limit}
		if alertsFlags.unresolved {
			resolved := false
			f.Resolved = &resolved
		}
		if alertsFlags.since > 0 {
			f.Since = time.Now().Add(-alertsFlags.since)
		}
		return withEngine(cmd.Context(), func(eng *engine.Engine) error {
			alerts, err := eng.Alerts(cmd.Context(), f)
			if err != nil {
				return err
			}
			return printResult(cmd, alertTable(alerts))
		})
	},
}

var alertsResolveCmd = &cobra.Command{
	Use:   "resolve <id>",
	Short: "Mark an alert resolved",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(eng *engine.Engine) error {
			a, err := eng.ResolveAlert(cmd.Context(), args[0], alertsFlags.by)
			if err != nil {
				return err
			}
			return printResult(cmd, a)
		})
	},
}

var driftCmd = &cobra.Command{
	Use:   "drift",
	Short: "Compare the stored policy with the runtime state",
	Long: `Compare the stored policy with the runtime override and rollout state and
raise a policy_drift alert when they disagree. The scheduler runs the same
check on its drift schedule.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(eng *engine.Engine) error {
			report, err := eng.CheckDrift(cmd.Context())
			if err != nil {
				return err
			}
			return printResult(cmd, report)
		})
	},
}

func init() {
	rootCmd.AddCommand(alertsCmd, driftCmd)
	alertsCmd.AddCommand(alertsListCmd, alertsResolveCmd)

	alertsListCmd.Flags().StringVar(&alertsFlags.alertType, "type", "", "alert type: governance, policy_drift")
	alertsListCmd.Flags().BoolVar(&alertsFlags.unresolved, "unresolved", false, "only unresolved alerts")
	alertsListCmd.Flags().DurationVar(&alertsFlags.since, "since", 0, "only alerts created within this duration")
	alertsListCmd.Flags().IntVar(&alertsFlags.limit, "limit", 50, "maximum alerts to list")
	alertsResolveCmd.Flags().StringVar(&alertsFlags.by, "by", "", "operator resolving the alert")
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
