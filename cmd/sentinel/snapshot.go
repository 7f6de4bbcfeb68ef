package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/sentinel/pkg/engine"
	"mercator-hq/sentinel/pkg/ingest"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Evaluate or publish metric snapshots",
}

var snapshotEvaluateCmd = &cobra.Command{
	Use:   "evaluate <file|->",
	Short: "Evaluate a snapshot against the governing policy",
	Long: `Evaluate a JSON metric snapshot against the governing policy and dispatch
the actions of every triggered rule. Use - to read from stdin.

Examples:
  sentinel snapshot evaluate snapshot.json
  echo '{"date":"2026-03-01","metrics":{"passRate":0.6}}' | sentinel snapshot evaluate -`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readInput(cmd, args[0])
		if err != nil {
			return err
		}
		snap, err := ingest.DecodeSnapshot(data)
		if err != nil {
			return err
		}
		return withEngine(cmd.Context(), func(eng *engine.Engine) error {
			ev, err := eng.OnSnapshot(cmd.Context(), snap)
			if err != nil {
				return err
			}
			return printResult(cmd, ev)
		})
	},
}

var snapshotPublishCmd = &cobra.Command{
	Use:   "publish <file|->",
	Short: "Publish a snapshot on the ingest subject",
	Long: `Publish a JSON metric snapshot to the configured NATS snapshot subject
for a running server to evaluate.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readInput(cmd, args[0])
		if err != nil {
			return err
		}
		snap, err := ingest.DecodeSnapshot(data)
		if err != nil {
			return err
		}
		return withPublisher(func(c *ingest.Client) error {
			if err := c.PublishSnapshot(cmd.Context(), snap); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "✓ Published snapshot for %s (%d metrics)\n", snap.Date, len(snap.Metrics))
			return nil
		})
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Publish raw governance events",
}

var eventsPublishCmd = &cobra.Command{
	Use:   "publish <file|->",
	Short: "Publish events on the ingest subject",
	Long: `Publish one JSON event or an array of events to the configured NATS event
subject. A running server buffers them until the next scheduled rollup.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readInput(cmd, args[0])
		if err != nil {
			return err
		}
		events, err := ingest.DecodeEvents(data)
		if err != nil {
			return err
		}
		return withPublisher(func(c *ingest.Client) error {
			if err := c.PublishEvents(cmd.Context(), events); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "✓ Published %d events\n", len(events))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(snapshotCmd, eventsCmd)
	snapshotCmd.AddCommand(snapshotEvaluateCmd, snapshotPublishCmd)
	eventsCmd.AddCommand(eventsPublishCmd)
}

// readInput reads a file, or stdin when name is "-".
func readInput(cmd *cobra.Command, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(name)
}

// withPublisher connects a publish-only ingest client for fn.
func withPublisher(fn func(*ingest.Client) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	c := ingest.New(cfg.Ingest, nil, nil)
	if err := c.Connect(); err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}
