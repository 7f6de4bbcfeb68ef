package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/sentinel/pkg/cli"
	"mercator-hq/sentinel/pkg/config"
	"mercator-hq/sentinel/pkg/engine"
	"mercator-hq/sentinel/pkg/telemetry/logging"
)

var (
	// Global flags
	cfgFile      string
	outputFormat string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "sentinel",
	Short: "Sentinel - policy-as-code governance for AI quality operations",
	Long: `Sentinel evaluates quality snapshots against a governance policy and
acts on the result.

  - Compiles YAML governance policies and stores them by ID
  - Evaluates metric snapshots and dispatches alerts, blocks and tuning runs
  - Gates risky operations on the runtime override set
  - Advances staged rollouts only while quality holds
  - Records every decision in a hash-verified audit ledger

Commands that read or change governance state open the stores named in the
configuration file directly; they do not need a running server.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _, err := cli.ParseFormat(outputFormat); err != nil {
			return err
		}
		level := "warn"
		if verbose {
			level = "debug"
		}
		logger, err := logging.New(logging.Config{Level: level, Format: "text", RedactPII: true})
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		return nil
	},
}

// Execute runs the root command and exits with the mapped status.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (defaults and SENTINEL_* environment only when empty)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "format", "o", "text", "output format: text, json, yaml, csv")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// loadConfig initializes the global configuration once per process.
func loadConfig() (*config.Config, error) {
	if err := config.Initialize(cfgFile); err != nil {
		return nil, cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}
	cfg := config.GetConfig()
	if cfg == nil {
		return nil, cli.NewConfigError("", "configuration not initialized")
	}
	return cfg, nil
}

// withEngine opens the configured stores for the duration of fn.
func withEngine(ctx context.Context, fn func(*engine.Engine) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	eng, err := engine.Open(ctx, cfg, nil)
	if err != nil {
		return fmt.Errorf("open governance stores: %w", err)
	}
	defer eng.Close()
	return fn(eng)
}

// printResult writes v in the --format chosen on the command line.
func printResult(cmd *cobra.Command, v any) error {
	format, err := cli.ParseFormat(outputFormat)
	if err != nil {
		return err
	}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), v)
}
