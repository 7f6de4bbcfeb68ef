package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/sentinel/pkg/cli"
	"mercator-hq/sentinel/pkg/config"
	"mercator-hq/sentinel/pkg/engine"
	"mercator-hq/sentinel/pkg/ingest"
	"mercator-hq/sentinel/pkg/policy/git"
	"mercator-hq/sentinel/pkg/policy/watcher"
	"mercator-hq/sentinel/pkg/scheduler"
	sectls "mercator-hq/sentinel/pkg/security/tls"
	"mercator-hq/sentinel/pkg/server"
	"mercator-hq/sentinel/pkg/telemetry/health"
	"mercator-hq/sentinel/pkg/telemetry/logging"
	"mercator-hq/sentinel/pkg/telemetry/tracing"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the governance API server",
	Long: `Start the governance API server with the specified configuration.

Besides the HTTP API the server optionally subscribes to NATS snapshot and
event subjects, runs the rollup and drift schedules, recompiles the policy
file when it changes and polls a Git repository for policy commits.

Examples:
  # Start with defaults
  sentinel run

  # Start with a config file
  sentinel run --config /etc/sentinel/config.yaml

  # Override listen address
  sentinel run --listen 0.0.0.0:8080

  # Validate config without starting
  sentinel run --dry-run`,
	Args: cobra.NoArgs,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting the server")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}

	logger, err := logging.Setup(logging.FromConfig(&cfg.Telemetry.Logging))
	if err != nil {
		return cli.NewConfigError("telemetry.logging", err.Error())
	}

	if runFlags.dryRun {
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration valid")
		return nil
	}

	ctx, stop := cli.SignalContext(cmd.Context())
	defer stop()

	printBanner(cmd, cfg)

	tracer, err := tracing.New(ctx, &cfg.Telemetry.Tracing, Version)
	if err != nil {
		return fmt.Errorf("initialize tracing: %w", err)
	}
	defer shutdownWithTimeout(tracer.Shutdown, cfg.Server.ShutdownTimeout)

	eng, err := engine.Open(ctx, cfg, nil)
	if err != nil {
		return fmt.Errorf("open governance stores: %w", err)
	}
	defer eng.Close()

	checker := health.New(cfg.Telemetry.Health.CheckTimeout)
	eng.RegisterHealthChecks(checker)

	if cfg.Ingest.Enabled {
		client := ingest.New(cfg.Ingest, eng, eng.Events())
		if err := client.Connect(); err != nil {
			return fmt.Errorf("connect ingest: %w", err)
		}
		defer client.Close()
		if err := client.Subscribe(ctx); err != nil {
			return fmt.Errorf("subscribe ingest: %w", err)
		}
		checker.RegisterCheck("ingest", client.Ping)
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Subscribed to %s, %s\n", cfg.Ingest.SnapshotSubject, cfg.Ingest.EventSubject)
	}

	if cfg.Scheduler.Enabled {
		sched := scheduler.New(eng, cfg.Scheduler)
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer sched.Stop()
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Scheduler started")
	}

	stopSources, err := startPolicySources(ctx, cmd, cfg, eng)
	if err != nil {
		return err
	}
	defer stopSources()

	srv := server.New(cfg, eng, checker, server.BuildInfo{
		Version:   Version,
		Commit:    GitCommit,
		BuildTime: BuildDate,
	})

	scheme := "http"
	if cfg.Server.TLS.Enabled {
		certs, err := sectls.NewReloader(&cfg.Server.TLS)
		if err != nil {
			return err
		}
		tlsConfig, err := sectls.NewServerConfig(&cfg.Server.TLS, certs)
		if err != nil {
			return cli.NewConfigError("server.tls", err.Error())
		}
		go certs.Run(ctx)
		checker.RegisterCheck("tls_certificate", certs.HealthCheck)
		srv.UseTLS(tlsConfig)
		scheme = "https"
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Server listening on %s://%s\n", scheme, cfg.Server.ListenAddress)
	fmt.Fprintln(cmd.OutOrStdout(), "\nPress Ctrl+C to stop")

	if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return cli.NewCommandError("run", err)
	}
	logger.Info("server stopped")
	fmt.Fprintln(cmd.OutOrStdout(), "✓ Server stopped")
	return nil
}

// startPolicySources compiles the configured policy file and starts the
// file watcher and Git poller. The poller stops when ctx is cancelled; the
// returned func releases the watcher.
func startPolicySources(ctx context.Context, cmd *cobra.Command, cfg *config.Config, eng *engine.Engine) (func(), error) {
	stop := func() {}
	if path := cfg.Policy.FilePath; path != "" {
		w, err := watcher.New(watcher.Config{
			Path:             path,
			DebounceInterval: cfg.Policy.WatchDebounce,
		}, func(ctx context.Context, file string, src []byte) error {
			res, err := eng.CompilePolicy(ctx, src, policyAuthor(file))
			if err != nil {
				return err
			}
			slog.Info("policy compiled", "file", file, "policy_id", res.Policy.ID, "version", res.Policy.Version)
			return nil
		})
		if err != nil {
			return stop, fmt.Errorf("policy watcher: %w", err)
		}
		stop = func() { _ = w.Stop() }
		if err := w.PublishAll(ctx); err != nil {
			stop()
			return func() {}, fmt.Errorf("compile %s: %w", path, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Policy compiled from %s\n", path)

		if cfg.Policy.Watch {
			go func() {
				if err := w.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
					slog.Error("policy watcher stopped", "error", err)
				}
			}()
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Watching %s\n", path)
		}
	}

	if cfg.Policy.Git.Enabled {
		src, err := git.NewSource(&cfg.Policy.Git)
		if err != nil {
			stop()
			return func() {}, fmt.Errorf("policy git source: %w", err)
		}
		go src.Poll(ctx, func(ctx context.Context, rev *git.Revision) error {
			if !rev.Changed {
				return nil
			}
			res, err := eng.CompilePolicy(ctx, rev.Content, rev.Commit.Author)
			if err != nil {
				return err
			}
			slog.Info("policy compiled from git",
				"commit", rev.Commit.SHA, "policy_id", res.Policy.ID, "version", res.Policy.Version)
			return nil
		})
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Polling %s for policy changes\n", cfg.Policy.Git.Repository)
	}
	return stop, nil
}

// policyAuthor is the compiledBy recorded for file-sourced policies.
func policyAuthor(file string) string {
	return "file:" + file
}

func printBanner(cmd *cobra.Command, cfg *config.Config) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Sentinel v%s\n", Version)
	if cfgFile != "" {
		fmt.Fprintf(out, "Loading configuration from: %s\n", cfgFile)
	}
	fmt.Fprintln(out, "✓ Configuration loaded")

	slog.Debug("stores configured", "store", cfg.Store.Backend, "audit", cfg.Audit.Backend)
	slog.Debug("policy configured", "policy_id", cfg.Policy.PolicyID, "fallback", cfg.Policy.FallbackToDefault)
}

func shutdownWithTimeout(fn func(context.Context) error, timeout time.Duration) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		slog.Warn("shutdown failed", "error", err)
	}
}
