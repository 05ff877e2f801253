package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"

	"github.com/spf13/cobra"

	"spendwise-hq/meter/pkg/api"
	"spendwise-hq/meter/pkg/cli"
	"spendwise-hq/meter/pkg/config"
	"spendwise-hq/meter/pkg/scheduler"
	"spendwise-hq/meter/pkg/server"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the metering API server",
	Long: `Start the metering API server with the specified configuration.

The server records usage into the ledger, answers spend-limit checks and
serves budgets, usage queries and recommendations. Budget resets and
reconciliation run on the configured schedules. Pricing and alert
thresholds are reloaded when the configuration file changes or on SIGHUP.

Examples:
  # Start with default config
  spendwise run

  # Start with custom config
  spendwise run --config /etc/spendwise/config.yaml

  # Override listen address
  spendwise run --listen 0.0.0.0:8090

  # Validate config and wiring without starting the server
  spendwise run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting server")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Apply flag overrides
	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Logging.Level = runFlags.logLevel
	}
	if err := config.Validate(cfg); err != nil {
		return cli.NewConfigError("", err.Error())
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}

	if runFlags.dryRun {
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration valid")
		return nil
	}

	ctx, stop := cli.SetupSignalHandler(cmd.Context())
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			logger.Error("failed to close components", "error", err)
		}
	}()

	if err := a.svc.RestoreAlertState(ctx); err != nil {
		logger.Warn("failed to restore alert state, thresholds may fire again", "error", err)
	}

	sched, err := scheduler.New(scheduler.Config{
		Jobs:     scheduler.MeteringJobs(cfg.Schedule, a.svc),
		Timeout:  cfg.Schedule.JobTimeout,
		Location: a.calendar.Location,
		Logger:   logger,
		Metrics:  a.metrics,
	})
	if err != nil {
		return cli.NewConfigError("schedule", err.Error())
	}
	sched.Start(ctx)
	defer sched.Stop()

	go watchReloads(ctx, cfg, a, logger)

	srv, err := server.New(server.Config{
		Server:      cfg.Server,
		API:         api.New(a.svc, cfg.Server.MaxBodyBytes, logger),
		Health:      a.healthChecker(),
		Metrics:     a.metrics,
		MetricsPath: cfg.Metrics.Path,
		Build:       server.BuildInfo{Version: Version, Commit: GitCommit, BuildTime: BuildDate},
		Logger:      logger,
	})
	if err != nil {
		return cli.NewCommandError("run", err)
	}

	printBanner(cmd, cfg)
	if err := srv.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "✓ Server stopped")
	return nil
}

// watchReloads applies configuration changes from the file watcher, when
// enabled, and from SIGHUP until ctx is done.
func watchReloads(ctx context.Context, cfg *config.Config, a *app, logger *slog.Logger) {
	if cfg.Watch.Enabled {
		w, err := config.NewWatcher(cfgFile, cfg.Watch.Debounce, logger)
		if err != nil {
			logger.Warn("config watcher disabled", "error", err)
		} else {
			defer w.Stop()
			go func() {
				if err := w.Watch(ctx, a.reload); err != nil {
					logger.Error("config watcher failed", "error", err)
				}
			}()
		}
	}

	hup := cli.ReloadSignals()
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			next, err := config.ReloadConfig(cfgFile)
			if err != nil {
				logger.Error("config reload failed", "error", err)
				continue
			}
			if err := a.reload(next); err != nil {
				logger.Error("config reload rejected", "error", err)
			}
		}
	}
}

func printBanner(cmd *cobra.Command, cfg *config.Config) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Spendwise meter v%s\n", Version)
	fmt.Fprintf(out, "✓ Configuration loaded from %s\n", cfgFile)
	fmt.Fprintf(out, "✓ Ledger backend: %s\n", cfg.Ledger.Backend)
	fmt.Fprintf(out, "✓ Alert store: %s\n", cfg.Alerts.Store)
	fmt.Fprintf(out, "✓ Listening on %s\n", cfg.Server.ListenAddress)
	fmt.Fprintf(out, "✓ Health endpoint: http://%s/health\n", cfg.Server.ListenAddress)
	fmt.Fprintf(out, "✓ Metrics endpoint: http://%s%s\n", cfg.Server.ListenAddress, cfg.Metrics.Path)
	fmt.Fprintln(out, "\nPress Ctrl+C to stop")
}
