package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"spendwise-hq/meter/pkg/budget"
	"spendwise-hq/meter/pkg/cli"
	"spendwise-hq/meter/pkg/config"
	"spendwise-hq/meter/pkg/gate"
	"spendwise-hq/meter/pkg/scheduler"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Load the configuration file with environment overrides and check every
section: server, pricing, ledger, budgets, alerts, gate and schedules.
Every problem found is reported, not only the first.

Examples:
  spendwise validate
  spendwise validate --config /etc/spendwise/config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return cli.NewConfigError("", err.Error())
	}

	if err := checkWiring(cfg); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Configuration valid: %s\n", cfgFile)
	if verbose {
		fmt.Fprintf(out, "  ledger backend:   %s\n", cfg.Ledger.Backend)
		fmt.Fprintf(out, "  alert store:      %s\n", cfg.Alerts.Store)
		fmt.Fprintf(out, "  thresholds:       %v\n", cfg.Alerts.Thresholds)
		fmt.Fprintf(out, "  gate timeout:     %s (fail open: %v)\n", cfg.Gate.Timeout, cfg.Gate.FailOpen)
		fmt.Fprintf(out, "  reset schedule:   %s\n", cfg.Schedule.Reset)
		fmt.Fprintf(out, "  reconcile:        %s\n", cfg.Schedule.Reconcile)
	}
	return nil
}

// checkWiring builds the pieces of configuration that are only parsed by
// the components using them.
func checkWiring(cfg *config.Config) error {
	if _, err := budget.CalendarFromConfig(cfg.Budgets); err != nil {
		return cli.NewConfigError("budgets", err.Error())
	}
	if _, err := gate.ConfigFromSettings(cfg.Gate); err != nil {
		return cli.NewConfigError("gate.unlimited_policy", err.Error())
	}
	if _, err := scheduler.New(scheduler.Config{Jobs: scheduler.MeteringJobs(cfg.Schedule, nil)}); err != nil {
		return cli.NewConfigError("schedule", err.Error())
	}
	return nil
}
