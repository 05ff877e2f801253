package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"spendwise-hq/meter/pkg/cli"
	"spendwise-hq/meter/pkg/metering"
)

var maintenanceFlags struct {
	output string
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile cached budget spend against the ledger",
	Long: `Recompute the spend of every active budget from the usage ledger and
overwrite the cached value where they differ. Budgets whose period has
elapsed are rolled over first.

This is the same job the server runs on the reconcile schedule.

Examples:
  # Print the budgets that drifted
  spendwise reconcile

  # Machine-readable report
  spendwise reconcile --output json`,
	RunE: runReconcile,
}

var resetCmd = &cobra.Command{
	Use:   "reset-budgets",
	Short: "Roll elapsed budgets into their current period",
	Long: `Move every active budget whose period has ended into the period that
contains now, zeroing its cached spend and alert state.

This is the same job the server runs on the reset schedule.`,
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(reconcileCmd, resetCmd)

	reconcileCmd.Flags().StringVarP(&maintenanceFlags.output, "output", "o", "text", "output format: text, json, csv")
}

// reconcileOutput prints a reconcile report as one row per adjusted budget.
type reconcileOutput struct {
	*metering.ReconcileReport
}

func (r reconcileOutput) Header() []string {
	return []string{"BUDGET", "ORGANIZATION", "CACHED", "LEDGER", "DRIFT"}
}

func (r reconcileOutput) Rows() [][]string {
	rows := make([][]string, 0, len(r.Entries))
	for _, e := range r.Entries {
		rows = append(rows, []string{
			e.BudgetID,
			e.OrganizationID,
			strconv.FormatFloat(e.Cached, 'f', 6, 64),
			strconv.FormatFloat(e.Ledger, 'f', 6, 64),
			strconv.FormatFloat(e.Drift, 'f', 6, 64),
		})
	}
	return rows
}

func runReconcile(cmd *cobra.Command, args []string) error {
	formatter, err := cli.NewFormatter(cli.OutputFormat(maintenanceFlags.output))
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}

	ctx, stop := cli.SetupSignalHandler(cmd.Context())
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return cli.NewCommandError("reconcile", err)
	}
	defer a.Close(context.Background())

	report, err := a.svc.Reconcile(ctx)
	if report == nil {
		return cli.NewCommandError("reconcile", err)
	}
	if ferr := formatter.FormatTo(cmd.OutOrStdout(), reconcileOutput{report}); ferr != nil {
		return ferr
	}
	if maintenanceFlags.output == string(cli.FormatText) || maintenanceFlags.output == "" {
		fmt.Fprintf(cmd.OutOrStdout(), "\nchecked %d budgets, adjusted %d, failed %d, total drift %.6f\n",
			report.Checked, report.Adjusted, report.Failed, report.TotalDrift)
	}
	return cli.NewCommandError("reconcile", err)
}

func runReset(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}

	ctx, stop := cli.SetupSignalHandler(cmd.Context())
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return cli.NewCommandError("reset-budgets", err)
	}
	defer a.Close(context.Background())

	n, err := a.svc.ResetExpiredBudgets(ctx)
	fmt.Fprintf(cmd.OutOrStdout(), "✓ %d budgets reset\n", n)
	return cli.NewCommandError("reset-budgets", err)
}
