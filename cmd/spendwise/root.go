package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"spendwise-hq/meter/pkg/cli"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "spendwise",
	Short: "Spendwise meter - AI usage metering and spend enforcement",
	Long: `Spendwise meter is the usage metering core of the Spendwise AI spend dashboard.

It records every AI provider call into an append-only ledger and provides:
  - Cost attribution per organization, user, provider and model
  - Daily, weekly and monthly budgets with threshold alerts
  - A hard monthly spend limit checked before each provider call
  - Periodic reconciliation of cached budget spend against the ledger`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits with the code for its error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}

func init() {
	// Global persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
