/*
Package cli provides command-line helpers for the spendwise command.

Output Formatting:

Command results are printed as aligned text, JSON or CSV:

	formatter, err := cli.NewFormatter(cli.FormatJSON)
	if err != nil {
		return err
	}
	if err := formatter.FormatTo(os.Stdout, report); err != nil {
		return err
	}

Text and CSV output need the result to implement Tabular. Values that do
not are printed with %v as text and rejected by CSV.

Signal Handling:

For graceful shutdown on SIGINT/SIGTERM:

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()

SIGHUP is delivered separately by ReloadSignals so that a running server
can reload its configuration without restarting.

Exit Codes:

ExitCode maps command errors to process exit codes: 0 on success, 2 for
configuration errors and 1 for everything else.
*/
package cli
