package main

import (
	"io"

	"github.com/spf13/cobra"
)

var completionNoDesc bool

// completionWriters generate a completion script for each supported shell.
var completionWriters = map[string]func(cmd *cobra.Command, out io.Writer, desc bool) error{
	"bash": func(cmd *cobra.Command, out io.Writer, desc bool) error {
		return cmd.GenBashCompletionV2(out, desc)
	},
	"zsh": func(cmd *cobra.Command, out io.Writer, desc bool) error {
		if desc {
			return cmd.GenZshCompletion(out)
		}
		return cmd.GenZshCompletionNoDesc(out)
	},
	"fish": func(cmd *cobra.Command, out io.Writer, desc bool) error {
		return cmd.GenFishCompletion(out, desc)
	},
	"powershell": func(cmd *cobra.Command, out io.Writer, desc bool) error {
		if desc {
			return cmd.GenPowerShellCompletionWithDesc(out)
		}
		return cmd.GenPowerShellCompletion(out)
	},
}

var completionCmd = &cobra.Command{
	Use:       "completion <shell>",
	Short:     "Print a shell completion script for spendwise",
	Example:   "  source <(spendwise completion bash)",
	ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		return completionWriters[args[0]](rootCmd, cmd.OutOrStdout(), !completionNoDesc)
	},
}

func init() {
	completionCmd.Flags().BoolVar(&completionNoDesc, "no-descriptions", false, "omit command descriptions from completions")
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.AddCommand(completionCmd)
}
