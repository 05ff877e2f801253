package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"spendwise-hq/meter/pkg/cli"
	"spendwise-hq/meter/pkg/pricing"
	"spendwise-hq/meter/pkg/usage"
)

var priceFlags struct {
	provider   string
	model      string
	prompt     int64
	completion int64
	output     string
}

var priceCmd = &cobra.Command{
	Use:   "price",
	Short: "Price a provider call without recording it",
	Long: `Look up the configured rate of a provider model and compute the cost of a
call with the given token counts. Unknown models are priced at the
fallback rate.

Examples:
  spendwise price --provider openai --model gpt-4o --prompt 1200 --completion 300
  spendwise price --provider claude --model claude-3-5-sonnet-20241022 --prompt 1000000 -o json`,
	RunE: runPrice,
}

func init() {
	rootCmd.AddCommand(priceCmd)

	priceCmd.Flags().StringVar(&priceFlags.provider, "provider", "", "provider name or alias (required)")
	priceCmd.Flags().StringVar(&priceFlags.model, "model", "", "model name (required)")
	priceCmd.Flags().Int64Var(&priceFlags.prompt, "prompt", 0, "prompt tokens")
	priceCmd.Flags().Int64Var(&priceFlags.completion, "completion", 0, "completion tokens")
	priceCmd.Flags().StringVarP(&priceFlags.output, "output", "o", "text", "output format: text, json, csv")
	_ = priceCmd.MarkFlagRequired("provider")
	_ = priceCmd.MarkFlagRequired("model")
}

// quote is the result of the price command.
type quote struct {
	Provider         usage.Provider `json:"provider"`
	Model            string         `json:"model"`
	PromptTokens     int64          `json:"prompt_tokens"`
	CompletionTokens int64          `json:"completion_tokens"`
	InputPerMillion  float64        `json:"input_per_million"`
	OutputPerMillion float64        `json:"output_per_million"`
	Cost             float64        `json:"cost"`
	Fallback         bool           `json:"fallback"`
}

func (q quote) Header() []string {
	return []string{"PROVIDER", "MODEL", "PROMPT", "COMPLETION", "INPUT/1M", "OUTPUT/1M", "COST", "FALLBACK"}
}

func (q quote) Rows() [][]string {
	return [][]string{{
		string(q.Provider),
		q.Model,
		fmt.Sprint(q.PromptTokens),
		fmt.Sprint(q.CompletionTokens),
		fmt.Sprintf("%.4f", q.InputPerMillion),
		fmt.Sprintf("%.4f", q.OutputPerMillion),
		fmt.Sprintf("%.6f", q.Cost),
		fmt.Sprint(q.Fallback),
	}}
}

// priceCall prices a call against table.
func priceCall(table *pricing.Table, provider, model string, prompt, completion int64) quote {
	rate, ok := table.Lookup(provider, model)
	return quote{
		Provider:         usage.ParseProvider(provider),
		Model:            model,
		PromptTokens:     prompt,
		CompletionTokens: completion,
		InputPerMillion:  rate.Input,
		OutputPerMillion: rate.Output,
		Cost:             pricing.ComputeCost(rate, prompt, completion),
		Fallback:         !ok,
	}
}

func runPrice(cmd *cobra.Command, args []string) error {
	if priceFlags.prompt < 0 || priceFlags.completion < 0 {
		return cli.NewConfigError("tokens", "token counts must be non-negative")
	}
	formatter, err := cli.NewFormatter(cli.OutputFormat(priceFlags.output))
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

	table := pricing.NewTableFromConfig(cfg.Pricing, logger, nil)
	q := priceCall(table, priceFlags.provider, priceFlags.model, priceFlags.prompt, priceFlags.completion)
	return formatter.FormatTo(cmd.OutOrStdout(), q)
}
