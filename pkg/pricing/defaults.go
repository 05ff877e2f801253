package pricing

import "spendwise-hq/meter/pkg/usage"

// DefaultRates is the built-in price table in USD per million tokens.
// Dated model names resolve through prefix matching, so "gpt-4o-2024-08-06"
// is priced as "gpt-4o".
var DefaultRates = Rates{
	usage.ProviderAnthropic: {
		"claude-3-5-sonnet": {Input: 3.00, Output: 15.00},
		"claude-3-5-haiku":  {Input: 0.80, Output: 4.00},
		"claude-3-opus":     {Input: 15.00, Output: 75.00},
		"claude-3-sonnet":   {Input: 3.00, Output: 15.00},
		"claude-3-haiku":    {Input: 0.25, Output: 1.25},
	},
	usage.ProviderOpenAI: {
		"gpt-4o":        {Input: 5.00, Output: 15.00},
		"gpt-4o-mini":   {Input: 0.15, Output: 0.60},
		"gpt-4-turbo":   {Input: 10.00, Output: 30.00},
		"gpt-4":         {Input: 30.00, Output: 60.00},
		"gpt-3.5-turbo": {Input: 0.50, Output: 1.50},
	},
	usage.ProviderGemini: {
		"gemini-1.5-pro":      {Input: 1.25, Output: 5.00},
		"gemini-1.5-flash":    {Input: 0.075, Output: 0.30},
		"gemini-1.5-flash-8b": {Input: 0.0375, Output: 0.15},
	},
	usage.ProviderPerplexity: {
		"llama-3.1-sonar-large": {Input: 1.00, Output: 1.00},
		"llama-3.1-sonar-small": {Input: 0.20, Output: 0.20},
	},
	usage.ProviderXAI: {
		"grok-beta":        {Input: 5.00, Output: 15.00},
		"grok-vision-beta": {Input: 10.00, Output: 30.00},
	},
}
