// Package pricing resolves per-model token prices and computes call cost.
//
// Prices are USD per million tokens. A lookup tries the exact
// (provider, model) pair, then the longest model key that is a prefix of
// the model name, then the fallback rate. Falling back is never an error:
// it logs a warning, counts spendwise_pricing_fallback_total and tags the
// event, so unknown models are still charged instead of silently metered
// at zero.
//
// Cost is computed as
//
//	(promptTokens/1e6)*input + (completionTokens/1e6)*output
//
// rounded to six decimal places.
//
// The table is data driven. Built-in DefaultRates are merged with the
// pricing.models config section, and Update swaps the whole table when the
// config file is reloaded.
package pricing
