// Package usage defines the usage event recorded for every provider call,
// together with the filter, pagination and aggregation types used to read
// events back from the ledger.
//
// Provider names are canonicalized by ParseProvider, so "claude" and
// "Anthropic" both meter as ProviderAnthropic. Time filters are half-open
// intervals, matching budget periods.
package usage
