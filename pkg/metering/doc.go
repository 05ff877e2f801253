// Package metering is the entry point for recording AI provider usage and
// enforcing spend.
//
// A Service ties together the pricing table, the normalizer, the usage
// ledger, the budget tracker, the alert dispatcher and the spend-limit
// gate. Every recorded call follows one path:
//
//  1. the provider response is normalized into a priced usage event
//  2. the event is appended to the ledger, or dropped as a duplicate
//  3. every active budget the event counts against is recomputed from the
//     ledger and its alert ladder evaluated
//
// The ledger is the source of truth. Cached budget spend is advisory and
// is rewritten from the ledger by Reconcile, which the scheduler runs
// periodically alongside ResetExpiredBudgets.
package metering
