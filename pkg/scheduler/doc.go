// Package scheduler runs the periodic metering jobs on cron schedules.
//
// Two jobs are configured from the schedule section of the configuration:
// reset-budgets rolls elapsed budgets into their next period, and
// reconcile rewrites cached budget spend from the ledger. Schedules use the
// standard five-field cron format:
//
//   - "5 0 * * *"    - Daily at 00:05
//   - "*/15 * * * *" - Every 15 minutes
//   - "-"            - Disabled
//
// Each run is bounded by the job timeout. A run that fires while the
// previous run of the same job is still going is skipped.
package scheduler
