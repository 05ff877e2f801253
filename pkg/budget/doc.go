// Package budget tracks spend against recurring budgets.
//
// A budget covers one calendar period at a time: a day, a week, a month, a
// quarter or a year, computed in the configured time zone. Periods are
// half-open, so a budget evaluated exactly at PeriodEnd belongs to the
// next period. Rollover is deterministic: the new period is the one
// containing now, and it starts with zero spend and cleared alert state.
//
// Spend is always read from the ledger. The Spent field on a stored budget
// is a cache kept current by single-row atomic increments and rewritten by
// reconciliation; it is never used for decisions.
//
// The projection is a linear run rate:
//
//	dailyRate = spent / daysElapsed   (0 when daysElapsed is 0)
//	projected = dailyRate * totalDays
//
// Status Lifecycle:
//
//	ACTIVE (within period) -> ACTIVE (over budget, still accruing)
//	    -> RESET (new period) -> ACTIVE ...
//
// until the budget is disabled.
package budget
