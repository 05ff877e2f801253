// Package storage persists the usage ledger, budgets and organizations.
//
// Three backends implement Store:
//
//   - MemoryStore keeps everything in process memory, for tests and demos.
//   - SQLStore on SQLite (modernc.org/sqlite, or github.com/mattn/go-sqlite3
//     when built with cgo) for single-instance deployments.
//   - SQLStore on PostgreSQL (github.com/lib/pq) for shared deployments.
//
// # Ledger
//
// The ledger is append-only. An event carrying a request ID is stored at
// most once per provider; the SQL backends enforce this with a partial
// unique index and INSERT ... ON CONFLICT DO NOTHING, so a replayed event
// is reported as not inserted rather than as an error.
//
// # Budget cache
//
// Budget rows cache their period spend. UpdateBudgetSpent is a single-row
// atomic increment, and ResetBudgetPeriod is a compare-and-set on the
// period start so concurrent rollovers reset a budget exactly once.
//
// Example:
//
//	store, err := storage.New(ctx, cfg.Ledger, logger)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	inserted, err := store.InsertUsageEvent(ctx, event)
package storage
