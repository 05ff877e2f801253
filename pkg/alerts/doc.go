// Package alerts decides when budget and spend-limit alerts fire.
//
// A budget's threshold ladder (default 50, 75, 90 and 100 percent) is
// walked in ascending order on every evaluation. A crossed threshold
// emits an Intent only if the ThresholdStore's check-and-set says it has
// not fired in the budget's current period:
//
//	50%  -> INFO      "Budget alert"
//	75%  -> INFO
//	90%  -> WARNING
//	100% -> HIGH      "Budget exceeded"
//
// Gate rejections emit one CRITICAL intent per organization per calendar
// month.
//
// The dispatcher produces intents; delivery belongs to a Notifier. Use
// AsyncNotifier in front of a notifier that can block.
//
// Threshold state lives in a MemoryStore for single-instance deployments
// or a RedisStore when several replicas record usage for the same
// organizations.
package alerts
