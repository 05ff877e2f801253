// Package metrics provides Prometheus metrics for the spendwise meter.
//
// # Metrics
//
//   - spendwise_usage_events_total{provider,success}
//   - spendwise_usage_duplicates_total{provider}
//   - spendwise_usage_cost_usd_total{provider,model}
//   - spendwise_usage_tokens_total{provider,direction}
//   - spendwise_pricing_fallback_total{provider}
//   - spendwise_gate_decisions_total{outcome}
//   - spendwise_gate_check_duration_seconds
//   - spendwise_alerts_fired_total{severity}
//   - spendwise_alerts_dropped_total
//   - spendwise_budget_resets_total
//   - spendwise_budget_reconcile_drift_usd
//   - spendwise_job_runs_total{job,status}
//   - spendwise_job_duration_seconds{job}
//
// Budget and organization identifiers are not used as labels. Per-tenant
// figures come from the ledger.
//
// # Usage
//
//	collector := metrics.NewCollector("spendwise", nil)
//	collector.RecordUsageEvent("openai", "gpt-4o", true, 1200, 300, 0.0105)
//	http.Handle("/metrics", collector.Handler())
package metrics
