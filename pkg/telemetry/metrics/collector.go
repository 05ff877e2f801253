package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector owns every Prometheus metric exported by the meter. All methods
// are safe to call on a nil *Collector, which records nothing; components
// therefore accept an optional collector without guarding each call.
type Collector struct {
	registry    *prometheus.Registry
	runtimeOnce sync.Once

	usageEvents     *prometheus.CounterVec
	usageDuplicates *prometheus.CounterVec
	usageCost       *prometheus.CounterVec
	usageTokens     *prometheus.CounterVec

	pricingFallbacks *prometheus.CounterVec

	gateDecisions *prometheus.CounterVec
	gateDuration  prometheus.Histogram

	alertsFired   *prometheus.CounterVec
	alertsDropped prometheus.Counter

	budgetResets   prometheus.Counter
	reconcileDrift prometheus.Histogram

	jobRuns     *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
}

// NewCollector creates a collector registering its metrics in registry. If
// registry is nil a fresh registry is created. Namespace defaults to
// "spendwise".
func NewCollector(namespace string, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if namespace == "" {
		namespace = "spendwise"
	}

	factory := promauto.With(registry)

	return &Collector{
		registry: registry,

		usageEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "usage_events_total",
				Help:      "Usage events appended to the ledger",
			},
			[]string{"provider", "success"},
		),
		usageDuplicates: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "usage_duplicates_total",
				Help:      "Usage events dropped as duplicates of an earlier (provider, request_id)",
			},
			[]string{"provider"},
		),
		usageCost: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "usage_cost_usd_total",
				Help:      "Cost attributed to usage events in USD",
			},
			[]string{"provider", "model"},
		),
		usageTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "usage_tokens_total",
				Help:      "Tokens attributed to usage events",
			},
			[]string{"provider", "direction"},
		),
		pricingFallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pricing_fallback_total",
				Help:      "Price lookups that used the fallback rate",
			},
			[]string{"provider"},
		),
		gateDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gate_decisions_total",
				Help:      "Spend-limit gate decisions by outcome",
			},
			[]string{"outcome"},
		),
		gateDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "gate_check_duration_seconds",
				Help:      "Latency of spend-limit checks",
				Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
			},
		),
		alertsFired: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_fired_total",
				Help:      "Alert intents emitted by severity",
			},
			[]string{"severity"},
		),
		alertsDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_dropped_total",
				Help:      "Alert intents dropped because the notification queue was full",
			},
		),
		budgetResets: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "budget_resets_total",
				Help:      "Budgets rolled over into a new period",
			},
		),
		reconcileDrift: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "budget_reconcile_drift_usd",
				Help:      "Absolute difference between cached and ledger budget spend found by reconciliation",
				Buckets:   []float64{0.000001, 0.001, 0.01, 0.1, 1, 10, 100},
			},
		),
		jobRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "job_runs_total",
				Help:      "Scheduled job runs by job and status",
			},
			[]string{"job", "status"},
		),
		jobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "Scheduled job run duration",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"job"},
		),
	}
}

// Registry returns the registry the collector's metrics live in.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// RecordUsageEvent records an appended usage event.
func (c *Collector) RecordUsageEvent(provider, model string, success bool, promptTokens, completionTokens int64, cost float64) {
	if c == nil {
		return
	}
	c.usageEvents.WithLabelValues(provider, strconv.FormatBool(success)).Inc()
	if cost > 0 {
		c.usageCost.WithLabelValues(provider, model).Add(cost)
	}
	if promptTokens > 0 {
		c.usageTokens.WithLabelValues(provider, "input").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		c.usageTokens.WithLabelValues(provider, "output").Add(float64(completionTokens))
	}
}

// RecordDuplicate records a deduplicated usage event.
func (c *Collector) RecordDuplicate(provider string) {
	if c == nil {
		return
	}
	c.usageDuplicates.WithLabelValues(provider).Inc()
}

// RecordPricingFallback records a price lookup that used the fallback rate.
func (c *Collector) RecordPricingFallback(provider string) {
	if c == nil {
		return
	}
	c.pricingFallbacks.WithLabelValues(provider).Inc()
}

// RecordGateDecision records a spend-limit decision and its latency.
// Outcome is one of "allowed", "rejected", "unavailable", "failed_open".
func (c *Collector) RecordGateDecision(outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.gateDecisions.WithLabelValues(outcome).Inc()
	c.gateDuration.Observe(duration.Seconds())
}

// RecordAlert records an emitted alert intent.
func (c *Collector) RecordAlert(severity string) {
	if c == nil {
		return
	}
	c.alertsFired.WithLabelValues(severity).Inc()
}

// RecordAlertDropped records an alert intent dropped by a full queue.
func (c *Collector) RecordAlertDropped() {
	if c == nil {
		return
	}
	c.alertsDropped.Inc()
}

// RecordBudgetReset records a budget period rollover.
func (c *Collector) RecordBudgetReset() {
	if c == nil {
		return
	}
	c.budgetResets.Inc()
}

// RecordReconcileDrift records the absolute drift corrected for one budget.
func (c *Collector) RecordReconcileDrift(drift float64) {
	if c == nil {
		return
	}
	if drift < 0 {
		drift = -drift
	}
	c.reconcileDrift.Observe(drift)
}

// RecordJobRun records a scheduled job run.
func (c *Collector) RecordJobRun(job string, err error, duration time.Duration) {
	if c == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.jobRuns.WithLabelValues(job, status).Inc()
	c.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// RecordJobSkipped records a scheduled run skipped because the previous
// run of the job had not finished.
func (c *Collector) RecordJobSkipped(job string) {
	if c == nil {
		return
	}
	c.jobRuns.WithLabelValues(job, "skipped").Inc()
}
