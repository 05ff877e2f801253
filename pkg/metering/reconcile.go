package metering

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"spendwise-hq/meter/pkg/telemetry/tracing"
)

// driftTolerance is the cached-spend difference below which a budget is
// considered consistent with the ledger.
const driftTolerance = 1e-6

// ReconcileEntry describes one budget whose cached spend was corrected.
type ReconcileEntry struct {
	BudgetID       string  `json:"budget_id"`
	OrganizationID string  `json:"organization_id"`
	Cached         float64 `json:"cached"`
	Ledger         float64 `json:"ledger"`
	Drift          float64 `json:"drift"`
}

// ReconcileReport summarizes a reconciliation run.
type ReconcileReport struct {
	StartedAt  time.Time        `json:"started_at"`
	Duration   time.Duration    `json:"duration"`
	Checked    int              `json:"checked"`
	Adjusted   int              `json:"adjusted"`
	Failed     int              `json:"failed"`
	TotalDrift float64          `json:"total_drift"`
	Entries    []ReconcileEntry `json:"entries,omitempty"`
}

// Reconcile rewrites the cached spend of every active budget with the
// ledger sum over its current period. Budgets whose period has elapsed are
// rolled over first. The absolute drift of each budget is recorded.
func (s *Service) Reconcile(ctx context.Context) (report *ReconcileReport, err error) {
	ctx, span := s.tracer.Start(ctx, "metering.Reconcile")
	defer func() {
		tracing.SetStatus(span, err)
		span.End()
	}()

	report = &ReconcileReport{StartedAt: s.now()}
	start := time.Now()

	budgets, err := s.store.ListActiveBudgets(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list budgets: %w", err)
	}

	var errs []error
	for _, b := range budgets {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		report.Checked++

		if err := s.tracker.Rollover(ctx, b); err != nil {
			report.Failed++
			errs = append(errs, err)
			continue
		}
		ledger, err := s.tracker.CurrentSpend(ctx, b)
		if err != nil {
			report.Failed++
			errs = append(errs, err)
			continue
		}

		drift := ledger - b.Spent
		s.metrics.RecordReconcileDrift(math.Abs(drift))
		if math.Abs(drift) < driftTolerance {
			continue
		}

		applied, err := s.store.SetBudgetSpent(ctx, b.ID, b.PeriodStart, ledger)
		if err != nil {
			report.Failed++
			errs = append(errs, fmt.Errorf("failed to set spend of budget %s: %w", b.ID, err))
			continue
		}
		if !applied {
			// Rolled over since it was read; the next run sees the new period.
			continue
		}
		report.Adjusted++
		report.TotalDrift += math.Abs(drift)
		report.Entries = append(report.Entries, ReconcileEntry{
			BudgetID:       b.ID,
			OrganizationID: b.OrganizationID,
			Cached:         b.Spent,
			Ledger:         ledger,
			Drift:          drift,
		})
		s.logger.WarnContext(ctx, "budget spend drifted from ledger",
			"budget_id", b.ID,
			"organization_id", b.OrganizationID,
			"cached", b.Spent,
			"ledger", ledger,
			"drift", drift,
		)
	}

	report.TotalDrift = math.Round(report.TotalDrift*1e6) / 1e6
	report.Duration = time.Since(start)
	s.logger.InfoContext(ctx, "reconciliation finished",
		"checked", report.Checked,
		"adjusted", report.Adjusted,
		"failed", report.Failed,
		"total_drift", report.TotalDrift,
		"duration", report.Duration,
	)
	return report, errors.Join(errs...)
}
