package scheduler

import (
	"context"

	"spendwise-hq/meter/pkg/config"
	"spendwise-hq/meter/pkg/metering"
)

// Job names.
const (
	JobResetBudgets = "reset-budgets"
	JobReconcile    = "reconcile"
)

// Maintainer is the metering work the periodic jobs run.
type Maintainer interface {
	ResetExpiredBudgets(ctx context.Context) (int, error)
	Reconcile(ctx context.Context) (*metering.ReconcileReport, error)
}

// MeteringJobs returns the budget reset and reconcile jobs on the
// schedules of cfg.
func MeteringJobs(cfg config.ScheduleConfig, m Maintainer) []Job {
	return []Job{
		{
			Name:     JobResetBudgets,
			Schedule: cfg.Reset,
			Run: func(ctx context.Context) error {
				_, err := m.ResetExpiredBudgets(ctx)
				return err
			},
		},
		{
			Name:     JobReconcile,
			Schedule: cfg.Reconcile,
			Run: func(ctx context.Context) error {
				_, err := m.Reconcile(ctx)
				return err
			},
		},
	}
}
