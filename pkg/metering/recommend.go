package metering

import (
	"context"
	"fmt"
	"time"

	"spendwise-hq/meter/pkg/budget"
	"spendwise-hq/meter/pkg/usage"
)

// RecommendationWindow is the number of full calendar months averaged by
// ListRecommendations.
const RecommendationWindow = 3

// dailyCapThreshold is the average daily spend above which a daily budget
// is suggested.
const dailyCapThreshold = 10.0

// ListRecommendations suggests budget changes for an organization from its
// average spend over the last RecommendationWindow full calendar months.
// The heuristics are best effort; an empty result means nothing to suggest.
func (s *Service) ListRecommendations(ctx context.Context, orgID string) ([]string, error) {
	if orgID == "" {
		return nil, usage.ErrOrganizationRequired
	}

	budgets, err := s.store.ListActiveBudgets(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list budgets: %w", err)
	}

	avgMonthly, avgDaily, err := s.averageSpend(ctx, orgID)
	if err != nil {
		return nil, err
	}

	return recommend(budgets, avgMonthly, avgDaily), nil
}

// averageSpend returns the mean monthly and daily spend over the window
// ending at the start of the current month.
func (s *Service) averageSpend(ctx context.Context, orgID string) (monthly, daily float64, err error) {
	cal := s.tracker.Calendar()
	end, _ := cal.Bounds(budget.Monthly, s.now())
	y, m, _ := end.Date()
	start := time.Date(y, m-RecommendationWindow, 1, 0, 0, 0, 0, end.Location())

	total, err := s.store.SumCost(ctx, usage.Filter{
		OrganizationID: orgID,
		From:           start,
		To:             end,
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to sum spend for recommendations: %w", err)
	}

	days := end.Sub(start).Hours() / 24
	return total / RecommendationWindow, total / days, nil
}

func recommend(budgets []*budget.Budget, avgMonthly, avgDaily float64) []string {
	var recs []string

	if len(budgets) == 0 {
		recs = append(recs,
			fmt.Sprintf("Set up a monthly budget of $%.2f based on your average usage", avgMonthly*1.2),
			"Create separate budgets for development and production environments",
		)
	} else if monthly := findPeriod(budgets, budget.Monthly); monthly != nil {
		if monthly.Amount < avgMonthly {
			recs = append(recs, fmt.Sprintf("Consider increasing your monthly budget to $%.2f", avgMonthly*1.1))
		}
		if monthly.Amount > avgMonthly*2 {
			recs = append(recs, fmt.Sprintf("Your budget might be too high. Consider reducing to $%.2f", avgMonthly*1.3))
		}
	}

	if avgDaily > dailyCapThreshold && findPeriod(budgets, budget.Daily) == nil {
		recs = append(recs, fmt.Sprintf("Add a daily budget cap of $%.2f to prevent unexpected spikes", avgDaily*1.5))
	}
	return recs
}

func findPeriod(budgets []*budget.Budget, p budget.Period) *budget.Budget {
	for _, b := range budgets {
		if b.Period == p {
			return b
		}
	}
	return nil
}
