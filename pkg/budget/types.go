package budget

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidBudget is wrapped by Validate failures.
var ErrInvalidBudget = errors.New("invalid budget")

// Period is the recurrence of a budget.
type Period string

// Budget periods. Each is a calendar period, not a rolling window.
const (
	Daily     Period = "DAILY"
	Weekly    Period = "WEEKLY"
	Monthly   Period = "MONTHLY"
	Quarterly Period = "QUARTERLY"
	Yearly    Period = "YEARLY"
)

// ParsePeriod parses a period name case-insensitively.
func ParsePeriod(s string) (Period, error) {
	p := Period(strings.ToUpper(strings.TrimSpace(s)))
	switch p {
	case Daily, Weekly, Monthly, Quarterly, Yearly:
		return p, nil
	}
	return "", fmt.Errorf("unknown budget period %q", s)
}

// Scope is what a budget's spend is attributed to.
type Scope string

// Budget scopes.
const (
	ScopeOrganization Scope = "organization"
	ScopeUser         Scope = "user"
)

// Budget is a spend cap over a recurring period. The period is the
// half-open interval [PeriodStart, PeriodEnd). Spent is a cache of the
// ledger sum for the scope and period; the ledger is authoritative.
type Budget struct {
	ID             string  `json:"id"`
	OrganizationID string  `json:"organization_id"`
	UserID         string  `json:"user_id,omitempty"`
	Name           string  `json:"name"`
	Scope          Scope   `json:"scope"`
	Amount         float64 `json:"amount"`
	Period         Period  `json:"period"`

	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	Spent       float64   `json:"spent"`

	// AlertThresholds overrides the default threshold ladder when set.
	AlertThresholds []int `json:"alert_thresholds,omitempty"`

	// LastAlertedThreshold is the highest threshold fired this period.
	LastAlertedThreshold int `json:"last_alerted_threshold"`

	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the configuration fields of a budget.
func (b *Budget) Validate() error {
	var problems []string
	if b.OrganizationID == "" {
		problems = append(problems, "organization_id is required")
	}
	if b.Name == "" {
		problems = append(problems, "name is required")
	}
	if b.Amount <= 0 {
		problems = append(problems, fmt.Sprintf("amount must be positive, got %v", b.Amount))
	}
	if _, err := ParsePeriod(string(b.Period)); err != nil {
		problems = append(problems, err.Error())
	}
	switch b.Scope {
	case ScopeOrganization:
	case ScopeUser:
		if b.UserID == "" {
			problems = append(problems, "user_id is required for user scope")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown scope %q", b.Scope))
	}
	if err := ValidateThresholds(b.AlertThresholds); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidBudget, strings.Join(problems, "; "))
	}
	return nil
}

// ValidateThresholds checks that a threshold ladder is strictly ascending
// and within 1..1000 percent. An empty ladder is valid.
func ValidateThresholds(thresholds []int) error {
	prev := 0
	for _, t := range thresholds {
		if t < 1 || t > 1000 {
			return fmt.Errorf("threshold %d out of range 1..1000", t)
		}
		if t <= prev {
			return fmt.Errorf("thresholds must be strictly ascending, got %v", thresholds)
		}
		prev = t
	}
	return nil
}

// Contains reports whether t falls inside the budget's current period.
func (b *Budget) Contains(t time.Time) bool {
	return !t.Before(b.PeriodStart) && t.Before(b.PeriodEnd)
}

// Expired reports whether the period has elapsed at now. A budget exactly
// at PeriodEnd is expired.
func (b *Budget) Expired(now time.Time) bool {
	return !now.Before(b.PeriodEnd)
}

// AppliesTo reports whether usage by userID in organizationID counts
// against the budget.
func (b *Budget) AppliesTo(organizationID, userID string) bool {
	if b.OrganizationID != organizationID {
		return false
	}
	if b.Scope == ScopeUser {
		return b.UserID == userID
	}
	return true
}

// Status is a point-in-time evaluation of a budget against the ledger.
type Status struct {
	BudgetID            string    `json:"budget_id"`
	Name                string    `json:"name"`
	Amount              float64   `json:"amount"`
	Spent               float64   `json:"spent"`
	Remaining           float64   `json:"remaining"`
	PercentageUsed      float64   `json:"percentage_used"`
	IsOverBudget        bool      `json:"is_over_budget"`
	DaysRemaining       int       `json:"days_remaining"`
	DaysElapsed         int       `json:"days_elapsed"`
	TotalDays           int       `json:"total_days"`
	DailyRate           float64   `json:"daily_rate"`
	ProjectedSpend      float64   `json:"projected_spend"`
	ProjectedOverBudget bool      `json:"projected_over_budget"`
	PeriodStart         time.Time `json:"period_start"`
	PeriodEnd           time.Time `json:"period_end"`
}
