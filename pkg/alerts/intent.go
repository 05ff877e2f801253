package alerts

import (
	"time"
)

// Severity is the urgency of an alert.
type Severity string

// Alert severities in ascending urgency.
const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// SeverityFor maps a crossed budget threshold to its severity: INFO below
// 90%, WARNING from 90% and HIGH from 100%. CRITICAL is reserved for
// rejections by the spend-limit gate.
func SeverityFor(threshold int) Severity {
	switch {
	case threshold >= 100:
		return SeverityHigh
	case threshold >= 90:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// Kind classifies an intent for downstream routing.
type Kind string

// Intent kinds.
const (
	KindThresholdWarning   Kind = "COST_THRESHOLD_WARNING"
	KindThresholdExceeded  Kind = "COST_THRESHOLD_EXCEEDED"
	KindSpendLimitExceeded Kind = "SPEND_LIMIT_EXCEEDED"
)

// Scope identifies what an intent is about.
type Scope struct {
	OrganizationID string `json:"organization_id"`
	UserID         string `json:"user_id,omitempty"`
	BudgetID       string `json:"budget_id,omitempty"`
}

// Intent is a request to notify someone. Delivery is the notifier's
// business; the dispatcher only decides that an intent exists.
type Intent struct {
	ID        string         `json:"id"`
	Kind      Kind           `json:"kind"`
	Severity  Severity       `json:"severity"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Scope     Scope          `json:"scope"`
	Threshold int            `json:"threshold,omitempty"`
	Channels  []string       `json:"channels"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// DefaultChannels are the delivery channels requested for every intent.
var DefaultChannels = []string{"email", "in-app"}

// LimitBreach describes a request rejected by the spend-limit gate.
type LimitBreach struct {
	OrganizationID string
	UserID         string
	Limit          float64
	Spent          float64
	PeriodStart    time.Time
	PeriodEnd      time.Time
}
