package gate

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Reason explains a Decision.
type Reason string

const (
	// ReasonWithinLimit means month-to-date spend is below the limit.
	ReasonWithinLimit Reason = "within_limit"

	// ReasonLimitExceeded means month-to-date spend has reached the limit.
	ReasonLimitExceeded Reason = "limit_exceeded"

	// ReasonNoLimit means the organization has no spend limit.
	ReasonNoLimit Reason = "no_limit"

	// ReasonUnknownOrganization means the organization does not exist.
	ReasonUnknownOrganization Reason = "unknown_organization"

	// ReasonUnavailable means the check could not be evaluated in time.
	ReasonUnavailable Reason = "unavailable"
)

// Policy decides organizations without an enforceable limit.
type Policy string

// Unlimited policies.
const (
	PolicyAllow Policy = "allow"
	PolicyDeny  Policy = "deny"
)

// ParsePolicy parses an unlimited policy name. Empty means allow.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyAllow:
		return PolicyAllow, nil
	case PolicyDeny:
		return PolicyDeny, nil
	}
	return "", fmt.Errorf("unknown unlimited policy %q", s)
}

var (
	// ErrSpendLimitExceeded is matched by errors.Is for every LimitError.
	ErrSpendLimitExceeded = errors.New("spend limit exceeded")

	// ErrUnavailable is returned when the check fails closed.
	ErrUnavailable = errors.New("spend limit check unavailable")

	// ErrDenied is returned for organizations rejected by PolicyDeny.
	ErrDenied = errors.New("spend limit not configured")
)

// User-facing messages.
const (
	MessageLimitExceeded = "Budget limit exceeded. Please contact your administrator."
	MessageUnavailable   = "Spend limit could not be verified. Please try again shortly."
	MessageDenied        = "No spend limit is configured for this organization. Please contact your administrator."
)

// LimitError describes a rejection because the spend limit was reached.
type LimitError struct {
	OrganizationID string
	Limit          float64
	Spent          float64
}

// Error implements error.
func (e *LimitError) Error() string {
	return fmt.Sprintf("spend limit exceeded for organization %s: spent %.6f of %.6f", e.OrganizationID, e.Spent, e.Limit)
}

// Unwrap returns ErrSpendLimitExceeded.
func (e *LimitError) Unwrap() error {
	return ErrSpendLimitExceeded
}

// Decision is the outcome of a spend-limit check.
type Decision struct {
	Allowed        bool      `json:"allowed"`
	Reason         Reason    `json:"reason"`
	Message        string    `json:"message,omitempty"`
	OrganizationID string    `json:"organization_id"`
	Limit          float64   `json:"limit,omitempty"`
	Spent          float64   `json:"spent"`
	Remaining      float64   `json:"remaining,omitempty"`
	PeriodStart    time.Time `json:"period_start"`
	PeriodEnd      time.Time `json:"period_end"`

	// FailedOpen is set when the check could not be evaluated and the
	// request was allowed anyway.
	FailedOpen bool `json:"failed_open,omitempty"`
}

// Err returns nil for allowed decisions and a typed error otherwise.
func (d *Decision) Err() error {
	if d == nil || d.Allowed {
		return nil
	}
	switch d.Reason {
	case ReasonLimitExceeded:
		return &LimitError{OrganizationID: d.OrganizationID, Limit: d.Limit, Spent: d.Spent}
	case ReasonUnavailable:
		return ErrUnavailable
	default:
		return ErrDenied
	}
}
