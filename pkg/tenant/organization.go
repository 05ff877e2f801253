// Package tenant defines the organization, the billing and isolation
// boundary that usage, budgets and spend limits are attributed to.
package tenant

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidOrganization is wrapped by Validate failures.
var ErrInvalidOrganization = errors.New("invalid organization")

// Organization is a tenant. SpendLimit is the hard monthly kill-switch in
// USD; nil means the organization has no hard limit.
type Organization struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	SpendLimit *float64  `json:"spend_limit,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// HasLimit reports whether a hard spend limit is set.
func (o *Organization) HasLimit() bool {
	return o != nil && o.SpendLimit != nil
}

// Limit returns the spend limit, or 0 when none is set.
func (o *Organization) Limit() float64 {
	if !o.HasLimit() {
		return 0
	}
	return *o.SpendLimit
}

// Validate checks the organization fields.
func (o *Organization) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidOrganization)
	}
	if o.SpendLimit != nil && *o.SpendLimit < 0 {
		return fmt.Errorf("%w: spend limit must be non-negative, got %v", ErrInvalidOrganization, *o.SpendLimit)
	}
	return nil
}

// Float returns a pointer to v, for building spend limits.
func Float(v float64) *float64 {
	return &v
}
